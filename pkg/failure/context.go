package failure

import (
	"fmt"
	"sort"
)

// Pattern is an aggregated view of repeated failures for one
// (tool_name, error_type) key.
type Pattern struct {
	ToolName        string    `json:"tool_name"`
	ErrorType       ErrorType `json:"error_type"`
	OccurrenceCount int       `json:"occurrence_count"`
	ResolvedCount   int       `json:"resolved_count"`
	LastMessage     string    `json:"last_message"`

	// ConfidencePenalty is derived from occurrence count and resolution
	// rate. Capped at 0.20 per pattern.
	ConfidencePenalty float64 `json:"confidence_penalty"`
}

// Context is what the cognition layer consumes: patterns, warnings for
// chronic failures, and the total penalty (capped at 0.25).
type Context struct {
	Patterns     []Pattern `json:"patterns"`
	Warnings     []string  `json:"warnings"`
	TotalPenalty float64   `json:"total_penalty"`
}

const (
	perPatternPenaltyCap = 0.20
	totalPenaltyCap      = 0.25
	warningThreshold     = 3
)

// penaltyFor computes min(0.20, min(count*0.03, 0.15) * (1 - rate*0.5)).
func penaltyFor(count, resolved int) float64 {
	base := float64(count) * 0.03
	if base > 0.15 {
		base = 0.15
	}
	rate := 0.0
	if count > 0 {
		rate = float64(resolved) / float64(count)
	}
	penalty := base * (1 - rate*0.5)
	if penalty > perPatternPenaltyCap {
		penalty = perPatternPenaltyCap
	}
	return penalty
}

// BuildContext aggregates records into patterns and emits a warning for every
// pattern with at least three occurrences. An optional tool-name filter
// narrows the analysis to the tools about to be used.
func (m *Memory) BuildContext(toolNames []string) (*Context, error) {
	records, err := m.query(toolNames)
	if err != nil {
		return nil, err
	}

	type key struct {
		tool    string
		errType ErrorType
	}
	agg := map[key]*Pattern{}
	for _, rec := range records {
		k := key{rec.ToolName, rec.ErrorType}
		p, ok := agg[k]
		if !ok {
			p = &Pattern{ToolName: rec.ToolName, ErrorType: rec.ErrorType}
			agg[k] = p
		}
		p.OccurrenceCount++
		if rec.Resolved {
			p.ResolvedCount++
		}
		p.LastMessage = rec.ErrorMessage
	}

	ctx := &Context{}
	for _, p := range agg {
		p.ConfidencePenalty = penaltyFor(p.OccurrenceCount, p.ResolvedCount)
		ctx.Patterns = append(ctx.Patterns, *p)
	}
	// Deterministic ordering: worst offenders first.
	sort.Slice(ctx.Patterns, func(i, j int) bool {
		if ctx.Patterns[i].OccurrenceCount != ctx.Patterns[j].OccurrenceCount {
			return ctx.Patterns[i].OccurrenceCount > ctx.Patterns[j].OccurrenceCount
		}
		if ctx.Patterns[i].ToolName != ctx.Patterns[j].ToolName {
			return ctx.Patterns[i].ToolName < ctx.Patterns[j].ToolName
		}
		return ctx.Patterns[i].ErrorType < ctx.Patterns[j].ErrorType
	})

	total := 0.0
	for _, p := range ctx.Patterns {
		total += p.ConfidencePenalty
		if p.OccurrenceCount >= warningThreshold {
			ctx.Warnings = append(ctx.Warnings, fmt.Sprintf(
				"%s has failed with %s %d times (%d resolved). Last error: %s",
				p.ToolName, p.ErrorType, p.OccurrenceCount, p.ResolvedCount, p.LastMessage))
		}
	}
	if total > totalPenaltyCap {
		total = totalPenaltyCap
	}
	ctx.TotalPenalty = total
	return ctx, nil
}
