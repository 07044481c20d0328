// Package review runs the automated PR review pipeline: deterministic checks,
// an LLM code review with a strict-JSON contract, posting the combined verdict,
// and optional auto-merge.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nebulus-ai/nebulus/pkg/githost"
	"github.com/nebulus-ai/nebulus/pkg/llm"
	"github.com/nebulus-ai/nebulus/pkg/parse"
)

// Decision is the reviewer's verdict.
type Decision string

const (
	DecisionApprove        Decision = "APPROVE"
	DecisionRequestChanges Decision = "REQUEST_CHANGES"
	DecisionComment        Decision = "COMMENT"
)

// InlineComment anchors one review remark to a file line.
type InlineComment struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Body string `json:"body"`
}

// Result is the parsed LLM review merged with the deterministic checks.
type Result struct {
	Decision       Decision        `json:"decision"`
	Confidence     float64         `json:"confidence"`
	Summary        string          `json:"summary"`
	Issues         []string        `json:"issues"`
	Suggestions    []string        `json:"suggestions"`
	InlineComments []InlineComment `json:"inline_comments,omitempty"`
	ChecksPassed   bool            `json:"checks_passed"`
}

// AutoMergeEligible requires approval, green checks, confidence at or above
// the threshold, and a clean issue list. A non-positive threshold falls back
// to the default.
func (r *Result) AutoMergeEligible(threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultConfig().ConfidenceThreshold
	}
	return r.Decision == DecisionApprove &&
		r.ChecksPassed &&
		r.Confidence >= threshold &&
		len(r.Issues) == 0
}

// WorkflowResult is the outcome of one full review run. An error at any stage
// yields a partial result with Error set rather than a Go error.
type WorkflowResult struct {
	PR           *githost.PullRequest `json:"pr,omitempty"`
	LLMResult    *Result              `json:"llm_result,omitempty"`
	ChecksReport *ChecksReport        `json:"checks_report,omitempty"`
	ReviewPosted bool                 `json:"review_posted"`
	Merged       bool                 `json:"merged"`
	Error        string               `json:"error,omitempty"`
}

// Config controls the review pipeline.
type Config struct {
	MaxDiffLines     int                 `yaml:"max_diff_lines"`
	AutoMergeEnabled bool                `yaml:"auto_merge_enabled"`
	// ConfidenceThreshold is the minimum review confidence for auto-merge.
	ConfidenceThreshold float64             `yaml:"confidence_threshold"`
	MergeMethod         githost.MergeMethod `yaml:"merge_method"`
	Checks              CheckConfig         `yaml:"checks"`
}

// DefaultConfig returns the production review settings.
func DefaultConfig() Config {
	return Config{
		MaxDiffLines:        500,
		ConfidenceThreshold: 0.8,
		MergeMethod:         githost.MergeMethodSquash,
		Checks:              DefaultCheckConfig(),
	}
}

// Pipeline reviews pull requests.
type Pipeline struct {
	host    *githost.GitHubClient
	client  llm.Client
	checker *Checker
	config  Config
	logger  *slog.Logger
}

// NewPipeline assembles a review pipeline.
func NewPipeline(host *githost.GitHubClient, client llm.Client, config Config) *Pipeline {
	if config.MaxDiffLines <= 0 {
		config.MaxDiffLines = DefaultConfig().MaxDiffLines
	}
	if config.ConfidenceThreshold <= 0 {
		config.ConfidenceThreshold = DefaultConfig().ConfidenceThreshold
	}
	if config.MergeMethod == "" {
		config.MergeMethod = DefaultConfig().MergeMethod
	}
	return &Pipeline{
		host:    host,
		client:  client,
		checker: NewChecker(config.Checks),
		config:  config,
		logger:  slog.Default().With("component", "review"),
	}
}

// Options selects per-run behavior.
type Options struct {
	Post      bool
	AutoMerge bool
	// RepoPath enables local deterministic checks when non-empty.
	RepoPath string
}

// ReviewPR runs the pipeline for one PR. Failures at any stage are captured
// in the returned WorkflowResult.
func (p *Pipeline) ReviewPR(ctx context.Context, repo string, prNumber int, opts Options) *WorkflowResult {
	result := &WorkflowResult{}

	pr, err := p.host.FetchPR(ctx, repo, prNumber)
	if err != nil {
		result.Error = fmt.Sprintf("fetch PR: %v", err)
		return result
	}
	result.PR = pr

	files, err := p.host.FetchPRFiles(ctx, repo, prNumber)
	if err != nil {
		result.Error = fmt.Sprintf("fetch PR files: %v", err)
		return result
	}

	if opts.RepoPath != "" {
		changed := make([]string, 0, len(files))
		for _, f := range files {
			changed = append(changed, f.Filename)
		}
		result.ChecksReport = p.checker.Run(ctx, opts.RepoPath, changed)
	}

	llmResult := p.runLLMReview(ctx, pr, files)
	llmResult.ChecksPassed = result.ChecksReport == nil || result.ChecksReport.AllPassed()
	result.LLMResult = llmResult

	if opts.Post {
		body := FormatReviewBody(llmResult, result.ChecksReport, p.config.ConfidenceThreshold)
		event := githost.ReviewEvent(llmResult.Decision)
		if err := p.host.PostReview(ctx, repo, prNumber, event, body); err != nil {
			result.Error = fmt.Sprintf("post review: %v", err)
			return result
		}
		result.ReviewPosted = true
	}

	if opts.AutoMerge && p.config.AutoMergeEnabled && llmResult.AutoMergeEligible(p.config.ConfidenceThreshold) {
		if err := p.host.MergePR(ctx, repo, prNumber, p.config.MergeMethod); err != nil {
			result.Error = fmt.Sprintf("auto-merge: %v", err)
			return result
		}
		result.Merged = true
	}
	return result
}

const reviewSystemPrompt = `You are a strict senior code reviewer. Review the pull request and respond with ONLY a JSON object, no prose:
{
  "decision": "APPROVE" | "REQUEST_CHANGES" | "COMMENT",
  "confidence": 0.0-1.0,
  "summary": "one-paragraph assessment",
  "issues": ["blocking problems, empty if none"],
  "suggestions": ["non-blocking improvements"],
  "inline_comments": [{"path": "file path", "line": 1, "body": "remark anchored to that line"}]
}`

// runLLMReview calls the model and parses its verdict. A parse failure
// degrades to a COMMENT with zero confidence, never an error.
func (p *Pipeline) runLLMReview(ctx context.Context, pr *githost.PullRequest, files []githost.PRFile) *Result {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: reviewSystemPrompt},
		{Role: llm.RoleUser, Content: p.formatPRPrompt(pr, files)},
	}

	resp, err := p.client.Chat(ctx, messages, nil)
	if err != nil {
		return &Result{
			Decision:   DecisionComment,
			Confidence: 0,
			Summary:    "automated review unavailable",
			Issues:     []string{fmt.Sprintf("LLM review failed: %v", err)},
		}
	}
	return ParseReviewResponse(resp.Content)
}

// ParseReviewResponse digs the verdict JSON out of the model's reply. Any
// shape failure yields a COMMENT with confidence 0 and the problem captured
// as an issue.
func ParseReviewResponse(content string) *Result {
	for _, obj := range parse.ExtractJSONObjects(content) {
		decision, _ := obj["decision"].(string)
		if decision == "" {
			continue
		}
		res := &Result{Summary: stringField(obj, "summary")}
		switch Decision(strings.ToUpper(decision)) {
		case DecisionApprove:
			res.Decision = DecisionApprove
		case DecisionRequestChanges:
			res.Decision = DecisionRequestChanges
		default:
			res.Decision = DecisionComment
		}
		if conf, ok := obj["confidence"].(float64); ok {
			res.Confidence = conf
		}
		res.Issues = stringSlice(obj, "issues")
		res.Suggestions = stringSlice(obj, "suggestions")
		res.InlineComments = inlineComments(obj)
		return res
	}
	return &Result{
		Decision:   DecisionComment,
		Confidence: 0,
		Summary:    "reviewer output was not parseable",
		Issues:     []string{"could not extract a review verdict from the model response"},
	}
}

func inlineComments(obj map[string]any) []InlineComment {
	raw, ok := obj["inline_comments"].([]any)
	if !ok {
		return nil
	}
	var out []InlineComment
	for _, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		c := InlineComment{
			Path: stringField(m, "path"),
			Body: stringField(m, "body"),
		}
		if line, ok := m["line"].(float64); ok {
			c.Line = int(line)
		}
		if c.Path == "" || c.Body == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func stringSlice(obj map[string]any, key string) []string {
	raw, ok := obj[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (p *Pipeline) formatPRPrompt(pr *githost.PullRequest, files []githost.PRFile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PR #%d: %s\n", pr.Number, pr.Title)
	fmt.Fprintf(&b, "Branch: %s -> %s\n\n%s\n\n", pr.Head.Ref, pr.Base.Ref, pr.Body)
	b.WriteString("Changed files:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- %s (%s, +%d/-%d)\n", f.Filename, f.Status, f.Additions, f.Deletions)
	}
	b.WriteString("\nDiff:\n")
	b.WriteString(truncateDiff(files, p.config.MaxDiffLines))
	return b.String()
}

func truncateDiff(files []githost.PRFile, maxLines int) string {
	var lines []string
	for _, f := range files {
		if f.Patch == "" {
			continue
		}
		lines = append(lines, "--- "+f.Filename)
		lines = append(lines, strings.Split(f.Patch, "\n")...)
		if len(lines) >= maxLines {
			lines = append(lines[:maxLines],
				fmt.Sprintf("... diff truncated at %d lines", maxLines))
			break
		}
	}
	return strings.Join(lines, "\n")
}

// FormatReviewBody renders the combined review comment posted to the PR.
func FormatReviewBody(res *Result, checks *ChecksReport, threshold float64) string {
	var b strings.Builder
	b.WriteString("## Nebulus Automated Review\n\n")
	fmt.Fprintf(&b, "**Decision:** %s (confidence %.2f)\n\n%s\n", res.Decision, res.Confidence, res.Summary)

	if len(res.Issues) > 0 {
		b.WriteString("\n### Issues\n")
		for _, issue := range res.Issues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}
	if len(res.Suggestions) > 0 {
		b.WriteString("\n### Suggestions\n")
		for _, s := range res.Suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	if len(res.InlineComments) > 0 {
		b.WriteString("\n### Inline comments\n")
		for _, c := range res.InlineComments {
			fmt.Fprintf(&b, "- `%s:%d`: %s\n", c.Path, c.Line, c.Body)
		}
	}
	if checks != nil {
		b.WriteString("\n### Checks\n")
		for _, c := range checks.Results() {
			fmt.Fprintf(&b, "- %s: %s", c.Name, c.Status)
			if c.Details != "" {
				fmt.Fprintf(&b, " (%s)", firstLine(c.Details))
			}
			b.WriteString("\n")
		}
	}
	if res.AutoMergeEligible(threshold) {
		b.WriteString("\nEligible for auto-merge.\n")
	} else {
		b.WriteString("\nNot eligible for auto-merge.\n")
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
