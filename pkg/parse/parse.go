// Package parse extracts tool-call records from free-form LLM text. It is the
// structured-output fallback for models that do not emit native function
// calls: the model is prompted to answer with JSON, and this package digs the
// JSON out of whatever prose surrounds it.
//
// The package has no I/O and no hidden state.
package parse

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ToolCall is a normalized tool invocation extracted from model output.
type ToolCall struct {
	// ID is unique within a single turn.
	ID string `json:"id"`
	// Name is the tool to invoke.
	Name string `json:"name"`
	// Arguments is the argument object re-serialized as a JSON string,
	// matching the OpenAI function-call wire shape.
	Arguments string `json:"arguments"`
	// Thought is opaque reasoning attached by the model. Recorded in
	// telemetry, never sent back to the model.
	Thought string `json:"thought,omitempty"`
}

// specialTokenPattern strips model control tokens such as <|im_end|> before
// scanning. Some backends leak these into content.
var specialTokenPattern = regexp.MustCompile(`<\|[^|]*\|>`)

// ExtractToolCalls scans text for balanced top-level JSON objects and arrays
// and returns every candidate that looks like a tool call (carries a "name"
// or "command" field). Candidates that fail all parse strategies are skipped
// silently. Returns an empty slice for empty or tool-call-free text.
func ExtractToolCalls(text string) []ToolCall {
	calls := []ToolCall{}
	if strings.TrimSpace(text) == "" {
		return calls
	}
	text = specialTokenPattern.ReplaceAllString(text, "")

	seq := 0
	for _, candidate := range scanCandidates(text) {
		value, ok := parseCandidate(candidate)
		if !ok {
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			if call, ok := normalizeObject(v, &seq); ok {
				calls = append(calls, call)
			}
		case []any:
			for _, item := range v {
				obj, isObj := item.(map[string]any)
				if !isObj {
					continue
				}
				if call, ok := normalizeObject(obj, &seq); ok {
					calls = append(calls, call)
				}
			}
		}
	}
	return calls
}

// ExtractJSONObjects scans text for balanced top-level JSON objects and
// returns every one that parses under the same repair strategies as tool-call
// extraction. Used by callers that expect a structured verdict buried in
// prose, such as the review pipeline.
func ExtractJSONObjects(text string) []map[string]any {
	objects := []map[string]any{}
	if strings.TrimSpace(text) == "" {
		return objects
	}
	text = specialTokenPattern.ReplaceAllString(text, "")

	for _, candidate := range scanCandidates(text) {
		value, ok := parseCandidate(candidate)
		if !ok {
			continue
		}
		if obj, isObj := value.(map[string]any); isObj {
			objects = append(objects, obj)
		}
	}
	return objects
}

// scanCandidates yields each balanced top-level {...} or [...] span in text.
// Depth is tracked outside string literals only, so braces inside strings do
// not confuse the scanner.
func scanCandidates(text string) []string {
	var candidates []string
	depth := 0
	start := -1
	inString := false
	escaped := false
	var open, close byte

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch {
		case c == '"' && depth > 0:
			inString = true
		case depth == 0 && (c == '{' || c == '['):
			start = i
			depth = 1
			open = c
			if c == '{' {
				close = '}'
			} else {
				close = ']'
			}
		case depth > 0 && c == open:
			depth++
		case depth > 0 && c == close:
			depth--
			if depth == 0 {
				candidates = append(candidates, text[start:i+1])
				start = -1
			}
		}
	}
	return candidates
}

// parseCandidate tries three strategies in order: strict JSON, strict JSON
// after escaping raw newlines/tabs inside string literals, then a permissive
// parse tolerant of single-quoted keys and values.
func parseCandidate(candidate string) (any, bool) {
	var value any
	if err := json.Unmarshal([]byte(candidate), &value); err == nil {
		return value, true
	}

	repaired := escapeControlCharsInStrings(candidate)
	if err := json.Unmarshal([]byte(repaired), &value); err == nil {
		return value, true
	}

	permissive := singleToDoubleQuotes(repaired)
	if err := json.Unmarshal([]byte(permissive), &value); err == nil {
		return value, true
	}
	return nil, false
}

// escapeControlCharsInStrings escapes unescaped newlines and tabs that appear
// inside string literals. Models routinely emit multi-line file content as a
// raw string, which strict JSON rejects.
func escapeControlCharsInStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
				b.WriteByte(c)
				continue
			case c == '\\':
				escaped = true
				b.WriteByte(c)
				continue
			case c == '"':
				inString = false
				b.WriteByte(c)
				continue
			case c == '\n':
				b.WriteString(`\n`)
				continue
			case c == '\r':
				b.WriteString(`\r`)
				continue
			case c == '\t':
				b.WriteString(`\t`)
				continue
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		b.WriteByte(c)
	}
	return b.String()
}

// singleToDoubleQuotes rewrites single-quoted strings to double-quoted ones
// outside of existing double-quoted strings. Lossy by design: only applied
// after strict parsing has already failed.
func singleToDoubleQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inDouble := false
	inSingle := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
			b.WriteByte(c)
		case c == '\\':
			escaped = true
			b.WriteByte(c)
		case inDouble:
			if c == '"' {
				inDouble = false
			}
			b.WriteByte(c)
		case inSingle:
			if c == '\'' {
				inSingle = false
				b.WriteByte('"')
			} else if c == '"' {
				b.WriteString(`\"`)
			} else {
				b.WriteByte(c)
			}
		case c == '"':
			inDouble = true
			b.WriteByte(c)
		case c == '\'':
			inSingle = true
			b.WriteByte('"')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// normalizeObject converts a parsed object into a ToolCall. Accepts objects
// carrying a "name" field, or a bare "command" which is inferred to be
// run_shell_command.
func normalizeObject(obj map[string]any, seq *int) (ToolCall, bool) {
	name, _ := obj["name"].(string)
	command, hasCommand := obj["command"]

	if name == "" {
		if !hasCommand {
			return ToolCall{}, false
		}
		// Bare command at the root: infer the shell tool.
		name = "run_shell_command"
	}

	args := extractArguments(obj)
	if name == "run_shell_command" && hasCommand {
		if _, present := args["command"]; !present {
			args["command"] = command
		}
	}

	argJSON, err := json.Marshal(args)
	if err != nil {
		return ToolCall{}, false
	}

	*seq++
	call := ToolCall{
		ID:        fmt.Sprintf("call_%d", *seq),
		Name:      name,
		Arguments: string(argJSON),
	}
	if id, ok := obj["id"].(string); ok && id != "" {
		call.ID = id
	}
	if thought, ok := obj["thought"].(string); ok {
		call.Thought = thought
	}
	return call, true
}

// extractArguments pulls the argument map from an object, recursively parsing
// stringified JSON in the "arguments" field.
func extractArguments(obj map[string]any) map[string]any {
	raw, ok := obj["arguments"]
	if !ok {
		raw, ok = obj["parameters"]
	}
	if !ok {
		return map[string]any{}
	}

	for {
		switch v := raw.(type) {
		case map[string]any:
			return v
		case string:
			var nested any
			if err := json.Unmarshal([]byte(v), &nested); err != nil {
				return map[string]any{}
			}
			raw = nested
		default:
			return map[string]any{}
		}
	}
}
