// Package failure keeps a persistent history of tool failures, classifies
// them by type, and derives confidence penalties the agent's cognition layer
// consults when analyzing a new request.
package failure

import "regexp"

// ErrorType is the classified category of a tool failure.
type ErrorType string

const (
	ErrFileNotFound     ErrorType = "file_not_found"
	ErrMissingModule    ErrorType = "missing_module"
	ErrInvalidJSON      ErrorType = "invalid_json"
	ErrSyntaxError      ErrorType = "syntax_error"
	ErrPermissionDenied ErrorType = "permission_denied"
	ErrTimeout          ErrorType = "timeout"
	ErrCommandFailed    ErrorType = "command_failed"
	ErrUnknown          ErrorType = "unknown"
)

// classifierRule maps a message pattern to an error type. Rules are checked
// in order; first match wins.
type classifierRule struct {
	pattern *regexp.Regexp
	errType ErrorType
}

var classifierRules = []classifierRule{
	{regexp.MustCompile(`(?i)no such file or directory|file not found|does not exist|FileNotFoundError`), ErrFileNotFound},
	{regexp.MustCompile(`(?i)ModuleNotFoundError|ImportError|cannot find module|no module named`), ErrMissingModule},
	{regexp.MustCompile(`(?i)invalid json|json decode|unexpected end of JSON|unmarshal`), ErrInvalidJSON},
	{regexp.MustCompile(`(?i)SyntaxError|syntax error|invalid syntax|unexpected token`), ErrSyntaxError},
	{regexp.MustCompile(`(?i)permission denied|access denied|operation not permitted|outside your assigned scope`), ErrPermissionDenied},
	{regexp.MustCompile(`(?i)timed? ?out|deadline exceeded`), ErrTimeout},
	{regexp.MustCompile(`(?i)exit code [1-9]|exit status [1-9]|command failed|non-zero exit`), ErrCommandFailed},
}

// Classify maps an error message to its ErrorType through the ordered rule
// table. Unmatched messages are ErrUnknown.
func Classify(message string) ErrorType {
	for _, rule := range classifierRules {
		if rule.pattern.MatchString(message) {
			return rule.errType
		}
	}
	return ErrUnknown
}

// safeArgumentKeys is the whitelist of argument keys retained in failure
// records. Everything else is dropped; tool arguments can carry file content
// and secrets.
var safeArgumentKeys = map[string]bool{
	"path":      true,
	"command":   true,
	"query":     true,
	"name":      true,
	"filename":  true,
	"directory": true,
}

// SanitizeArguments keeps only whitelisted keys with string values.
func SanitizeArguments(args map[string]any) map[string]string {
	out := map[string]string{}
	for k, v := range args {
		if !safeArgumentKeys[k] {
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
