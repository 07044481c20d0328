// Package scope decides whether a Minion may write a given workspace-relative
// path. The policy is fixed at spawn time and checked on every write-capable
// tool call.
package scope

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Mode controls how patterns are interpreted.
type Mode string

const (
	// ModeUnrestricted allows every write.
	ModeUnrestricted Mode = "unrestricted"
	// ModeDirectory allows writes whose path matches any glob pattern.
	ModeDirectory Mode = "directory"
	// ModeExplicit allows writes whose path equals a pattern exactly.
	ModeExplicit Mode = "explicit"
)

// Policy is a write-path policy. Immutable after construction.
type Policy struct {
	mode     Mode
	patterns []string
}

// Unrestricted returns a policy that permits every write.
func Unrestricted() *Policy {
	return &Policy{mode: ModeUnrestricted}
}

// NewDirectory returns a glob-matching policy over the given patterns.
// An empty pattern list degrades to unrestricted.
func NewDirectory(patterns []string) *Policy {
	if len(patterns) == 0 {
		return Unrestricted()
	}
	return &Policy{mode: ModeDirectory, patterns: append([]string(nil), patterns...)}
}

// NewExplicit returns an exact-match policy over the given paths.
func NewExplicit(paths []string) *Policy {
	if len(paths) == 0 {
		return Unrestricted()
	}
	return &Policy{mode: ModeExplicit, patterns: append([]string(nil), paths...)}
}

// FromJSON parses the serialized policy form: a JSON array of glob patterns.
// An empty or malformed payload degrades to unrestricted: a broken scope
// must never brick the Minion, it only widens to the container sandbox.
func FromJSON(raw string) *Policy {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Unrestricted()
	}
	var patterns []string
	if err := json.Unmarshal([]byte(raw), &patterns); err != nil {
		slog.Warn("Malformed scope payload, degrading to unrestricted", "error", err)
		return Unrestricted()
	}
	return NewDirectory(patterns)
}

// ToJSON serializes the policy to its wire form (a JSON array of patterns).
// Unrestricted policies serialize to an empty array.
func (p *Policy) ToJSON() string {
	patterns := p.patterns
	if patterns == nil {
		patterns = []string{}
	}
	b, err := json.Marshal(patterns)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// Mode returns the policy mode.
func (p *Policy) Mode() Mode { return p.mode }

// Patterns returns a copy of the pattern list.
func (p *Policy) Patterns() []string {
	return append([]string(nil), p.patterns...)
}

// IsWriteAllowed reports whether the given workspace-relative path may be
// written under this policy.
func (p *Policy) IsWriteAllowed(relPath string) bool {
	relPath = normalize(relPath)
	switch p.mode {
	case ModeUnrestricted:
		return true
	case ModeDirectory:
		for _, pattern := range p.patterns {
			if ok, err := doublestar.Match(pattern, relPath); err == nil && ok {
				return true
			}
		}
		return false
	case ModeExplicit:
		for _, pattern := range p.patterns {
			if normalize(pattern) == relPath {
				return true
			}
		}
		return false
	}
	return false
}

// ViolationMessage builds the machine-readable denial injected into the
// agent conversation so the LLM can recover or escalate.
func (p *Policy) ViolationMessage(relPath string) string {
	return fmt.Sprintf(
		"Write to '%s' is outside your assigned scope. Allowed paths: [%s]. "+
			"Choose a path inside your scope, or call task_blocked if the task cannot be completed within it.",
		relPath, strings.Join(p.patterns, ", "))
}

func normalize(p string) string {
	return strings.TrimPrefix(path.Clean(strings.ReplaceAll(p, "\\", "/")), "./")
}
