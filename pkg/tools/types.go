// Package tools executes the Minion's tool vocabulary against a fixed
// workspace root. Every path input is resolved and rejected if it escapes the
// root; write-capable tools additionally consult the scope policy. Failures
// are regular results, never panics; they go back into the conversation so
// the model can recover.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nebulus-ai/nebulus/pkg/failure"
)

// Result is the uniform outcome of one tool call.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}

func ok(output string) Result { return Result{Success: true, Output: output} }

func fail(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Terminal tool names. The agent loop intercepts these before dispatch; the
// executor knows them only so it can validate their arguments.
const (
	ToolTaskComplete = "task_complete"
	ToolTaskBlocked  = "task_blocked"
)

// BlockerType categorizes why a task cannot proceed.
type BlockerType string

const (
	BlockerMissingInfo         BlockerType = "missing_info"
	BlockerTooComplex          BlockerType = "too_complex"
	BlockerUnclearRequirements BlockerType = "unclear_requirements"
	BlockerExternalDependency  BlockerType = "external_dependency"
)

// TaskCompleteArgs are the arguments of the task_complete terminal tool.
type TaskCompleteArgs struct {
	Summary      string   `json:"summary"`
	FilesChanged []string `json:"files_changed,omitempty"`
}

// TaskBlockedArgs are the arguments of the task_blocked terminal tool.
type TaskBlockedArgs struct {
	Reason      string      `json:"reason"`
	BlockerType BlockerType `json:"blocker_type"`
	Question    string      `json:"question,omitempty"`
}

// Skill is a loadable unit of reusable instructions.
type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SkillLoader is the pluggable source of skills.
type SkillLoader interface {
	ListSkills(ctx context.Context) ([]Skill, error)
	LoadSkill(ctx context.Context, name string) (string, error)
}

// FailureRecorder receives failed tool calls, keyed by the originating tool.
// Satisfied by *failure.Memory.
type FailureRecorder interface {
	RecordFailure(sessionID, toolName, errorMessage string, arguments map[string]any) (*failure.Record, error)
}

func decodeArgs(raw string, dst any) error {
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("invalid json arguments: %w", err)
	}
	return nil
}
