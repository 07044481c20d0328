package tools

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/nebulus-ai/nebulus/pkg/parse"
	"github.com/nebulus-ai/nebulus/pkg/scope"
)

// Executor runs the tool vocabulary against one workspace root.
type Executor struct {
	root      string
	policy    *scope.Policy
	skills    SkillLoader
	failures  FailureRecorder
	sessionID string

	// commandTimeout is the default run_command timeout.
	commandTimeout time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithSkillLoader plugs in a skill source.
func WithSkillLoader(loader SkillLoader) Option {
	return func(e *Executor) { e.skills = loader }
}

// WithFailureRecorder wires failed calls into failure memory.
func WithFailureRecorder(sessionID string, rec FailureRecorder) Option {
	return func(e *Executor) {
		e.sessionID = sessionID
		e.failures = rec
	}
}

// WithCommandTimeout overrides the default run_command timeout.
func WithCommandTimeout(d time.Duration) Option {
	return func(e *Executor) { e.commandTimeout = d }
}

// NewExecutor creates an executor rooted at workspaceRoot. The root must be
// an absolute path; the policy must not be nil.
func NewExecutor(workspaceRoot string, policy *scope.Policy, opts ...Option) *Executor {
	e := &Executor{
		root:           filepath.Clean(workspaceRoot),
		policy:         policy,
		commandTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute dispatches one normalized tool call and returns a uniform Result.
// Unknown tools and argument decode failures are regular failures. Every
// failure is recorded in failure memory under the originating tool name.
func (e *Executor) Execute(ctx context.Context, call parse.ToolCall) Result {
	result := e.dispatch(ctx, call)
	if !result.Success {
		e.recordFailure(call, result.Error)
	}
	return result
}

func (e *Executor) dispatch(ctx context.Context, call parse.ToolCall) Result {
	switch call.Name {
	case "read_file":
		var args readFileArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return fail("%v", err)
		}
		return e.readFile(args)

	case "write_file":
		var args writeFileArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return fail("%v", err)
		}
		return e.writeFile(args)

	case "edit_file":
		var args editFileArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return fail("%v", err)
		}
		return e.editFile(args)

	case "list_directory":
		var args listDirectoryArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return fail("%v", err)
		}
		return e.listDirectory(args)

	case "search_files":
		var args searchFilesArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return fail("%v", err)
		}
		return e.searchFiles(args)

	case "glob_files":
		var args globFilesArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return fail("%v", err)
		}
		return e.globFiles(args)

	case "run_command":
		var args runCommandArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return fail("%v", err)
		}
		return e.runCommand(ctx, args)

	case "list_skills":
		return e.listSkills(ctx)

	case "use_skill":
		var args useSkillArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return fail("%v", err)
		}
		return e.useSkill(ctx, args)

	case ToolTaskComplete, ToolTaskBlocked:
		// Terminal tools are intercepted by the agent loop; reaching the
		// executor means the loop wiring is wrong, not the model.
		return fail("terminal tool %q must not be dispatched", call.Name)

	default:
		return fail("unknown tool %q", call.Name)
	}
}

// resolvePath resolves a workspace-relative path, following "..", and rejects
// results that escape the root. The returned relative path is normalized for
// scope checks.
func (e *Executor) resolvePath(rel string) (abs string, cleanRel string, escaped bool) {
	rel = strings.TrimSpace(rel)
	abs = filepath.Clean(filepath.Join(e.root, rel))
	if abs != e.root && !strings.HasPrefix(abs, e.root+string(filepath.Separator)) {
		return "", "", true
	}
	cleanRel, err := filepath.Rel(e.root, abs)
	if err != nil {
		return "", "", true
	}
	return abs, filepath.ToSlash(cleanRel), false
}

func (e *Executor) recordFailure(call parse.ToolCall, errMsg string) {
	if e.failures == nil {
		return
	}
	args := map[string]any{}
	_ = decodeArgs(call.Arguments, &args)
	if _, err := e.failures.RecordFailure(e.sessionID, call.Name, errMsg, args); err != nil {
		slog.Warn("Failed to record tool failure", "tool", call.Name, "error", err)
	}
}
