package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

const maxCommandOutput = 100 * 1024 // combined stdout+stderr cap

type runCommandArgs struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"` // seconds
}

// runCommand spawns a shell command with the workspace as CWD. Output is the
// combined stdout+stderr, truncated at 100 KB. Exceeding the timeout is a
// regular failure, not an exception.
func (e *Executor) runCommand(ctx context.Context, args runCommandArgs) Result {
	if args.Command == "" {
		return fail("command is required")
	}

	timeout := e.commandTimeout
	if args.Timeout > 0 {
		timeout = time.Duration(args.Timeout) * time.Second
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", args.Command)
	cmd.Dir = e.root

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := buf.String()
	if len(output) > maxCommandOutput {
		output = output[:maxCommandOutput] + truncationNote
	}

	if cmdCtx.Err() == context.DeadlineExceeded {
		return fail("command timed out after %s\n%s", timeout, output)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{
				Success: false,
				Output:  output,
				Error:   fmt.Sprintf("command failed with exit code %d", exitErr.ExitCode()),
			}
		}
		return fail("command failed to start: %v", err)
	}
	return ok(output)
}
