// Package githost wraps local git operations and the GitHub REST API for the
// minion's commit/push/PR flow and the review pipeline's PR access.
package githost

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/avast/retry-go"
)

// CommandResult captures one git subprocess invocation.
type CommandResult struct {
	Success    bool   `json:"success"`
	Output     string `json:"output"`
	Error      string `json:"error"`
	ReturnCode int    `json:"return_code"`
}

// Git runs git subcommands inside a working tree. All calls have bounded
// timeouts.
type Git struct {
	repoPath string
	timeout  time.Duration
	logger   *slog.Logger
}

const defaultGitTimeout = 120 * time.Second

// NewGit returns a Git bound to repoPath.
func NewGit(repoPath string) *Git {
	return &Git{
		repoPath: repoPath,
		timeout:  defaultGitTimeout,
		logger:   slog.Default(),
	}
}

// RepoPath returns the working tree location.
func (g *Git) RepoPath() string { return g.repoPath }

func (g *Git) run(ctx context.Context, args ...string) CommandResult {
	return g.runAt(ctx, g.repoPath, args...)
}

func (g *Git) runAt(ctx context.Context, dir string, args ...string) CommandResult {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	res := CommandResult{Output: strings.TrimSpace(string(out))}

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		res.Error = fmt.Sprintf("git %s timed out after %s", args[0], g.timeout)
		res.ReturnCode = -1
	case err != nil:
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ReturnCode = exitErr.ExitCode()
		} else {
			res.ReturnCode = -1
		}
		res.Error = res.Output
		if res.Error == "" {
			res.Error = err.Error()
		}
	default:
		res.Success = true
	}
	return res
}

// Clone clones authURL (a token-embedded HTTPS URL) into g's repo path.
func (g *Git) Clone(ctx context.Context, authURL string) CommandResult {
	// Token stays out of logs; only the invariant part of the URL is logged.
	g.logger.Info("Cloning repository", "path", g.repoPath)
	return g.runAt(ctx, "", "clone", authURL, g.repoPath)
}

// CloneURL builds a token-embedded HTTPS clone URL for owner/name.
func CloneURL(repo, token string) string {
	if token == "" {
		return fmt.Sprintf("https://github.com/%s.git", repo)
	}
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", token, repo)
}

// CreateBranch creates and checks out a new branch.
func (g *Git) CreateBranch(ctx context.Context, name string) CommandResult {
	return g.run(ctx, "checkout", "-b", name)
}

// Checkout switches to an existing branch.
func (g *Git) Checkout(ctx context.Context, name string) CommandResult {
	return g.run(ctx, "checkout", name)
}

// StageAll stages every change in the working tree.
func (g *Git) StageAll(ctx context.Context) CommandResult {
	return g.run(ctx, "add", "-A")
}

// Commit records the staged changes. author is "Name <email>" or empty for
// the configured default.
func (g *Git) Commit(ctx context.Context, message, author string) CommandResult {
	args := []string{"commit", "-m", message}
	if author != "" {
		args = append(args, "--author", author)
	}
	return g.run(ctx, args...)
}

// Push pushes branch to remote.
func (g *Git) Push(ctx context.Context, remote, branch string) CommandResult {
	return g.run(ctx, "push", remote, branch)
}

const maxPushRetries = 3

// PushWithRetry pushes branch, and on a non-fast-forward rejection fetches
// and rebases onto remote/base before retrying, up to maxPushRetries times.
// A rebase conflict aborts the rebase and surfaces the failure.
func (g *Git) PushWithRetry(ctx context.Context, remote, branch, base string) CommandResult {
	var last CommandResult
	err := retry.Do(
		func() error {
			last = g.Push(ctx, remote, branch)
			if last.Success {
				return nil
			}
			if !isNonFastForward(last) {
				return retry.Unrecoverable(fmt.Errorf("push failed: %s", last.Error))
			}
			if fetch := g.run(ctx, "fetch", remote, base); !fetch.Success {
				return retry.Unrecoverable(fmt.Errorf("fetch before rebase failed: %s", fetch.Error))
			}
			rebase := g.run(ctx, "rebase", remote+"/"+base)
			if !rebase.Success {
				g.run(ctx, "rebase", "--abort")
				return retry.Unrecoverable(fmt.Errorf("rebase onto %s/%s conflicted: %s", remote, base, rebase.Error))
			}
			return fmt.Errorf("push rejected, rebased onto %s/%s", remote, base)
		},
		retry.Attempts(maxPushRetries),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil && last.Success {
		last.Success = false
		last.Error = err.Error()
	}
	if err != nil && last.Error == "" {
		last.Error = err.Error()
	}
	return last
}

func isNonFastForward(res CommandResult) bool {
	combined := res.Output + res.Error
	return strings.Contains(combined, "non-fast-forward") ||
		strings.Contains(combined, "fetch first") ||
		strings.Contains(combined, "rejected")
}

// GetChangedFiles lists files that differ from base (or all tracked changes
// when base is empty).
func (g *Git) GetChangedFiles(ctx context.Context, base string) ([]string, error) {
	args := []string{"diff", "--name-only"}
	if base != "" {
		args = append(args, base+"...HEAD")
	} else {
		args = append(args, "HEAD")
	}
	res := g.run(ctx, args...)
	if !res.Success {
		return nil, fmt.Errorf("git diff: %s", res.Error)
	}
	if res.Output == "" {
		return nil, nil
	}
	return strings.Split(res.Output, "\n"), nil
}

// ConfigureIdentity sets the committer name and email for the working tree.
func (g *Git) ConfigureIdentity(ctx context.Context, name, email string) error {
	if res := g.run(ctx, "config", "user.name", name); !res.Success {
		return fmt.Errorf("set user.name: %s", res.Error)
	}
	if res := g.run(ctx, "config", "user.email", email); !res.Success {
		return fmt.Errorf("set user.email: %s", res.Error)
	}
	return nil
}
