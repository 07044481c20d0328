// Package minion composes the worker-side runtime: clone, agent loop,
// commit/push/PR, and callback reporting, under one wall-clock budget.
package minion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/nebulus-ai/nebulus/pkg/agent"
	"github.com/nebulus-ai/nebulus/pkg/config"
	"github.com/nebulus-ai/nebulus/pkg/events"
	"github.com/nebulus-ai/nebulus/pkg/failure"
	"github.com/nebulus-ai/nebulus/pkg/githost"
	"github.com/nebulus-ai/nebulus/pkg/llm"
	"github.com/nebulus-ai/nebulus/pkg/reporter"
	"github.com/nebulus-ai/nebulus/pkg/scope"
	"github.com/nebulus-ai/nebulus/pkg/tools"
)

// Exit codes of the minion process.
const (
	ExitOK     = 0
	ExitError  = 1
	ExitSignal = 130
)

const (
	defaultBase  = "main"
	remoteOrigin = "origin"
	gitAuthor    = "Nebulus Minion <minions@nebulus.dev>"
)

// agentRunner is the conversation loop seam.
type agentRunner interface {
	Run(ctx context.Context, taskMessage string) (*agent.Result, error)
	InjectMessage(content string)
}

// gitOps is the subset of githost.Git the runtime drives.
type gitOps interface {
	Clone(ctx context.Context, authURL string) githost.CommandResult
	CreateBranch(ctx context.Context, name string) githost.CommandResult
	ConfigureIdentity(ctx context.Context, name, email string) error
	StageAll(ctx context.Context) githost.CommandResult
	Commit(ctx context.Context, message, author string) githost.CommandResult
	PushWithRetry(ctx context.Context, remote, branch, base string) githost.CommandResult
	GetChangedFiles(ctx context.Context, base string) ([]string, error)
	RepoPath() string
}

// hoster is the subset of githost.GitHubClient the runtime drives.
type hoster interface {
	FetchIssue(ctx context.Context, repo string, number int) (*githost.Issue, error)
	CreatePR(ctx context.Context, repo, title, body, head, base string) (*githost.PullRequest, error)
}

// announcer is the callback reporting seam (reporter.Reporter in production).
type announcer interface {
	StartHeartbeat(ctx context.Context)
	Progress(ctx context.Context, message string)
	Complete(ctx context.Context, prNumber int, prURL, branch, reviewSummary string, usage events.Usage)
	Error(ctx context.Context, errorType, details string)
	Question(ctx context.Context, text, blockerType, questionID string)
	PollAnswer(ctx context.Context, questionID string) (string, error)
}

// Runtime is one minion process.
type Runtime struct {
	cfg      *config.Minion
	git      gitOps
	host     hoster
	reporter announcer
	logger   *slog.Logger

	// newAgent builds the conversation loop once the issue and scope are
	// known. Swapped in tests.
	newAgent func(systemPrompt string) agentRunner
}

// New assembles the production runtime from the environment contract.
func New(cfg *config.Minion) *Runtime {
	repoPath := filepath.Join(cfg.Workspace, "repo")

	rep := reporter.New(reporter.Config{
		MinionID:    cfg.MinionID,
		IssueNumber: cfg.IssueNumber,
		CallbackURL: cfg.CallbackURL,
	})

	backend := llm.NewBackend(llm.OpenAIConfig{
		Provider:  cfg.LLMProvider,
		BaseURL:   cfg.LLMBaseURL,
		Model:     cfg.LLMModel,
		Timeout:   cfg.LLMTimeout,
		Streaming: cfg.LLMStreaming,
	})
	pool := llm.NewPool(backend, llm.DefaultPoolConfig())

	rt := &Runtime{
		cfg:      cfg,
		git:      githost.NewGit(repoPath),
		host:     githost.NewGitHubClient(cfg.GitHubToken),
		reporter: rep,
		logger:   slog.Default().With("component", "minion", "minion_id", cfg.MinionID),
	}
	rt.newAgent = func(systemPrompt string) agentRunner {
		policy := scope.FromJSON(cfg.ScopeJSON)
		opts := []tools.Option{}
		if mem, err := failure.Open(cfg.Workspace); err == nil {
			opts = append(opts, tools.WithFailureRecorder(cfg.MinionID, mem))
		}
		executor := tools.NewExecutor(repoPath, policy, opts...)
		return agent.New(pool, executor, systemPrompt, agent.DefaultConfig())
	}
	return rt
}

// Run executes the whole minion lifecycle and returns the process exit code.
// ctx carries the signal context; the wall-clock budget is layered on top.
func (r *Runtime) Run(ctx context.Context) int {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	r.reporter.StartHeartbeat(runCtx)

	code := r.work(runCtx)
	if code != ExitOK {
		// Signal wins over any in-flight failure classification: the
		// operator asked us to stop.
		if ctx.Err() != nil && runCtx.Err() != context.DeadlineExceeded {
			return ExitSignal
		}
	}
	return code
}

func (r *Runtime) work(ctx context.Context) int {
	issue, err := r.host.FetchIssue(ctx, r.cfg.Repo, r.cfg.IssueNumber)
	if err != nil {
		return r.fail(ctx, "fetch_issue", err.Error())
	}

	if res := r.git.Clone(ctx, githost.CloneURL(r.cfg.Repo, r.cfg.GitHubToken)); !res.Success {
		return r.fail(ctx, "clone", res.Error)
	}
	branch := fmt.Sprintf("minion/issue-%d", r.cfg.IssueNumber)
	if res := r.git.CreateBranch(ctx, branch); !res.Success {
		return r.fail(ctx, "branch", res.Error)
	}
	r.reporter.Progress(ctx, "workspace ready on branch "+branch)

	policy := scope.FromJSON(r.cfg.ScopeJSON)
	prompt := agent.BuildSystemPrompt(r.cfg.Repo, r.cfg.IssueNumber, issue.Title, issue.Body,
		describeScope(policy), r.failureWarnings(), r.cfg.RevisionFeedback)
	ag := r.newAgent(prompt)

	result, err := r.runAgent(ctx, ag)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return r.fail(ctx, "timeout",
				fmt.Sprintf("wall clock of %s exceeded", r.cfg.Timeout))
		}
		return r.fail(ctx, "agent", err.Error())
	}

	switch result.Status {
	case agent.StatusCompleted:
		return r.finalize(ctx, issue, branch, result)
	case agent.StatusBlocked:
		return r.fail(ctx, "blocked",
			strings.TrimSpace(result.BlockerType+": "+result.Summary))
	case agent.StatusTurnLimit:
		return r.fail(ctx, "turn_limit", "turn limit reached without task_complete")
	default:
		return r.fail(ctx, "agent_error", result.Summary)
	}
}

// runAgent drives the loop, resuming through the question/answer protocol
// whenever the agent blocks with a question.
func (r *Runtime) runAgent(ctx context.Context, ag agentRunner) (*agent.Result, error) {
	taskMessage := "Begin working on the issue now."

	for {
		result, err := ag.Run(ctx, taskMessage)
		if err != nil {
			return nil, err
		}
		if result.Status != agent.StatusBlocked || result.Question == "" {
			return result, nil
		}

		questionID := uuid.NewString()
		r.reporter.Question(ctx, result.Question, result.BlockerType, questionID)

		answer, err := r.reporter.PollAnswer(ctx, questionID)
		if err != nil {
			// No answer arrived; surface the block as the terminal state.
			return result, nil
		}
		r.logger.Info("Answer received, resuming", "question_id", questionID)
		ag.InjectMessage("Operator answer: " + answer)
		taskMessage = "The operator has answered your question. Continue the task."
	}
}

func (r *Runtime) finalize(ctx context.Context, issue *githost.Issue, branch string, result *agent.Result) int {
	if err := r.git.ConfigureIdentity(ctx, "Nebulus Minion", "minions@nebulus.dev"); err != nil {
		return r.fail(ctx, "git_config", err.Error())
	}
	if res := r.git.StageAll(ctx); !res.Success {
		return r.fail(ctx, "stage", res.Error)
	}

	// Diff against HEAD, not the base branch: nothing is committed yet, so a
	// branch-to-branch diff would always come back empty. Staging first makes
	// newly created files visible here too.
	changed, err := r.git.GetChangedFiles(ctx, "")
	if err != nil {
		return r.fail(ctx, "diff", err.Error())
	}
	if len(changed) == 0 {
		return r.fail(ctx, "no_changes", "agent completed without modifying any files")
	}

	message := fmt.Sprintf("%s (#%d)\n\n%s", issue.Title, r.cfg.IssueNumber, result.Summary)
	if res := r.git.Commit(ctx, message, gitAuthor); !res.Success {
		return r.fail(ctx, "commit", res.Error)
	}
	if res := r.git.PushWithRetry(ctx, remoteOrigin, branch, defaultBase); !res.Success {
		return r.fail(ctx, "push", res.Error)
	}

	body := fmt.Sprintf("%s\n\nCloses #%d", result.Summary, r.cfg.IssueNumber)
	pr, err := r.host.CreatePR(ctx, r.cfg.Repo, issue.Title, body, branch, defaultBase)
	if err != nil {
		return r.fail(ctx, "create_pr", err.Error())
	}

	r.logger.Info("Opened pull request", "pr_number", pr.Number, "branch", branch)
	r.reporter.Complete(ctx, pr.Number, pr.HTMLURL, branch, result.Summary, events.Usage{
		TokensIn:  result.InputTokens,
		TokensOut: result.OutputTokens,
		Model:     r.cfg.LLMModel,
	})
	return ExitOK
}

// fail emits the terminal error event and maps it to the exit code. A spent
// wall clock is always reported as error_type "timeout".
func (r *Runtime) fail(ctx context.Context, errorType, details string) int {
	if ctx.Err() == context.DeadlineExceeded {
		errorType = "timeout"
	}
	r.logger.Error("Minion run failed", "error_type", errorType, "details", details)

	// The run context may already be dead; report on a fresh one so the
	// terminal event still goes out.
	r.reporter.Error(context.WithoutCancel(ctx), errorType, details)
	return ExitError
}

func (r *Runtime) failureWarnings() []string {
	mem, err := failure.Open(r.cfg.Workspace)
	if err != nil {
		return nil
	}
	defer mem.Close()
	fc, err := mem.BuildContext(nil)
	if err != nil {
		return nil
	}
	return fc.Warnings
}

func describeScope(p *scope.Policy) string {
	if p.Mode() == scope.ModeUnrestricted {
		return ""
	}
	return fmt.Sprintf("writes restricted to %s", strings.Join(p.Patterns(), ", "))
}
