// Package agent drives the minion's conversation loop: LLM completions, tool
// call extraction, sandboxed execution, and terminal-status detection.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nebulus-ai/nebulus/pkg/llm"
	"github.com/nebulus-ai/nebulus/pkg/parse"
	"github.com/nebulus-ai/nebulus/pkg/tools"
)

// Status is the terminal outcome of an agent run.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusBlocked   Status = "BLOCKED"
	StatusError     Status = "ERROR"
	StatusTurnLimit Status = "TURN_LIMIT"
)

// Result is what an agent run produced.
type Result struct {
	Status       Status
	Summary      string
	FilesChanged []string
	BlockerType  string
	Question     string
	Turns        int
	InputTokens  int
	OutputTokens int
}

// Config bounds the conversation loop.
type Config struct {
	TurnLimit      int `yaml:"turn_limit"`
	ErrorThreshold int `yaml:"error_threshold"`
}

// DefaultConfig returns the loop bounds used in production.
func DefaultConfig() Config {
	return Config{
		TurnLimit:      50,
		ErrorThreshold: 3,
	}
}

const nudgeMessage = "No tool call detected. Continue working with a tool call, or call task_complete if the task is done."

// Agent is one minion's conversation state machine.
type Agent struct {
	client   llm.Client
	executor *tools.Executor
	config   Config
	logger   *slog.Logger

	messages []llm.Message
	injected chan string
}

// New creates an agent seeded with the system prompt.
func New(client llm.Client, executor *tools.Executor, systemPrompt string, config Config) *Agent {
	if config.TurnLimit <= 0 {
		config.TurnLimit = DefaultConfig().TurnLimit
	}
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = DefaultConfig().ErrorThreshold
	}
	return &Agent{
		client:   client,
		executor: executor,
		config:   config,
		logger:   slog.Default().With("component", "agent"),
		messages: []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}},
		injected: make(chan string, 8),
	}
}

// InjectMessage queues a synthetic user message, consumed at the start of the
// next turn. The minion runtime uses this to resume after a human answer.
func (a *Agent) InjectMessage(content string) {
	select {
	case a.injected <- content:
	default:
		a.logger.Warn("Injected message dropped, buffer full")
	}
}

// Messages returns a copy of the conversation so far.
func (a *Agent) Messages() []llm.Message {
	out := make([]llm.Message, len(a.messages))
	copy(out, a.messages)
	return out
}

// Run executes the loop with an initial task message until a terminal tool
// fires, the consecutive-error threshold trips, the turn limit is reached, or
// ctx is cancelled.
func (a *Agent) Run(ctx context.Context, taskMessage string) (*Result, error) {
	a.messages = append(a.messages, llm.Message{Role: llm.RoleUser, Content: taskMessage})

	result := &Result{}
	consecutiveErrors := 0
	definitions := tools.Definitions()

	for turn := 0; turn < a.config.TurnLimit; turn++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a.drainInjected()
		result.Turns = turn + 1

		resp, err := a.client.Chat(ctx, a.messages, definitions)
		if err != nil {
			consecutiveErrors++
			a.logger.Warn("LLM call failed", "turn", turn, "consecutive", consecutiveErrors, "error", err)
			if consecutiveErrors >= a.config.ErrorThreshold {
				result.Status = StatusError
				result.Summary = fmt.Sprintf("aborted after %d consecutive LLM errors: %v", consecutiveErrors, err)
				return result, nil
			}
			continue
		}
		result.InputTokens += resp.Usage.PromptTokens
		result.OutputTokens += resp.Usage.CompletionTokens

		calls := resp.ToolCalls
		if len(calls) == 0 {
			calls = parse.ExtractToolCalls(resp.Content)
		}

		a.messages = append(a.messages, assistantMessage(resp.Content, calls))

		if len(calls) == 0 {
			a.logger.Debug("No tool call in response, nudging", "turn", turn)
			a.messages = append(a.messages, llm.Message{Role: llm.RoleUser, Content: nudgeMessage})
			continue
		}

		for _, call := range calls {
			switch call.Name {
			case tools.ToolTaskComplete:
				var args tools.TaskCompleteArgs
				if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
					a.appendToolResult(call, tools.Result{Success: false,
						Error: "invalid json arguments for task_complete: " + err.Error()})
					consecutiveErrors++
					continue
				}
				result.Status = StatusCompleted
				result.Summary = args.Summary
				result.FilesChanged = args.FilesChanged
				return result, nil

			case tools.ToolTaskBlocked:
				var args tools.TaskBlockedArgs
				if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
					a.appendToolResult(call, tools.Result{Success: false,
						Error: "invalid json arguments for task_blocked: " + err.Error()})
					consecutiveErrors++
					continue
				}
				result.Status = StatusBlocked
				result.Summary = args.Reason
				result.BlockerType = string(args.BlockerType)
				result.Question = args.Question
				return result, nil
			}

			toolResult := a.executor.Execute(ctx, call)
			a.appendToolResult(call, toolResult)
			if toolResult.Success {
				consecutiveErrors = 0
			} else {
				consecutiveErrors++
				if consecutiveErrors >= a.config.ErrorThreshold {
					result.Status = StatusError
					result.Summary = fmt.Sprintf("aborted after %d consecutive tool failures, last: %s",
						consecutiveErrors, toolResult.Error)
					return result, nil
				}
			}
		}
	}

	result.Status = StatusTurnLimit
	result.Summary = fmt.Sprintf("turn limit %d reached without a terminal tool", a.config.TurnLimit)
	return result, nil
}

func (a *Agent) drainInjected() {
	for {
		select {
		case msg := <-a.injected:
			a.messages = append(a.messages, llm.Message{Role: llm.RoleUser, Content: msg})
		default:
			return
		}
	}
}

func (a *Agent) appendToolResult(call parse.ToolCall, res tools.Result) {
	content := res.Output
	if !res.Success {
		content = "Error: " + res.Error
	}
	a.messages = append(a.messages, llm.Message{
		Role:       llm.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		Name:       call.Name,
	})
}

func assistantMessage(content string, calls []parse.ToolCall) llm.Message {
	msg := llm.Message{Role: llm.RoleAssistant, Content: content}
	for _, call := range calls {
		msg.ToolCalls = append(msg.ToolCalls, llm.WireToolCall{
			ID:   call.ID,
			Type: "function",
			Function: llm.WireFunction{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}
	return msg
}

// BuildSystemPrompt assembles the minion system prompt from the issue context,
// scope description, failure-memory warnings, and revision feedback.
func BuildSystemPrompt(repo string, issueNumber int, issueTitle, issueBody, scopeDescription string, failureWarnings []string, revisionFeedback string) string {
	var b strings.Builder
	b.WriteString("You are a Nebulus minion: an autonomous software engineer working on a single GitHub issue.\n\n")
	fmt.Fprintf(&b, "Repository: %s\nIssue #%d: %s\n\n%s\n\n", repo, issueNumber, issueTitle, issueBody)
	b.WriteString("Work inside the checked-out repository. Use the provided tools to read, edit, and test code.\n")
	b.WriteString("When the task is done, call task_complete with a summary. If you cannot proceed, call task_blocked.\n")
	if scopeDescription != "" {
		fmt.Fprintf(&b, "\nWrite scope: %s\n", scopeDescription)
	}
	if len(failureWarnings) > 0 {
		b.WriteString("\nRecent tool-failure patterns to avoid:\n")
		for _, w := range failureWarnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	if revisionFeedback != "" {
		fmt.Fprintf(&b, "\nThis is a revision of an earlier attempt. Reviewer feedback to address:\n%s\n", revisionFeedback)
	}
	return b.String()
}
