package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/nebulus-ai/nebulus/pkg/llm"
	"github.com/nebulus-ai/nebulus/pkg/parse"
	"github.com/nebulus-ai/nebulus/pkg/scope"
	"github.com/nebulus-ai/nebulus/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient replays a fixed sequence of responses or errors.
type scriptedClient struct {
	responses []scriptStep
	calls     int
	seen      [][]llm.Message
}

type scriptStep struct {
	resp *llm.Response
	err  error
}

func (s *scriptedClient) Chat(_ context.Context, messages []llm.Message, _ []llm.ToolDefinition) (*llm.Response, error) {
	snapshot := make([]llm.Message, len(messages))
	copy(snapshot, messages)
	s.seen = append(s.seen, snapshot)

	if s.calls >= len(s.responses) {
		return nil, errors.New("script exhausted")
	}
	step := s.responses[s.calls]
	s.calls++
	if step.err != nil {
		return nil, step.err
	}
	return step.resp, nil
}

func (s *scriptedClient) ChatStream(_ context.Context, _ []llm.Message, _ []llm.ToolDefinition) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("not implemented")
}

func (s *scriptedClient) ModelID() string { return "scripted" }

func nativeCall(name, args string) *llm.Response {
	return &llm.Response{
		ToolCalls: []parse.ToolCall{{ID: "call_1", Name: name, Arguments: args}},
		Usage:     llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func newTestAgent(t *testing.T, client llm.Client) *Agent {
	t.Helper()
	executor := tools.NewExecutor(t.TempDir(), scope.Unrestricted())
	return New(client, executor, "system prompt", Config{TurnLimit: 10, ErrorThreshold: 3})
}

func TestTaskCompleteTerminates(t *testing.T) {
	client := &scriptedClient{responses: []scriptStep{
		{resp: nativeCall("write_file", `{"path": "fix.py", "content": "x = 1"}`)},
		{resp: nativeCall("task_complete", `{"summary": "fixed the bug", "files_changed": ["fix.py"]}`)},
	}}
	a := newTestAgent(t, client)

	res, err := a.Run(context.Background(), "fix the bug")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "fixed the bug", res.Summary)
	assert.Equal(t, []string{"fix.py"}, res.FilesChanged)
	assert.Equal(t, 2, res.Turns)
	assert.Equal(t, 20, res.InputTokens)
	assert.Equal(t, 10, res.OutputTokens)
}

func TestTaskBlockedTerminates(t *testing.T) {
	client := &scriptedClient{responses: []scriptStep{
		{resp: nativeCall("task_blocked",
			`{"reason": "API key missing", "blocker_type": "missing_info", "question": "Which key should I use?"}`)},
	}}
	a := newTestAgent(t, client)

	res, err := a.Run(context.Background(), "do the thing")
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, res.Status)
	assert.Equal(t, "missing_info", res.BlockerType)
	assert.Equal(t, "Which key should I use?", res.Question)
}

func TestTextResponseFallsBackToParser(t *testing.T) {
	client := &scriptedClient{responses: []scriptStep{
		{resp: &llm.Response{
			Content: `I'll mark this done. {"name": "task_complete", "arguments": {"summary": "done via text"}}`,
		}},
	}}
	a := newTestAgent(t, client)

	res, err := a.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "done via text", res.Summary)
}

func TestEmptyResponseNudges(t *testing.T) {
	client := &scriptedClient{responses: []scriptStep{
		{resp: &llm.Response{Content: "thinking about it"}},
		{resp: nativeCall("task_complete", `{"summary": "ok"}`)},
	}}
	a := newTestAgent(t, client)

	res, err := a.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)

	// The second request carries the nudge as the latest user message.
	require.Len(t, client.seen, 2)
	last := client.seen[1][len(client.seen[1])-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Contains(t, last.Content, "task_complete")
}

func TestConsecutiveToolFailuresAbort(t *testing.T) {
	missing := nativeCall("read_file", `{"path": "does-not-exist.txt"}`)
	client := &scriptedClient{responses: []scriptStep{
		{resp: missing}, {resp: missing}, {resp: missing},
	}}
	a := newTestAgent(t, client)

	res, err := a.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Summary, "3 consecutive tool failures")
	assert.Equal(t, 3, res.Turns)
}

func TestSuccessResetsErrorCounter(t *testing.T) {
	missing := nativeCall("read_file", `{"path": "does-not-exist.txt"}`)
	ok := nativeCall("write_file", `{"path": "a.txt", "content": "x"}`)
	client := &scriptedClient{responses: []scriptStep{
		{resp: missing}, {resp: missing}, {resp: ok},
		{resp: missing}, {resp: missing},
		{resp: nativeCall("task_complete", `{"summary": "recovered"}`)},
	}}
	a := newTestAgent(t, client)

	res, err := a.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
}

func TestLLMErrorsCountTowardThreshold(t *testing.T) {
	boom := errors.New("connection refused")
	client := &scriptedClient{responses: []scriptStep{
		{err: boom}, {err: boom}, {err: boom},
	}}
	a := newTestAgent(t, client)

	res, err := a.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Summary, "consecutive LLM errors")
}

func TestTurnLimitReached(t *testing.T) {
	steps := make([]scriptStep, 10)
	for i := range steps {
		steps[i] = scriptStep{resp: &llm.Response{Content: "still thinking"}}
	}
	client := &scriptedClient{responses: steps}
	a := newTestAgent(t, client)

	res, err := a.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, StatusTurnLimit, res.Status)
	assert.Equal(t, 10, res.Turns)
}

func TestInjectedMessageEntersConversation(t *testing.T) {
	client := &scriptedClient{responses: []scriptStep{
		{resp: &llm.Response{Content: "waiting"}},
		{resp: nativeCall("task_complete", `{"summary": "done"}`)},
	}}
	a := newTestAgent(t, client)
	a.InjectMessage("Human answer: use the staging key")

	_, err := a.Run(context.Background(), "task")
	require.NoError(t, err)

	found := false
	for _, m := range a.Messages() {
		if m.Role == llm.RoleUser && m.Content == "Human answer: use the staging key" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestContextCancellationStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := newTestAgent(t, &scriptedClient{})

	_, err := a.Run(ctx, "task")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildSystemPrompt(t *testing.T) {
	prompt := BuildSystemPrompt("acme/widgets", 42, "Fix bug", "Division fails on zero",
		"src/** only", []string{"read_file keeps failing on missing paths"}, "address lint errors")

	assert.Contains(t, prompt, "acme/widgets")
	assert.Contains(t, prompt, "Issue #42")
	assert.Contains(t, prompt, "src/** only")
	assert.Contains(t, prompt, "read_file keeps failing")
	assert.Contains(t, prompt, "address lint errors")
}
