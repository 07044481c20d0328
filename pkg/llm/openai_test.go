package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatParsesContentAndToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-sonnet-4-5-20250929", req.Model)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "claude-sonnet-4-5-20250929",
			"choices": [{
				"message": {
					"content": "Writing the file now.",
					"tool_calls": [{
						"id": "call_1", "type": "function",
						"function": {"name": "write_file", "arguments": "{\"path\":\"a.py\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150}
		}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL + "/v1", APIKey: "test-key", Model: "sonnet"})
	resp, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "go"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Writing the file now.", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "write_file", resp.ToolCalls[0].Name)
	assert.Equal(t, "tool_calls", resp.FinishReason)
	assert.Equal(t, 150, resp.Usage.TotalTokens)
}

func TestChatSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, Model: "sonnet"})
	_, err := client.Chat(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestNonStreamingModeWrapsSingleChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 1, "total_tokens": 6}
		}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, Model: "m", Streaming: false})
	chunks, err := client.ChatStream(context.Background(), nil, nil)
	require.NoError(t, err)

	var received []StreamChunk
	for c := range chunks {
		received = append(received, c)
	}
	require.Len(t, received, 1)
	assert.Equal(t, "hello", received[0].ContentDelta)
	assert.Equal(t, "stop", received[0].FinishReason)
	require.NotNil(t, received[0].Usage)
	assert.Equal(t, 6, received[0].Usage.TotalTokens)
}

func TestStreamingAccumulatesToolCallFragments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			`data: {"choices":[{"delta":{"content":"thinking"}}]}` + "\n\n" +
				`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_9","function":{"name":"read_file","arguments":"{\"pa"}}]}}]}` + "\n\n" +
				`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"th\":\"x.py\"}"}}]}}]}` + "\n\n" +
				`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}` + "\n\n" +
				"data: [DONE]\n\n"))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, Model: "m", Streaming: true})
	chunks, err := client.ChatStream(context.Background(), nil, nil)
	require.NoError(t, err)

	var content string
	var final StreamChunk
	for c := range chunks {
		require.NoError(t, c.Err)
		content += c.ContentDelta
		if c.FinishReason != "" {
			final = c
		}
	}
	assert.Equal(t, "thinking", content)
	require.Len(t, final.ToolCalls, 1)
	assert.Equal(t, "call_9", final.ToolCalls[0].ID)
	assert.JSONEq(t, `{"path":"x.py"}`, final.ToolCalls[0].Arguments)
}

func TestResolveAlias(t *testing.T) {
	assert.Equal(t, "claude-sonnet-4-5-20250929", ResolveAlias("sonnet"))
	assert.Equal(t, "my-custom-model", ResolveAlias("my-custom-model"))
}

func TestEstimateCostUSD(t *testing.T) {
	cost := EstimateCostUSD(1_000_000, 1_000_000, "claude-sonnet-4-5-20250929")
	assert.InDelta(t, 18.0, cost, 0.001)
	assert.Zero(t, EstimateCostUSD(1000, 1000, "local-qwen"))
}
