package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nebulus-ai/nebulus/pkg/parse"
)

// OpenAIConfig configures the OpenAI-compatible HTTP backend.
type OpenAIConfig struct {
	// Provider selects the backend: openai (default), anthropic, or google.
	Provider  string        `yaml:"provider"`
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
	Streaming bool          `yaml:"streaming"`
}

// DefaultOpenAIConfig returns the built-in backend defaults. The base URL
// points at a local inference server.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL: "http://localhost:8000/v1",
		Model:   "sonnet",
		Timeout: 120 * time.Second,
	}
}

// OpenAIClient speaks the OpenAI chat-completion HTTP API. It works against
// any compatible server (vLLM, llama.cpp, LiteLLM, the real thing).
type OpenAIClient struct {
	httpClient *http.Client
	cfg        OpenAIConfig
	model      string
}

// NewOpenAIClient creates a backend client. The configured model name is
// resolved through the alias table.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultOpenAIConfig().Timeout
	}
	return &OpenAIClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		model:      ResolveAlias(cfg.Model),
	}
}

// ModelID returns the resolved model identifier.
func (c *OpenAIClient) ModelID() string { return c.model }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Tools    []requestTool `json:"tools,omitempty"`
	Stream   bool          `json:"stream,omitempty"`
}

type requestTool struct {
	Type     string         `json:"type"`
	Function ToolDefinition `json:"function"`
}

type chatCompletion struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   *string        `json:"content"`
			ToolCalls []WireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Chat performs a non-streaming completion request.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: messages,
		Tools:    wrapTools(tools),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat completion request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat completion returned HTTP %d: %s", resp.StatusCode, truncate(string(raw), 500))
	}

	var completion chatCompletion
	if err := json.Unmarshal(raw, &completion); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if completion.Error != nil {
		return nil, fmt.Errorf("chat completion error: %s", completion.Error.Message)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	choice := completion.Choices[0]
	out := &Response{
		FinishReason: choice.FinishReason,
		Usage:        completion.Usage,
		Model:        firstNonEmpty(completion.Model, c.model),
	}
	if choice.Message.Content != nil {
		out.Content = *choice.Message.Content
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, parse.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

type streamDelta struct {
	Choices []struct {
		Delta struct {
			Content   *string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// ChatStream performs a streaming completion. When streaming is disabled in
// the config, the full response is wrapped in a single synthetic chunk so
// callers see one shape either way.
func (c *OpenAIClient) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	out := make(chan StreamChunk, 16)

	if !c.cfg.Streaming {
		go func() {
			defer close(out)
			resp, err := c.Chat(ctx, messages, tools)
			if err != nil {
				out <- StreamChunk{Err: err}
				return
			}
			usage := resp.Usage
			out <- StreamChunk{
				ContentDelta: resp.Content,
				ToolCalls:    resp.ToolCalls,
				FinishReason: resp.FinishReason,
				Usage:        &usage,
			}
		}()
		return out, nil
	}

	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: messages,
		Tools:    wrapTools(tools),
		Stream:   true,
	})
	if err != nil {
		close(out)
		return nil, fmt.Errorf("marshal stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		close(out)
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		close(out)
		return nil, fmt.Errorf("stream request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		close(out)
		return nil, fmt.Errorf("stream returned HTTP %d: %s", resp.StatusCode, truncate(string(raw), 500))
	}

	go func() {
		defer close(out)
		defer resp.Body.Close()
		c.consumeSSE(ctx, resp.Body, out)
	}()
	return out, nil
}

// consumeSSE reads server-sent-event lines, accumulating streamed tool-call
// argument fragments by index and emitting them once on the final chunk.
func (c *OpenAIClient) consumeSSE(ctx context.Context, body io.Reader, out chan<- StreamChunk) {
	type partialCall struct {
		id   string
		name string
		args strings.Builder
	}
	partials := map[int]*partialCall{}
	order := []int{}

	flushCalls := func() []parse.ToolCall {
		calls := make([]parse.ToolCall, 0, len(order))
		for _, idx := range order {
			pc := partials[idx]
			calls = append(calls, parse.ToolCall{ID: pc.id, Name: pc.name, Arguments: pc.args.String()})
		}
		return calls
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return
		}

		var delta streamDelta
		if err := json.Unmarshal([]byte(payload), &delta); err != nil {
			continue
		}
		if len(delta.Choices) == 0 {
			if delta.Usage != nil {
				out <- StreamChunk{Usage: delta.Usage}
			}
			continue
		}

		choice := delta.Choices[0]
		chunk := StreamChunk{Usage: delta.Usage}
		if choice.Delta.Content != nil {
			chunk.ContentDelta = *choice.Delta.Content
		}
		for _, tc := range choice.Delta.ToolCalls {
			pc, ok := partials[tc.Index]
			if !ok {
				pc = &partialCall{}
				partials[tc.Index] = pc
				order = append(order, tc.Index)
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args.WriteString(tc.Function.Arguments)
		}
		if choice.FinishReason != nil {
			chunk.FinishReason = *choice.FinishReason
			chunk.ToolCalls = flushCalls()
		}
		if chunk.ContentDelta != "" || chunk.FinishReason != "" || chunk.Usage != nil {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}
	if err := scanner.Err(); err != nil {
		out <- StreamChunk{Err: fmt.Errorf("stream read: %w", err)}
	}
}

func wrapTools(tools []ToolDefinition) []requestTool {
	if len(tools) == 0 {
		return nil
	}
	wrapped := make([]requestTool, len(tools))
	for i, t := range tools {
		wrapped[i] = requestTool{Type: "function", Function: t}
	}
	return wrapped
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
