// Package llm provides the pool-governed request surface over
// chat-completion backends. The primary backend speaks the OpenAI-compatible
// HTTP API; cloud SDK adapters share the same contract.
package llm

import (
	"context"
	"encoding/json"

	"github.com/nebulus-ai/nebulus/pkg/parse"
)

// Role is a chat message role on the wire.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is the lowest-common-denominator chat message shape shared with
// OpenAI-compatible backends. Stronger typed turns live in pkg/agent.
type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []WireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

// WireToolCall is the OpenAI function-call wire shape.
type WireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function WireFunction `json:"function"`
}

// WireFunction carries the function name and JSON-string arguments.
type WireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes one tool offered to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Usage reports token consumption for a single request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completed chat turn.
type Response struct {
	Content      string
	ToolCalls    []parse.ToolCall
	FinishReason string
	Usage        Usage
	// Model is the provider-reported model identifier.
	Model string
}

// StreamChunk is one delta of a streaming response. Non-streaming backends
// wrap the whole response in a single synthetic chunk.
type StreamChunk struct {
	ContentDelta string
	ToolCalls    []parse.ToolCall
	FinishReason string
	Usage        *Usage
	Err          error
}

// Client is the unified chat surface. Implementations must be safe for
// concurrent use; the Pool provides the process-wide concurrency bound.
type Client interface {
	// Chat performs a single completion request.
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error)
	// ChatStream yields delta chunks. The channel is closed when the
	// response completes or fails; a failure is delivered as a chunk with
	// Err set.
	ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error)
	// ModelID returns the provider-specific model identifier in use.
	ModelID() string
}
