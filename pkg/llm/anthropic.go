package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/nebulus-ai/nebulus/pkg/parse"
)

// AnthropicClient adapts the Anthropic SDK to the Client contract. It reports
// input/output token counts and the provider-specific model identifier like
// the OpenAI-compatible backend does.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicClient creates an Anthropic-backed client. The model name goes
// through the alias table, so "sonnet" and friends work here too.
func NewAnthropicClient(apiKey, model string, maxTokens int) *AnthropicClient {
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     ResolveAlias(model),
		maxTokens: int64(maxTokens),
	}
}

// ModelID returns the resolved model identifier.
func (c *AnthropicClient) ModelID() string { return c.model }

// Chat performs a single completion request.
func (c *AnthropicClient) Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error) {
	params, err := c.buildParams(messages, tools)
	if err != nil {
		return nil, err
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.create: %w", err)
	}
	return c.convertMessage(msg), nil
}

// ChatStream yields text deltas as they arrive; tool calls are emitted on the
// final chunk once their input JSON is fully accumulated.
func (c *AnthropicClient) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	params, err := c.buildParams(messages, tools)
	if err != nil {
		return nil, err
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	out := make(chan StreamChunk, 16)

	go func() {
		defer close(out)
		accumulated := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := accumulated.Accumulate(event); err != nil {
				out <- StreamChunk{Err: fmt.Errorf("accumulate stream event: %w", err)}
				return
			}
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
					select {
					case out <- StreamChunk{ContentDelta: text.Text}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- StreamChunk{Err: fmt.Errorf("anthropic stream: %w", err)}
			return
		}
		final := c.convertMessage(&accumulated)
		usage := final.Usage
		out <- StreamChunk{
			ToolCalls:    final.ToolCalls,
			FinishReason: final.FinishReason,
			Usage:        &usage,
		}
	}()
	return out, nil
}

// buildParams converts wire messages into Anthropic params. System messages
// become the system prompt; tool results become tool_result blocks.
func (c *AnthropicClient) buildParams(messages []Message, tools []ToolDefinition) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
	}

	var converted []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case RoleUser:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			if len(blocks) > 0 {
				converted = append(converted, anthropic.NewAssistantMessage(blocks...))
			}
		case RoleTool:
			converted = append(converted, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}
	params.Messages = converted

	for _, t := range tools {
		schema, err := toInputSchema(t.Parameters)
		if err != nil {
			return params, fmt.Errorf("tool %s schema: %w", t.Name, err)
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}
	return params, nil
}

func (c *AnthropicClient) convertMessage(msg *anthropic.Message) *Response {
	out := &Response{
		Model: string(msg.Model),
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += b.Text
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, parse.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: string(b.Input),
			})
		}
	}
	switch msg.StopReason {
	case anthropic.StopReasonToolUse:
		out.FinishReason = "tool_calls"
	case anthropic.StopReasonMaxTokens:
		out.FinishReason = "length"
	default:
		out.FinishReason = "stop"
	}
	return out
}

// toInputSchema converts a raw JSON schema into the SDK's input-schema shape.
func toInputSchema(raw json.RawMessage) (anthropic.ToolInputSchemaParam, error) {
	schema := anthropic.ToolInputSchemaParam{}
	if len(raw) == 0 {
		return schema, nil
	}
	var parsed struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return schema, err
	}
	schema.Properties = parsed.Properties
	schema.Required = parsed.Required
	return schema, nil
}
