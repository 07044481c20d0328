package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackendSelectsProvider(t *testing.T) {
	tests := []struct {
		name     string
		cfg      OpenAIConfig
		wantType any
	}{
		{"default is openai compatible", OpenAIConfig{Model: "gpt-4o"}, &OpenAIClient{}},
		{"anthropic", OpenAIConfig{Provider: ProviderAnthropic, Model: "sonnet", APIKey: "sk-ant-x"}, &AnthropicClient{}},
		{"google routes through the openai surface", OpenAIConfig{Provider: ProviderGoogle, Model: "gemini-2.5-pro"}, &OpenAIClient{}},
		{"unknown falls back", OpenAIConfig{Provider: "llama-farm", Model: "m"}, &OpenAIClient{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.IsType(t, tc.wantType, NewBackend(tc.cfg))
		})
	}
}

func TestGoogleClientResolvesGeminiAlias(t *testing.T) {
	c := NewGoogleClient(OpenAIConfig{Model: "gemini-2.5-pro", APIKey: "key"})
	assert.Equal(t, "gemini-2.5-pro-preview-06-05", c.ModelID())
	assert.Equal(t, googleOpenAIBase, c.cfg.BaseURL)
}

func TestGoogleClientKeepsExplicitBaseURL(t *testing.T) {
	c := NewGoogleClient(OpenAIConfig{Model: "gemini-2.5-pro", BaseURL: "http://proxy:9000/v1"})
	require.Equal(t, "http://proxy:9000/v1", c.cfg.BaseURL)
}
