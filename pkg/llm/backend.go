package llm

// Provider names accepted in config.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// googleOpenAIBase is Gemini's OpenAI-compatible chat-completion endpoint.
const googleOpenAIBase = "https://generativelanguage.googleapis.com/v1beta/openai"

// NewBackend builds the client for the configured provider. An empty or
// unknown provider falls back to the OpenAI-compatible client, which also
// covers local inference servers.
func NewBackend(cfg OpenAIConfig) Client {
	switch cfg.Provider {
	case ProviderAnthropic:
		return NewAnthropicClient(cfg.APIKey, cfg.Model, 0)
	case ProviderGoogle:
		return NewGoogleClient(cfg)
	default:
		return NewOpenAIClient(cfg)
	}
}

// NewGoogleClient creates a Gemini-backed client. Google serves an
// OpenAI-compatible surface, so the adapter reuses the OpenAI client against
// that endpoint instead of carrying a second cloud SDK.
func NewGoogleClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" || cfg.BaseURL == DefaultOpenAIConfig().BaseURL {
		cfg.BaseURL = googleOpenAIBase
	}
	return NewOpenAIClient(cfg)
}
