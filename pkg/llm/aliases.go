package llm

// modelAliases maps short operator-friendly names to full model identifiers.
// Unknown aliases pass through unchanged.
var modelAliases = map[string]string{
	"sonnet":         "claude-sonnet-4-5-20250929",
	"opus":           "claude-opus-4-1-20250805",
	"haiku":          "claude-haiku-4-5-20251001",
	"gemini-2.5-pro": "gemini-2.5-pro-preview-06-05",
	"gpt-4o":         "gpt-4o-2024-11-20",
	"gpt-4o-mini":    "gpt-4o-mini-2024-07-18",
}

// ResolveAlias resolves a model alias to its full identifier.
func ResolveAlias(name string) string {
	if full, ok := modelAliases[name]; ok {
		return full
	}
	return name
}
