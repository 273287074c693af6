// Package catalog resolves a requested model to a provider, a
// wire-level model id, and a fallback chain. The manifest is the
// primary source; a compile-time table backs it up so the gateway can
// still suggest working models when the manifest knows nothing.
package catalog

// Entry is the compile-time record for one provider.
type Entry struct {
	// DefaultModel is the wire id used when neither the manifest nor
	// the environment names one.
	DefaultModel string
	// Fallbacks are tried, in order, after an invalid-model error.
	Fallbacks []string
	// DocsURL points at the provider's model list for error messages.
	DocsURL string
}

// static is the built-in catalogue. Kept deliberately small: one to
// three well-known wire ids per provider.
var static = map[string]Entry{
	"openai": {
		DefaultModel: "gpt-4o-mini",
		Fallbacks:    []string{"gpt-4o-mini", "gpt-4o"},
		DocsURL:      "https://platform.openai.com/docs/models",
	},
	"anthropic": {
		DefaultModel: "claude-3-5-sonnet-latest",
		Fallbacks:    []string{"claude-3-5-haiku-latest", "claude-3-5-sonnet-latest"},
		DocsURL:      "https://docs.anthropic.com/en/docs/about-claude/models",
	},
	"gemini": {
		DefaultModel: "gemini-2.0-flash",
		Fallbacks:    []string{"gemini-2.0-flash", "gemini-1.5-pro"},
		DocsURL:      "https://ai.google.dev/gemini-api/docs/models",
	},
	"cohere": {
		DefaultModel: "command-r-plus",
		Fallbacks:    []string{"command-r", "command-r-plus"},
		DocsURL:      "https://docs.cohere.com/docs/models",
	},
}

// StaticEntry returns the compile-time record for a provider id.
func StaticEntry(provider string) (Entry, bool) {
	e, ok := static[provider]
	return e, ok
}
