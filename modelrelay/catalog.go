package modelrelay

import "strings"

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	ContextWindow int      `json:"context_window"`
	SupportsTools bool     `json:"supports_tools"`
	Aliases       []string `json:"aliases,omitempty"`
}

// catalog is the built-in model table. It is intentionally small; callers
// with models outside it set Request.Provider explicitly.
var catalog = []ModelInfo{
	{ID: "claude-opus-4-6", Provider: "anthropic", ContextWindow: 200000, SupportsTools: true, Aliases: []string{"opus"}},
	{ID: "claude-sonnet-4-5", Provider: "anthropic", ContextWindow: 200000, SupportsTools: true, Aliases: []string{"sonnet"}},
	{ID: "gpt-5.2", Provider: "openai", ContextWindow: 1047576, SupportsTools: true, Aliases: []string{"gpt5"}},
	{ID: "gpt-5.2-mini", Provider: "openai", ContextWindow: 1047576, SupportsTools: true, Aliases: []string{"gpt5-mini"}},
	{ID: "gemini-3-pro-preview", Provider: "gemini", ContextWindow: 1048576, SupportsTools: true, Aliases: []string{"gemini-pro"}},
	{ID: "gemini-3-flash-preview", Provider: "gemini", ContextWindow: 1048576, SupportsTools: true, Aliases: []string{"gemini-flash"}},
}

// Lookup returns the catalog entry for a model id or alias, or nil.
func Lookup(model string) *ModelInfo {
	for i := range catalog {
		if catalog[i].ID == model {
			return &catalog[i]
		}
		for _, alias := range catalog[i].Aliases {
			if alias == model {
				return &catalog[i]
			}
		}
	}
	return nil
}

// Resolve splits a "provider/model" reference. A bare model id resolves its
// provider through the catalog; unknown bare ids return an empty provider.
func Resolve(ref string) (provider, model string) {
	if idx := strings.IndexByte(ref, '/'); idx >= 0 {
		return ref[:idx], ref[idx+1:]
	}
	if info := Lookup(ref); info != nil {
		return info.Provider, info.ID
	}
	return "", ref
}

// List returns catalog entries, optionally filtered by provider.
func List(provider string) []ModelInfo {
	if provider == "" {
		out := make([]ModelInfo, len(catalog))
		copy(out, catalog)
		return out
	}
	var out []ModelInfo
	for _, m := range catalog {
		if m.Provider == provider {
			out = append(out, m)
		}
	}
	return out
}
