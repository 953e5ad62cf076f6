package providers

// Constructors for every OpenAI-wire-compatible upstream (spec.md §4.5).
// Each is a thin NewOpenAICompatible wrapper pinning the provider's default
// base URL and auth requirements; BaseURL in cfg overrides the default when
// set (used by the "generic" provider, where it is mandatory).

func NewOpenAI(cfg Config) *OpenAICompatible {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	return NewOpenAICompatible("openai", base, cfg, false, nil)
}

func NewXAI(cfg Config) *OpenAICompatible {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.x.ai/v1"
	}
	return NewOpenAICompatible("xai", base, cfg, false, nil)
}

func NewOpenRouter(cfg Config) *OpenAICompatible {
	base := cfg.BaseURL
	if base == "" {
		base = "https://openrouter.ai/api/v1"
	}
	return NewOpenAICompatible("openrouter", base, cfg, false, nil)
}

// NewZAI builds the Z.AI (Zhipu GLM) client, which also speaks the OpenAI
// Chat Completions wire format.
func NewZAI(cfg Config) *OpenAICompatible {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.z.ai/api/paas/v4"
	}
	return NewOpenAICompatible("zai", base, cfg, false, nil)
}

// NewOllama builds the local/self-hosted Ollama client. No API key is
// required; IsConfigured() is always true once a base URL is set.
func NewOllama(cfg Config) *OpenAICompatible {
	base := cfg.BaseURL
	if base == "" {
		base = "http://localhost:11434/v1"
	}
	return NewOpenAICompatible("ollama", base, cfg, true, nil)
}

// NewGeneric builds a client against an operator-supplied
// OPENAI_COMPATIBLE_BASE_URL. cfg.BaseURL must be set by the caller. When
// cfg.APIKey is empty the client is key-optional like Ollama: IsConfigured()
// reports true, and requests carry an Authorization header only when a
// per-request key override is present.
func NewGeneric(cfg Config) *OpenAICompatible {
	return NewOpenAICompatible("generic", cfg.BaseURL, cfg, cfg.APIKey == "", nil)
}
