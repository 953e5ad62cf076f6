package adapters

import (
	"sync"

	"github.com/taipm/llm-gateway/internal/gatewayerr"
)

// Format names, used both as AdapterRegistry keys and as provider→format
// routing targets (spec.md §4.1, §4.4).
const (
	FormatOpenAI           = "openai"
	FormatAnthropic        = "anthropic"
	FormatOpenAIResponses  = "openai_responses"
)

// Registry maps a format name to its FormatAdapter. Registration happens
// once at process startup (cmd/gateway); lookups afterward are read-only,
// so the mutex only ever guards the brief registration window.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]FormatAdapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]FormatAdapter)}
}

// Register binds a format name to its adapter.
func (r *Registry) Register(format string, a FormatAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[format] = a
}

// Get looks up the adapter for a format name. Unknown format fails with
// gatewayerr.NotRegistered (spec.md §4.1).
func (r *Registry) Get(format string) (FormatAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[format]
	if !ok {
		return nil, gatewayerr.New(gatewayerr.NotRegistered, "no adapter registered for format "+format)
	}
	return a, nil
}

// NewDefaultRegistry wires the three shipped dialect adapters under their
// canonical format names.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(FormatOpenAI, NewOpenAIAdapter())
	r.Register(FormatAnthropic, NewAnthropicAdapter())
	r.Register(FormatOpenAIResponses, NewResponsesAdapter())
	return r
}
