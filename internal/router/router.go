// Package router implements the Provider Router (C6): a registry of
// provider plugins, lazy per-provider instantiation, and model→provider
// selection by fixed rule first, cheapest-pricing fallback second.
package router

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/taipm/llm-gateway/internal/gatewayerr"
	"github.com/taipm/llm-gateway/internal/pricing"
	"github.com/taipm/llm-gateway/internal/providers"
)

// Plugin describes one registerable provider: its id, a constructor, and
// an optional ordered set of model-name matchers that force selection
// (spec.md §4.4 "selection_rules").
type Plugin struct {
	ID             string
	CreateInstance func() providers.AIProvider
	Matches        func(model string) bool
}

// Registry owns the plugin list, lazily instantiated and memoized
// providers.AIProvider instances, and the pricing catalog used for the
// cheapest-provider fallback.
type Registry struct {
	mu        sync.Mutex
	plugins   []Plugin // fixed registration order == selection priority order
	instances map[string]providers.AIProvider
	pricing   *pricing.Catalog
}

// New creates an empty Registry. Plugins are added via Register in the
// exact priority order spec.md §4.4 specifies (Anthropic, OpenAI,
// OpenRouter, xAI, Z.AI, Google) — callers should register in that order.
func New(p *pricing.Catalog) *Registry {
	return &Registry{instances: make(map[string]providers.AIProvider), pricing: p}
}

// Register adds a plugin. Called once at process wiring (cmd/gateway).
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = append(r.plugins, p)
}

// GetOrCreate lazily instantiates and memoizes the provider for id.
func (r *Registry) GetOrCreate(id string) (providers.AIProvider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[id]; ok {
		return inst, true
	}
	for _, p := range r.plugins {
		if p.ID == id {
			inst := p.CreateInstance()
			r.instances[id] = inst
			return inst, true
		}
	}
	return nil, false
}

// ListConfigured returns the ids of every registered provider whose
// instance reports IsConfigured() == true, instantiating each lazily.
func (r *Registry) ListConfigured() []string {
	r.mu.Lock()
	plugins := append([]Plugin(nil), r.plugins...)
	r.mu.Unlock()

	var out []string
	for _, p := range plugins {
		inst, _ := r.GetOrCreate(p.ID)
		if inst != nil && inst.IsConfigured() {
			out = append(out, p.ID)
		}
	}
	return out
}

// Select implements spec.md §4.4's selection algorithm: first a
// rule-matched configured provider (in registration order), else the
// cheapest configured provider whose pricing catalog contains the
// normalized model, tie-broken by registration order, else NoProvider.
func (r *Registry) Select(ctx context.Context, model string) (providers.AIProvider, string, error) {
	r.mu.Lock()
	plugins := append([]Plugin(nil), r.plugins...)
	r.mu.Unlock()

	for _, p := range plugins {
		if p.Matches == nil || !p.Matches(model) {
			continue
		}
		inst, _ := r.GetOrCreate(p.ID)
		if inst != nil && inst.IsConfigured() {
			return inst, p.ID, nil
		}
	}

	type candidate struct {
		id   string
		rate float64
		ord  int
	}
	var candidates []candidate
	for i, p := range plugins {
		inst, _ := r.GetOrCreate(p.ID)
		if inst == nil || !inst.IsConfigured() {
			continue
		}
		mp, err := r.pricing.GetModelPricing(ctx, p.ID, model)
		if err != nil || mp == nil {
			continue
		}
		candidates = append(candidates, candidate{id: p.ID, rate: mp.Input + mp.Output, ord: i})
	}
	if len(candidates) == 0 {
		return nil, "", gatewayerr.New(gatewayerr.NoProvider, "no configured provider can serve model "+model)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].rate != candidates[j].rate {
			return candidates[i].rate < candidates[j].rate
		}
		return candidates[i].ord < candidates[j].ord
	})
	inst, _ := r.GetOrCreate(candidates[0].id)
	return inst, candidates[0].id, nil
}

// DialectForModel implements spec.md §4.4's model→dialect routing for
// dispatch: "claude-*" routes through the Anthropic dialect, a model name
// containing "/" routes through the OpenRouter-style OpenAI-compatible
// dialect, otherwise OpenAI Chat Completions. The Responses dialect is
// selected by the inbound endpoint, not by model, so it is not returned
// here — httpapi picks it directly for the /v1/responses route.
func DialectForModel(model string) string {
	switch {
	case strings.HasPrefix(model, "claude-"):
		return "anthropic"
	case strings.Contains(model, "/"):
		return "openai"
	default:
		return "openai"
	}
}

// Matchers used when registering plugins (spec.md §4.4 fixed order:
// Anthropic, OpenAI, OpenRouter, xAI (grok*), Z.AI (glm-*), Google (gemini*)).

func MatchAnthropic(model string) bool { return strings.HasPrefix(model, "claude-") }

func MatchOpenAI(model string) bool {
	return strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "o1") ||
		strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "chatgpt-")
}

func MatchOpenRouter(model string) bool { return strings.Contains(model, "/") }

func MatchXAI(model string) bool { return strings.HasPrefix(model, "grok") }

func MatchZAI(model string) bool { return strings.HasPrefix(model, "glm-") }

func MatchGoogle(model string) bool { return strings.HasPrefix(model, "gemini") }
