// Package ratelimit implements the outbound throttle (A4): a per-provider
// token-bucket limiter bounding concurrent/sustained upstream call rate.
// This is purely an operational safeguard, never a retry mechanism — a
// wait cut short by the caller's context surfaces as RateLimited, the same
// kind an upstream 429 maps to (spec.md §4.5, §5 "there are none" retries).
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/taipm/llm-gateway/internal/gatewayerr"
)

// Limiter wraps golang.org/x/time/rate.Limiter for one provider.
type Limiter struct {
	provider string
	inner    *rate.Limiter
}

// New creates a Limiter allowing ratePerSecond sustained calls with the
// given burst. ratePerSecond <= 0 disables limiting (unbounded).
func New(provider string, ratePerSecond float64, burst int) *Limiter {
	if ratePerSecond <= 0 {
		return &Limiter{provider: provider, inner: rate.NewLimiter(rate.Inf, burst)}
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{provider: provider, inner: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Wait blocks until a token is available or ctx is done. A context
// cancellation or deadline exceeded surfaces as RateLimited, matching the
// error shape an upstream 429 would produce.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.inner.Wait(ctx); err != nil {
		return gatewayerr.Wrap(gatewayerr.RateLimited, fmt.Sprintf("rate limit wait for provider %q", l.provider), err)
	}
	return nil
}

// Registry holds one Limiter per provider, created lazily on first use.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	defaults Defaults
}

// Defaults is the fallback rate/burst applied to a provider with no
// explicit override.
type Defaults struct {
	RatePerSecond float64
	Burst         int
}

// NewRegistry creates a Registry using def for any provider without an
// override.
func NewRegistry(def Defaults) *Registry {
	if def.RatePerSecond <= 0 {
		def.RatePerSecond = 10
	}
	if def.Burst <= 0 {
		def.Burst = 20
	}
	return &Registry{limiters: make(map[string]*Limiter), defaults: def}
}

// Get returns the Limiter for provider, creating it with the registry's
// defaults on first access.
func (r *Registry) Get(provider string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[provider]; ok {
		return l
	}
	l := New(provider, r.defaults.RatePerSecond, r.defaults.Burst)
	r.limiters[provider] = l
	return l
}

// Override replaces or pre-creates a provider's limiter with specific
// rate/burst values, used when per-provider tuning is configured.
func (r *Registry) Override(provider string, ratePerSecond float64, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[provider] = New(provider, ratePerSecond, burst)
}
