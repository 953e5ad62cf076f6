package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taipm/llm-gateway/internal/gatewayerr"
)

func TestNewUnboundedWhenRateNonPositive(t *testing.T) {
	l := New("openai", 0, 5)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(ctx))
	}
}

func TestWaitBlocksUntilTokenAvailable(t *testing.T) {
	l := New("openai", 1, 1)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))

	start := time.Now()
	require.NoError(t, l.Wait(ctx))
	assert.True(t, time.Since(start) > 100*time.Millisecond)
}

func TestWaitReturnsRateLimitedOnContextCancellation(t *testing.T) {
	l := New("openai", 1, 1)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	require.Error(t, err)
	ge, ok := gatewayerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gatewayerr.RateLimited, ge.Kind)
}

func TestBurstBelowOneNormalizedToOne(t *testing.T) {
	l := New("openai", 5, 0)
	require.NoError(t, l.Wait(context.Background()))
}

func TestRegistryGetCreatesLazilyWithDefaults(t *testing.T) {
	reg := NewRegistry(Defaults{RatePerSecond: 2, Burst: 3})
	l1 := reg.Get("openai")
	l2 := reg.Get("openai")
	assert.Same(t, l1, l2)
}

func TestRegistryDefaultsAppliedWhenUnset(t *testing.T) {
	reg := NewRegistry(Defaults{})
	l := reg.Get("anthropic")
	require.NotNil(t, l)
	assert.Equal(t, "anthropic", l.provider)
}

func TestRegistryOverrideReplacesLimiter(t *testing.T) {
	reg := NewRegistry(Defaults{RatePerSecond: 10, Burst: 20})
	original := reg.Get("xai")

	reg.Override("xai", 1, 1)
	overridden := reg.Get("xai")

	assert.NotSame(t, original, overridden)
}
