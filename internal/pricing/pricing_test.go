package pricing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taipm/llm-gateway/internal/cache"
	"github.com/taipm/llm-gateway/internal/logging"
)

const openaiYAML = `
provider: openai
currency: USD
unit: per_million_tokens
models:
  gpt-4o:
    input: 2.5
    output: 10.0
`

const anthropicYAML = `
provider: anthropic
currency: USD
unit: per_million_tokens
models:
  claude-3-5-sonnet-20241022:
    input: 3.0
    output: 15.0
    5m_cache_write: 3.75
    cache_read: 0.3
`

const openrouterYAML = `
provider: openrouter
currency: USD
unit: per_million_tokens
models:
  openrouter/claude-3-5-sonnet:
    input: 3.0
    output: 15.0
`

func writeFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "openai.yaml"), []byte(openaiYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "anthropic.yaml"), []byte(anthropicYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "openrouter.yaml"), []byte(openrouterYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "not-yaml.txt"), []byte("ignore me"), 0o644))
	return dir
}

func TestLoadAllSkipsNonYAML(t *testing.T) {
	dir := writeFixtures(t)
	c := New(dir, cache.NewMemory(), logging.Noop{})

	all, err := c.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Contains(t, all, "openai")
	assert.Contains(t, all, "anthropic")
}

func TestLoadAllSkipsMalformedProviderOnly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "openai.yaml"), []byte(openaiYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("not: [valid yaml"), 0o644))

	c := New(dir, cache.NewMemory(), logging.Noop{})
	all, err := c.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Contains(t, all, "openai")
}

func TestAnthropicCacheWriteAliasNormalized(t *testing.T) {
	dir := writeFixtures(t)
	c := New(dir, cache.NewMemory(), logging.Noop{})

	p, err := c.GetModelPricing(context.Background(), "anthropic", "claude-3-5-sonnet-20241022")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 3.75, p.CacheWrite)
	assert.Equal(t, 0.3, p.CacheRead)
}

func TestGetModelPricingUnknownProvider(t *testing.T) {
	dir := writeFixtures(t)
	c := New(dir, cache.NewMemory(), logging.Noop{})

	p, err := c.GetModelPricing(context.Background(), "does-not-exist", "gpt-4o")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestGetModelPricingPrefixedLookup(t *testing.T) {
	dir := writeFixtures(t)
	c := New(dir, cache.NewMemory(), logging.Noop{})

	// catalog stores the entry with the provider prefix; lookup by the bare
	// name should still resolve it via the prefixed fallback.
	p, err := c.GetModelPricing(context.Background(), "openrouter", "claude-3-5-sonnet")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 3.0, p.Input)
}

func TestCalculateCost(t *testing.T) {
	dir := writeFixtures(t)
	c := New(dir, cache.NewMemory(), logging.Noop{})

	cost, err := c.CalculateCost(context.Background(), "openai", "gpt-4o", 1_000_000, 500_000, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, cost)
	assert.Equal(t, 2.5, cost.InputCost)
	assert.Equal(t, 5.0, cost.OutputCost)
	assert.Equal(t, 7.5, cost.TotalCost)
	assert.Equal(t, "USD", cost.Currency)
}

func TestCalculateCostUnknownModelReturnsNilNoError(t *testing.T) {
	dir := writeFixtures(t)
	c := New(dir, cache.NewMemory(), logging.Noop{})

	cost, err := c.CalculateCost(context.Background(), "openai", "gpt-unknown", 100, 100, 0, 0)
	require.NoError(t, err)
	assert.Nil(t, cost)
}

func TestSearchCaseInsensitive(t *testing.T) {
	dir := writeFixtures(t)
	c := New(dir, cache.NewMemory(), logging.Noop{})

	results, err := c.Search(context.Background(), "SONNET")
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}
