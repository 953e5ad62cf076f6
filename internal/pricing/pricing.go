// Package pricing implements the Pricing Catalog (C1): per-provider YAML
// pricing tables loaded from disk, model-name normalization, and cost
// calculation from token counts.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taipm/llm-gateway/internal/cache"
	"github.com/taipm/llm-gateway/internal/logging"
)

const reloadTTL = 5 * time.Minute

// ModelPricing is one model's {input, output, cache_write?, cache_read?}
// entry, expressed in USD per million tokens.
type ModelPricing struct {
	Input       float64 `yaml:"input"`
	Output      float64 `yaml:"output"`
	CacheWrite  float64 `yaml:"cache_write,omitempty"`
	CacheRead   float64 `yaml:"cache_read,omitempty"`

	// Anthropic-specific aliases, normalized into CacheWrite at load time
	// (preferring the 5-minute write rate per spec.md §4.2). cache_read
	// is already the generic CacheRead field's own YAML key.
	CacheWrite5m float64 `yaml:"5m_cache_write,omitempty"`
	CacheWrite1h float64 `yaml:"1h_cache_write,omitempty"`
}

// FileMetadata is the pricing file's free-form metadata block.
type FileMetadata struct {
	LastUpdated string `yaml:"last_updated,omitempty"`
	Source      string `yaml:"source,omitempty"`
	Version     string `yaml:"version,omitempty"`
}

// Config is one provider's loaded pricing file.
type Config struct {
	Provider string                  `yaml:"provider"`
	Currency string                  `yaml:"currency"`
	Unit     string                  `yaml:"unit"`
	Models   map[string]ModelPricing `yaml:"models"`
	Metadata FileMetadata            `yaml:"metadata"`
}

// Cost is the result of a cost calculation, bucketed per token class.
type Cost struct {
	InputCost      float64 `json:"input_cost"`
	CacheWriteCost float64 `json:"cache_write_cost"`
	CacheReadCost  float64 `json:"cache_read_cost"`
	OutputCost     float64 `json:"output_cost"`
	TotalCost      float64 `json:"total_cost"`
	Currency       string  `json:"currency"`
	Unit           string  `json:"unit"`
}

// Catalog loads and serves pricing data for every provider, backed by a
// shared TTL cache (internal/cache) rather than a bespoke timer.
type Catalog struct {
	dir    string
	cache  cache.TTLCache
	logger logging.Logger

	mu      sync.RWMutex
	configs map[string]Config // last successfully loaded snapshot
}

const cacheKey = "pricing:all"

// New creates a Catalog that loads "*.yaml" files from dir.
func New(dir string, c cache.TTLCache, logger logging.Logger) *Catalog {
	if logger == nil {
		logger = logging.Noop{}
	}
	return &Catalog{dir: dir, cache: c, logger: logger, configs: map[string]Config{}}
}

// LoadAll returns the pricing configuration for every provider, reloading
// from disk when the 5-minute TTL has lapsed. A malformed provider file
// logs a warning and yields an empty entry for that provider only; other
// providers still load (spec.md §4.2).
func (c *Catalog) LoadAll(ctx context.Context) (map[string]Config, error) {
	if val, ok, _ := c.cache.Get(ctx, cacheKey); ok {
		var cached map[string]Config
		if err := json.Unmarshal(val, &cached); err == nil {
			return cached, nil
		}
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read pricing dir %s: %w", c.dir, err)
	}

	loaded := map[string]Config{}
	for _, entry := range entries {
		if entry.IsDir() || !(strings.HasSuffix(entry.Name(), ".yaml") || strings.HasSuffix(entry.Name(), ".yml")) {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			c.logger.Warn(ctx, "pricing: failed to read file", logging.F("path", path), logging.F("err", err))
			continue
		}
		var cfg Config
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			c.logger.Warn(ctx, "pricing: malformed yaml, skipping provider", logging.F("path", path), logging.F("err", err))
			continue
		}
		normalizeAnthropicAliases(cfg.Models)
		loaded[cfg.Provider] = cfg
	}

	c.mu.Lock()
	c.configs = loaded
	c.mu.Unlock()

	// The loaded configuration itself is the cached value, so every process
	// sharing the cache serves the same snapshot until the TTL lapses.
	if data, err := json.Marshal(loaded); err == nil {
		_ = c.cache.Set(ctx, cacheKey, data, reloadTTL)
	}

	return cloneConfigs(loaded), nil
}

func normalizeAnthropicAliases(models map[string]ModelPricing) {
	for name, m := range models {
		if m.CacheWrite == 0 {
			if m.CacheWrite5m != 0 {
				m.CacheWrite = m.CacheWrite5m
			} else if m.CacheWrite1h != 0 {
				m.CacheWrite = m.CacheWrite1h
			}
		}
		models[name] = m
	}
}

func cloneConfigs(in map[string]Config) map[string]Config {
	out := make(map[string]Config, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// normalizeModelName strips a "provider/" prefix so that
// "anthropic/claude-3-5-sonnet-20241022" and "claude-3-5-sonnet-20241022"
// resolve to the same pricing entry. Suffixes, such as date-stamped
// snapshot ids, are not stripped.
func normalizeModelName(model string) string {
	if idx := strings.Index(model, "/"); idx >= 0 {
		model = model[idx+1:]
	}
	return model
}

// GetModelPricing resolves pricing for (provider, model), normalizing the
// model name and consulting both the prefixed and unprefixed forms on a
// miss per spec.md §9(b) (aggregator catalogs key entries with the
// provider prefix).
func (c *Catalog) GetModelPricing(ctx context.Context, provider, model string) (*ModelPricing, error) {
	all, err := c.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	cfg, ok := all[provider]
	if !ok {
		return nil, nil
	}

	if p, ok := cfg.Models[model]; ok {
		return &p, nil
	}
	normalized := normalizeModelName(model)
	if p, ok := cfg.Models[normalized]; ok {
		return &p, nil
	}
	// Consult the prefixed form too, in case the catalog stores entries
	// with the provider prefix (aggregator catalogs).
	prefixed := provider + "/" + normalized
	if p, ok := cfg.Models[prefixed]; ok {
		return &p, nil
	}
	return nil, nil
}

// CalculateCost computes the bucketed cost for the given token counts.
// Each bucket is tokens/1_000_000 × rate; bucket costs are rounded to 6
// decimal places only after summing into TotalCost (spec.md §3 invariant).
// Returns nil (no error) when pricing for (provider, model) is unknown —
// callers record zero-cost usage with a warning in that case (spec.md
// §4.2, §7).
func (c *Catalog) CalculateCost(ctx context.Context, provider, model string, input, output, cacheWrite, cacheRead int) (*Cost, error) {
	p, err := c.GetModelPricing(ctx, provider, model)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}

	all, err := c.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	cfg := all[provider]

	inputCost := bucketCost(input, p.Input)
	outputCost := bucketCost(output, p.Output)
	cacheWriteCost := bucketCost(cacheWrite, p.CacheWrite)
	cacheReadCost := bucketCost(cacheRead, p.CacheRead)

	total := round6(inputCost + outputCost + cacheWriteCost + cacheReadCost)

	return &Cost{
		InputCost:      round6(inputCost),
		CacheWriteCost: round6(cacheWriteCost),
		CacheReadCost:  round6(cacheReadCost),
		OutputCost:     round6(outputCost),
		TotalCost:      total,
		Currency:       cfg.Currency,
		Unit:           cfg.Unit,
	}, nil
}

func bucketCost(tokens int, ratePerMillion float64) float64 {
	return float64(tokens) / 1_000_000 * ratePerMillion
}

func round6(v float64) float64 {
	return math.Round(v*1_000_000) / 1_000_000
}

// Search performs a case-insensitive substring match over every loaded
// provider's model names.
func (c *Catalog) Search(ctx context.Context, query string) ([]string, error) {
	all, err := c.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []string
	for _, cfg := range all {
		for name := range cfg.Models {
			if strings.Contains(strings.ToLower(name), q) {
				out = append(out, name)
			}
		}
	}
	return out, nil
}
