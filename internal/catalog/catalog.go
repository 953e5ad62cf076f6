// Package catalog implements the Model Catalog (C2): enumerates models per
// provider per endpoint dialect from static JSON files, attaching live
// pricing and supporting filtered/paginated reads.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/taipm/llm-gateway/internal/cache"
	"github.com/taipm/llm-gateway/internal/pricing"
)

const reloadTTL = 5 * time.Minute

// Endpoint is the dialect a catalog entry was enumerated for.
type Endpoint string

const (
	EndpointChatCompletions Endpoint = "chat_completions"
	EndpointMessages        Endpoint = "messages"
	EndpointResponses       Endpoint = "responses"
)

// fileShape mirrors the on-disk {providers:[{provider,models[]}]} shape.
type fileShape struct {
	Providers []struct {
		Provider string   `json:"provider"`
		Models   []string `json:"models"`
	} `json:"providers"`
}

// Entry is one {id, provider, endpoint, pricing?, source} catalog row.
type Entry struct {
	ID       string                `json:"id"`
	Provider string                `json:"provider"`
	Endpoint Endpoint              `json:"endpoint"`
	Pricing  *pricing.ModelPricing `json:"pricing,omitempty"`
	Source   string                `json:"source"`
}

// Filter scopes a catalog read.
type Filter struct {
	Provider string
	Endpoint Endpoint
	Search   string
	Limit    int
	Offset   int
}

// Page is a catalog read's {total, items} result.
type Page struct {
	Total int     `json:"total"`
	Items []Entry `json:"items"`
}

// aggregatorProvider is the recognized live-pricing aggregator: its models
// come from the pricing map instead of the static file (spec.md §4.3).
const aggregatorProvider = "openrouter"

// Catalog loads the three per-endpoint JSON files and serves filtered,
// paginated reads.
type Catalog struct {
	dir     string
	pricing *pricing.Catalog
	cache   cache.TTLCache

	mu      sync.RWMutex
	entries []Entry
}

const cacheKey = "catalog:all"

// New creates a Catalog reading from dir/{chat_completions,messages,responses}.json.
func New(dir string, p *pricing.Catalog, c cache.TTLCache) *Catalog {
	return &Catalog{dir: dir, pricing: p, cache: c}
}

var endpointFiles = map[Endpoint]string{
	EndpointChatCompletions: "chat_completions.json",
	EndpointMessages:        "messages.json",
	EndpointResponses:       "responses.json",
}

// loadAll (re)reads every endpoint file, attaching pricing, when the TTL
// has lapsed.
func (c *Catalog) loadAll(ctx context.Context) ([]Entry, error) {
	if val, ok, _ := c.cache.Get(ctx, cacheKey); ok {
		var cached []Entry
		if err := json.Unmarshal(val, &cached); err == nil {
			return cached, nil
		}
	}

	var all []Entry
	for endpoint, filename := range endpointFiles {
		path := filepath.Join(c.dir, filename)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read catalog file %s: %w", path, err)
		}
		var shape fileShape
		if err := json.Unmarshal(data, &shape); err != nil {
			return nil, fmt.Errorf("parse catalog file %s: %w", path, err)
		}

		for _, p := range shape.Providers {
			modelNames := p.Models
			if p.Provider == aggregatorProvider {
				modelNames = nil
				if priced, err := c.pricing.LoadAll(ctx); err == nil {
					if cfg, ok := priced[aggregatorProvider]; ok {
						for name := range cfg.Models {
							modelNames = append(modelNames, name)
						}
					}
				}
			}
			for _, name := range modelNames {
				entry := Entry{ID: name, Provider: p.Provider, Endpoint: endpoint, Source: filename}
				if mp, err := c.pricing.GetModelPricing(ctx, p.Provider, name); err == nil && mp != nil {
					entry.Pricing = mp
				}
				all = append(all, entry)
			}
		}
	}

	c.mu.Lock()
	c.entries = all
	c.mu.Unlock()

	if data, err := json.Marshal(all); err == nil {
		_ = c.cache.Set(ctx, cacheKey, data, reloadTTL)
	}

	out := make([]Entry, len(all))
	copy(out, all)
	return out, nil
}

// List applies a Filter and returns a paginated Page. Limit is capped at
// 500 (spec.md §4.3); zero Limit defaults to 100.
func (c *Catalog) List(ctx context.Context, f Filter) (Page, error) {
	all, err := c.loadAll(ctx)
	if err != nil {
		return Page{}, err
	}

	var filtered []Entry
	search := strings.ToLower(f.Search)
	for _, e := range all {
		if f.Provider != "" && e.Provider != f.Provider {
			continue
		}
		if f.Endpoint != "" && e.Endpoint != f.Endpoint {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(e.ID), search) {
			continue
		}
		filtered = append(filtered, e)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	total := len(filtered)
	if offset >= total {
		return Page{Total: total, Items: []Entry{}}, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return Page{Total: total, Items: filtered[offset:end]}, nil
}
