// Command gateway runs the multi-provider LLM API gateway: it wires every
// component (pricing, catalog, adapters, providers, router, usage, budget,
// optional authorization) and serves the HTTP routes spec.md §6 names.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taipm/llm-gateway/internal/adapters"
	"github.com/taipm/llm-gateway/internal/authz"
	"github.com/taipm/llm-gateway/internal/budget"
	"github.com/taipm/llm-gateway/internal/cache"
	"github.com/taipm/llm-gateway/internal/catalog"
	"github.com/taipm/llm-gateway/internal/config"
	"github.com/taipm/llm-gateway/internal/httpapi"
	"github.com/taipm/llm-gateway/internal/logging"
	"github.com/taipm/llm-gateway/internal/pricing"
	"github.com/taipm/llm-gateway/internal/providers"
	"github.com/taipm/llm-gateway/internal/ratelimit"
	"github.com/taipm/llm-gateway/internal/router"
	"github.com/taipm/llm-gateway/internal/usage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.NewStd(logging.ParseLevel(cfg.LogLevel))
	ctx := context.Background()

	var ttlCache cache.TTLCache
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedis(cache.RedisOptions{Addr: cfg.RedisAddr})
		if err != nil {
			logger.Warn(ctx, "redis cache unavailable, falling back to in-memory", logging.F("err", err))
			ttlCache = cache.NewMemory()
		} else {
			ttlCache = rc
		}
	} else {
		ttlCache = cache.NewMemory()
	}

	pricingCatalog := pricing.New(cfg.PricingDir, ttlCache, logger)
	modelCatalog := catalog.New(cfg.ModelCatalogDir, pricingCatalog, ttlCache)
	adapterRegistry := adapters.NewDefaultRegistry()
	limiters := ratelimit.NewRegistry(ratelimit.Defaults{})

	usageStore, err := usage.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open usage store: %v", err)
	}
	defer usageStore.Close()

	budgetStore, err := budget.Open(budgetDBPath(cfg.DBPath), usageStore)
	if err != nil {
		log.Fatalf("open budget store: %v", err)
	}
	defer budgetStore.Close()

	providerRegistry := router.New(pricingCatalog)
	registerProviders(providerRegistry, cfg, adapterRegistry, limiters, logger)

	var resolver *authz.Resolver
	if cfg.AuthEnabled {
		resolver, err = buildAuthzResolver(cfg)
		if err != nil {
			log.Fatalf("configure authorization adapter: %v", err)
		}
	}

	srv := &httpapi.Server{
		Adapters: adapterRegistry,
		Router:   providerRegistry,
		Pricing:  pricingCatalog,
		Catalog:  modelCatalog,
		Usage:    usageStore,
		Budget:   budgetStore,
		Authz:    resolver,
		Logger:   logger,
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Mux(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses are unbounded (spec.md §5)
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info(ctx, "gateway listening", logging.F("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "graceful shutdown failed", logging.F("err", err))
	}
}

// registerProviders wires the fixed provider plugin order spec.md §4.4
// specifies (Anthropic, OpenAI, OpenRouter, xAI, Z.AI, Google) plus the
// two unordered self-hosted/pass-through clients.
func registerProviders(reg *router.Registry, cfg *config.Config, adapterRegistry *adapters.Registry, limiters *ratelimit.Registry, logger logging.Logger) {
	keySource := providers.EnvKeySource{Keys: cfg.ProviderAPIKeys}

	openaiAdapter, _ := adapterRegistry.Get(adapters.FormatOpenAI)
	anthropicAdapter, _ := adapterRegistry.Get(adapters.FormatAnthropic)

	providerCfg := func(provider string, adapter adapters.FormatAdapter) providers.Config {
		key, _ := keySource.APIKey(context.Background(), provider)
		return providers.Config{
			APIKey:      key,
			Timeout:     time.Duration(cfg.TimeoutMS) * time.Millisecond,
			Limiter:     limiters.Get(provider),
			Logger:      logger,
			Adapter:     adapter,
			AuthEnabled: cfg.AuthEnabled,
		}
	}

	reg.Register(router.Plugin{
		ID:      "anthropic",
		Matches: router.MatchAnthropic,
		CreateInstance: func() providers.AIProvider {
			return providers.NewAnthropic("", providerCfg("anthropic", anthropicAdapter))
		},
	})
	reg.Register(router.Plugin{
		ID:      "openai",
		Matches: router.MatchOpenAI,
		CreateInstance: func() providers.AIProvider {
			return providers.NewOpenAI(providerCfg("openai", openaiAdapter))
		},
	})
	reg.Register(router.Plugin{
		ID:      "openrouter",
		Matches: router.MatchOpenRouter,
		CreateInstance: func() providers.AIProvider {
			return providers.NewOpenRouter(providerCfg("openrouter", openaiAdapter))
		},
	})
	reg.Register(router.Plugin{
		ID:      "xai",
		Matches: router.MatchXAI,
		CreateInstance: func() providers.AIProvider {
			return providers.NewXAI(providerCfg("xai", openaiAdapter))
		},
	})
	reg.Register(router.Plugin{
		ID:      "zai",
		Matches: router.MatchZAI,
		CreateInstance: func() providers.AIProvider {
			return providers.NewZAI(providerCfg("zai", openaiAdapter))
		},
	})
	reg.Register(router.Plugin{
		ID:      "google",
		Matches: router.MatchGoogle,
		CreateInstance: func() providers.AIProvider {
			return providers.NewGoogle("", providerCfg("google", nil))
		},
	})

	// Ollama and the operator-supplied generic endpoint have no model-name
	// match rule; they're only reachable via the cheapest-pricing fallback
	// (spec.md §4.4), which requires a pricing entry under their provider id.
	reg.Register(router.Plugin{
		ID: "ollama",
		CreateInstance: func() providers.AIProvider {
			return providers.NewOllama(providerCfg("ollama", openaiAdapter))
		},
	})
	reg.Register(router.Plugin{
		ID: "generic",
		CreateInstance: func() providers.AIProvider {
			c := providerCfg("generic", openaiAdapter)
			c.BaseURL = cfg.OpenAICompatibleBaseURL()
			return providers.NewGeneric(c)
		},
	})
}

func budgetDBPath(usageDBPath string) string {
	return usageDBPath + ".budget"
}

// buildAuthzResolver wires the trust-root client and the process-local
// decrypt key when AUTH_ENABLED is set. TRUST_ROOT_URL and
// TRUST_ROOT_PRIVATE_KEY are both required in that case; there is no
// fallback to env-sourced keys once the authorization adapter is on
// (spec.md §4.6 is fail-closed end to end).
func buildAuthzResolver(cfg *config.Config) (*authz.Resolver, error) {
	if cfg.TrustRootURL == "" {
		return nil, errors.New("AUTH_ENABLED requires TRUST_ROOT_URL")
	}
	if cfg.TrustRootPrivKey == "" {
		return nil, errors.New("AUTH_ENABLED requires TRUST_ROOT_PRIVATE_KEY")
	}
	keyBytes, err := base64.StdEncoding.DecodeString(cfg.TrustRootPrivKey)
	if err != nil {
		return nil, errors.New("TRUST_ROOT_PRIVATE_KEY is not valid base64")
	}
	if len(keyBytes) != 32 {
		return nil, errors.New("TRUST_ROOT_PRIVATE_KEY must decode to 32 bytes")
	}
	var priv [32]byte
	copy(priv[:], keyBytes)

	root := authz.NewHTTPTrustRoot(cfg.TrustRootURL, cfg.TrustRootAPIKey, time.Duration(cfg.TimeoutMS)*time.Millisecond)
	ring := authz.NewKeyRing(&priv)
	return authz.NewResolver(root, ring), nil
}
