// Package config loads the gateway's environment-driven configuration
// (spec.md §6), with an optional local .env file via github.com/joho/godotenv
// for development convenience.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the fully resolved process configuration.
type Config struct {
	Port            string
	ProviderAPIKeys map[string]string // provider id -> API key, from <PROVIDER>_API_KEY
	PricingDir      string
	ModelCatalogDir string
	DBPath          string
	AuthEnabled     bool
	TimeoutMS       int
	LogLevel        string
	RedisAddr       string
	TrustRootURL    string // base URL of the external authorization collaborator (§4.6)
	TrustRootAPIKey string // bearer token the gateway authenticates to the trust root with
	TrustRootPrivKey string // base64 curve25519 private key decrypting trust root envelopes
}

// providerEnvKeys maps each provider id to the environment variable that
// carries its API key (spec.md §4.5's fixed provider set).
var providerEnvKeys = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"google":     "GOOGLE_API_KEY",
	"xai":        "XAI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"zai":        "ZAI_API_KEY",
	"ollama":     "OLLAMA_API_KEY",
	"generic":    "OPENAI_COMPATIBLE_API_KEY",
}

// Load reads process environment variables into a Config, first attempting
// to populate the environment from a local .env file if one exists (missing
// .env is not an error, a convenience for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getenvDefault("PORT", "8080"),
		ProviderAPIKeys: map[string]string{},
		PricingDir:      getenvDefault("PRICING_DIR", "./pricing"),
		ModelCatalogDir: getenvDefault("MODEL_CATALOG_DIR", "./catalog"),
		DBPath:          getenvDefault("DB_PATH", "./gateway.db"),
		LogLevel:        getenvDefault("LOG_LEVEL", "info"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		TimeoutMS:       30000,
		TrustRootURL:     os.Getenv("TRUST_ROOT_URL"),
		TrustRootAPIKey:  os.Getenv("TRUST_ROOT_API_KEY"),
		TrustRootPrivKey: os.Getenv("TRUST_ROOT_PRIVATE_KEY"),
	}

	for provider, envVar := range providerEnvKeys {
		if key := os.Getenv(envVar); key != "" {
			cfg.ProviderAPIKeys[provider] = key
		}
	}

	if v := os.Getenv("AUTH_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid AUTH_ENABLED %q: %w", v, err)
		}
		cfg.AuthEnabled = enabled
	}

	if v := os.Getenv("TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TIMEOUT_MS %q: %w", v, err)
		}
		cfg.TimeoutMS = ms
	}

	return cfg, nil
}

// OpenAICompatibleBaseURL returns the operator-supplied base URL for the
// "generic" provider, required when that provider is exercised.
func (c *Config) OpenAICompatibleBaseURL() string {
	return os.Getenv("OPENAI_COMPATIBLE_BASE_URL")
}

// IsConfigured reports whether a provider key was found (AUTH_ENABLED
// bypasses this: when enabled, keys arrive per-request from the trust
// root instead — spec.md §6 "unless §4.6 is enabled").
func (c *Config) IsConfigured(provider string) bool {
	if c.AuthEnabled {
		return true
	}
	_, ok := c.ProviderAPIKeys[provider]
	return ok
}

func getenvDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
