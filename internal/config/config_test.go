package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv resets every env var Load touches so tests don't bleed into
// each other or pick up the host's real environment.
func clearEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"PORT", "PRICING_DIR", "MODEL_CATALOG_DIR", "DB_PATH", "LOG_LEVEL",
		"REDIS_ADDR", "AUTH_ENABLED", "TIMEOUT_MS",
		"TRUST_ROOT_URL", "TRUST_ROOT_API_KEY", "TRUST_ROOT_PRIVATE_KEY",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GOOGLE_API_KEY", "XAI_API_KEY",
		"OPENROUTER_API_KEY", "ZAI_API_KEY", "OLLAMA_API_KEY",
		"OPENAI_COMPATIBLE_API_KEY", "OPENAI_COMPATIBLE_BASE_URL",
	}
	for _, v := range vars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "./pricing", cfg.PricingDir)
	assert.Equal(t, "./catalog", cfg.ModelCatalogDir)
	assert.Equal(t, "./gateway.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30000, cfg.TimeoutMS)
	assert.False(t, cfg.AuthEnabled)
	assert.Empty(t, cfg.ProviderAPIKeys)
}

func TestLoadReadsProviderAPIKeys(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("ANTHROPIC_API_KEY", "sk-anthropic")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-openai", cfg.ProviderAPIKeys["openai"])
	assert.Equal(t, "sk-anthropic", cfg.ProviderAPIKeys["anthropic"])
	_, ok := cfg.ProviderAPIKeys["google"]
	assert.False(t, ok)
}

func TestLoadInvalidAuthEnabledReturnsError(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_ENABLED", "not-a-bool")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_ENABLED")
}

func TestLoadInvalidTimeoutMSReturnsError(t *testing.T) {
	clearEnv(t)
	t.Setenv("TIMEOUT_MS", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TIMEOUT_MS")
}

func TestLoadParsesAuthEnabledAndTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("TIMEOUT_MS", "5000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.AuthEnabled)
	assert.Equal(t, 5000, cfg.TimeoutMS)
}

func TestLoadReadsTrustRootFields(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRUST_ROOT_URL", "https://trust.example.com")
	t.Setenv("TRUST_ROOT_API_KEY", "trust-key")
	t.Setenv("TRUST_ROOT_PRIVATE_KEY", "base64priv")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://trust.example.com", cfg.TrustRootURL)
	assert.Equal(t, "trust-key", cfg.TrustRootAPIKey)
	assert.Equal(t, "base64priv", cfg.TrustRootPrivKey)
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("PORT=9090\n"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
}

func TestIsConfiguredChecksProviderKey(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	cfg.ProviderAPIKeys["openai"] = "sk-test"

	assert.True(t, cfg.IsConfigured("openai"))
	assert.False(t, cfg.IsConfigured("anthropic"))
}

func TestIsConfiguredAuthEnabledBypassesKeyCheck(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	cfg.AuthEnabled = true

	assert.True(t, cfg.IsConfigured("anthropic"))
}

func TestOpenAICompatibleBaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_COMPATIBLE_BASE_URL", "http://localhost:11434/v1")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434/v1", cfg.OpenAICompatibleBaseURL())
}
