package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taipm/llm-gateway/internal/adapters"
	"github.com/taipm/llm-gateway/internal/gatewayerr"
	"github.com/taipm/llm-gateway/internal/ratelimit"
	"github.com/taipm/llm-gateway/internal/schema"
)

func testRequest() *schema.Request {
	return &schema.Request{
		Model: "claude-3-5-sonnet-20241022",
		Messages: []schema.Message{
			{Role: schema.RoleUser, IsStringContent: true, StringContent: "hi"},
		},
	}
}

func TestResolveKeyPrefersContextOverride(t *testing.T) {
	b := newBase("openai", "https://api.openai.com/v1", "static-key", time.Second, ratelimit.New("openai", 0, 1), nil)

	key, ok := b.resolveKey(context.Background())
	require.True(t, ok)
	assert.Equal(t, "static-key", key)

	ctx := WithAPIKeyOverride(context.Background(), "override-key")
	key, ok = b.resolveKey(ctx)
	require.True(t, ok)
	assert.Equal(t, "override-key", key)
}

func TestResolveKeyNoKeyConfigured(t *testing.T) {
	b := newBase("openai", "https://api.openai.com/v1", "", time.Second, ratelimit.New("openai", 0, 1), nil)
	_, ok := b.resolveKey(context.Background())
	assert.False(t, ok)
}

func TestIsConfiguredAuthEnabledBypassesStaticKey(t *testing.T) {
	b := newBaseAuth("anthropic", "https://api.anthropic.com/v1", "", true, time.Second, ratelimit.New("anthropic", 0, 1), nil)
	assert.True(t, b.IsConfigured())
}

func TestAnthropicChatCompletionSendsHeadersAndTranslates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))
		assert.Equal(t, "/messages", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-3-5-sonnet-20241022", body["model"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-3-5-sonnet-20241022",
			"content":     []map[string]any{{"type": "text", "text": "hello there"}},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 5, "output_tokens": 3},
		})
	}))
	defer srv.Close()

	c := NewAnthropic(srv.URL, Config{
		APIKey:  "sk-ant-test",
		Timeout: 2 * time.Second,
		Limiter: ratelimit.New("anthropic", 0, 1),
		Adapter: adapters.NewAnthropicAdapter(),
	})

	resp, err := c.ChatCompletion(context.Background(), testRequest())
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello there", resp.Choices[0].Message.StringContent)
	assert.Equal(t, schema.FinishStop, resp.Choices[0].FinishReason)
}

func TestAnthropicMissingKeyReturnsAuthMissing(t *testing.T) {
	c := NewAnthropic("https://api.anthropic.com/v1", Config{
		Timeout: time.Second,
		Limiter: ratelimit.New("anthropic", 0, 1),
		Adapter: adapters.NewAnthropicAdapter(),
	})

	_, err := c.ChatCompletion(context.Background(), testRequest())
	require.Error(t, err)
	ge, ok := gatewayerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gatewayerr.AuthMissing, ge.Kind)
}

func TestOpenAICompatibleSendsBearerAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "c1", "model": "gpt-4o", "object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "hi"},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 4, "completion_tokens": 2, "total_tokens": 6},
		})
	}))
	defer srv.Close()

	c := NewOpenAICompatible("openai", srv.URL, Config{
		APIKey:  "sk-test",
		Timeout: 2 * time.Second,
		Limiter: ratelimit.New("openai", 0, 1),
		Adapter: adapters.NewOpenAIAdapter(),
	}, false, nil)

	resp, err := c.ChatCompletion(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Choices[0].Message.StringContent)
}

func TestOpenAICompatibleKeyOptionalAllowsNoKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "c1", "model": "llama3", "object": "chat.completion",
			"choices": []map[string]any{{
				"index": 0, "message": map[string]any{"role": "assistant", "content": "ok"}, "finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()

	c := NewOpenAICompatible("ollama", srv.URL, Config{
		Timeout: 2 * time.Second,
		Limiter: ratelimit.New("ollama", 0, 1),
		Adapter: adapters.NewOpenAIAdapter(),
	}, true, nil)

	assert.True(t, c.IsConfigured())
	_, err := c.ChatCompletion(context.Background(), testRequest())
	require.NoError(t, err)
}

func TestOpenAICompatibleMissingKeyReturnsAuthMissing(t *testing.T) {
	c := NewOpenAICompatible("openrouter", "https://openrouter.ai/api/v1", Config{
		Timeout: time.Second,
		Limiter: ratelimit.New("openrouter", 0, 1),
		Adapter: adapters.NewOpenAIAdapter(),
	}, false, nil)

	_, err := c.ChatCompletion(context.Background(), testRequest())
	require.Error(t, err)
	ge, ok := gatewayerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gatewayerr.AuthMissing, ge.Kind)
}

func TestOpenAICompatibleExtraHeadersApplied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "llm-gateway", r.Header.Get("HTTP-Referer"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "c1", "model": "x", "object": "chat.completion",
			"choices": []map[string]any{{
				"index": 0, "message": map[string]any{"role": "assistant", "content": "ok"}, "finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()

	c := NewOpenAICompatible("openrouter", srv.URL, Config{
		APIKey:  "sk-or",
		Timeout: time.Second,
		Limiter: ratelimit.New("openrouter", 0, 1),
		Adapter: adapters.NewOpenAIAdapter(),
	}, false, map[string]string{"HTTP-Referer": "llm-gateway"})

	_, err := c.ChatCompletion(context.Background(), testRequest())
	require.NoError(t, err)
}

func TestDoJSONMapsNon2xxToProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	c := NewOpenAICompatible("openai", srv.URL, Config{
		APIKey:  "sk-test",
		Timeout: time.Second,
		Limiter: ratelimit.New("openai", 0, 1),
		Adapter: adapters.NewOpenAIAdapter(),
	}, false, nil)

	_, err := c.ChatCompletion(context.Background(), testRequest())
	require.Error(t, err)
	ge, ok := gatewayerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gatewayerr.ProviderErrorKind, ge.Kind)
}

func TestDoJSONMaps429ToRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenAICompatible("openai", srv.URL, Config{
		APIKey:  "sk-test",
		Timeout: time.Second,
		Limiter: ratelimit.New("openai", 0, 1),
		Adapter: adapters.NewOpenAIAdapter(),
	}, false, nil)

	_, err := c.ChatCompletion(context.Background(), testRequest())
	require.Error(t, err)
	ge, ok := gatewayerr.As(err)
	require.True(t, ok)
	assert.Equal(t, gatewayerr.RateLimited, ge.Kind)
}

func TestGetStreamingResponseReturnsLiveBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	c := NewOpenAICompatible("openai", srv.URL, Config{
		APIKey:  "sk-test",
		Timeout: time.Second,
		Limiter: ratelimit.New("openai", 0, 1),
		Adapter: adapters.NewOpenAIAdapter(),
	}, false, nil)

	rc, err := c.GetStreamingResponse(context.Background(), testRequest())
	require.NoError(t, err)
	defer rc.Close()
	require.NotNil(t, rc)
}
