// Package providers implements the uniform provider contract (C5): one
// hand-rolled net/http + encoding/json client per upstream dialect, wrapped
// with a per-provider outbound rate limiter. Deliberately not built on a
// vendored provider SDK (openai-go, generative-ai-go) — see DESIGN.md —
// since the streaming pipeline (C7) needs raw SSE byte access the SDKs
// wrap away.
package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/taipm/llm-gateway/internal/adapters"
	"github.com/taipm/llm-gateway/internal/gatewayerr"
	"github.com/taipm/llm-gateway/internal/logging"
	"github.com/taipm/llm-gateway/internal/ratelimit"
	"github.com/taipm/llm-gateway/internal/schema"
)

// AIProvider is the uniform contract every upstream client satisfies
// (spec.md §4.5).
type AIProvider interface {
	Name() string
	IsConfigured() bool
	ChatCompletion(ctx context.Context, req *schema.Request) (*schema.Response, error)
	GetStreamingResponse(ctx context.Context, req *schema.Request) (io.ReadCloser, error)
}

// KeySource resolves the API key used for a provider, letting the
// authorization adapter (C10) substitute a decrypted per-request key in
// place of the process environment (spec.md §4.6).
type KeySource interface {
	APIKey(ctx context.Context, provider string) (string, bool)
}

// EnvKeySource reads "<PROVIDER>_API_KEY" style environment variables,
// the default source when the authorization adapter is disabled.
type EnvKeySource struct {
	Keys map[string]string // provider -> key, pre-resolved at config load
}

func (e EnvKeySource) APIKey(_ context.Context, provider string) (string, bool) {
	k, ok := e.Keys[provider]
	if !ok || k == "" {
		return "", false
	}
	return k, true
}

// base holds everything common to every client: the http.Client, the
// provider's base URL, its outbound limiter, its logger, and its key
// source. Concrete clients embed it.
type base struct {
	provider    string
	baseURL     string
	apiKey      string
	authEnabled bool // true when a per-request key arrives via context (C10)
	client      *http.Client
	limiter     *ratelimit.Limiter
	logger      logging.Logger
}

func newBase(provider, baseURL, apiKey string, timeout time.Duration, limiter *ratelimit.Limiter, logger logging.Logger) base {
	return newBaseAuth(provider, baseURL, apiKey, false, timeout, limiter, logger)
}

func newBaseAuth(provider, baseURL, apiKey string, authEnabled bool, timeout time.Duration, limiter *ratelimit.Limiter, logger logging.Logger) base {
	if logger == nil {
		logger = logging.Noop{}
	}
	return base{
		provider:    provider,
		baseURL:     baseURL,
		apiKey:      apiKey,
		authEnabled: authEnabled,
		client:      &http.Client{Timeout: timeout},
		limiter:     limiter,
		logger:      logger,
	}
}

func (b *base) Name() string       { return b.provider }
func (b *base) IsConfigured() bool { return b.authEnabled || b.apiKey != "" }

type apiKeyOverrideKey struct{}

// WithAPIKeyOverride attaches a per-request API key to ctx, letting the
// authorization adapter (C10) substitute a trust-root-decrypted key in
// place of the process-wide one a provider client was constructed with.
func WithAPIKeyOverride(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, apiKeyOverrideKey{}, key)
}

// resolveKey returns the per-request override from ctx if present,
// otherwise the client's static key.
func (b *base) resolveKey(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(apiKeyOverrideKey{}).(string); ok && v != "" {
		return v, true
	}
	return b.apiKey, b.apiKey != ""
}

// doJSON issues a POST with body, waiting on the rate limiter first, and
// returns the raw response body on 2xx or a wrapped ProviderError/
// UpstreamTimeout/RateLimited otherwise. headers are applied after the
// default Content-Type.
func (b *base) doJSON(ctx context.Context, url string, body []byte, headers map[string]string) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InternalError, "build upstream request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, gatewayerr.Wrap(gatewayerr.UpstreamTimeout, fmt.Sprintf("%s request timed out", b.provider), err)
		}
		return nil, gatewayerr.Wrap(gatewayerr.ProviderErrorKind, fmt.Sprintf("%s request failed", b.provider), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.ProviderErrorKind, fmt.Sprintf("%s read response body", b.provider), err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, gatewayerr.New(gatewayerr.RateLimited, fmt.Sprintf("%s returned 429", b.provider)).
			WithContext(map[string]any{"provider": b.provider, "body": string(respBody)})
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, gatewayerr.New(gatewayerr.ProviderErrorKind, fmt.Sprintf("%s returned status %d", b.provider, resp.StatusCode)).
			WithContext(map[string]any{"provider": b.provider, "status": resp.StatusCode, "body": string(respBody)})
	}
	return respBody, nil
}

// doStream is doJSON's streaming sibling: it returns the live response body
// for the caller to read incrementally instead of buffering it.
func (b *base) doStream(ctx context.Context, url string, body []byte, headers map[string]string) (io.ReadCloser, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InternalError, "build upstream request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, gatewayerr.Wrap(gatewayerr.UpstreamTimeout, fmt.Sprintf("%s stream request timed out", b.provider), err)
		}
		return nil, gatewayerr.Wrap(gatewayerr.ProviderErrorKind, fmt.Sprintf("%s stream request failed", b.provider), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, gatewayerr.New(gatewayerr.RateLimited, fmt.Sprintf("%s returned 429", b.provider)).
				WithContext(map[string]any{"provider": b.provider, "body": string(respBody)})
		}
		return nil, gatewayerr.New(gatewayerr.ProviderErrorKind, fmt.Sprintf("%s returned status %d", b.provider, resp.StatusCode)).
			WithContext(map[string]any{"provider": b.provider, "status": resp.StatusCode, "body": string(respBody)})
	}
	return resp.Body, nil
}

// Config bundles the constructor arguments shared by every client.
type Config struct {
	APIKey      string
	BaseURL     string // override; empty uses the client's hardcoded default
	Timeout     time.Duration
	Limiter     *ratelimit.Limiter
	Logger      logging.Logger
	Adapter     adapters.FormatAdapter // the dialect adapter this client translates through
	AuthEnabled bool                   // true when keys arrive per-request via WithAPIKeyOverride (C10)
}

func (c Config) timeoutOrDefault() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return c.Timeout
}
