package providers

import (
	"context"
	"fmt"
	"io"

	"github.com/taipm/llm-gateway/internal/adapters"
	"github.com/taipm/llm-gateway/internal/gatewayerr"
	"github.com/taipm/llm-gateway/internal/schema"
)

// OpenAICompatible is the shared client for every dialect that speaks
// OpenAI Chat Completions wire format against a provider-specific base URL:
// openai itself, xai, openrouter, ollama, and any operator-supplied
// generic OpenAI-compatible endpoint (spec.md §4.5).
type OpenAICompatible struct {
	base
	adapter      adapters.FormatAdapter
	keyOptional  bool // ollama needs no key
	extraHeaders map[string]string
}

// NewOpenAICompatible builds a client for a named provider. baseURL must
// already include the version path (e.g. "https://api.openai.com/v1").
func NewOpenAICompatible(provider, baseURL string, cfg Config, keyOptional bool, extraHeaders map[string]string) *OpenAICompatible {
	return &OpenAICompatible{
		base:         newBaseAuth(provider, baseURL, cfg.APIKey, cfg.AuthEnabled, cfg.timeoutOrDefault(), cfg.Limiter, cfg.Logger),
		adapter:      cfg.Adapter,
		keyOptional:  keyOptional,
		extraHeaders: extraHeaders,
	}
}

func (c *OpenAICompatible) IsConfigured() bool {
	if c.keyOptional {
		return true
	}
	return c.base.IsConfigured()
}

func (c *OpenAICompatible) headers(ctx context.Context) (map[string]string, error) {
	h := map[string]string{}
	for k, v := range c.extraHeaders {
		h[k] = v
	}
	if key, ok := c.resolveKey(ctx); ok {
		h["Authorization"] = "Bearer " + key
	} else if !c.keyOptional {
		return nil, gatewayerr.New(gatewayerr.AuthMissing, fmt.Sprintf("no API key configured for provider %q", c.provider))
	}
	return h, nil
}

func (c *OpenAICompatible) ChatCompletion(ctx context.Context, req *schema.Request) (*schema.Response, error) {
	headers, err := c.headers(ctx)
	if err != nil {
		return nil, err
	}
	wireReq, err := c.adapter.CanonicalToProvider(req)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InternalError, "encode request for "+c.provider, err)
	}
	respBody, err := c.doJSON(ctx, c.baseURL+"/chat/completions", wireReq, headers)
	if err != nil {
		return nil, err
	}
	resp, err := c.adapter.ProviderToCanonical(respBody)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.ProviderErrorKind, "decode "+c.provider+" response", err)
	}
	return resp, nil
}

func (c *OpenAICompatible) GetStreamingResponse(ctx context.Context, req *schema.Request) (io.ReadCloser, error) {
	headers, err := c.headers(ctx)
	if err != nil {
		return nil, err
	}
	streamReq := *req
	streamReq.Stream = true
	wireReq, err := c.adapter.CanonicalToProvider(&streamReq)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InternalError, "encode stream request for "+c.provider, err)
	}
	return c.doStream(ctx, c.baseURL+"/chat/completions", wireReq, headers)
}
