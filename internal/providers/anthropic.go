package providers

import (
	"context"
	"fmt"
	"io"

	"github.com/taipm/llm-gateway/internal/adapters"
	"github.com/taipm/llm-gateway/internal/gatewayerr"
	"github.com/taipm/llm-gateway/internal/schema"
)

const anthropicAPIVersion = "2023-06-01"

// Anthropic is the Messages-wire client, using x-api-key + anthropic-version
// headers rather than Bearer auth (spec.md §4.5).
type Anthropic struct {
	base
	adapter adapters.FormatAdapter
}

func NewAnthropic(baseURL string, cfg Config) *Anthropic {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &Anthropic{
		base:    newBaseAuth("anthropic", baseURL, cfg.APIKey, cfg.AuthEnabled, cfg.timeoutOrDefault(), cfg.Limiter, cfg.Logger),
		adapter: cfg.Adapter,
	}
}

func (c *Anthropic) headers(ctx context.Context) (map[string]string, error) {
	key, ok := c.resolveKey(ctx)
	if !ok {
		return nil, gatewayerr.New(gatewayerr.AuthMissing, `no API key configured for provider "anthropic"`)
	}
	return map[string]string{
		"x-api-key":         key,
		"anthropic-version": anthropicAPIVersion,
	}, nil
}

func (c *Anthropic) ChatCompletion(ctx context.Context, req *schema.Request) (*schema.Response, error) {
	headers, err := c.headers(ctx)
	if err != nil {
		return nil, err
	}
	wireReq, err := c.adapter.CanonicalToProvider(req)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InternalError, "encode anthropic request", err)
	}
	respBody, err := c.doJSON(ctx, c.baseURL+"/messages", wireReq, headers)
	if err != nil {
		return nil, err
	}
	resp, err := c.adapter.ProviderToCanonical(respBody)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.ProviderErrorKind, "decode anthropic response", err)
	}
	return resp, nil
}

func (c *Anthropic) GetStreamingResponse(ctx context.Context, req *schema.Request) (io.ReadCloser, error) {
	headers, err := c.headers(ctx)
	if err != nil {
		return nil, err
	}
	streamReq := *req
	streamReq.Stream = true
	wireReq, err := c.adapter.CanonicalToProvider(&streamReq)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InternalError, fmt.Sprintf("encode anthropic stream request: %v", err), err)
	}
	return c.doStream(ctx, c.baseURL+"/messages", wireReq, headers)
}
