package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/taipm/llm-gateway/internal/gatewayerr"
)

// HTTPTrustRoot is a TrustRoot backed by a remote HTTP service: the
// gateway's only concrete implementation of the external collaborator
// spec.md §4.6 describes. Every call is a single JSON POST; there is no
// caching or retry, matching the adapter's "no caching" contract.
type HTTPTrustRoot struct {
	baseURL string
	client  *http.Client
	apiKey  string // optional bearer token authenticating the gateway to the trust root itself
}

// NewHTTPTrustRoot builds a client against baseURL (e.g.
// "https://trust-root.internal"). apiKey may be empty if the trust root
// doesn't require the gateway to authenticate.
func NewHTTPTrustRoot(baseURL, apiKey string, timeout time.Duration) *HTTPTrustRoot {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTrustRoot{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		apiKey:  apiKey,
	}
}

func (t *HTTPTrustRoot) post(ctx context.Context, path string, reqBody, respBody any) error {
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.InternalError, "encode trust root request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.InternalError, "build trust root request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.TrustRootUnavailable, fmt.Sprintf("trust root %s unreachable", path), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.TrustRootUnavailable, "read trust root response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gatewayerr.New(gatewayerr.TrustRootUnavailable, fmt.Sprintf("trust root %s returned status %d", path, resp.StatusCode)).
			WithContext(map[string]any{"status": resp.StatusCode, "body": string(raw)})
	}
	if respBody == nil {
		return nil
	}
	if err := json.Unmarshal(raw, respBody); err != nil {
		return gatewayerr.Wrap(gatewayerr.TrustRootUnavailable, "decode trust root response", err)
	}
	return nil
}

func (t *HTTPTrustRoot) IsDelegatePermitted(ctx context.Context, owner, delegate string) (bool, error) {
	if owner == delegate {
		return true, nil
	}
	var out struct {
		Permitted bool `json:"permitted"`
	}
	err := t.post(ctx, "/v1/delegate-permitted", map[string]string{"owner": owner, "delegate": delegate}, &out)
	return out.Permitted, err
}

func (t *HTTPTrustRoot) IsModelPermitted(ctx context.Context, owner, providerID, modelID string) (bool, error) {
	var out struct {
		Allowed bool `json:"allowed"`
	}
	err := t.post(ctx, "/v1/model-permitted", map[string]string{
		"owner": owner, "provider_id": providerID, "model_id": modelID,
	}, &out)
	return out.Allowed, err
}

func (t *HTTPTrustRoot) GetSecretCiphertext(ctx context.Context, owner, providerID string) (Ciphertext, error) {
	var out struct {
		Ciphertext    []byte `json:"ciphertext"`
		SecretVersion string `json:"secret_version"`
		Exists        bool   `json:"exists"`
		KeyVersion    string `json:"key_version"`
	}
	err := t.post(ctx, "/v1/secret", map[string]string{"owner": owner, "provider_id": providerID}, &out)
	if err != nil {
		return Ciphertext{}, err
	}
	return Ciphertext{
		Ciphertext:    out.Ciphertext,
		SecretVersion: out.SecretVersion,
		Exists:        out.Exists,
		KeyVersion:    out.KeyVersion,
	}, nil
}

func (t *HTTPTrustRoot) EmitUsageReceipt(ctx context.Context, r UsageReceipt) error {
	return t.post(ctx, "/v1/usage-receipt", map[string]any{
		"request_hash":      r.RequestHash,
		"owner":             r.Owner,
		"delegate":          r.Delegate,
		"provider_id":       r.ProviderID,
		"model_id":          r.ModelID,
		"prompt_tokens":     r.PromptTokens,
		"completion_tokens": r.CompletionTokens,
	}, nil)
}

var _ TrustRoot = (*HTTPTrustRoot)(nil)
