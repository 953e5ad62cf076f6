package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taipm/llm-gateway/internal/adapters"
	"github.com/taipm/llm-gateway/internal/budget"
	"github.com/taipm/llm-gateway/internal/gatewayerr"
	"github.com/taipm/llm-gateway/internal/providers"
	"github.com/taipm/llm-gateway/internal/router"
	"github.com/taipm/llm-gateway/internal/schema"
	"github.com/taipm/llm-gateway/internal/usage"
)

// fakeProvider is a minimal providers.AIProvider double, letting handler
// tests exercise routing/translation without a real upstream.
type fakeProvider struct {
	name        string
	configured  bool
	chatResp    *schema.Response
	chatErr     error
	streamBody  string
	streamErr   error
}

func (f *fakeProvider) Name() string       { return f.name }
func (f *fakeProvider) IsConfigured() bool { return f.configured }
func (f *fakeProvider) ChatCompletion(ctx context.Context, req *schema.Request) (*schema.Response, error) {
	return f.chatResp, f.chatErr
}
func (f *fakeProvider) GetStreamingResponse(ctx context.Context, req *schema.Request) (io.ReadCloser, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return io.NopCloser(bytes.NewReader([]byte(f.streamBody))), nil
}

func newTestServer(t *testing.T, p *fakeProvider) (*Server, *usage.Store) {
	t.Helper()
	reg := router.New(nil)
	reg.Register(router.Plugin{
		ID:             "openai",
		CreateInstance: func() providers.AIProvider { return p },
		Matches:        func(model string) bool { return true },
	})

	dir := t.TempDir()
	u, err := usage.Open(filepath.Join(dir, "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { u.Close() })

	b, err := budget.Open(filepath.Join(dir, "budget.db"), u)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	return &Server{
		Adapters: adapters.NewDefaultRegistry(),
		Router:   reg,
		Usage:    u,
		Budget:   b,
	}, u
}

func TestHealthEndpoint(t *testing.T) {
	srv := &Server{Adapters: adapters.NewDefaultRegistry()}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	srv.Mux().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestChatCompletionsNonStreamingRoundTrip(t *testing.T) {
	fp := &fakeProvider{
		name:       "openai",
		configured: true,
		chatResp: &schema.Response{
			ID: "resp-1", Model: "gpt-4o",
			Choices: []schema.Choice{{
				Index:        0,
				Message:      schema.Message{Role: schema.RoleAssistant, IsStringContent: true, StringContent: "hello"},
				FinishReason: schema.FinishStop,
			}},
			Usage: &schema.Usage{InputTokens: 5, OutputTokens: 3},
		},
	}
	srv, u := newTestServer(t, fp)

	reqBody := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(reqBody))
	w := httptest.NewRecorder()

	srv.Mux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	choices := out["choices"].([]any)
	msg := choices[0].(map[string]any)["message"].(map[string]any)
	assert.Equal(t, "hello", msg["content"])

	records, err := u.List(context.Background(), time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(time.Hour), 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 5, records[0].InputTokens)
}

func TestChatCompletionsMissingModelReturnsValidationError(t *testing.T) {
	fp := &fakeProvider{name: "openai", configured: true}
	srv, _ := newTestServer(t, fp)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{"messages":[{"role":"user","content":"hi"}]}`))
	w := httptest.NewRecorder()

	srv.Mux().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	errObj := out["error"].(map[string]any)
	assert.Equal(t, string(gatewayerr.ValidationFailed), errObj["type"])
}

func TestMessagesEndpointRendersAnthropicErrorEnvelope(t *testing.T) {
	fp := &fakeProvider{name: "openai", configured: true}
	srv, _ := newTestServer(t, fp)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBufferString(`{"messages":[{"role":"user","content":"hi"}]}`))
	w := httptest.NewRecorder()

	srv.Mux().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "error", out["type"])
	errObj := out["error"].(map[string]any)
	assert.NotEmpty(t, errObj["message"])
}

func TestChatCompletionsProviderErrorMapsToStatus(t *testing.T) {
	fp := &fakeProvider{
		name: "openai", configured: true,
		chatErr: gatewayerr.New(gatewayerr.ProviderErrorKind, "upstream exploded"),
	}
	srv, _ := newTestServer(t, fp)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`))
	w := httptest.NewRecorder()

	srv.Mux().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestChatCompletionsWrongMethodRejected(t *testing.T) {
	fp := &fakeProvider{name: "openai", configured: true}
	srv, _ := newTestServer(t, fp)

	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	w := httptest.NewRecorder()

	srv.Mux().ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestBudgetGetUnconfigured(t *testing.T) {
	fp := &fakeProvider{name: "openai", configured: true}
	srv, _ := newTestServer(t, fp)

	req := httptest.NewRequest(http.MethodGet, "/budget", nil)
	w := httptest.NewRecorder()
	srv.Mux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, false, out["configured"])
}

func TestBudgetPutThenGetRoundTrips(t *testing.T) {
	fp := &fakeProvider{name: "openai", configured: true}
	srv, _ := newTestServer(t, fp)

	putReq := httptest.NewRequest(http.MethodPut, "/budget", bytes.NewBufferString(`{"amount_usd":50,"alert_only":true}`))
	putW := httptest.NewRecorder()
	srv.Mux().ServeHTTP(putW, putReq)
	require.Equal(t, http.StatusOK, putW.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/budget", nil)
	getW := httptest.NewRecorder()
	srv.Mux().ServeHTTP(getW, getReq)
	require.Equal(t, http.StatusOK, getW.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(getW.Body.Bytes(), &out))
	assert.Equal(t, 50.0, out["limit"])
	assert.Equal(t, true, out["alert_only"])
}

func TestBudgetPutNullAmountMeansUnlimited(t *testing.T) {
	fp := &fakeProvider{name: "openai", configured: true}
	srv, _ := newTestServer(t, fp)

	putReq := httptest.NewRequest(http.MethodPut, "/budget", bytes.NewBufferString(`{"amount_usd":null,"alert_only":true}`))
	putW := httptest.NewRecorder()
	srv.Mux().ServeHTTP(putW, putReq)
	require.Equal(t, http.StatusOK, putW.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/budget", nil)
	getW := httptest.NewRecorder()
	srv.Mux().ServeHTTP(getW, getReq)
	require.Equal(t, http.StatusOK, getW.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(getW.Body.Bytes(), &out))
	assert.Nil(t, out["limit"])
	assert.Equal(t, true, out["allowed"])
}
