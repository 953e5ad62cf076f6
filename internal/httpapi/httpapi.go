// Package httpapi implements HTTP Ingress (A5): route wiring for every
// endpoint spec.md §6 names, request/response dialect translation at the
// edge, SSE framing for streaming requests, and error envelope rendering.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/taipm/llm-gateway/internal/adapters"
	"github.com/taipm/llm-gateway/internal/authz"
	"github.com/taipm/llm-gateway/internal/budget"
	"github.com/taipm/llm-gateway/internal/catalog"
	"github.com/taipm/llm-gateway/internal/gatewayerr"
	"github.com/taipm/llm-gateway/internal/logging"
	"github.com/taipm/llm-gateway/internal/pricing"
	"github.com/taipm/llm-gateway/internal/providers"
	"github.com/taipm/llm-gateway/internal/router"
	"github.com/taipm/llm-gateway/internal/schema"
	"github.com/taipm/llm-gateway/internal/streaming"
	"github.com/taipm/llm-gateway/internal/usage"
)

// Server holds every wired component the HTTP handlers need. Built once in
// cmd/gateway and never mutated afterward.
type Server struct {
	Adapters *adapters.Registry
	Router   *router.Registry
	Pricing  *pricing.Catalog
	Catalog  *catalog.Catalog
	Usage    *usage.Store
	Budget   *budget.Store
	Authz    *authz.Resolver // nil when the trust root is disabled
	Logger   logging.Logger
}

// Mux builds the stdlib http.ServeMux wired to every route spec.md §6
// names. Kept on net/http.ServeMux rather than a third-party router since
// the route set here is small and fixed (see DESIGN.md).
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", s.withMethod(http.MethodPost, s.handleChatCompletions))
	mux.HandleFunc("/v1/messages", s.withMethod(http.MethodPost, s.handleMessages))
	mux.HandleFunc("/v1/responses", s.withMethod(http.MethodPost, s.handleResponses))
	mux.HandleFunc("/v1/models", s.withMethod(http.MethodGet, s.handleModels))
	mux.HandleFunc("/usage", s.withMethod(http.MethodGet, s.handleUsage))
	mux.HandleFunc("/budget", s.handleBudget)
	mux.HandleFunc("/health", s.withMethod(http.MethodGet, s.handleHealth))
	return mux
}

func (s *Server) withMethod(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func (s *Server) logger() logging.Logger {
	if s.Logger == nil {
		return logging.Noop{}
	}
	return s.Logger
}

// --- dialect-specific completion endpoints --------------------------------

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	s.handleCompletion(w, r, adapters.FormatOpenAI)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.handleCompletion(w, r, adapters.FormatAnthropic)
}

func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	s.handleCompletion(w, r, adapters.FormatOpenAIResponses)
}

// handleCompletion is shared by all three dialect endpoints: parse into
// canonical, route to a provider, forward (streaming or not), translate
// the result back into the caller's dialect.
func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request, clientFormat string) {
	ctx := r.Context()

	clientAdapter, err := s.Adapters.Get(clientFormat)
	if err != nil {
		s.renderError(w, clientFormat, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.renderError(w, clientFormat, gatewayerr.Wrap(gatewayerr.ValidationFailed, "read request body", err))
		return
	}

	req, err := clientAdapter.ClientToCanonical(body)
	if err != nil {
		s.renderError(w, clientFormat, gatewayerr.Wrap(gatewayerr.ValidationFailed, "parse request", err))
		return
	}
	if req.Model == "" {
		s.renderError(w, clientFormat, gatewayerr.New(gatewayerr.ValidationFailed, "model is required"))
		return
	}

	owner, delegate := ownerDelegate(r)

	provider, providerID, err := s.Router.Select(ctx, req.Model)
	if err != nil {
		s.renderError(w, clientFormat, err)
		return
	}

	if s.Authz != nil {
		key, err := s.Authz.Resolve(ctx, owner, delegate, providerID, req.Model)
		if err != nil {
			s.renderError(w, clientFormat, err)
			return
		}
		ctx = providers.WithAPIKeyOverride(ctx, key)
	}

	estCost := s.estimateCost(ctx, providerID, req)
	if s.Budget != nil {
		if _, err := s.Budget.Enforce(ctx, estCost); err != nil {
			s.renderError(w, clientFormat, err)
			return
		}
	}

	if req.Stream {
		s.handleStreamingCompletion(ctx, w, clientAdapter, clientFormat, provider, providerID, req, owner, delegate)
		return
	}
	s.handleNonStreamingCompletion(ctx, w, clientAdapter, clientFormat, provider, providerID, req, owner, delegate)
}

func ownerDelegate(r *http.Request) (string, string) {
	owner := r.Header.Get("X-Owner-Id")
	delegate := r.Header.Get("X-Delegate-Id")
	if delegate == "" {
		delegate = owner
	}
	return owner, delegate
}

// estimateCost gives the budget enforcer a pre-flight figure using a rough
// 4-chars-per-token heuristic over the request's text content; the
// authoritative cost is recorded after the real usage is known. A failure
// to price the model (pricing not configured) yields a zero estimate,
// which never blocks on its own (spec.md §7 "cost-calculation failures ...
// persist usage with zero cost").
func (s *Server) estimateCost(ctx context.Context, providerID string, req *schema.Request) float64 {
	if s.Pricing == nil {
		return 0
	}
	var chars int
	for _, m := range req.Messages {
		chars += len(m.Text())
	}
	chars += len(req.SystemText)
	estTokens := chars / 4

	mp, err := s.Pricing.GetModelPricing(ctx, providerID, req.Model)
	if err != nil || mp == nil {
		return 0
	}
	return float64(estTokens) / 1_000_000 * mp.Input
}

func (s *Server) handleNonStreamingCompletion(
	ctx context.Context, w http.ResponseWriter, clientAdapter adapters.FormatAdapter, clientFormat string,
	provider providers.AIProvider, providerID string, req *schema.Request, owner, delegate string,
) {
	resp, err := provider.ChatCompletion(ctx, req)
	if err != nil {
		s.renderError(w, clientFormat, err)
		return
	}

	s.recordUsage(ctx, providerID, req.Model, resp.Usage, owner, delegate)

	out, err := clientAdapter.CanonicalToClient(resp)
	if err != nil {
		s.renderError(w, clientFormat, gatewayerr.Wrap(gatewayerr.InternalError, "encode response", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) handleStreamingCompletion(
	ctx context.Context, w http.ResponseWriter, clientAdapter adapters.FormatAdapter, clientFormat string,
	provider providers.AIProvider, providerID string, req *schema.Request, owner, delegate string,
) {
	upstream, err := provider.GetStreamingResponse(ctx, req)
	if err != nil {
		s.renderError(w, clientFormat, err)
		return
	}

	source, err := sourceAdapterFor(providerID, s.Adapters)
	if err != nil {
		upstream.Close()
		s.renderError(w, clientFormat, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		upstream.Close()
		s.renderError(w, clientFormat, gatewayerr.New(gatewayerr.InternalError, "response writer does not support streaming"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sw := &sseWriter{w: w, flusher: flusher}
	result, err := streaming.Run(ctx, sw, streaming.Options{
		Upstream:       upstream,
		Source:         source,
		Client:         clientAdapter,
		ClientFormat:   clientFormat,
		EncodeState:    &adapters.EncodeState{Model: req.Model},
		Logger:         s.logger(),
		ResponsesUsage: clientFormat == adapters.FormatOpenAIResponses,
	})
	if err != nil {
		s.logger().Warn(ctx, "streaming: pipeline ended with error", logging.F("err", err))
		return
	}

	s.recordUsage(ctx, providerID, req.Model, result.FinalUsage, owner, delegate)
}

func (s *Server) recordUsage(ctx context.Context, providerID, model string, u *schema.Usage, owner, delegate string) {
	if s.Usage == nil {
		return
	}
	var input, output, cacheWrite, cacheRead int
	if u != nil {
		input = u.InputTokens
		output = u.OutputTokens
		cacheWrite = u.CacheWriteInputTokens
		cacheRead = u.CacheReadInputTokens
	}

	var cost *pricing.Cost
	if s.Pricing != nil {
		c, err := s.Pricing.CalculateCost(ctx, providerID, model, input, output, cacheWrite, cacheRead)
		if err != nil {
			s.logger().Warn(ctx, "usage: cost calculation failed, recording zero cost", logging.F("err", err))
		} else {
			cost = c
		}
	}

	rec := usage.Record{
		Provider: providerID, Model: model,
		InputTokens: input, OutputTokens: output,
		CacheWriteInputTokens: cacheWrite, CacheReadInputTokens: cacheRead,
	}
	if cost != nil {
		rec.InputCost = cost.InputCost
		rec.CacheWriteCost = cost.CacheWriteCost
		rec.CacheReadCost = cost.CacheReadCost
		rec.OutputCost = cost.OutputCost
		rec.TotalCost = cost.TotalCost
		rec.Currency = cost.Currency
	}

	requestID, err := s.Usage.Record(ctx, rec)
	if err != nil {
		s.logger().Warn(ctx, "usage: failed to persist record", logging.F("err", err))
		return
	}

	if s.Authz != nil {
		receipt := authz.UsageReceipt{
			RequestHash: requestID, Owner: owner, Delegate: delegate,
			ProviderID: providerID, ModelID: model,
			PromptTokens: input, CompletionTokens: output,
		}
		if err := s.Authz.EmitReceipt(ctx, receipt); err != nil {
			s.logger().Warn(ctx, "authz: usage receipt emission failed", logging.F("err", err))
		}
	}
}

// providerWireDialect maps a provider id to the format adapter its client
// translates through, used to pick the streaming pipeline's SourceAdapter.
// Every OpenAI-wire-compatible provider shares the OpenAI adapter; google
// has its own narrow streaming adapter (spec.md §4.5).
var providerWireDialect = map[string]string{
	"openai":     adapters.FormatOpenAI,
	"xai":        adapters.FormatOpenAI,
	"openrouter": adapters.FormatOpenAI,
	"zai":        adapters.FormatOpenAI,
	"ollama":     adapters.FormatOpenAI,
	"generic":    adapters.FormatOpenAI,
	"anthropic":  adapters.FormatAnthropic,
}

func sourceAdapterFor(providerID string, reg *adapters.Registry) (streaming.SourceAdapter, error) {
	if providerID == "google" {
		return providers.GoogleStreamAdapter{}, nil
	}
	format, ok := providerWireDialect[providerID]
	if !ok {
		return nil, gatewayerr.New(gatewayerr.InternalError, "no wire dialect known for provider "+providerID)
	}
	return reg.Get(format)
}

// sseWriter adapts an http.ResponseWriter+http.Flusher pair to
// streaming.Writer.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseWriter) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *sseWriter) Flush()                       { s.flusher.Flush() }

// --- catalog / usage / budget / health -------------------------------------

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	f := catalog.Filter{
		Provider: q.Get("provider"),
		Endpoint: catalog.Endpoint(q.Get("endpoint")),
		Search:   q.Get("search"),
		Limit:    atoiDefault(q.Get("limit"), 0),
		Offset:   atoiDefault(q.Get("offset"), 0),
	}
	page, err := s.Catalog.List(ctx, f)
	if err != nil {
		s.renderError(w, "", gatewayerr.Wrap(gatewayerr.InternalError, "list model catalog", err))
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			start = t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			end = t
		}
	}

	agg, err := s.Usage.Aggregate(ctx, start, end)
	if err != nil {
		s.renderError(w, "", gatewayerr.Wrap(gatewayerr.InternalError, "aggregate usage", err))
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleBudgetGet(w, r)
	case http.MethodPut:
		s.handleBudgetPut(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleBudgetGet(w http.ResponseWriter, r *http.Request) {
	status, configured, err := s.Budget.Status(r.Context(), 0)
	if err != nil {
		s.renderError(w, "", gatewayerr.Wrap(gatewayerr.InternalError, "load budget status", err))
		return
	}
	if !configured {
		writeJSON(w, http.StatusOK, map[string]any{"configured": false})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// budgetPutBody is PUT /budget's body shape (spec.md §6). AmountUSD is a
// pointer so the client can distinguish a concrete cap from null, which
// means unlimited spend (tracked and reported, never blocked).
type budgetPutBody struct {
	AmountUSD *float64 `json:"amount_usd"`
	AlertOnly bool     `json:"alert_only"`
}

func (s *Server) handleBudgetPut(w http.ResponseWriter, r *http.Request) {
	var body budgetPutBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.renderError(w, "", gatewayerr.Wrap(gatewayerr.ValidationFailed, "parse budget body", err))
		return
	}
	limit := budget.Limit{AmountUSD: body.AmountUSD, AlertOnly: body.AlertOnly, Window: "monthly"}
	if err := s.Budget.Set(r.Context(), limit); err != nil {
		s.renderError(w, "", gatewayerr.Wrap(gatewayerr.InternalError, "save budget limit", err))
		return
	}
	writeJSON(w, http.StatusOK, limit)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

// --- error envelope + small helpers -----------------------------------------

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Context map[string]any `json:"-"`
}

func (b errorBody) MarshalJSON() ([]byte, error) {
	m := map[string]any{"type": b.Type, "message": b.Message}
	for k, v := range b.Context {
		m[k] = v
	}
	return json.Marshal(m)
}

// anthropicErrorEnvelope is the {type:"error", error:{message, code?}}
// shape spec.md §7 requires when the caller used the Anthropic dialect.
type anthropicErrorEnvelope struct {
	Type  string              `json:"type"`
	Error anthropicErrorBody `json:"error"`
}

type anthropicErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (s *Server) renderError(w http.ResponseWriter, clientFormat string, err error) {
	ge, ok := gatewayerr.As(err)
	if !ok {
		ge = gatewayerr.Wrap(gatewayerr.InternalError, "unexpected error", err)
	}
	s.logger().Error(context.Background(), "request failed", logging.F("kind", ge.Kind), logging.F("message", ge.Message))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ge.HTTPStatus())

	if clientFormat == adapters.FormatAnthropic {
		_ = json.NewEncoder(w).Encode(anthropicErrorEnvelope{
			Type:  "error",
			Error: anthropicErrorBody{Message: ge.Message, Code: string(ge.Kind)},
		})
		return
	}
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{Type: string(ge.Kind), Message: ge.Message, Context: ge.Context}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func atoiDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
