package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/taipm/llm-gateway/internal/adapters"
	"github.com/taipm/llm-gateway/internal/gatewayerr"
	"github.com/taipm/llm-gateway/internal/schema"
)

// Google is the Gemini generateContent/streamGenerateContent client. Gemini
// has no general OpenAI-equivalent dialect, so translation lives entirely
// inside this client rather than in internal/adapters (spec.md §4.5).
type Google struct {
	base
}

func NewGoogle(baseURL string, cfg Config) *Google {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &Google{base: newBaseAuth("google", baseURL, cfg.APIKey, cfg.AuthEnabled, cfg.timeoutOrDefault(), cfg.Limiter, cfg.Logger)}
}

func (c *Google) headers(ctx context.Context) (map[string]string, error) {
	key, ok := c.resolveKey(ctx)
	if !ok {
		return nil, gatewayerr.New(gatewayerr.AuthMissing, `no API key configured for provider "google"`)
	}
	return map[string]string{"x-goog-api-key": key}, nil
}

// --- Gemini wire shapes --------------------------------------------------

type geContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []gePart  `json:"parts"`
}

type gePart struct {
	Text             string               `json:"text,omitempty"`
	InlineData       *geInlineData        `json:"inlineData,omitempty"`
	FunctionCall     *geFunctionCall      `json:"functionCall,omitempty"`
	FunctionResponse *geFunctionResponse  `json:"functionResponse,omitempty"`
}

type geInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geFunctionDeclaration struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type geTool struct {
	FunctionDeclarations []geFunctionDeclaration `json:"functionDeclarations"`
}

type geToolConfig struct {
	FunctionCallingConfig geFunctionCallingConfig `json:"functionCallingConfig"`
}

type geFunctionCallingConfig struct {
	Mode                 string   `json:"mode"`
	AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
}

type geGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
	CandidateCount  *int     `json:"candidateCount,omitempty"`
}

type geRequest struct {
	Contents          []geContent         `json:"contents"`
	SystemInstruction *geContent          `json:"systemInstruction,omitempty"`
	Tools             []geTool            `json:"tools,omitempty"`
	ToolConfig        *geToolConfig       `json:"toolConfig,omitempty"`
	GenerationConfig  *geGenerationConfig `json:"generationConfig,omitempty"`
}

type geCandidate struct {
	Content      geContent `json:"content"`
	FinishReason string    `json:"finishReason"`
	Index        int       `json:"index"`
}

type geUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geResponse struct {
	Candidates    []geCandidate    `json:"candidates"`
	UsageMetadata *geUsageMetadata `json:"usageMetadata,omitempty"`
}

// --- translation ----------------------------------------------------------

func toGeminiRequest(req *schema.Request) geRequest {
	var out geRequest
	if req.SystemText != "" {
		out.SystemInstruction = &geContent{Parts: []gePart{{Text: req.SystemText}}}
	}
	for _, m := range req.Messages {
		role := "user"
		switch m.Role {
		case schema.RoleAssistant:
			role = "model"
		case schema.RoleTool:
			role = "user"
		}
		var parts []gePart
		if m.Role == schema.RoleTool {
			var response map[string]any
			if err := json.Unmarshal([]byte(m.Text()), &response); err != nil {
				response = map[string]any{"result": m.Text()}
			}
			parts = append(parts, gePart{FunctionResponse: &geFunctionResponse{Name: m.Name, Response: response}})
		} else if m.IsStringContent {
			parts = append(parts, gePart{Text: m.StringContent})
		} else {
			for _, p := range m.Parts {
				switch p.Type {
				case schema.PartText:
					parts = append(parts, gePart{Text: p.Text})
				case schema.PartImage, schema.PartAudio, schema.PartVideo, schema.PartDocument:
					if p.Source != nil && p.Source.Type == schema.SourceBase64 {
						parts = append(parts, gePart{InlineData: &geInlineData{MimeType: p.Source.MediaType, Data: p.Source.Data}})
					}
				}
			}
		}
		for _, tc := range m.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			parts = append(parts, gePart{FunctionCall: &geFunctionCall{Name: tc.Function.Name, Args: args}})
		}
		out.Contents = append(out.Contents, geContent{Role: role, Parts: parts})
	}

	if len(req.Tools) > 0 {
		var decls []geFunctionDeclaration
		for _, t := range req.Tools {
			decls = append(decls, geFunctionDeclaration{Name: t.Function.Name, Description: t.Function.Description, Parameters: t.Function.Parameters})
		}
		out.Tools = []geTool{{FunctionDeclarations: decls}}
	}
	if req.ToolChoice != nil {
		mode := "AUTO"
		var allowed []string
		switch req.ToolChoice.Mode {
		case schema.ToolChoiceNone:
			mode = "NONE"
		case schema.ToolChoiceAny, schema.ToolChoiceRequired:
			mode = "ANY"
		case schema.ToolChoiceNamed:
			mode = "ANY"
			allowed = []string{req.ToolChoice.Name}
		}
		out.ToolConfig = &geToolConfig{FunctionCallingConfig: geFunctionCallingConfig{Mode: mode, AllowedFunctionNames: allowed}}
	}

	if g := req.Generation; g != nil {
		gc := &geGenerationConfig{Temperature: g.Temperature, TopP: g.TopP, TopK: g.TopK, MaxOutputTokens: g.MaxTokens}
		if len(g.StopSequences) > 0 {
			gc.StopSequences = g.StopSequences
		} else {
			gc.StopSequences = g.Stop
		}
		if g.N != nil {
			gc.CandidateCount = g.N
		}
		out.GenerationConfig = gc
	}
	return out
}

func fromGeminiResponse(model string, wire geResponse) *schema.Response {
	resp := &schema.Response{SchemaVersion: schema.SchemaVersion, Model: model}
	for i, cand := range wire.Candidates {
		msg := schema.Message{Role: schema.RoleAssistant}
		var textParts []schema.ContentPart
		for _, p := range cand.Content.Parts {
			switch {
			case p.Text != "":
				textParts = append(textParts, schema.ContentPart{Type: schema.PartText, Text: p.Text})
			case p.FunctionCall != nil:
				argsJSON, _ := json.Marshal(p.FunctionCall.Args)
				msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
					ID: fmt.Sprintf("call_%d_%s", i, p.FunctionCall.Name), Type: "function",
					Function: schema.ToolCallFunction{Name: p.FunctionCall.Name, Arguments: string(argsJSON)},
				})
			}
		}
		if len(textParts) > 0 {
			msg.Parts = textParts
		} else {
			msg.IsStringContent = true
		}
		resp.Choices = append(resp.Choices, schema.Choice{Index: cand.Index, Message: msg, FinishReason: mapGeminiFinishReason(cand.FinishReason, len(msg.ToolCalls) > 0)})
	}
	if wire.UsageMetadata != nil {
		resp.Usage = &schema.Usage{
			InputTokens: wire.UsageMetadata.PromptTokenCount, OutputTokens: wire.UsageMetadata.CandidatesTokenCount,
			PromptTokens: wire.UsageMetadata.PromptTokenCount, CompletionTokens: wire.UsageMetadata.CandidatesTokenCount,
		}
	}
	return resp
}

func mapGeminiFinishReason(r string, hasToolCalls bool) schema.FinishReason {
	if hasToolCalls {
		return schema.FinishToolCalls
	}
	switch r {
	case "STOP":
		return schema.FinishStop
	case "MAX_TOKENS":
		return schema.FinishMaxTokens
	case "SAFETY", "RECITATION":
		return schema.FinishContentFilter
	default:
		return schema.FinishStop
	}
}

// --- AIProvider -----------------------------------------------------------

func (c *Google) ChatCompletion(ctx context.Context, req *schema.Request) (*schema.Response, error) {
	headers, err := c.headers(ctx)
	if err != nil {
		return nil, err
	}
	wireReq := toGeminiRequest(req)
	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InternalError, "encode google request", err)
	}
	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, req.Model)
	respBody, err := c.doJSON(ctx, url, body, headers)
	if err != nil {
		return nil, err
	}
	var wireResp geResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.ProviderErrorKind, "decode google response", err)
	}
	return fromGeminiResponse(req.Model, wireResp), nil
}

func (c *Google) GetStreamingResponse(ctx context.Context, req *schema.Request) (io.ReadCloser, error) {
	headers, err := c.headers(ctx)
	if err != nil {
		return nil, err
	}
	wireReq := toGeminiRequest(req)
	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InternalError, "encode google stream request", err)
	}
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.baseURL, req.Model)
	return c.doStream(ctx, url, body, headers)
}

// GoogleStreamAdapter translates Gemini's streamGenerateContent SSE events
// into canonical stream events. Gemini has no general-purpose dialect
// registered in internal/adapters (spec.md §4.5), so this narrow adapter
// lives alongside the client rather than in the adapters package; it
// satisfies internal/streaming's SourceAdapter interface structurally.
type GoogleStreamAdapter struct{}

func (GoogleStreamAdapter) NewToolAssembler() *adapters.ToolAssembler { return adapters.NewToolAssembler() }

func (GoogleStreamAdapter) IsTerminal([]byte) bool {
	// Gemini's SSE stream has no explicit terminal sentinel frame; EOF on
	// the upstream body is the terminal condition, handled by the
	// streaming pipeline's read loop rather than this adapter.
	return false
}

func (GoogleStreamAdapter) SourceToCanonical(payload []byte, asm *adapters.ToolAssembler) ([]schema.StreamEvent, error) {
	var wire geResponse
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, nil
	}
	var events []schema.StreamEvent
	for i, cand := range wire.Candidates {
		for _, p := range cand.Content.Parts {
			switch {
			case p.Text != "":
				events = append(events, schema.StreamEvent{Type: schema.EventContentDelta, Part: schema.DeltaText, Value: p.Text})
			case p.FunctionCall != nil:
				argsJSON, _ := json.Marshal(p.FunctionCall.Args)
				idx := i
				asm.Start(idx, fmt.Sprintf("call_%d_%s", idx, p.FunctionCall.Name), p.FunctionCall.Name)
				asm.AppendArgs(idx, string(argsJSON))
				asm.MarkComplete(idx)
			}
		}
		if cand.FinishReason != "" {
			events = append(events, asm.CompleteEvents()...)
			events = append(events, schema.StreamEvent{Type: schema.EventComplete, FinishReason: mapGeminiFinishReason(cand.FinishReason, false)})
		}
	}
	if wire.UsageMetadata != nil {
		events = append(events, schema.StreamEvent{Type: schema.EventUsage, Usage: &schema.Usage{
			InputTokens: wire.UsageMetadata.PromptTokenCount, OutputTokens: wire.UsageMetadata.CandidatesTokenCount,
			PromptTokens: wire.UsageMetadata.PromptTokenCount, CompletionTokens: wire.UsageMetadata.CandidatesTokenCount,
		}})
	}
	return events, nil
}
