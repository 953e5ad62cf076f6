package adapters

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taipm/llm-gateway/internal/schema"
)

// OpenAIAdapter implements FormatAdapter for the OpenAI Chat Completions
// wire dialect. The same wire shape serves both as a client-facing ingress
// dialect and as an upstream provider dialect, so ClientToCanonical and
// CanonicalToProvider share translation logic, as do CanonicalToClient and
// ProviderToCanonical.
type OpenAIAdapter struct{}

func NewOpenAIAdapter() *OpenAIAdapter { return &OpenAIAdapter{} }

// --- wire types -------------------------------------------------------

type oaRequest struct {
	Model            string          `json:"model"`
	Messages         []oaMessage     `json:"messages"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	N                *int            `json:"n,omitempty"`
	Stop             json.RawMessage `json:"stop,omitempty"`
	Seed             *int64          `json:"seed,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	Logprobs         bool            `json:"logprobs,omitempty"`
	TopLogprobs      *int            `json:"top_logprobs,omitempty"`
	LogitBias        map[string]float64 `json:"logit_bias,omitempty"`
	Tools            []oaTool        `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool          `json:"parallel_tool_calls,omitempty"`
	Functions        []oaFunctionDef `json:"functions,omitempty"`
	FunctionCall     json.RawMessage `json:"function_call,omitempty"`
	ResponseFormat   *oaResponseFormat `json:"response_format,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	StreamOptions    *oaStreamOptions `json:"stream_options,omitempty"`
	ServiceTier      string          `json:"service_tier,omitempty"`
	ReasoningEffort  string          `json:"reasoning_effort,omitempty"`
	Modalities       []string        `json:"modalities,omitempty"`
	Audio            *oaAudio        `json:"audio,omitempty"`
	User             string          `json:"user,omitempty"`
}

type oaStreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

type oaAudio struct {
	Voice  string `json:"voice,omitempty"`
	Format string `json:"format,omitempty"`
}

type oaResponseFormat struct {
	Type       string              `json:"type"`
	JSONSchema *oaJSONSchemaFormat `json:"json_schema,omitempty"`
}

type oaJSONSchemaFormat struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Schema      any    `json:"schema"`
	Strict      bool   `json:"strict,omitempty"`
}

type oaMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  []oaToolCall    `json:"tool_calls,omitempty"`
}

type oaContentPart struct {
	Type       string         `json:"type"`
	Text       string         `json:"text,omitempty"`
	ImageURL   *oaImageURL    `json:"image_url,omitempty"`
	InputAudio *oaInputAudio  `json:"input_audio,omitempty"`
}

type oaImageURL struct {
	URL string `json:"url"`
}

type oaInputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type oaToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function oaToolCallFunction `json:"function"`
}

type oaToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaTool struct {
	Type     string        `json:"type"`
	Function oaFunctionDef `json:"function"`
}

type oaFunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
	Strict      bool   `json:"strict,omitempty"`
}

type oaNamedToolChoice struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

type oaResponse struct {
	ID                string      `json:"id"`
	Object            string      `json:"object"`
	Created           int64       `json:"created"`
	Model             string      `json:"model"`
	Choices           []oaChoice  `json:"choices"`
	Usage             *oaUsage    `json:"usage,omitempty"`
	SystemFingerprint string      `json:"system_fingerprint,omitempty"`
}

type oaChoice struct {
	Index        int       `json:"index"`
	Message      oaMessage `json:"message"`
	FinishReason string    `json:"finish_reason"`
	Logprobs     any       `json:"logprobs,omitempty"`
}

type oaUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Streaming chunk shape.
type oaChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []oaChunkChoice `json:"choices"`
	Usage   *oaUsage      `json:"usage,omitempty"`
}

type oaChunkChoice struct {
	Index        int         `json:"index"`
	Delta        oaDelta     `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type oaDelta struct {
	Role      string            `json:"role,omitempty"`
	Content   string            `json:"content,omitempty"`
	ToolCalls []oaDeltaToolCall `json:"tool_calls,omitempty"`
}

type oaDeltaToolCall struct {
	Index    int                `json:"index"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function oaToolCallFunction `json:"function"`
}

// --- content helpers ----------------------------------------------------

func contentPartsToOpenAI(parts []schema.ContentPart) []oaContentPart {
	var out []oaContentPart
	for _, p := range parts {
		switch p.Type {
		case schema.PartText:
			out = append(out, oaContentPart{Type: "text", Text: p.Text})
		case schema.PartImage:
			if p.Source == nil {
				continue
			}
			if p.Source.Type == schema.SourceBase64 {
				out = append(out, oaContentPart{Type: "image_url", ImageURL: &oaImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", p.Source.MediaType, p.Source.Data),
				}})
			} else {
				out = append(out, oaContentPart{Type: "image_url", ImageURL: &oaImageURL{URL: p.Source.URL}})
			}
		case schema.PartAudio:
			if p.Source != nil && p.Source.Type == schema.SourceBase64 {
				format := strings.TrimPrefix(p.Source.MediaType, "audio/")
				out = append(out, oaContentPart{Type: "input_audio", InputAudio: &oaInputAudio{Data: p.Source.Data, Format: format}})
			}
		case schema.PartToolResult:
			text := p.ToolContent
			if text == "" && len(p.ToolContentParts) > 0 {
				b, _ := json.Marshal(p.ToolContentParts)
				text = string(b)
			}
			out = append(out, oaContentPart{Type: "text", Text: text})
		// video/document: dropped, OpenAI chat completions has no general
		// representation for them (dropped content policy, spec.md §4.1).
		}
	}
	return out
}

func marshalOAMessageContent(m schema.Message) json.RawMessage {
	if m.IsStringContent || len(m.Parts) == 0 {
		b, _ := json.Marshal(m.StringContent)
		return b
	}
	parts := contentPartsToOpenAI(m.Parts)
	b, _ := json.Marshal(parts)
	return b
}

func messagesToOpenAI(system string, msgs []schema.Message) []oaMessage {
	var out []oaMessage
	if system != "" {
		b, _ := json.Marshal(system)
		out = append(out, oaMessage{Role: "system", Content: b})
	}
	for _, m := range msgs {
		wm := oaMessage{
			Role:       string(m.Role),
			Content:    marshalOAMessageContent(m),
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, oaToolCall{
				ID:   tc.ID,
				Type: tc.Type,
				Function: oaToolCallFunction{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, wm)
	}
	return out
}

func parseOAContent(raw json.RawMessage) (isString bool, str string, parts []schema.ContentPart) {
	if len(raw) == 0 {
		return true, "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return true, s, nil
	}
	var oaParts []oaContentPart
	if err := json.Unmarshal(raw, &oaParts); err != nil {
		return true, "", nil
	}
	for _, p := range oaParts {
		switch p.Type {
		case "text":
			parts = append(parts, schema.ContentPart{Type: schema.PartText, Text: p.Text})
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			if strings.HasPrefix(p.ImageURL.URL, "data:") {
				mediaType, data := splitDataURL(p.ImageURL.URL)
				parts = append(parts, schema.ContentPart{Type: schema.PartImage, Source: &schema.MediaSource{
					Type: schema.SourceBase64, MediaType: mediaType, Data: data,
				}})
			} else {
				parts = append(parts, schema.ContentPart{Type: schema.PartImage, Source: &schema.MediaSource{
					Type: schema.SourceURL, URL: p.ImageURL.URL,
				}})
			}
		case "input_audio":
			if p.InputAudio == nil {
				continue
			}
			parts = append(parts, schema.ContentPart{Type: schema.PartAudio, Source: &schema.MediaSource{
				Type: schema.SourceBase64, MediaType: "audio/" + p.InputAudio.Format, Data: p.InputAudio.Data,
			}})
		}
	}
	return false, "", parts
}

func splitDataURL(u string) (mediaType, data string) {
	// "data:image/png;base64,AAAA"
	rest := strings.TrimPrefix(u, "data:")
	semi := strings.Index(rest, ";")
	comma := strings.Index(rest, ",")
	if semi < 0 || comma < 0 {
		return "", rest
	}
	return rest[:semi], rest[comma+1:]
}

// --- ClientToCanonical / CanonicalToProvider ----------------------------

// oaKnownFields is every JSON key oaRequest itself decodes, used to split
// an incoming request body into "fields we modeled" and "fields we
// didn't" when capturing provider_params.openai (spec.md §3).
var oaKnownFields = map[string]bool{
	"model": true, "messages": true, "temperature": true, "top_p": true,
	"max_tokens": true, "n": true, "stop": true, "seed": true,
	"frequency_penalty": true, "presence_penalty": true, "logprobs": true,
	"top_logprobs": true, "logit_bias": true, "tools": true, "tool_choice": true,
	"parallel_tool_calls": true, "functions": true, "function_call": true,
	"response_format": true, "stream": true, "stream_options": true,
	"service_tier": true, "reasoning_effort": true, "modalities": true,
	"audio": true, "user": true,
}

// ClientToCanonical parses an inbound OpenAI Chat Completions request.
// The first role:"system" message is extracted into the canonical system
// field; remaining messages preserve role (spec.md §4.1).
func (a *OpenAIAdapter) ClientToCanonical(raw []byte) (*schema.Request, error) {
	var wire oaRequest
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("parse openai request: %w", err)
	}

	req := &schema.Request{
		SchemaVersion: schema.SchemaVersion,
		Model:         wire.Model,
		Stream:        wire.Stream,
	}

	var rawFields map[string]json.RawMessage
	if json.Unmarshal(raw, &rawFields) == nil {
		passthrough := map[string]any{}
		for k, v := range rawFields {
			if oaKnownFields[k] {
				continue
			}
			var val any
			if json.Unmarshal(v, &val) == nil {
				passthrough[k] = val
			}
		}
		if len(passthrough) > 0 {
			req.ProviderParams = map[string]map[string]any{"openai": passthrough}
		}
	}
	if wire.StreamOptions != nil {
		req.StreamIncludeUsage = wire.StreamOptions.IncludeUsage
	}

	systemExtracted := false
	for _, wm := range wire.Messages {
		if !systemExtracted && wm.Role == "system" {
			isStr, s, parts := parseOAContent(wm.Content)
			if isStr {
				req.SystemText = s
			} else {
				for _, p := range parts {
					if p.Type == schema.PartText {
						req.SystemText += p.Text
					}
				}
			}
			systemExtracted = true
			continue
		}
		req.Messages = append(req.Messages, oaMessageToCanonical(wm))
	}

	req.Generation = &schema.GenerationParams{
		MaxTokens:        wire.MaxTokens,
		Temperature:      wire.Temperature,
		TopP:             wire.TopP,
		Seed:             wire.Seed,
		FrequencyPenalty: wire.FrequencyPenalty,
		PresencePenalty:  wire.PresencePenalty,
		N:                wire.N,
		LogProbs:         wire.Logprobs,
		TopLogProbs:      wire.TopLogprobs,
		LogitBias:        wire.LogitBias,
	}
	if len(wire.Stop) > 0 {
		req.Generation.Stop = parseStopField(wire.Stop)
	}

	for _, t := range wire.Tools {
		req.Tools = append(req.Tools, schema.Tool{Type: t.Type, Function: schema.FunctionDef{
			Name: t.Function.Name, Description: t.Function.Description, Parameters: t.Function.Parameters, Strict: t.Function.Strict,
		}})
	}
	req.ToolChoice = parseOAToolChoice(wire.ToolChoice)
	req.ParallelToolCalls = wire.ParallelToolCalls

	for _, f := range wire.Functions {
		req.Functions = append(req.Functions, schema.FunctionDef{Name: f.Name, Description: f.Description, Parameters: f.Parameters})
	}
	if len(wire.FunctionCall) > 0 {
		var s string
		if json.Unmarshal(wire.FunctionCall, &s) == nil {
			req.FunctionCall = s
		}
	}

	if wire.ResponseFormat != nil {
		req.ResponseFormat = &schema.ResponseFormat{Type: schema.ResponseFormatType(wire.ResponseFormat.Type)}
		if wire.ResponseFormat.JSONSchema != nil {
			req.ResponseFormat.JSONSchema = &schema.JSONSchemaFormat{
				Name: wire.ResponseFormat.JSONSchema.Name, Description: wire.ResponseFormat.JSONSchema.Description,
				Schema: wire.ResponseFormat.JSONSchema.Schema, Strict: wire.ResponseFormat.JSONSchema.Strict,
			}
		}
	}

	req.ServiceTier = wire.ServiceTier
	req.ReasoningEffort = schema.ReasoningEffort(wire.ReasoningEffort)
	req.Modalities = wire.Modalities
	if wire.Audio != nil {
		req.Audio = &schema.Audio{Voice: wire.Audio.Voice, Format: wire.Audio.Format}
	}
	req.User = wire.User

	return req, nil
}

func parseStopField(raw json.RawMessage) []string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return []string{s}
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return list
	}
	return nil
}

func parseOAToolChoice(raw json.RawMessage) *schema.ToolChoice {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		switch s {
		case "auto":
			return &schema.ToolChoice{Mode: schema.ToolChoiceAuto}
		case "none":
			return &schema.ToolChoice{Mode: schema.ToolChoiceNone}
		case "required":
			return &schema.ToolChoice{Mode: schema.ToolChoiceRequired}
		}
		return nil
	}
	var named oaNamedToolChoice
	if json.Unmarshal(raw, &named) == nil && named.Function.Name != "" {
		return &schema.ToolChoice{Mode: schema.ToolChoiceNamed, Name: named.Function.Name}
	}
	return nil
}

func oaMessageToCanonical(wm oaMessage) schema.Message {
	isStr, s, parts := parseOAContent(wm.Content)
	m := schema.Message{
		Role:            schema.Role(wm.Role),
		IsStringContent: isStr,
		StringContent:   s,
		Parts:           parts,
		Name:            wm.Name,
		ToolCallID:      wm.ToolCallID,
	}
	for _, tc := range wm.ToolCalls {
		m.ToolCalls = append(m.ToolCalls, schema.ToolCall{
			ID: tc.ID, Type: tc.Type,
			Function: schema.ToolCallFunction{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
		})
	}
	return m
}

// CanonicalToProvider renders a canonical request as OpenAI wire JSON, for
// dispatch to an OpenAI-compatible upstream.
func (a *OpenAIAdapter) CanonicalToProvider(req *schema.Request) ([]byte, error) {
	wire := canonicalToOAWire(req)
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	return applyOAPassthrough(body, req.ProviderParams)
}

// applyOAPassthrough re-merges provider_params.openai captured on ingress
// back onto the outgoing wire body, letting unmodeled fields survive a
// same-dialect round trip (spec.md §3). Modeled fields always win.
func applyOAPassthrough(body []byte, providerParams map[string]map[string]any) ([]byte, error) {
	passthrough := providerParams["openai"]
	if len(passthrough) == 0 {
		return body, nil
	}
	var merged map[string]any
	if err := json.Unmarshal(body, &merged); err != nil {
		return body, nil
	}
	for k, v := range passthrough {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

func canonicalToOAWire(req *schema.Request) oaRequest {
	wire := oaRequest{
		Model:    req.Model,
		Messages: messagesToOpenAI(req.SystemText, req.Messages),
		Stream:   req.Stream,
	}
	if req.StreamIncludeUsage {
		wire.StreamOptions = &oaStreamOptions{IncludeUsage: true}
	}
	if g := req.Generation; g != nil {
		wire.MaxTokens = g.MaxTokens
		wire.Temperature = g.Temperature
		wire.TopP = g.TopP
		wire.Seed = g.Seed
		wire.FrequencyPenalty = g.FrequencyPenalty
		wire.PresencePenalty = g.PresencePenalty
		wire.N = g.N
		wire.Logprobs = g.LogProbs
		wire.TopLogprobs = g.TopLogProbs
		wire.LogitBias = g.LogitBias
		if len(g.Stop) == 1 {
			b, _ := json.Marshal(g.Stop[0])
			wire.Stop = b
		} else if len(g.Stop) > 1 {
			b, _ := json.Marshal(g.Stop)
			wire.Stop = b
		}
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, oaTool{Type: t.Type, Function: oaFunctionDef{
			Name: t.Function.Name, Description: t.Function.Description, Parameters: t.Function.Parameters, Strict: t.Function.Strict,
		}})
	}
	wire.ToolChoice = encodeOAToolChoice(req.ToolChoice)
	wire.ParallelToolCalls = req.ParallelToolCalls
	if req.ResponseFormat != nil {
		wire.ResponseFormat = &oaResponseFormat{Type: string(req.ResponseFormat.Type)}
		if req.ResponseFormat.JSONSchema != nil {
			wire.ResponseFormat.JSONSchema = &oaJSONSchemaFormat{
				Name: req.ResponseFormat.JSONSchema.Name, Description: req.ResponseFormat.JSONSchema.Description,
				Schema: req.ResponseFormat.JSONSchema.Schema, Strict: req.ResponseFormat.JSONSchema.Strict,
			}
		}
	}
	wire.ServiceTier = req.ServiceTier
	wire.ReasoningEffort = string(req.ReasoningEffort)
	wire.Modalities = req.Modalities
	if req.Audio != nil {
		wire.Audio = &oaAudio{Voice: req.Audio.Voice, Format: req.Audio.Format}
	}
	wire.User = req.User
	return wire
}

// encodeOAToolChoice implements the resolved Open Question (a): "required"
// maps to OpenAI's native "required" string, not the weaker "auto".
func encodeOAToolChoice(tc *schema.ToolChoice) json.RawMessage {
	if tc == nil {
		return nil
	}
	switch tc.Mode {
	case schema.ToolChoiceAuto:
		b, _ := json.Marshal("auto")
		return b
	case schema.ToolChoiceNone:
		b, _ := json.Marshal("none")
		return b
	case schema.ToolChoiceRequired, schema.ToolChoiceAny:
		b, _ := json.Marshal("required")
		return b
	case schema.ToolChoiceNamed:
		named := oaNamedToolChoice{Type: "function"}
		named.Function.Name = tc.Name
		b, _ := json.Marshal(named)
		return b
	}
	return nil
}

// --- ProviderToCanonical / CanonicalToClient -----------------------------

// ProviderToCanonical parses a non-streaming OpenAI-wire response.
func (a *OpenAIAdapter) ProviderToCanonical(raw []byte) (*schema.Response, error) {
	var wire oaResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("parse openai response: %w", err)
	}
	resp := &schema.Response{
		SchemaVersion:     schema.SchemaVersion,
		ID:                wire.ID,
		Model:             wire.Model,
		Created:           wire.Created,
		SystemFingerprint: wire.SystemFingerprint,
	}
	for _, c := range wire.Choices {
		resp.Choices = append(resp.Choices, schema.Choice{
			Index:        c.Index,
			Message:      oaMessageToCanonical(c.Message),
			FinishReason: mapOAFinishReason(c.FinishReason),
			Logprobs:     c.Logprobs,
		})
	}
	if wire.Usage != nil {
		resp.Usage = &schema.Usage{
			InputTokens: wire.Usage.PromptTokens, OutputTokens: wire.Usage.CompletionTokens,
			PromptTokens: wire.Usage.PromptTokens, CompletionTokens: wire.Usage.CompletionTokens,
		}
	}
	return resp, nil
}

func mapOAFinishReason(r string) schema.FinishReason {
	switch r {
	case "stop":
		return schema.FinishStop
	case "length":
		return schema.FinishMaxTokens
	case "tool_calls":
		return schema.FinishToolCalls
	case "content_filter":
		return schema.FinishContentFilter
	case "function_call":
		return schema.FinishFunctionCall
	default:
		return schema.FinishReason(r)
	}
}

// mapOAStreamFinishReason is mapOAFinishReason's streaming sibling: a
// stream's EventComplete carries the singular schema.FinishToolCall, not
// the Response object's plural schema.FinishToolCalls (spec.md §4.1).
func mapOAStreamFinishReason(r string) schema.FinishReason {
	switch r {
	case "tool_calls", "function_call":
		return schema.FinishToolCall
	default:
		return mapOAFinishReason(r)
	}
}

func canonicalFinishToOA(r schema.FinishReason) string {
	switch r {
	case schema.FinishStop:
		return "stop"
	case schema.FinishMaxTokens:
		return "length"
	case schema.FinishToolCalls, schema.FinishToolCall:
		return "tool_calls"
	case schema.FinishContentFilter:
		return "content_filter"
	case schema.FinishFunctionCall:
		return "function_call"
	case schema.FinishStopSequence:
		return "stop"
	default:
		return "stop"
	}
}

// CanonicalToClient renders a canonical response as OpenAI wire JSON.
func (a *OpenAIAdapter) CanonicalToClient(resp *schema.Response) ([]byte, error) {
	wire := oaResponse{
		ID: resp.ID, Object: "chat.completion", Created: resp.Created, Model: resp.Model,
		SystemFingerprint: resp.SystemFingerprint,
	}
	for _, c := range resp.Choices {
		wm := oaMessage{Role: string(c.Message.Role), Content: marshalOAMessageContent(c.Message)}
		for _, tc := range c.Message.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, oaToolCall{ID: tc.ID, Type: tc.Type, Function: oaToolCallFunction{
				Name: tc.Function.Name, Arguments: tc.Function.Arguments,
			}})
		}
		wire.Choices = append(wire.Choices, oaChoice{
			Index: c.Index, Message: wm, FinishReason: canonicalFinishToOA(c.FinishReason), Logprobs: c.Logprobs,
		})
	}
	if resp.Usage != nil {
		wire.Usage = &oaUsage{
			PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens: resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
		}
	}
	return json.Marshal(wire)
}

// --- streaming ------------------------------------------------------------

func (a *OpenAIAdapter) NewToolAssembler() *ToolAssembler { return NewToolAssembler() }

// IsTerminal reports the OpenAI "[DONE]" sentinel.
func (a *OpenAIAdapter) IsTerminal(payload []byte) bool {
	return strings.TrimSpace(string(payload)) == "[DONE]"
}

// SourceToCanonical implements the OpenAI chunk translation table in
// spec.md §4.1.
func (a *OpenAIAdapter) SourceToCanonical(payload []byte, asm *ToolAssembler) ([]schema.StreamEvent, error) {
	if a.IsTerminal(payload) {
		return nil, nil
	}
	var chunk oaChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		// SSE parse failures mid-stream are logged and skipped, never
		// fatal (spec.md §4.1, §7) — the caller logs; we just return none.
		return nil, nil
	}

	var events []schema.StreamEvent

	if len(chunk.Choices) > 0 {
		choice := chunk.Choices[0]
		if choice.Delta.Role != "" {
			events = append(events, schema.StreamEvent{Type: schema.EventMessageStart, ID: chunk.ID, Model: chunk.Model})
		}
		if choice.Delta.Content != "" {
			events = append(events, schema.StreamEvent{Type: schema.EventContentDelta, Part: schema.DeltaText, Value: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := tc.Index
			asm.Start(idx, tc.ID, tc.Function.Name)
			if tc.Function.Arguments != "" {
				asm.AppendArgs(idx, tc.Function.Arguments)
			}
			events = append(events, schema.StreamEvent{
				Type: schema.EventContentDelta, Part: schema.DeltaToolCall, Value: tc.Function.Arguments,
				ToolIndex: intPtr(idx), FunctionName: tc.Function.Name,
			})
		}
		if choice.FinishReason != nil {
			asm.MarkAllComplete()
			events = append(events, asm.CompleteEvents()...)
			events = append(events, schema.StreamEvent{Type: schema.EventComplete, FinishReason: mapOAStreamFinishReason(*choice.FinishReason)})
		}
	}

	if chunk.Usage != nil {
		events = append(events, schema.StreamEvent{Type: schema.EventUsage, Usage: &schema.Usage{
			PromptTokens: chunk.Usage.PromptTokens, CompletionTokens: chunk.Usage.CompletionTokens,
			InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens,
		}})
	}

	return events, nil
}

func intPtr(i int) *int { return &i }

// EncodeClientEvent re-serializes a canonical event as an OpenAI streaming
// chunk's "data: {...}" payload body (the caller adds framing).
func (a *OpenAIAdapter) EncodeClientEvent(ev schema.StreamEvent, st *EncodeState) ([]byte, error) {
	chunk := oaChunk{ID: st.ResponseID, Object: "chat.completion.chunk", Model: st.Model}
	switch ev.Type {
	case schema.EventMessageStart:
		chunk.Choices = []oaChunkChoice{{Index: 0, Delta: oaDelta{Role: "assistant"}}}
	case schema.EventContentDelta:
		switch ev.Part {
		case schema.DeltaText:
			chunk.Choices = []oaChunkChoice{{Index: 0, Delta: oaDelta{Content: ev.Value}}}
		case schema.DeltaToolCall:
			idx := 0
			if ev.ToolIndex != nil {
				idx = *ev.ToolIndex
			}
			chunk.Choices = []oaChunkChoice{{Index: 0, Delta: oaDelta{ToolCalls: []oaDeltaToolCall{{
				Index: idx, Function: oaToolCallFunction{Name: ev.FunctionName, Arguments: ev.Value},
			}}}}}
		default:
			return nil, nil
		}
	case schema.EventToolCall:
		return nil, nil // already emitted as content_delta chunks in this dialect
	case schema.EventComplete:
		reason := canonicalFinishToOA(ev.FinishReason)
		chunk.Choices = []oaChunkChoice{{Index: 0, Delta: oaDelta{}, FinishReason: &reason}}
	case schema.EventUsage:
		if ev.Usage != nil {
			chunk.Usage = &oaUsage{PromptTokens: ev.Usage.PromptTokens, CompletionTokens: ev.Usage.CompletionTokens,
				TotalTokens: ev.Usage.PromptTokens + ev.Usage.CompletionTokens}
		}
		chunk.Choices = []oaChunkChoice{}
	}
	return json.Marshal(chunk)
}
