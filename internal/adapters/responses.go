package adapters

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taipm/llm-gateway/internal/schema"
)

// ResponsesAdapter implements FormatAdapter for the OpenAI Responses wire
// dialect: input is a flat list of typed items rather than role-tagged
// messages, output is output[] items, and usage on the streaming path is
// recovered by brace-counting the raw response.completed payload rather
// than a dedicated usage event (spec.md §4.1).
type ResponsesAdapter struct{}

func NewResponsesAdapter() *ResponsesAdapter { return &ResponsesAdapter{} }

// --- wire types -------------------------------------------------------

type rsRequest struct {
	Model             string          `json:"model"`
	Input             json.RawMessage `json:"input"`
	Instructions      string          `json:"instructions,omitempty"`
	Temperature       *float64        `json:"temperature,omitempty"`
	TopP              *float64        `json:"top_p,omitempty"`
	MaxOutputTokens   *int            `json:"max_output_tokens,omitempty"`
	Tools             []rsTool        `json:"tools,omitempty"`
	ToolChoice        json.RawMessage `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool           `json:"parallel_tool_calls,omitempty"`
	Stream            bool            `json:"stream,omitempty"`
	Reasoning         *rsReasoning    `json:"reasoning,omitempty"`
	Text              *rsTextFormat   `json:"text,omitempty"`
	ServiceTier       string          `json:"service_tier,omitempty"`
	User              string          `json:"user,omitempty"`
}

type rsReasoning struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

type rsTextFormat struct {
	Format *rsResponseFormat `json:"format,omitempty"`
}

type rsResponseFormat struct {
	Type   string `json:"type"`
	Name   string `json:"name,omitempty"`
	Schema any    `json:"schema,omitempty"`
	Strict bool   `json:"strict,omitempty"`
}

type rsTool struct {
	Type        string `json:"type"` // "function"
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
	Strict      bool   `json:"strict,omitempty"`
}

// rsInputItem is a tagged union over {message, function_call, function_call_output}.
type rsInputItem struct {
	Type    string          `json:"type,omitempty"` // "message" default when absent
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`

	// function_call
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// function_call_output
	Output string `json:"output,omitempty"`
}

type rsContentPart struct {
	Type     string    `json:"type"` // input_text|output_text|input_image|input_audio
	Text     string    `json:"text,omitempty"`
	ImageURL string    `json:"image_url,omitempty"`
	Audio    *rsAudio  `json:"audio,omitempty"`
}

type rsAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type rsResponse struct {
	ID     string         `json:"id"`
	Object string         `json:"object"`
	Model  string         `json:"model"`
	Status string         `json:"status"`
	Output []rsOutputItem `json:"output"`
	Usage  *rsUsage       `json:"usage,omitempty"`
}

type rsOutputItem struct {
	Type      string          `json:"type"` // message|function_call
	ID        string          `json:"id,omitempty"`
	Role      string          `json:"role,omitempty"`
	Content   []rsContentPart `json:"content,omitempty"`
	Status    string          `json:"status,omitempty"`

	// function_call
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type rsUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// streaming event envelope: {"type":"response.output_text.delta", "delta":"...", ...}
// One struct covers every Responses event type this adapter handles; each
// event fills only the fields it defines and the rest stay zero.
type rsStreamEnvelope struct {
	Type           string          `json:"type"`
	Delta          string          `json:"delta,omitempty"`
	ItemID         string          `json:"item_id,omitempty"`
	OutputIndex    *int            `json:"output_index,omitempty"`
	Item           *rsOutputItem   `json:"item,omitempty"`
	Response       *rsResponse     `json:"response,omitempty"`
}

// --- content helpers ----------------------------------------------------

func rsContentFromCanonical(parts []schema.ContentPart, output bool) []rsContentPart {
	textType := "input_text"
	if output {
		textType = "output_text"
	}
	var out []rsContentPart
	for _, p := range parts {
		switch p.Type {
		case schema.PartText:
			out = append(out, rsContentPart{Type: textType, Text: p.Text})
		case schema.PartImage:
			if p.Source == nil {
				continue
			}
			url := p.Source.URL
			if p.Source.Type == schema.SourceBase64 {
				url = fmt.Sprintf("data:%s;base64,%s", p.Source.MediaType, p.Source.Data)
			}
			out = append(out, rsContentPart{Type: "input_image", ImageURL: url})
		case schema.PartAudio:
			if p.Source != nil && p.Source.Type == schema.SourceBase64 {
				format := strings.TrimPrefix(p.Source.MediaType, "audio/")
				out = append(out, rsContentPart{Type: "input_audio", Audio: &rsAudio{Data: p.Source.Data, Format: format}})
			}
		}
	}
	return out
}

func rsContentToCanonical(parts []rsContentPart) []schema.ContentPart {
	var out []schema.ContentPart
	for _, p := range parts {
		switch p.Type {
		case "input_text", "output_text":
			out = append(out, schema.ContentPart{Type: schema.PartText, Text: p.Text})
		case "input_image":
			if strings.HasPrefix(p.ImageURL, "data:") {
				mediaType, data := splitDataURL(p.ImageURL)
				out = append(out, schema.ContentPart{Type: schema.PartImage, Source: &schema.MediaSource{
					Type: schema.SourceBase64, MediaType: mediaType, Data: data,
				}})
			} else {
				out = append(out, schema.ContentPart{Type: schema.PartImage, Source: &schema.MediaSource{
					Type: schema.SourceURL, URL: p.ImageURL,
				}})
			}
		case "input_audio":
			if p.Audio != nil {
				out = append(out, schema.ContentPart{Type: schema.PartAudio, Source: &schema.MediaSource{
					Type: schema.SourceBase64, MediaType: "audio/" + p.Audio.Format, Data: p.Audio.Data,
				}})
			}
		}
	}
	return out
}

// --- ClientToCanonical / CanonicalToProvider ----------------------------

// ClientToCanonical parses an inbound Responses request. input is either a
// plain string (a single implicit user message) or a flat list of typed
// items; function_call/function_call_output items translate into
// assistant tool_calls and tool-role messages respectively (spec.md §4.1).
func (a *ResponsesAdapter) ClientToCanonical(raw []byte) (*schema.Request, error) {
	var wire rsRequest
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("parse responses request: %w", err)
	}

	req := &schema.Request{SchemaVersion: schema.SchemaVersion, Model: wire.Model, Stream: wire.Stream, SystemText: wire.Instructions}

	items, singleText, isSingle := parseRsInput(wire.Input)
	if isSingle {
		req.Messages = append(req.Messages, schema.Message{Role: schema.RoleUser, IsStringContent: true, StringContent: singleText})
	} else {
		pendingCalls := map[string]*schema.Message{}
		for _, item := range items {
			switch item.Type {
			case "function_call":
				m := &schema.Message{Role: schema.RoleAssistant}
				m.ToolCalls = append(m.ToolCalls, schema.ToolCall{ID: item.CallID, Type: "function", Function: schema.ToolCallFunction{
					Name: item.Name, Arguments: item.Arguments,
				}})
				req.Messages = append(req.Messages, *m)
				pendingCalls[item.CallID] = m
			case "function_call_output":
				req.Messages = append(req.Messages, schema.Message{
					Role: schema.RoleTool, ToolCallID: item.CallID, IsStringContent: true, StringContent: item.Output,
				})
			default: // "message" or implicit message item
				role := item.Role
				if role == "" {
					role = "user"
				}
				isStr, s, parts := parseRsItemContent(item.Content)
				req.Messages = append(req.Messages, schema.Message{
					Role: schema.Role(role), IsStringContent: isStr, StringContent: s, Parts: parts,
				})
			}
		}
	}

	req.Generation = &schema.GenerationParams{MaxTokens: wire.MaxOutputTokens, Temperature: wire.Temperature, TopP: wire.TopP}

	for _, t := range wire.Tools {
		req.Tools = append(req.Tools, schema.Tool{Type: "function", Function: schema.FunctionDef{
			Name: t.Name, Description: t.Description, Parameters: t.Parameters, Strict: t.Strict,
		}})
	}
	req.ToolChoice = parseOAToolChoice(wire.ToolChoice) // same {"auto"|"none"|"required"|{type,function:{name}}} shape
	req.ParallelToolCalls = wire.ParallelToolCalls

	if wire.Reasoning != nil {
		req.ReasoningEffort = schema.ReasoningEffort(wire.Reasoning.Effort)
	}
	if wire.Text != nil && wire.Text.Format != nil {
		req.ResponseFormat = &schema.ResponseFormat{Type: schema.ResponseFormatType(wire.Text.Format.Type)}
		if wire.Text.Format.Type == "json_schema" {
			req.ResponseFormat.JSONSchema = &schema.JSONSchemaFormat{
				Name: wire.Text.Format.Name, Schema: wire.Text.Format.Schema, Strict: wire.Text.Format.Strict,
			}
		}
	}
	req.ServiceTier = wire.ServiceTier
	req.User = wire.User

	return req, nil
}

func parseRsInput(raw json.RawMessage) (items []rsInputItem, singleText string, isSingle bool) {
	if len(raw) == 0 {
		return nil, "", false
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return nil, s, true
	}
	var list []rsInputItem
	if json.Unmarshal(raw, &list) == nil {
		return list, "", false
	}
	return nil, "", false
}

func parseRsItemContent(raw json.RawMessage) (isString bool, str string, parts []schema.ContentPart) {
	if len(raw) == 0 {
		return true, "", nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return true, s, nil
	}
	var rsParts []rsContentPart
	if json.Unmarshal(raw, &rsParts) == nil {
		return false, "", rsContentToCanonical(rsParts)
	}
	return true, "", nil
}

// CanonicalToProvider renders a canonical request as Responses wire JSON.
func (a *ResponsesAdapter) CanonicalToProvider(req *schema.Request) ([]byte, error) {
	wire := rsRequest{Model: req.Model, Instructions: req.SystemText, Stream: req.Stream}

	var items []rsInputItem
	for _, m := range req.Messages {
		switch m.Role {
		case schema.RoleTool:
			items = append(items, rsInputItem{Type: "function_call_output", CallID: m.ToolCallID, Output: m.Text()})
		case schema.RoleAssistant:
			if len(m.ToolCalls) > 0 {
				for _, tc := range m.ToolCalls {
					items = append(items, rsInputItem{Type: "function_call", CallID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
				}
				if text := m.Text(); text != "" {
					items = append(items, rsInputItem{Type: "message", Role: "assistant", Content: marshalRsContent(m, true)})
				}
				continue
			}
			items = append(items, rsInputItem{Type: "message", Role: "assistant", Content: marshalRsContent(m, true)})
		default:
			items = append(items, rsInputItem{Type: "message", Role: string(m.Role), Content: marshalRsContent(m, false)})
		}
	}
	b, _ := json.Marshal(items)
	wire.Input = b

	if g := req.Generation; g != nil {
		wire.MaxOutputTokens = g.MaxTokens
		wire.Temperature = g.Temperature
		wire.TopP = g.TopP
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, rsTool{Type: "function", Name: t.Function.Name, Description: t.Function.Description, Parameters: t.Function.Parameters, Strict: t.Function.Strict})
	}
	wire.ToolChoice = encodeOAToolChoice(req.ToolChoice)
	wire.ParallelToolCalls = req.ParallelToolCalls
	if req.ReasoningEffort != "" {
		wire.Reasoning = &rsReasoning{Effort: string(req.ReasoningEffort)}
	}
	if req.ResponseFormat != nil {
		rf := &rsResponseFormat{Type: string(req.ResponseFormat.Type)}
		if req.ResponseFormat.JSONSchema != nil {
			rf.Name = req.ResponseFormat.JSONSchema.Name
			rf.Schema = req.ResponseFormat.JSONSchema.Schema
			rf.Strict = req.ResponseFormat.JSONSchema.Strict
		}
		wire.Text = &rsTextFormat{Format: rf}
	}
	wire.ServiceTier = req.ServiceTier
	wire.User = req.User

	return json.Marshal(wire)
}

func marshalRsContent(m schema.Message, output bool) json.RawMessage {
	if m.IsStringContent || len(m.Parts) == 0 {
		b, _ := json.Marshal(m.StringContent)
		return b
	}
	b, _ := json.Marshal(rsContentFromCanonical(m.Parts, output))
	return b
}

// --- ProviderToCanonical / CanonicalToClient -----------------------------

func (a *ResponsesAdapter) ProviderToCanonical(raw []byte) (*schema.Response, error) {
	var wire rsResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("parse responses response: %w", err)
	}
	resp := &schema.Response{SchemaVersion: schema.SchemaVersion, ID: wire.ID, Model: wire.Model}

	msg := schema.Message{Role: schema.RoleAssistant}
	finish := schema.FinishStop
	for _, item := range wire.Output {
		switch item.Type {
		case "message":
			parts := rsContentToCanonical(item.Content)
			msg.Parts = append(msg.Parts, parts...)
		case "function_call":
			msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{ID: item.CallID, Type: "function", Function: schema.ToolCallFunction{
				Name: item.Name, Arguments: item.Arguments,
			}})
			finish = schema.FinishToolCalls
		}
	}
	resp.Choices = []schema.Choice{{Index: 0, Message: msg, FinishReason: finish}}

	if wire.Usage != nil {
		resp.Usage = &schema.Usage{
			InputTokens: wire.Usage.InputTokens, OutputTokens: wire.Usage.OutputTokens,
			PromptTokens: wire.Usage.InputTokens, CompletionTokens: wire.Usage.OutputTokens,
		}
	}
	return resp, nil
}

func (a *ResponsesAdapter) CanonicalToClient(resp *schema.Response) ([]byte, error) {
	wire := rsResponse{ID: resp.ID, Object: "response", Model: resp.Model, Status: "completed"}
	if len(resp.Choices) > 0 {
		c := resp.Choices[0]
		item := rsOutputItem{Type: "message", Role: "assistant", Status: "completed"}
		if c.Message.IsStringContent {
			item.Content = []rsContentPart{{Type: "output_text", Text: c.Message.StringContent}}
		} else {
			item.Content = rsContentFromCanonical(c.Message.Parts, true)
		}
		wire.Output = append(wire.Output, item)
		for _, tc := range c.Message.ToolCalls {
			wire.Output = append(wire.Output, rsOutputItem{
				Type: "function_call", CallID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments, Status: "completed",
			})
		}
	}
	if resp.Usage != nil {
		wire.Usage = &rsUsage{
			InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens,
			TotalTokens: resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return json.Marshal(wire)
}

// --- streaming ------------------------------------------------------------

func (a *ResponsesAdapter) NewToolAssembler() *ToolAssembler { return NewToolAssembler() }

func (a *ResponsesAdapter) IsTerminal(payload []byte) bool {
	return strings.Contains(string(payload), `"type":"response.completed"`) ||
		strings.Contains(string(payload), `"type":"response.failed"`)
}

// SourceToCanonical translates Responses stream events. Usage never
// arrives as its own event on this dialect: it is embedded in the final
// response.completed envelope's response.usage field, so the gateway's
// streaming pipeline recovers it with a brace-counting scan over the raw
// payload rather than a second json.Unmarshal of the whole event (spec.md
// §4.4); this adapter still exposes it normally once the full envelope has
// parsed cleanly, and the brace-counting path is a fallback for malformed
// trailing bytes only.
func (a *ResponsesAdapter) SourceToCanonical(payload []byte, asm *ToolAssembler) ([]schema.StreamEvent, error) {
	var env rsStreamEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, nil
	}

	var events []schema.StreamEvent
	switch env.Type {
	case "response.created":
		if env.Response != nil {
			events = append(events, schema.StreamEvent{Type: schema.EventMessageStart, ID: env.Response.ID, Model: env.Response.Model})
		}
	case "response.output_text.delta":
		events = append(events, schema.StreamEvent{Type: schema.EventContentDelta, Part: schema.DeltaText, Value: env.Delta})
	case "response.output_item.added":
		if env.Item != nil && env.Item.Type == "function_call" && env.OutputIndex != nil {
			asm.Start(*env.OutputIndex, env.Item.CallID, env.Item.Name)
		}
	case "response.function_call_arguments.delta":
		if env.OutputIndex != nil {
			asm.AppendArgs(*env.OutputIndex, env.Delta)
			events = append(events, schema.StreamEvent{Type: schema.EventContentDelta, Part: schema.DeltaToolCall, Value: env.Delta, ToolIndex: env.OutputIndex})
		}
	case "response.output_item.done":
		if env.OutputIndex != nil {
			asm.MarkComplete(*env.OutputIndex)
			events = append(events, asm.CompleteEvents()...)
		}
	case "response.completed":
		events = append(events, asm.CompleteEvents()...)
		events = append(events, schema.StreamEvent{Type: schema.EventComplete, FinishReason: schema.FinishStop})
		if env.Response != nil && env.Response.Usage != nil {
			u := env.Response.Usage
			events = append(events, schema.StreamEvent{Type: schema.EventUsage, Usage: &schema.Usage{
				InputTokens: u.InputTokens, OutputTokens: u.OutputTokens,
				PromptTokens: u.InputTokens, CompletionTokens: u.OutputTokens,
			}})
		}
	case "response.failed":
		events = append(events, schema.StreamEvent{Type: schema.EventComplete, FinishReason: schema.FinishError})
	}
	return events, nil
}

func (a *ResponsesAdapter) EncodeClientEvent(ev schema.StreamEvent, st *EncodeState) ([]byte, error) {
	switch ev.Type {
	case schema.EventMessageStart:
		return json.Marshal(map[string]any{
			"type":     "response.created",
			"response": rsResponse{ID: st.ResponseID, Object: "response", Model: st.Model, Status: "in_progress"},
		})
	case schema.EventContentDelta:
		switch ev.Part {
		case schema.DeltaText:
			return json.Marshal(map[string]any{"type": "response.output_text.delta", "delta": ev.Value})
		case schema.DeltaToolCall:
			idx := 0
			if ev.ToolIndex != nil {
				idx = *ev.ToolIndex
			}
			return json.Marshal(map[string]any{"type": "response.function_call_arguments.delta", "output_index": idx, "delta": ev.Value})
		}
		return nil, nil
	case schema.EventToolCall:
		return nil, nil
	case schema.EventComplete:
		return json.Marshal(map[string]any{
			"type":     "response.completed",
			"response": rsResponse{ID: st.ResponseID, Object: "response", Model: st.Model, Status: "completed"},
		})
	case schema.EventUsage:
		if ev.Usage == nil {
			return nil, nil
		}
		return json.Marshal(map[string]any{
			"type": "response.completed",
			"response": rsResponse{ID: st.ResponseID, Object: "response", Model: st.Model, Status: "completed", Usage: &rsUsage{
				InputTokens: ev.Usage.InputTokens, OutputTokens: ev.Usage.OutputTokens, TotalTokens: ev.Usage.InputTokens + ev.Usage.OutputTokens,
			}},
		})
	}
	return nil, nil
}
