package adapters

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taipm/llm-gateway/internal/schema"
)

// AnthropicAdapter implements FormatAdapter for the Anthropic Messages wire
// dialect: system is a top-level field rather than a message, tool_result
// content lives inside a user-role message, and tool calls stream as
// indexed content blocks rather than delta.tool_calls entries.
type AnthropicAdapter struct{}

func NewAnthropicAdapter() *AnthropicAdapter { return &AnthropicAdapter{} }

// --- wire types -------------------------------------------------------

type anSystemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anRequest struct {
	Model         string          `json:"model"`
	Messages      []anMessage     `json:"messages"`
	System        json.RawMessage `json:"system,omitempty"`
	MaxTokens     int             `json:"max_tokens"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Tools         []anTool        `json:"tools,omitempty"`
	ToolChoice    *anToolChoice   `json:"tool_choice,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Thinking      *anThinkingCfg  `json:"thinking,omitempty"`
	Metadata      *anMetadata     `json:"metadata,omitempty"`
}

type anMetadata struct {
	UserID string `json:"user_id,omitempty"`
}

type anThinkingCfg struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type anMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image/document source
	Source *anSource `json:"source,omitempty"`

	// tool_use
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type anSource struct {
	Type      string `json:"type"` // "base64" | "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

type anToolChoice struct {
	Type                   string `json:"type"` // auto|any|tool|none
	Name                   string `json:"name,omitempty"`
	DisableParallelToolUse bool   `json:"disable_parallel_tool_use,omitempty"`
}

type anResponse struct {
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	Role         string           `json:"role"`
	Model        string           `json:"model"`
	Content      []anContentBlock `json:"content"`
	StopReason   string           `json:"stop_reason"`
	StopSequence string           `json:"stop_sequence,omitempty"`
	Usage        *anUsage         `json:"usage,omitempty"`
}

type anUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// streaming event shapes

type anStreamEvent struct {
	Type         string           `json:"type"`
	Index        *int             `json:"index,omitempty"`
	Message      *anResponse      `json:"message,omitempty"`
	ContentBlock *anContentBlock  `json:"content_block,omitempty"`
	Delta        *anDelta         `json:"delta,omitempty"`
	Usage        *anUsage         `json:"usage,omitempty"`
}

type anDelta struct {
	Type         string `json:"type,omitempty"` // text_delta | input_json_delta | thinking_delta | signature_delta
	Text         string `json:"text,omitempty"`
	PartialJSON  string `json:"partial_json,omitempty"`
	Thinking     string `json:"thinking,omitempty"`
	Signature    string `json:"signature,omitempty"`
	StopReason   string `json:"stop_reason,omitempty"`
	StopSequence string `json:"stop_sequence,omitempty"`
}

// --- content helpers ----------------------------------------------------

func contentPartsToAnthropic(parts []schema.ContentPart) []anContentBlock {
	var out []anContentBlock
	for _, p := range parts {
		switch p.Type {
		case schema.PartText:
			out = append(out, anContentBlock{Type: "text", Text: p.Text})
		case schema.PartImage, schema.PartDocument:
			blockType := "image"
			if p.Type == schema.PartDocument {
				blockType = "document"
			}
			if p.Source == nil {
				continue
			}
			src := &anSource{Type: string(p.Source.Type), MediaType: p.Source.MediaType, Data: p.Source.Data, URL: p.Source.URL}
			out = append(out, anContentBlock{Type: blockType, Source: src})
		case schema.PartToolResult:
			block := anContentBlock{Type: "tool_result", ToolUseID: p.ToolUseID, IsError: p.IsError}
			if len(p.ToolContentParts) > 0 {
				b, _ := json.Marshal(contentPartsToAnthropic(p.ToolContentParts))
				block.Content = b
			} else {
				b, _ := json.Marshal(p.ToolContent)
				block.Content = b
			}
			out = append(out, block)
		// audio/video: Anthropic Messages has no native representation
		// (dropped content policy, spec.md §4.1).
		}
	}
	return out
}

func messageToAnthropic(m schema.Message) anMessage {
	role := string(m.Role)
	if m.Role == schema.RoleTool {
		role = "user"
	}
	var blocks []anContentBlock
	if len(m.ToolCalls) > 0 {
		if m.IsStringContent && m.StringContent != "" {
			blocks = append(blocks, anContentBlock{Type: "text", Text: m.StringContent})
		}
		for _, tc := range m.ToolCalls {
			var input any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
			blocks = append(blocks, anContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Function.Name, Input: input})
		}
	} else if m.Role == schema.RoleTool {
		var content any = m.StringContent
		if !m.IsStringContent {
			var parts []anContentBlock
			b, _ := json.Marshal(contentPartsToAnthropic(m.Parts))
			_ = json.Unmarshal(b, &parts)
			content = parts
		}
		b, _ := json.Marshal(content)
		blocks = append(blocks, anContentBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: b})
	} else if m.IsStringContent {
		blocks = append(blocks, anContentBlock{Type: "text", Text: m.StringContent})
	} else {
		blocks = contentPartsToAnthropic(m.Parts)
	}
	content, _ := json.Marshal(blocks)
	return anMessage{Role: role, Content: content}
}

func anContentToCanonical(raw json.RawMessage) (isString bool, str string, parts []schema.ContentPart, toolCalls []schema.ToolCall) {
	if len(raw) == 0 {
		return true, "", nil, nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return true, s, nil, nil
	}
	var blocks []anContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return true, "", nil, nil
	}
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, schema.ContentPart{Type: schema.PartText, Text: b.Text})
		case "image", "document":
			pt := schema.PartImage
			if b.Type == "document" {
				pt = schema.PartDocument
			}
			if b.Source != nil {
				parts = append(parts, schema.ContentPart{Type: pt, Source: &schema.MediaSource{
					Type: schema.MediaSourceType(b.Source.Type), MediaType: b.Source.MediaType, Data: b.Source.Data, URL: b.Source.URL,
				}})
			}
		case "tool_use":
			argsJSON, _ := json.Marshal(b.Input)
			toolCalls = append(toolCalls, schema.ToolCall{ID: b.ID, Type: "function", Function: schema.ToolCallFunction{
				Name: b.Name, Arguments: string(argsJSON),
			}})
		case "tool_result":
			tc := schema.ContentPart{Type: schema.PartToolResult, ToolUseID: b.ToolUseID, IsError: b.IsError}
			var s string
			if json.Unmarshal(b.Content, &s) == nil {
				tc.ToolContent = s
			} else {
				var inner []anContentBlock
				if json.Unmarshal(b.Content, &inner) == nil {
					for _, ib := range inner {
						if ib.Type == "text" {
							tc.ToolContentParts = append(tc.ToolContentParts, schema.ContentPart{Type: schema.PartText, Text: ib.Text})
						}
					}
				}
			}
			parts = append(parts, tc)
		}
	}
	return false, "", parts, toolCalls
}

// --- ClientToCanonical / CanonicalToProvider ----------------------------

// ClientToCanonical parses an inbound Anthropic Messages request. System is
// a top-level field, not a message (spec.md §4.1); tool_result blocks
// arrive inside user-role messages and are flattened to PartToolResult.
func (a *AnthropicAdapter) ClientToCanonical(raw []byte) (*schema.Request, error) {
	var wire anRequest
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("parse anthropic request: %w", err)
	}

	req := &schema.Request{SchemaVersion: schema.SchemaVersion, Model: wire.Model, Stream: wire.Stream}
	req.SystemText = parseAnSystem(wire.System)

	for _, wm := range wire.Messages {
		isStr, s, parts, toolCalls := anContentToCanonical(wm.Content)
		role := schema.Role(wm.Role)
		if wm.Role == "user" && hasOnlyToolResults(parts) {
			// Anthropic flattens tool results into a user-role message;
			// split each into its own canonical tool-role message so the
			// rest of the pipeline matches the OpenAI shape.
			for _, p := range parts {
				req.Messages = append(req.Messages, schema.Message{
					Role: schema.RoleTool, ToolCallID: p.ToolUseID,
					IsStringContent: p.ToolContent != "" || len(p.ToolContentParts) == 0,
					StringContent:   p.ToolContent,
					Parts:           p.ToolContentParts,
				})
			}
			continue
		}
		req.Messages = append(req.Messages, schema.Message{
			Role: role, IsStringContent: isStr, StringContent: s, Parts: parts, ToolCalls: toolCalls,
		})
	}

	maxTokens := wire.MaxTokens
	req.Generation = &schema.GenerationParams{
		MaxTokens: &maxTokens, Temperature: wire.Temperature, TopP: wire.TopP, TopK: wire.TopK,
		StopSequences: wire.StopSequences,
	}

	for _, t := range wire.Tools {
		req.Tools = append(req.Tools, schema.Tool{Type: "function", Function: schema.FunctionDef{
			Name: t.Name, Description: t.Description, Parameters: t.InputSchema,
		}})
	}
	req.ToolChoice = parseAnToolChoice(wire.ToolChoice)
	if wire.ToolChoice != nil {
		disableParallel := wire.ToolChoice.DisableParallelToolUse
		req.ParallelToolCalls = boolPtr(!disableParallel)
	}

	if wire.Thinking != nil {
		req.Thinking = &schema.Thinking{Enabled: wire.Thinking.Type == "enabled", Budget: wire.Thinking.BudgetTokens}
	}
	if wire.Metadata != nil {
		req.User = wire.Metadata.UserID
	}

	return req, nil
}

func boolPtr(b bool) *bool { return &b }

func hasOnlyToolResults(parts []schema.ContentPart) bool {
	if len(parts) == 0 {
		return false
	}
	for _, p := range parts {
		if p.Type != schema.PartToolResult {
			return false
		}
	}
	return true
}

func parseAnSystem(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var blocks []anSystemBlock
	if json.Unmarshal(raw, &blocks) == nil {
		var out strings.Builder
		for _, b := range blocks {
			out.WriteString(b.Text)
		}
		return out.String()
	}
	return ""
}

func parseAnToolChoice(tc *anToolChoice) *schema.ToolChoice {
	if tc == nil {
		return nil
	}
	switch tc.Type {
	case "auto":
		return &schema.ToolChoice{Mode: schema.ToolChoiceAuto}
	case "none":
		return &schema.ToolChoice{Mode: schema.ToolChoiceNone}
	case "any":
		return &schema.ToolChoice{Mode: schema.ToolChoiceAny}
	case "tool":
		return &schema.ToolChoice{Mode: schema.ToolChoiceNamed, Name: tc.Name}
	}
	return nil
}

// CanonicalToProvider renders a canonical request as Anthropic Messages
// wire JSON, for dispatch to the Anthropic upstream.
func (a *AnthropicAdapter) CanonicalToProvider(req *schema.Request) ([]byte, error) {
	wire := anRequest{Model: req.Model, Stream: req.Stream}
	if req.SystemText != "" {
		b, _ := json.Marshal(req.SystemText)
		wire.System = b
	}
	for _, m := range req.Messages {
		wire.Messages = append(wire.Messages, messageToAnthropic(m))
	}
	if g := req.Generation; g != nil {
		if g.MaxTokens != nil {
			wire.MaxTokens = *g.MaxTokens
		} else {
			wire.MaxTokens = 4096
		}
		wire.Temperature = g.Temperature
		wire.TopP = g.TopP
		wire.TopK = g.TopK
		if len(g.StopSequences) > 0 {
			wire.StopSequences = g.StopSequences
		} else {
			wire.StopSequences = g.Stop
		}
	} else {
		wire.MaxTokens = 4096
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, anTool{Name: t.Function.Name, Description: t.Function.Description, InputSchema: t.Function.Parameters})
	}
	wire.ToolChoice = encodeAnToolChoice(req.ToolChoice, req.ParallelToolCalls)
	if req.Thinking != nil && req.Thinking.Enabled {
		wire.Thinking = &anThinkingCfg{Type: "enabled", BudgetTokens: req.Thinking.Budget}
	}
	if req.User != "" {
		wire.Metadata = &anMetadata{UserID: req.User}
	}
	return json.Marshal(wire)
}

// encodeAnToolChoice implements the resolved Open Question (a): canonical
// "required" maps to Anthropic's "any" (force some tool call), the closest
// native equivalent, since Anthropic has no separate "required" mode.
func encodeAnToolChoice(tc *schema.ToolChoice, parallel *bool) *anToolChoice {
	if tc == nil {
		return nil
	}
	out := &anToolChoice{}
	switch tc.Mode {
	case schema.ToolChoiceAuto:
		out.Type = "auto"
	case schema.ToolChoiceNone:
		out.Type = "none"
	case schema.ToolChoiceAny, schema.ToolChoiceRequired:
		out.Type = "any"
	case schema.ToolChoiceNamed:
		out.Type = "tool"
		out.Name = tc.Name
	default:
		return nil
	}
	if parallel != nil {
		out.DisableParallelToolUse = !*parallel
	}
	return out
}

// --- ProviderToCanonical / CanonicalToClient -----------------------------

func (a *AnthropicAdapter) ProviderToCanonical(raw []byte) (*schema.Response, error) {
	var wire anResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("parse anthropic response: %w", err)
	}
	msg := schema.Message{Role: schema.RoleAssistant}
	var textParts []schema.ContentPart
	for _, b := range wire.Content {
		switch b.Type {
		case "text":
			textParts = append(textParts, schema.ContentPart{Type: schema.PartText, Text: b.Text})
		case "tool_use":
			argsJSON, _ := json.Marshal(b.Input)
			msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{ID: b.ID, Type: "function", Function: schema.ToolCallFunction{
				Name: b.Name, Arguments: string(argsJSON),
			}})
		}
	}
	if len(textParts) > 0 {
		msg.Parts = textParts
	} else {
		msg.IsStringContent = true
	}

	resp := &schema.Response{
		SchemaVersion: schema.SchemaVersion, ID: wire.ID, Model: wire.Model,
		Choices: []schema.Choice{{Index: 0, Message: msg, FinishReason: mapAnStopReason(wire.StopReason)}},
	}
	if wire.Usage != nil {
		resp.Usage = &schema.Usage{
			InputTokens: wire.Usage.InputTokens, OutputTokens: wire.Usage.OutputTokens,
			PromptTokens: wire.Usage.InputTokens, CompletionTokens: wire.Usage.OutputTokens,
			CacheWriteInputTokens: wire.Usage.CacheCreationInputTokens, CacheReadInputTokens: wire.Usage.CacheReadInputTokens,
		}
	}
	return resp, nil
}

func mapAnStopReason(r string) schema.FinishReason {
	switch r {
	case "end_turn":
		return schema.FinishStop
	case "max_tokens":
		return schema.FinishMaxTokens
	case "stop_sequence":
		return schema.FinishStopSequence
	case "tool_use":
		return schema.FinishToolCalls
	default:
		return schema.FinishReason(r)
	}
}

func canonicalFinishToAn(r schema.FinishReason) string {
	switch r {
	case schema.FinishStop:
		return "end_turn"
	case schema.FinishMaxTokens:
		return "max_tokens"
	case schema.FinishStopSequence:
		return "stop_sequence"
	case schema.FinishToolCalls, schema.FinishToolCall:
		return "tool_use"
	default:
		return "end_turn"
	}
}

func (a *AnthropicAdapter) CanonicalToClient(resp *schema.Response) ([]byte, error) {
	wire := anResponse{ID: resp.ID, Type: "message", Role: "assistant", Model: resp.Model}
	if len(resp.Choices) > 0 {
		c := resp.Choices[0]
		if c.Message.IsStringContent {
			wire.Content = append(wire.Content, anContentBlock{Type: "text", Text: c.Message.StringContent})
		} else {
			wire.Content = append(wire.Content, contentPartsToAnthropic(c.Message.Parts)...)
		}
		for _, tc := range c.Message.ToolCalls {
			var input any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
			wire.Content = append(wire.Content, anContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Function.Name, Input: input})
		}
		wire.StopReason = canonicalFinishToAn(c.FinishReason)
	}
	if resp.Usage != nil {
		wire.Usage = &anUsage{
			InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens,
			CacheCreationInputTokens: resp.Usage.CacheWriteInputTokens, CacheReadInputTokens: resp.Usage.CacheReadInputTokens,
		}
	}
	return json.Marshal(wire)
}

// --- streaming ------------------------------------------------------------

func (a *AnthropicAdapter) NewToolAssembler() *ToolAssembler { return NewToolAssembler() }

// IsTerminal reports the Anthropic "message_stop" event; unlike OpenAI this
// requires inspecting the parsed type, so IsTerminal here is a cheap
// substring probe used only as a fast-path hint by the streaming pipeline.
func (a *AnthropicAdapter) IsTerminal(payload []byte) bool {
	return strings.Contains(string(payload), `"type":"message_stop"`)
}

// SourceToCanonical implements the Anthropic event-type translation table
// in spec.md §4.1: message_start carries input_tokens, content_block_start
// opens a tool_use block (recorded in the assembler), content_block_delta
// carries text_delta/input_json_delta, content_block_stop marks that
// index's tool call complete, message_delta carries stop_reason and
// cumulative output usage, message_stop is terminal.
func (a *AnthropicAdapter) SourceToCanonical(payload []byte, asm *ToolAssembler) ([]schema.StreamEvent, error) {
	var ev anStreamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, nil
	}

	var events []schema.StreamEvent
	switch ev.Type {
	case "message_start":
		if ev.Message != nil {
			inputTokens := 0
			if ev.Message.Usage != nil {
				inputTokens = ev.Message.Usage.InputTokens
			}
			events = append(events, schema.StreamEvent{
				Type: schema.EventMessageStart, ID: ev.Message.ID, Model: ev.Message.Model, InputTokens: &inputTokens,
			})
		}
	case "content_block_start":
		if ev.ContentBlock != nil && ev.Index != nil {
			if ev.ContentBlock.Type == "tool_use" {
				asm.Start(*ev.Index, ev.ContentBlock.ID, ev.ContentBlock.Name)
			}
		}
	case "content_block_delta":
		if ev.Delta == nil {
			break
		}
		switch ev.Delta.Type {
		case "text_delta":
			events = append(events, schema.StreamEvent{Type: schema.EventContentDelta, Part: schema.DeltaText, Value: ev.Delta.Text})
		case "input_json_delta":
			if ev.Index != nil {
				asm.AppendArgs(*ev.Index, ev.Delta.PartialJSON)
				events = append(events, schema.StreamEvent{
					Type: schema.EventContentDelta, Part: schema.DeltaToolCall, Value: ev.Delta.PartialJSON, ToolIndex: ev.Index,
				})
			}
		case "thinking_delta", "signature_delta":
			// extended-thinking deltas are not re-emitted on the canonical
			// content_delta channel in this adapter's streaming surface.
		}
	case "content_block_stop":
		if ev.Index != nil {
			asm.MarkComplete(*ev.Index)
			events = append(events, asm.CompleteEvents()...)
		}
	case "message_delta":
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			events = append(events, asm.CompleteEvents()...)
			events = append(events, schema.StreamEvent{Type: schema.EventComplete, FinishReason: mapAnStopReason(ev.Delta.StopReason)})
		}
		if ev.Usage != nil {
			events = append(events, schema.StreamEvent{Type: schema.EventUsage, Usage: &schema.Usage{
				OutputTokens: ev.Usage.OutputTokens, CompletionTokens: ev.Usage.OutputTokens,
				CacheWriteInputTokens: ev.Usage.CacheCreationInputTokens, CacheReadInputTokens: ev.Usage.CacheReadInputTokens,
			}})
		}
	case "message_stop":
		// terminal; no canonical event needed beyond the complete/usage
		// events already emitted from message_delta.
	case "ping", "error":
		// ping: keepalive, nothing to translate. error: surfaced by the
		// streaming pipeline's own error handling, not here.
	}
	return events, nil
}

// EncodeClientEvent re-serializes a canonical event as an Anthropic SSE
// event payload body. Anthropic frames carry an "event:" line too; the
// streaming pipeline derives that from ev.Type, this returns the "data:"
// JSON body only.
func (a *AnthropicAdapter) EncodeClientEvent(ev schema.StreamEvent, st *EncodeState) ([]byte, error) {
	switch ev.Type {
	case schema.EventMessageStart:
		msg := anResponse{ID: st.ResponseID, Type: "message", Role: "assistant", Model: st.Model}
		if ev.InputTokens != nil {
			msg.Usage = &anUsage{InputTokens: *ev.InputTokens}
		}
		return json.Marshal(map[string]any{"type": "message_start", "message": msg})
	case schema.EventContentDelta:
		idx := 0
		if ev.ToolIndex != nil {
			idx = *ev.ToolIndex
		}
		var delta anDelta
		switch ev.Part {
		case schema.DeltaText:
			delta = anDelta{Type: "text_delta", Text: ev.Value}
		case schema.DeltaToolCall:
			delta = anDelta{Type: "input_json_delta", PartialJSON: ev.Value}
		default:
			return nil, nil
		}
		return json.Marshal(map[string]any{"type": "content_block_delta", "index": idx, "delta": delta})
	case schema.EventToolCall:
		return nil, nil // already streamed as content_block_delta fragments
	case schema.EventComplete:
		return json.Marshal(map[string]any{
			"type": "message_delta",
			"delta": anDelta{StopReason: canonicalFinishToAn(ev.FinishReason)},
		})
	case schema.EventUsage:
		if ev.Usage == nil {
			return nil, nil
		}
		return json.Marshal(map[string]any{
			"type": "message_delta",
			"usage": anUsage{
				OutputTokens: ev.Usage.OutputTokens, CacheCreationInputTokens: ev.Usage.CacheWriteInputTokens,
				CacheReadInputTokens: ev.Usage.CacheReadInputTokens,
			},
		})
	}
	return nil, nil
}
