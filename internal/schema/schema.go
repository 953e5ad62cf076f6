// Package schema defines the dialect-neutral request, response, and
// stream-event types every format adapter (internal/adapters) and provider
// client (internal/providers) converts to and from. Nothing in this
// package knows about any particular wire dialect.
package schema

import "encoding/json"

// SchemaVersion is the literal schema_version stamped on every canonical
// request and response.
const SchemaVersion = "1"

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// FinishReason is the canonical completion-termination reason.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishMaxTokens      FinishReason = "max_tokens"
	FinishStopSequence   FinishReason = "stop_sequence"
	FinishToolCalls      FinishReason = "tool_calls"
	FinishToolCall       FinishReason = "tool_call"
	FinishContentFilter  FinishReason = "content_filter"
	FinishFunctionCall   FinishReason = "function_call"
	FinishError          FinishReason = "error"
)

// ContentPartType tags the variant held by a ContentPart.
type ContentPartType string

const (
	PartText       ContentPartType = "text"
	PartImage      ContentPartType = "image"
	PartAudio      ContentPartType = "audio"
	PartVideo      ContentPartType = "video"
	PartDocument   ContentPartType = "document"
	PartToolResult ContentPartType = "tool_result"
)

// MediaSourceType tags how a binary content part is carried.
type MediaSourceType string

const (
	SourceBase64 MediaSourceType = "base64"
	SourceURL    MediaSourceType = "url"
)

// MediaSource is the tagged union {base64{media_type,data} | url{url}} used
// by image/audio/video/document content parts.
type MediaSource struct {
	Type      MediaSourceType `json:"type"`
	MediaType string          `json:"media_type,omitempty"`
	Data      string          `json:"data,omitempty"`
	URL       string          `json:"url,omitempty"`
}

// ContentPart is the tagged union described in spec.md §3.
type ContentPart struct {
	Type ContentPartType `json:"type"`

	// Text is populated when Type == PartText.
	Text string `json:"text,omitempty"`

	// Source is populated when Type is image/audio/video/document.
	Source *MediaSource `json:"source,omitempty"`

	// ToolResult fields, populated when Type == PartToolResult.
	ToolUseID string         `json:"tool_use_id,omitempty"`
	ToolContent string       `json:"tool_content,omitempty"`
	ToolContentParts []ContentPart `json:"tool_content_parts,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

// ToolCallFunction is the function payload of a ToolCall.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON-encoded string
}

// ToolCall is a structured function invocation emitted by the model.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // always "function"
	Function ToolCallFunction `json:"function"`
}

// Message is one turn of the conversation. Content is either a plain
// string (StringContent != "" or explicitly set via IsStringContent) or a
// non-empty list of Parts — never both (§3 invariant).
type Message struct {
	Role Role `json:"role"`

	// Exactly one of StringContent/Parts is meaningful; IsStringContent
	// disambiguates an intentionally-empty string from "no string set".
	IsStringContent bool          `json:"-"`
	StringContent   string        `json:"content,omitempty"`
	Parts           []ContentPart `json:"-"`

	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Text concatenates the textual portions of a message regardless of
// whether it carries string content or content parts.
func (m Message) Text() string {
	if m.IsStringContent {
		return m.StringContent
	}
	out := ""
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// Tool is a function-typed tool definition.
type Tool struct {
	Type     string       `json:"type"` // "function"
	Function FunctionDef  `json:"function"`
}

// FunctionDef describes a callable function's signature as JSON Schema.
type FunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
	Strict      bool   `json:"strict,omitempty"`
}

// ToolChoiceMode is the enumerable form of ToolChoice.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceAny      ToolChoiceMode = "any"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceNamed    ToolChoiceMode = "named"
)

// ToolChoice selects how the model should use tools. When Mode ==
// ToolChoiceNamed, Name carries the forced function/tool name.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// ResponseFormatType tags ResponseFormat's variant.
type ResponseFormatType string

const (
	ResponseFormatText       ResponseFormatType = "text"
	ResponseFormatJSON       ResponseFormatType = "json"
	ResponseFormatJSONObject ResponseFormatType = "json_object"
	ResponseFormatJSONSchema ResponseFormatType = "json_schema"
)

// JSONSchemaFormat describes the {name,description?,schema,strict?}
// payload of a json_schema response format.
type JSONSchemaFormat struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Schema      any    `json:"schema"`
	Strict      bool   `json:"strict,omitempty"`
}

// ResponseFormat constrains the shape of model output.
type ResponseFormat struct {
	Type       ResponseFormatType `json:"type"`
	JSONSchema *JSONSchemaFormat  `json:"json_schema,omitempty"`
}

// ReasoningEffort is the canonical reasoning_effort enum.
type ReasoningEffort string

const (
	ReasoningMinimal ReasoningEffort = "minimal"
	ReasoningLow     ReasoningEffort = "low"
	ReasoningMedium  ReasoningEffort = "medium"
	ReasoningHigh    ReasoningEffort = "high"
)

// Thinking carries extended-reasoning configuration and, on responses, the
// model's reasoning trace.
type Thinking struct {
	Enabled          bool   `json:"enabled,omitempty"`
	Budget           int    `json:"budget,omitempty"`
	Summary          string `json:"summary,omitempty"`
	Content          string `json:"content,omitempty"`
	EncryptedContent string `json:"encrypted_content,omitempty"`
}

// Audio carries the output audio voice/format configuration.
type Audio struct {
	Voice  string `json:"voice,omitempty"`
	Format string `json:"format,omitempty"`
}

// GenerationParams bundles the sampling/shape knobs common across dialects.
type GenerationParams struct {
	MaxTokens        *int           `json:"max_tokens,omitempty"`
	Temperature      *float64       `json:"temperature,omitempty"`
	TopP             *float64       `json:"top_p,omitempty"`
	TopK             *int           `json:"top_k,omitempty"`
	Stop             []string       `json:"stop,omitempty"`
	StopSequences    []string       `json:"stop_sequences,omitempty"` // capped at 64
	Seed             *int64         `json:"seed,omitempty"`
	FrequencyPenalty *float64       `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64       `json:"presence_penalty,omitempty"`
	N                *int           `json:"n,omitempty"`
	LogProbs         bool           `json:"logprobs,omitempty"`
	TopLogProbs      *int           `json:"top_logprobs,omitempty"`
	LogitBias        map[string]float64 `json:"logit_bias,omitempty"`
}

// Request is the canonical, dialect-neutral chat completion request.
type Request struct {
	SchemaVersion string `json:"schema_version"`
	Model         string `json:"model"`
	Messages      []Message `json:"messages"`

	// System is either a plain string or a list of content parts; only
	// SystemText is populated by the adapters this repo ships (content-part
	// system prompts are accepted on ingress and flattened to text).
	SystemText string `json:"system,omitempty"`

	Generation *GenerationParams `json:"generation,omitempty"`

	Tools              []Tool      `json:"tools,omitempty"`
	ToolChoice         *ToolChoice `json:"tool_choice,omitempty"`
	ParallelToolCalls  *bool       `json:"parallel_tool_calls,omitempty"`

	// Legacy OpenAI functions/function_call, preserved for adapters that
	// still emit them.
	Functions    []FunctionDef `json:"functions,omitempty"`
	FunctionCall string        `json:"function_call,omitempty"`

	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	Stream               bool `json:"stream,omitempty"`
	StreamIncludeUsage   bool `json:"stream_include_usage,omitempty"`

	ServiceTier     string          `json:"service_tier,omitempty"`
	ReasoningEffort ReasoningEffort `json:"reasoning_effort,omitempty"`
	Modalities      []string        `json:"modalities,omitempty"`
	Audio           *Audio          `json:"audio,omitempty"`
	Thinking        *Thinking       `json:"thinking,omitempty"`

	User string `json:"user,omitempty"`

	// ProviderParams is namespaced per format: provider_params.openai,
	// provider_params.anthropic, provider_params.google, etc. Unknown
	// top-level fields survive ingress→canonical under these keys so that
	// same-dialect pass-through can replay them (SPEC_FULL.md §3).
	ProviderParams map[string]map[string]any `json:"provider_params,omitempty"`

	Meta map[string]any `json:"meta,omitempty"`
}

// Usage is the canonical token usage counter set.
type Usage struct {
	InputTokens      int `json:"input_tokens,omitempty"`
	OutputTokens     int `json:"output_tokens,omitempty"`
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	CacheWriteInputTokens int `json:"cache_write_input_tokens,omitempty"`
	CacheReadInputTokens  int `json:"cache_read_input_tokens,omitempty"`
}

// Choice is one completion candidate.
type Choice struct {
	Index        int          `json:"index"`
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	Logprobs     any          `json:"logprobs,omitempty"`
}

// Response is the canonical, dialect-neutral chat completion response.
type Response struct {
	SchemaVersion     string   `json:"schema_version"`
	ID                string   `json:"id"`
	Model             string   `json:"model"`
	Created           int64    `json:"created"`
	Choices           []Choice `json:"choices"`
	Usage             *Usage   `json:"usage,omitempty"`
	SystemFingerprint string   `json:"system_fingerprint,omitempty"`
}

// EventType tags a StreamEvent's variant.
type EventType string

const (
	EventMessageStart EventType = "message_start"
	EventContentDelta EventType = "content_delta"
	EventToolCall     EventType = "tool_call"
	EventUsage        EventType = "usage"
	EventComplete     EventType = "complete"
)

// DeltaPart tags what kind of content a content_delta event carries.
type DeltaPart string

const (
	DeltaText      DeltaPart = "text"
	DeltaToolCall  DeltaPart = "tool_call"
	DeltaCitations DeltaPart = "citations"
)

// StreamEvent is the canonical streaming event tagged union (spec.md §3).
type StreamEvent struct {
	Type EventType

	// message_start
	ID           string
	Model        string
	InputTokens  *int

	// content_delta
	Part         DeltaPart
	Value        string
	ToolIndex    *int
	FunctionName string

	// tool_call
	ToolCallID   string
	ToolCallName string
	ArgumentsJSON string

	// usage
	Usage *Usage

	// complete
	FinishReason FinishReason
}

// MarshalJSON renders a StreamEvent as a flat object carrying only the
// fields relevant to Type. It is not any dialect's wire frame; each egress
// adapter builds its own in EncodeClientEvent.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	m := map[string]any{"type": e.Type}
	switch e.Type {
	case EventMessageStart:
		m["id"] = e.ID
		m["model"] = e.Model
		if e.InputTokens != nil {
			m["input_tokens"] = *e.InputTokens
		}
	case EventContentDelta:
		m["part"] = e.Part
		m["value"] = e.Value
		if e.ToolIndex != nil {
			m["tool_index"] = *e.ToolIndex
		}
		if e.FunctionName != "" {
			m["function_name"] = e.FunctionName
		}
	case EventToolCall:
		m["id"] = e.ToolCallID
		m["name"] = e.ToolCallName
		m["arguments_json"] = e.ArgumentsJSON
	case EventUsage:
		m["usage"] = e.Usage
	case EventComplete:
		m["finish_reason"] = e.FinishReason
	}
	return json.Marshal(m)
}
