// Package adapters implements the Format Adapters (C4): bidirectional
// translation between each wire dialect (OpenAI Chat Completions, OpenAI
// Responses, Anthropic Messages) and the canonical schema, for requests,
// responses, and streams.
package adapters

import (
	"sort"

	"github.com/taipm/llm-gateway/internal/schema"
)

// FormatAdapter is the four-operation contract spec.md §4.1 assigns to
// every dialect, plus the stateful stream operation.
type FormatAdapter interface {
	// ClientToCanonical parses an inbound request body in this dialect
	// into the canonical schema.
	ClientToCanonical(raw []byte) (*schema.Request, error)

	// CanonicalToClient renders a canonical response into this dialect's
	// wire bytes, for the egress path.
	CanonicalToClient(resp *schema.Response) ([]byte, error)

	// CanonicalToProvider renders a canonical request into this dialect's
	// upstream wire bytes.
	CanonicalToProvider(req *schema.Request) ([]byte, error)

	// ProviderToCanonical parses a non-streaming upstream response body in
	// this dialect into the canonical schema.
	ProviderToCanonical(raw []byte) (*schema.Response, error)

	// NewToolAssembler returns a fresh per-request assembler for this
	// dialect's streaming tool-call shape.
	NewToolAssembler() *ToolAssembler

	// SourceToCanonical parses one upstream SSE data payload (already
	// stripped of the "data:" prefix) into zero or more canonical stream
	// events, mutating the assembler's state across calls.
	SourceToCanonical(payload []byte, asm *ToolAssembler) ([]schema.StreamEvent, error)

	// EncodeClientEvent renders one canonical stream event as this
	// dialect's outbound SSE "data: ..." payload (without framing), for
	// the egress path re-emission (spec.md §4.7 step 4).
	EncodeClientEvent(ev schema.StreamEvent, st *EncodeState) ([]byte, error)

	// IsTerminal reports whether payload is this dialect's upstream
	// terminal marker (OpenAI "[DONE]", Anthropic "message_stop", etc.).
	IsTerminal(payload []byte) bool
}

// ToolAssembler accumulates multi-chunk tool-call arguments keyed by
// tool_index, per spec.md §4.1 "Every streaming adapter owns a
// ToolAssembler keyed by tool_index."
type ToolAssembler struct {
	entries map[int]*toolEntry
	order   []int
}

type toolEntry struct {
	id          string
	name        string
	argsBuf     []byte
	complete    bool
	drainedFlag bool
}

// NewToolAssembler creates an empty assembler.
func NewToolAssembler() *ToolAssembler {
	return &ToolAssembler{entries: make(map[int]*toolEntry)}
}

func (a *ToolAssembler) entry(index int) *toolEntry {
	e, ok := a.entries[index]
	if !ok {
		e = &toolEntry{}
		a.entries[index] = e
		a.order = append(a.order, index)
	}
	return e
}

// Start records a new tool call's id/name at index (Anthropic
// content_block_start, or the first OpenAI delta.tool_calls[i] chunk).
func (a *ToolAssembler) Start(index int, id, name string) {
	e := a.entry(index)
	if id != "" {
		e.id = id
	}
	if name != "" {
		e.name = name
	}
}

// AppendArgs appends a JSON argument fragment to the entry at index.
func (a *ToolAssembler) AppendArgs(index int, delta string) {
	e := a.entry(index)
	e.argsBuf = append(e.argsBuf, delta...)
}

// MarkComplete marks the entry at index as fully assembled.
func (a *ToolAssembler) MarkComplete(index int) {
	a.entry(index).complete = true
}

// MarkAllComplete marks every known index complete (OpenAI: a
// finish_reason arrives with no per-index terminal marker).
func (a *ToolAssembler) MarkAllComplete() {
	for _, idx := range a.order {
		a.entries[idx].complete = true
	}
}

// CompleteEvents returns one tool_call event per complete, not-yet-drained
// entry, in ascending tool_index order, and marks them drained so a second
// call (e.g. both content_block_stop and message_delta) never double-emits.
func (a *ToolAssembler) CompleteEvents() []schema.StreamEvent {
	var out []schema.StreamEvent
	idxs := append([]int(nil), a.order...)
	sort.Ints(idxs)
	for _, idx := range idxs {
		e := a.entries[idx]
		if !e.complete || e.drained() {
			continue
		}
		out = append(out, schema.StreamEvent{
			Type:          schema.EventToolCall,
			ToolCallID:    e.id,
			ToolCallName:  e.name,
			ArgumentsJSON: string(e.argsBuf),
		})
		e.markDrained()
	}
	return out
}

func (e *toolEntry) drained() bool     { return e.drainedFlag }
func (e *toolEntry) markDrained()      { e.drainedFlag = true }

// EncodeState is the minimal per-request state an egress encoder needs to
// render consistent SSE chunk ids/indices when re-serializing canonical
// events into a dialect that numbers its chunks (OpenAI-style).
type EncodeState struct {
	ChunkIndex int
	ResponseID string
	Model      string
}
