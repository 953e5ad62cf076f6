package streaming

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/taipm/llm-gateway/internal/adapters"
	"github.com/taipm/llm-gateway/internal/logging"
	"github.com/taipm/llm-gateway/internal/schema"
)

// SourceAdapter is the subset of adapters.FormatAdapter the ingest side of
// the pipeline needs. Every adapters.FormatAdapter satisfies this
// structurally; providers.GoogleStreamAdapter implements only this subset
// since Gemini has no general dialect registered in internal/adapters
// (spec.md §4.5).
type SourceAdapter interface {
	NewToolAssembler() *adapters.ToolAssembler
	SourceToCanonical(payload []byte, asm *adapters.ToolAssembler) ([]schema.StreamEvent, error)
	IsTerminal(payload []byte) bool
}

// Writer is the downstream sink: one SSE frame per call. Flush is called
// after every frame so partial output reaches the client immediately.
type Writer interface {
	io.Writer
	Flush()
}

// Options configures one streaming request's pipeline run.
type Options struct {
	Upstream      io.ReadCloser
	Source        SourceAdapter
	Client        adapters.FormatAdapter // egress dialect adapter
	ClientFormat  string                 // "openai" | "anthropic" | "openai_responses", for SSE framing shape
	EncodeState   *adapters.EncodeState
	Logger        logging.Logger
	ResponsesUsage bool // true only for the Responses dialect's usage fallback
}

// Result is what the caller needs after a pipeline run completes, for
// usage accounting (C8).
type Result struct {
	FinalUsage  *schema.Usage
	FinishReason schema.FinishReason
}

// Run drives the streaming pipeline loop described in spec.md §4.7: read,
// frame, translate, re-encode, write, until the upstream-specific terminal
// condition, then flush final usage and complete (in that order, so
// complete is always the last event written — spec.md §5).
func Run(ctx context.Context, w Writer, opts Options) (Result, error) {
	defer opts.Upstream.Close()

	logger := opts.Logger
	if logger == nil {
		logger = logging.Noop{}
	}

	asm := opts.Source.NewToolAssembler()
	framer := &Framer{}
	var usageScanner *ResponsesUsageScanner
	if opts.ResponsesUsage {
		usageScanner = &ResponsesUsageScanner{}
	}

	var result Result
	var pendingComplete *schema.StreamEvent

	emit := func(ev schema.StreamEvent) error {
		if ev.Type == schema.EventComplete {
			result.FinishReason = ev.FinishReason
			cp := ev
			pendingComplete = &cp
			return nil
		}
		if ev.Type == schema.EventUsage {
			result.FinalUsage = ev.Usage
		}
		return writeEvent(w, opts.Client, opts.ClientFormat, ev, opts.EncodeState)
	}

	reader := bufio.NewReaderSize(opts.Upstream, 4096)
	buf := make([]byte, 4096)

	terminal := false
	for !terminal {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		n, readErr := reader.Read(buf)
		if n > 0 {
			frames := framer.Feed(buf[:n])
			for _, frame := range frames {
				payload, ok := DataPayload(frame)
				if !ok {
					continue
				}
				if IsDoneMarker(payload) || opts.Source.IsTerminal([]byte(payload)) {
					terminal = true
				}
				if usageScanner != nil {
					if u, found := usageScanner.Feed(payload); found {
						result.FinalUsage = &schema.Usage{
							InputTokens: u.InputTokens, OutputTokens: u.OutputTokens,
							PromptTokens: u.InputTokens, CompletionTokens: u.OutputTokens,
							CacheReadInputTokens: u.CachedTokens,
						}
					}
				}
				if IsDoneMarker(payload) {
					continue
				}
				events, err := opts.Source.SourceToCanonical([]byte(payload), asm)
				if err != nil {
					// SSE parse failures mid-stream are logged and
					// skipped, never fatal (spec.md §4.1, §7).
					logger.Warn(ctx, "streaming: failed to translate frame", logging.F("err", err))
					continue
				}
				for _, ev := range events {
					if err := emit(ev); err != nil {
						return result, err
					}
				}
				if terminal {
					break
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return result, readErr
		}
	}

	if pendingComplete == nil {
		pendingComplete = &schema.StreamEvent{Type: schema.EventComplete, FinishReason: schema.FinishStop}
	}
	if err := writeEvent(w, opts.Client, opts.ClientFormat, *pendingComplete, opts.EncodeState); err != nil {
		return result, err
	}
	result.FinishReason = pendingComplete.FinishReason
	w.Flush()
	return result, nil
}

func writeEvent(w Writer, client adapters.FormatAdapter, format string, ev schema.StreamEvent, st *adapters.EncodeState) error {
	body, err := client.EncodeClientEvent(ev, st)
	if err != nil || body == nil {
		return err
	}
	frame := FrameSSE(format, ev.Type, body)
	if _, err := w.Write(frame); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// FrameSSE renders one event's JSON body as a complete SSE frame for the
// given dialect. Anthropic's wire protocol names the SSE "event:" line
// after the wire-level event type embedded in the body's own "type" field
// (message_start, content_block_delta, ...); OpenAI and Responses frame
// with a bare "data:" line (spec.md §6 "data: <JSON>\n\n").
func FrameSSE(format string, evType schema.EventType, body []byte) []byte {
	if format == adapters.FormatAnthropic {
		return []byte("event: " + wireEventName(body) + "\ndata: " + string(body) + "\n\n")
	}
	return append(append([]byte("data: "), body...), []byte("\n\n")...)
}

func wireEventName(body []byte) string {
	var probe struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(body, &probe)
	return probe.Type
}
