package streaming

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taipm/llm-gateway/internal/adapters"
	"github.com/taipm/llm-gateway/internal/schema"
)

type bufWriter struct {
	bytes.Buffer
	flushes int
}

func (w *bufWriter) Flush() { w.flushes++ }

type closingReader struct {
	*bytes.Reader
	closed bool
}

func (r *closingReader) Close() error { r.closed = true; return nil }

func upstream(s string) *closingReader {
	return &closingReader{Reader: bytes.NewReader([]byte(s))}
}

func TestRunOpenAITextStream(t *testing.T) {
	body := "data: " + `{"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant"},"finish_reason":null}]}` + "\n\n" +
		"data: " + `{"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"hi"},"finish_reason":null}]}` + "\n\n" +
		"data: " + `{"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}` + "\n\n" +
		"data: [DONE]\n\n"

	src := adapters.NewOpenAIAdapter()
	client := adapters.NewOpenAIAdapter()
	w := &bufWriter{}

	result, err := Run(context.Background(), w, Options{
		Upstream:     upstream(body),
		Source:       src,
		Client:       client,
		ClientFormat: adapters.FormatOpenAI,
		EncodeState:  &adapters.EncodeState{ResponseID: "c1", Model: "gpt-4o"},
	})
	require.NoError(t, err)
	assert.Equal(t, schema.FinishStop, result.FinishReason)
	assert.Contains(t, w.String(), `"content":"hi"`)
	assert.Contains(t, w.String(), `"finish_reason":"stop"`)
	assert.True(t, w.flushes > 0)
}

func TestRunCompleteEventIsAlwaysLast(t *testing.T) {
	body := "data: " + `{"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"hi"},"finish_reason":null}]}` + "\n\n" +
		"data: " + `{"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}` + "\n\n" +
		"data: [DONE]\n\n"

	src := adapters.NewOpenAIAdapter()
	client := adapters.NewOpenAIAdapter()
	w := &bufWriter{}

	result, err := Run(context.Background(), w, Options{
		Upstream:     upstream(body),
		Source:       src,
		Client:       client,
		ClientFormat: adapters.FormatOpenAI,
		EncodeState:  &adapters.EncodeState{ResponseID: "c1", Model: "gpt-4o"},
	})
	require.NoError(t, err)
	require.NotNil(t, result.FinalUsage)
	assert.Equal(t, 3, result.FinalUsage.PromptTokens)

	lastFrameIdx := bytes.LastIndex(w.Bytes(), []byte("data: "))
	lastFrame := w.Bytes()[lastFrameIdx:]
	assert.Contains(t, string(lastFrame), `"finish_reason":"stop"`)
}

func TestRunAnthropicToolCallStream(t *testing.T) {
	body := "data: " + `{"type":"message_start","message":{"id":"msg_1","model":"claude-3-5-sonnet-20241022","role":"assistant","content":[],"usage":{"input_tokens":12}}}` + "\n\n" +
		"data: " + `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather"}}` + "\n\n" +
		"data: " + `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\":\"nyc\"}"}}` + "\n\n" +
		"data: " + `{"type":"content_block_stop","index":0}` + "\n\n" +
		"data: " + `{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":8}}` + "\n\n" +
		"data: " + `{"type":"message_stop"}` + "\n\n"

	src := adapters.NewAnthropicAdapter()
	client := adapters.NewAnthropicAdapter()
	w := &bufWriter{}

	result, err := Run(context.Background(), w, Options{
		Upstream:     upstream(body),
		Source:       src,
		Client:       client,
		ClientFormat: adapters.FormatAnthropic,
		EncodeState:  &adapters.EncodeState{ResponseID: "msg_1", Model: "claude-3-5-sonnet-20241022"},
	})
	require.NoError(t, err)
	assert.Equal(t, schema.FinishToolCalls, result.FinishReason)
	require.NotNil(t, result.FinalUsage)
	assert.Equal(t, 8, result.FinalUsage.OutputTokens)
	assert.Contains(t, w.String(), "event: message_delta")
}

func TestRunClosesUpstream(t *testing.T) {
	body := "data: [DONE]\n\n"
	r := upstream(body)
	src := adapters.NewOpenAIAdapter()
	client := adapters.NewOpenAIAdapter()
	w := &bufWriter{}

	_, err := Run(context.Background(), w, Options{
		Upstream:     r,
		Source:       src,
		Client:       client,
		ClientFormat: adapters.FormatOpenAI,
		EncodeState:  &adapters.EncodeState{ResponseID: "c1", Model: "gpt-4o"},
	})
	require.NoError(t, err)
	assert.True(t, r.closed)
}

func TestRunNoUpstreamCompleteSynthesizesStop(t *testing.T) {
	body := "data: [DONE]\n\n"
	src := adapters.NewOpenAIAdapter()
	client := adapters.NewOpenAIAdapter()
	w := &bufWriter{}

	result, err := Run(context.Background(), w, Options{
		Upstream:     upstream(body),
		Source:       src,
		Client:       client,
		ClientFormat: adapters.FormatOpenAI,
		EncodeState:  &adapters.EncodeState{ResponseID: "c1", Model: "gpt-4o"},
	})
	require.NoError(t, err)
	assert.Equal(t, schema.FinishStop, result.FinishReason)
}

var _ io.ReadCloser = (*closingReader)(nil)
