package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taipm/llm-gateway/internal/schema"
)

func TestAnthropicClientToCanonicalSystemTopLevel(t *testing.T) {
	a := NewAnthropicAdapter()
	raw := []byte(`{
		"model": "claude-3-5-sonnet-20241022",
		"system": "be terse",
		"max_tokens": 1024,
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	req, err := a.ClientToCanonical(raw)
	require.NoError(t, err)
	assert.Equal(t, "be terse", req.SystemText)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "hi", req.Messages[0].StringContent)
	require.NotNil(t, req.Generation.MaxTokens)
	assert.Equal(t, 1024, *req.Generation.MaxTokens)
}

func TestAnthropicToolResultFlattenedToToolMessage(t *testing.T) {
	a := NewAnthropicAdapter()
	raw := []byte(`{
		"model": "claude-3-5-sonnet-20241022",
		"max_tokens": 100,
		"messages": [
			{"role": "user", "content": [{"type": "tool_result", "tool_use_id": "toolu_1", "content": "72F"}]}
		]
	}`)

	req, err := a.ClientToCanonical(raw)
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, schema.RoleTool, req.Messages[0].Role)
	assert.Equal(t, "toolu_1", req.Messages[0].ToolCallID)
	assert.Equal(t, "72F", req.Messages[0].StringContent)
}

func TestAnthropicRequiredMapsToAny(t *testing.T) {
	a := NewAnthropicAdapter()
	req := &schema.Request{
		Model:    "claude-3-5-sonnet-20241022",
		Messages: []schema.Message{{Role: schema.RoleUser, IsStringContent: true, StringContent: "hi"}},
		ToolChoice: &schema.ToolChoice{Mode: schema.ToolChoiceRequired},
	}

	out, err := a.CanonicalToProvider(req)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"tool_choice":{"type":"any"}`)
}

func TestAnthropicProviderToCanonicalToolUse(t *testing.T) {
	a := NewAnthropicAdapter()
	raw := []byte(`{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-3-5-sonnet-20241022",
		"stop_reason": "tool_use",
		"content": [
			{"type": "text", "text": "let me check"},
			{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"city": "nyc"}}
		],
		"usage": {"input_tokens": 20, "output_tokens": 8}
	}`)

	resp, err := a.ProviderToCanonical(raw)
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, schema.FinishToolCalls, resp.Choices[0].FinishReason)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, "get_weather", resp.Choices[0].Message.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"city":"nyc"}`, resp.Choices[0].Message.ToolCalls[0].Function.Arguments)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 20, resp.Usage.InputTokens)
}

func TestAnthropicStreamingToolCallAssembly(t *testing.T) {
	a := NewAnthropicAdapter()
	asm := a.NewToolAssembler()

	start := []byte(`{"type":"message_start","message":{"id":"msg_1","model":"claude-3-5-sonnet-20241022","role":"assistant","content":[],"usage":{"input_tokens":12}}}`)
	blockStart := []byte(`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather"}}`)
	delta1 := []byte(`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"cit"}}`)
	delta2 := []byte(`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"y\":\"nyc\"}"}}`)
	blockStop := []byte(`{"type":"content_block_stop","index":0}`)
	msgDelta := []byte(`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":8}}`)

	startEvents, err := a.SourceToCanonical(start, asm)
	require.NoError(t, err)
	require.Len(t, startEvents, 1)
	assert.Equal(t, schema.EventMessageStart, startEvents[0].Type)
	require.NotNil(t, startEvents[0].InputTokens)
	assert.Equal(t, 12, *startEvents[0].InputTokens)

	_, err = a.SourceToCanonical(blockStart, asm)
	require.NoError(t, err)
	_, err = a.SourceToCanonical(delta1, asm)
	require.NoError(t, err)
	_, err = a.SourceToCanonical(delta2, asm)
	require.NoError(t, err)

	stopEvents, err := a.SourceToCanonical(blockStop, asm)
	require.NoError(t, err)
	require.Len(t, stopEvents, 1)
	assert.Equal(t, schema.EventToolCall, stopEvents[0].Type)
	assert.Equal(t, "toolu_1", stopEvents[0].ToolCallID)
	assert.Equal(t, "get_weather", stopEvents[0].ToolCallName)
	assert.Equal(t, `{"city":"nyc"}`, stopEvents[0].ArgumentsJSON)

	deltaEvents, err := a.SourceToCanonical(msgDelta, asm)
	require.NoError(t, err)
	var sawComplete, sawUsage bool
	for _, ev := range deltaEvents {
		if ev.Type == schema.EventComplete {
			sawComplete = true
			assert.Equal(t, schema.FinishToolCalls, ev.FinishReason)
		}
		if ev.Type == schema.EventUsage {
			sawUsage = true
			require.NotNil(t, ev.Usage)
			assert.Equal(t, 8, ev.Usage.OutputTokens)
		}
	}
	assert.True(t, sawComplete)
	assert.True(t, sawUsage)
}

func TestAnthropicIsTerminal(t *testing.T) {
	a := NewAnthropicAdapter()
	assert.True(t, a.IsTerminal([]byte(`{"type":"message_stop"}`)))
	assert.False(t, a.IsTerminal([]byte(`{"type":"content_block_delta"}`)))
}
