package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taipm/llm-gateway/internal/schema"
)

func TestResponsesClientToCanonicalSingleStringInput(t *testing.T) {
	a := NewResponsesAdapter()
	raw := []byte(`{"model": "gpt-4o", "input": "hi there", "instructions": "be terse"}`)

	req, err := a.ClientToCanonical(raw)
	require.NoError(t, err)
	assert.Equal(t, "be terse", req.SystemText)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, schema.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "hi there", req.Messages[0].StringContent)
}

func TestResponsesClientToCanonicalFunctionCallItems(t *testing.T) {
	a := NewResponsesAdapter()
	raw := []byte(`{
		"model": "gpt-4o",
		"input": [
			{"type": "message", "role": "user", "content": "what's the weather"},
			{"type": "function_call", "call_id": "call_1", "name": "get_weather", "arguments": "{\"city\":\"nyc\"}"},
			{"type": "function_call_output", "call_id": "call_1", "output": "72F"}
		]
	}`)

	req, err := a.ClientToCanonical(raw)
	require.NoError(t, err)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, schema.RoleUser, req.Messages[0].Role)
	assert.Equal(t, schema.RoleAssistant, req.Messages[1].Role)
	require.Len(t, req.Messages[1].ToolCalls, 1)
	assert.Equal(t, "get_weather", req.Messages[1].ToolCalls[0].Function.Name)
	assert.Equal(t, schema.RoleTool, req.Messages[2].Role)
	assert.Equal(t, "call_1", req.Messages[2].ToolCallID)
	assert.Equal(t, "72F", req.Messages[2].StringContent)
}

func TestResponsesProviderToCanonicalFunctionCallOutput(t *testing.T) {
	a := NewResponsesAdapter()
	raw := []byte(`{
		"id": "resp_1",
		"object": "response",
		"model": "gpt-4o",
		"status": "completed",
		"output": [
			{"type": "function_call", "call_id": "call_1", "name": "get_weather", "arguments": "{\"city\":\"nyc\"}"}
		],
		"usage": {"input_tokens": 10, "output_tokens": 4, "total_tokens": 14}
	}`)

	resp, err := a.ProviderToCanonical(raw)
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, schema.FinishToolCalls, resp.Choices[0].FinishReason)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 10, resp.Usage.InputTokens)
}

func TestResponsesSourceToCanonicalTextDeltaAndCompletion(t *testing.T) {
	a := NewResponsesAdapter()
	asm := a.NewToolAssembler()

	delta := []byte(`{"type":"response.output_text.delta","delta":"hel"}`)
	events, err := a.SourceToCanonical(delta, asm)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, schema.DeltaText, events[0].Part)

	completed := []byte(`{"type":"response.completed","response":{"id":"resp_1","model":"gpt-4o","status":"completed","usage":{"input_tokens":5,"output_tokens":2,"total_tokens":7}}}`)
	events, err = a.SourceToCanonical(completed, asm)
	require.NoError(t, err)

	var sawComplete, sawUsage bool
	for _, ev := range events {
		if ev.Type == schema.EventComplete {
			sawComplete = true
		}
		if ev.Type == schema.EventUsage {
			sawUsage = true
			require.NotNil(t, ev.Usage)
			assert.Equal(t, 5, ev.Usage.InputTokens)
		}
	}
	assert.True(t, sawComplete)
	assert.True(t, sawUsage)
	assert.True(t, a.IsTerminal(completed))
}

func TestResponsesToolCallStreamingAssembly(t *testing.T) {
	a := NewResponsesAdapter()
	asm := a.NewToolAssembler()

	added := []byte(`{"type":"response.output_item.added","output_index":0,"item":{"type":"function_call","call_id":"call_1","name":"get_weather"}}`)
	delta1 := []byte(`{"type":"response.function_call_arguments.delta","output_index":0,"delta":"{\"cit"}`)
	delta2 := []byte(`{"type":"response.function_call_arguments.delta","output_index":0,"delta":"y\":\"nyc\"}"}`)
	done := []byte(`{"type":"response.output_item.done","output_index":0}`)

	_, err := a.SourceToCanonical(added, asm)
	require.NoError(t, err)
	_, err = a.SourceToCanonical(delta1, asm)
	require.NoError(t, err)
	_, err = a.SourceToCanonical(delta2, asm)
	require.NoError(t, err)

	events, err := a.SourceToCanonical(done, asm)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, schema.EventToolCall, events[0].Type)
	assert.Equal(t, "call_1", events[0].ToolCallID)
	assert.Equal(t, "get_weather", events[0].ToolCallName)
	assert.Equal(t, `{"city":"nyc"}`, events[0].ArgumentsJSON)
}
