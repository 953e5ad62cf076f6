package streaming

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFramerSplitsOnBlankLine(t *testing.T) {
	f := &Framer{}
	frames := f.Feed([]byte("data: one\n\ndata: two\n\ndata: thr"))
	assert.Equal(t, []string{"data: one", "data: two"}, frames)
	assert.Equal(t, "data: thr", f.Remainder())
}

func TestFramerAccumulatesAcrossFeeds(t *testing.T) {
	f := &Framer{}
	assert.Empty(t, f.Feed([]byte("data: par")))
	frames := f.Feed([]byte("tial\n\n"))
	assert.Equal(t, []string{"data: partial"}, frames)
}

func TestDataPayloadJoinsMultipleDataLines(t *testing.T) {
	payload, ok := DataPayload("data: line1\ndata: line2")
	assert.True(t, ok)
	assert.Equal(t, "line1\nline2", payload)
}

func TestDataPayloadIgnoresNonDataLines(t *testing.T) {
	payload, ok := DataPayload("event: message_start\ndata: hello\nid: 1")
	assert.True(t, ok)
	assert.Equal(t, "hello", payload)
}

func TestDataPayloadNoDataLineReturnsFalse(t *testing.T) {
	_, ok := DataPayload("event: ping")
	assert.False(t, ok)
}

func TestIsDoneMarker(t *testing.T) {
	assert.True(t, IsDoneMarker("[DONE]"))
	assert.True(t, IsDoneMarker("  "))
	assert.True(t, IsDoneMarker(""))
	assert.False(t, IsDoneMarker(`{"type":"message_start"}`))
}
