// Package streaming implements the Streaming Pipeline (C7): SSE frame
// parsing, per-request tool-call assembly, cross-dialect event
// re-emission, and final usage extraction.
package streaming

import "strings"

// Framer incrementally splits a raw upstream byte stream into complete SSE
// frames on the "\n\n" boundary (spec.md §4.7 step 2), holding back any
// trailing incomplete frame across Feed calls.
type Framer struct {
	buf strings.Builder
}

// Feed appends newly read bytes and returns every complete frame's raw
// text (the lines between a frame boundary), in arrival order.
func (f *Framer) Feed(chunk []byte) []string {
	f.buf.Write(chunk)
	full := f.buf.String()

	var frames []string
	for {
		idx := strings.Index(full, "\n\n")
		if idx < 0 {
			break
		}
		frames = append(frames, full[:idx])
		full = full[idx+2:]
	}

	f.buf.Reset()
	f.buf.WriteString(full)
	return frames
}

// Remainder returns whatever incomplete trailing bytes are still buffered.
// Run does not call it, so a final frame the upstream closes without a
// trailing blank line is not translated.
func (f *Framer) Remainder() string {
	return f.buf.String()
}

// DataPayload extracts and joins every "data:" line's content from one SSE
// frame (spec.md §4.7 step 3); non-"data:" lines (event:, id:, comments)
// are ignored by this adapter-facing extraction since every adapter reads
// the event type from the JSON payload's own "type" field.
func DataPayload(frame string) (string, bool) {
	lines := strings.Split(frame, "\n")
	var data []string
	found := false
	for _, line := range lines {
		if strings.HasPrefix(line, "data:") {
			found = true
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if !found {
		return "", false
	}
	return strings.Join(data, "\n"), true
}

// IsDoneMarker reports the OpenAI "[DONE]" sentinel, or an empty payload
// (spec.md §4.7 step 3: "data: [DONE] (or data: followed by empty)
// terminates").
func IsDoneMarker(payload string) bool {
	trimmed := strings.TrimSpace(payload)
	return trimmed == "[DONE]" || trimmed == ""
}
