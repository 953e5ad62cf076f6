package streaming

import (
	"encoding/json"
	"strings"
)

const responsesCompletedMarker = `"type":"response.completed"`

// ResponsesUsageScanner implements spec.md §4.7's Responses-dialect usage
// extraction: it accumulates raw payload text across frames and, once it
// has seen the response.completed marker, walks braces from the object's
// opening "{" to find the matching close before attempting to parse. This
// is the brace-counting approach spec.md §9(c) keeps rather than a strict
// incremental JSON parser (documented fragility, not fixed).
type ResponsesUsageScanner struct {
	buf        strings.Builder
	sawMarker  bool
	startIndex int
}

// responsesUsagePayload mirrors the subset of response.completed's body
// this scanner needs.
type responsesUsagePayload struct {
	Response struct {
		Usage struct {
			InputTokens        int `json:"input_tokens"`
			OutputTokens       int `json:"output_tokens"`
			InputTokensDetails struct {
				CachedTokens int `json:"cached_tokens"`
			} `json:"input_tokens_details"`
		} `json:"usage"`
	} `json:"response"`
}

// ScannedUsage is the result of a successful brace-balanced parse.
type ScannedUsage struct {
	InputTokens    int
	CachedTokens   int
	NonCachedInput int
	OutputTokens   int
}

// Feed appends one payload's text and returns the scanned usage once a
// balanced response.completed object has been found and parsed. It
// returns ok==false until then.
func (s *ResponsesUsageScanner) Feed(payload string) (ScannedUsage, bool) {
	s.buf.WriteString(payload)
	text := s.buf.String()

	if !s.sawMarker {
		idx := strings.Index(text, responsesCompletedMarker)
		if idx < 0 {
			return ScannedUsage{}, false
		}
		s.sawMarker = true
		// Take the nearest "{" before the marker as the start of the
		// enclosing object; this holds when "type" is its first key.
		open := strings.LastIndex(text[:idx], "{")
		if open < 0 {
			open = 0
		}
		s.startIndex = open
	}

	obj, ok := balancedObject(text[s.startIndex:])
	if !ok {
		return ScannedUsage{}, false
	}

	var parsed responsesUsagePayload
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return ScannedUsage{}, false
	}
	u := parsed.Response.Usage
	cached := u.InputTokensDetails.CachedTokens
	return ScannedUsage{
		InputTokens:    u.InputTokens,
		CachedTokens:   cached,
		NonCachedInput: u.InputTokens - cached,
		OutputTokens:   u.OutputTokens,
	}, true
}

// balancedObject returns the shortest prefix of s starting at its first
// "{" that is a brace-balanced JSON object, ignoring braces inside string
// literals.
func balancedObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
