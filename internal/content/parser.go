package content

import (
	"bytes"
	"encoding/json"
	"strings"
)

// SegmentKind distinguishes prose from fenced workflow JSON in a reply.
type SegmentKind string

const (
	SegmentText       SegmentKind = "text"
	SegmentStructured SegmentKind = "structured"
)

// Segment is one slice of an assistant reply. Segments are derived values,
// recomputed from the full text on every call; they are never stored.
type Segment struct {
	Kind    SegmentKind
	Content string
}

const (
	openFence  = "```json"
	closeFence = "```"
)

// Parse splits an assistant reply into plain-text and structured segments.
// It is called repeatedly against progressively longer text while a stream is
// in flight, so a trailing fence with no closing marker is treated as a
// structured segment reaching to the end of the text. The function is pure:
// the same input always yields the same segments.
func Parse(text string) []Segment {
	var segments []Segment
	rest := text
	for {
		start := strings.Index(rest, openFence)
		if start < 0 {
			appendText(&segments, rest)
			break
		}
		appendText(&segments, rest[:start])
		body := rest[start+len(openFence):]
		end := strings.Index(body, closeFence)
		if end < 0 {
			// Unclosed trailing block; it will be re-parsed as closed once
			// the stream delivers the closing marker.
			appendStructured(&segments, body)
			break
		}
		appendStructured(&segments, body[:end])
		rest = body[end+len(closeFence):]
	}
	return segments
}

// LastStructured returns the content of the final structured segment, if any.
func LastStructured(segments []Segment) (string, bool) {
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i].Kind == SegmentStructured {
			return segments[i].Content, true
		}
	}
	return "", false
}

func appendText(segments *[]Segment, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	*segments = append(*segments, Segment{Kind: SegmentText, Content: text})
}

func appendStructured(segments *[]Segment, raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	*segments = append(*segments, Segment{Kind: SegmentStructured, Content: prettify(raw)})
}

// prettify re-indents valid JSON for display. A parse failure is not an
// error; the raw text passes through unchanged.
func prettify(raw string) string {
	if !json.Valid([]byte(raw)) {
		return raw
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "  "); err != nil {
		return raw
	}
	return buf.String()
}
