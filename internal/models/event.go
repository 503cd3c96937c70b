package models

// StreamEventType tags the wire-level events sent over the copilot SSE channel.
type StreamEventType string

const (
	EventText     StreamEventType = "text"
	EventComplete StreamEventType = "complete"
	EventError    StreamEventType = "error"
)

// StreamEvent is the payload of a single `data:` SSE frame. Content carries
// the token text for EventText and the message for EventError; it is empty
// for EventComplete.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
}
