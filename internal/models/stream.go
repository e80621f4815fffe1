package models

import "github.com/google/uuid"

// Stream event types emitted on the ask response body.
const (
	EventContent   = "content"
	EventFollowUps = "followups"
	EventError     = "error"
)

// StreamDone is the literal terminal line payload that closes a stream.
const StreamDone = "[DONE]"

// ContentEvent carries one answer delta. Deltas are cumulative: the client
// concatenates them in delivery order.
type ContentEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// FollowUpsEvent is emitted exactly once per successful exchange, after the
// last content event.
type FollowUpsEvent struct {
	Type           string     `json:"type"`
	Questions      []string   `json:"questions"`
	ConversationID *uuid.UUID `json:"conversationId"`
}

// ErrorEvent reports a failure after the stream has started. It is terminal;
// already-delivered content is not retracted.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StreamEvent is the decode-side union of the event shapes above.
type StreamEvent struct {
	Type           string     `json:"type"`
	Content        string     `json:"content"`
	Questions      []string   `json:"questions"`
	ConversationID *uuid.UUID `json:"conversationId"`
	Code           string     `json:"code"`
	Message        string     `json:"message"`
}
