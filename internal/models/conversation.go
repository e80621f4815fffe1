package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in a conversation. Messages are immutable once
// written; a conversation's message list only grows.
type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the persisted transcript for one visitor session.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AskRequest is the payload sent to the ask endpoint.
type AskRequest struct {
	Question       string     `json:"question"`
	ConversationID *uuid.UUID `json:"conversationId"`
	SessionID      string     `json:"sessionId"`
}
