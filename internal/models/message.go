package models

import (
	"encoding/json"
	"time"
)

// MessageRole identifies who produced a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is one turn's content, owned by exactly one session.
// Messages are append-only and never mutated after persistence.
type Message struct {
	SessionID string      `json:"session_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	// Attachments carries non-text payloads opaque to the engine
	Attachments []json.RawMessage `json:"attachments,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}
