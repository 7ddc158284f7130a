package models

import "time"

// Chat roles stored in ChatTurn.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is one entry of a session's AI chat history.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SessionRecord is the durable form of a user session. State is kept for
// inspection only; sessions are always restored idle.
type SessionRecord struct {
	State        string     `json:"state"`
	ChatHistory  []ChatTurn `json:"chatHistory"`
	LastActivity time.Time  `json:"lastActivity"`
	OrderDraft   *Order     `json:"orderDraft,omitempty"`
}

// MessageLogEntry is one inbound message kept for admin review.
type MessageLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	Processed bool      `json:"processed"`
}
