package history

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Session is a chat conversation. Title is empty until one is generated.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplayTitle returns the title, or "Session <id>" for untitled sessions.
func (s Session) DisplayTitle() string {
	if s.Title != "" {
		return s.Title
	}
	return "Session " + s.ID
}

// Message represents a single conversational turn persisted in SQLite.
type Message struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Transcript is a session together with its ordered messages.
type Transcript struct {
	Session  Session
	Messages []Message
}
