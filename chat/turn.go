package chat

import "time"

// Role attributes a turn to a participant. RoleError is display-only:
// error turns live in the session transcript but are never persisted
// and never enter the context window.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
	RoleSystem    Role = "SYSTEM"
	RoleError     Role = "ERROR"
)

// Turn is one message in a conversation. Immutable once settled; the only
// mutation the orchestrator performs is growing the content of the single
// pending assistant turn while a stream is in flight.
type Turn struct {
	Role      Role
	Content   string
	CreatedAt time.Time

	// Pending marks the in-place assistant placeholder that is still
	// accumulating streamed text.
	Pending bool
}

// NewTurn builds a settled turn stamped with the current time.
func NewTurn(role Role, content string) Turn {
	return Turn{
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}
