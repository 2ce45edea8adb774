package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies which party produced a turn.
type Role int

const (
	// RoleUser is a message written by the learner.
	RoleUser Role = iota
	// RoleAssistant is a message produced by the tutor model.
	RoleAssistant
)

// String returns the internal role label.
func (r Role) String() string {
	if r == RoleAssistant {
		return "assistant"
	}
	return "user"
}

// WireRole returns the role label expected by the generative endpoint.
func (r Role) WireRole() string {
	if r == RoleAssistant {
		return "model"
	}
	return "user"
}

// Turn is one message in a conversation.
type Turn struct {
	Role    Role
	Content string
}

// StoredTurn is a persisted turn record. Role is kept as stored text because
// older rows use labels such as "ia"; callers normalize it on read.
type StoredTurn struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
