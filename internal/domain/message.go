package domain

import "time"

// Role tags who produced a message within a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one numbered step in a session's conversation. Messages are
// immutable once written; (SessionID, TurnNumber) is unique and turn numbers
// form a gapless ascending sequence starting at 1, assigned by the store.
type Message struct {
	SessionID  string     `json:"session_id"`
	TurnNumber int        `json:"turn_number"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Attributes Attributes `json:"attributes,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Turn is a message together with the UI cards shown during it, as returned
// by session history reads.
type Turn struct {
	Message Message  `json:"message"`
	Cards   []UICard `json:"cards,omitempty"`
}
