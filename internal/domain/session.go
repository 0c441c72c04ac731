package domain

import "time"

// SessionKind tags the modality of a conversation session.
type SessionKind string

const (
	SessionKindConversation SessionKind = "conversation"
	SessionKindVoice        SessionKind = "voice"
	SessionKindNavigation   SessionKind = "navigation"
)

// ValidSessionKind reports whether k is a recognized session kind.
func ValidSessionKind(k SessionKind) bool {
	switch k {
	case SessionKindConversation, SessionKindVoice, SessionKindNavigation:
		return true
	}
	return false
}

// Session is one bounded conversation belonging to a single user. Messages
// and UI cards are owned by the session and deleted with it.
type Session struct {
	ID         string      `json:"id"`
	UserID     string      `json:"user_id"`
	Kind       SessionKind `json:"kind"`
	Attributes Attributes  `json:"attributes,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	EndedAt    *time.Time  `json:"ended_at,omitempty"`
	Active     bool        `json:"active"`
}

// End closes the session. Idempotent: an already-ended session keeps its
// original EndedAt.
func (s *Session) End(now time.Time) {
	if !s.Active && s.EndedAt != nil {
		return
	}
	t := now
	s.EndedAt = &t
	s.Active = false
}
