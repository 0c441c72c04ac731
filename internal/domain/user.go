package domain

import "time"

// User is the root of ownership: sessions, memories and facts all hang off a
// user and are removed with it.
type User struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email,omitempty"`
	Attributes Attributes `json:"attributes,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastActive time.Time  `json:"last_active"`
}

// Touch advances the last-active timestamp.
func (u *User) Touch(now time.Time) {
	u.LastActive = now
}
