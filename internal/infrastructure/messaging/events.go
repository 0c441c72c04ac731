package messaging

import "time"

// Event type names.
const (
	EventTypeTurnRecorded  = "conversation.turn_recorded"
	EventTypeMemoryAdded   = "persona.memory_added"
	EventTypeFactRecorded  = "persona.fact_recorded"
	EventTypeSessionEnded  = "conversation.session_ended"
	EventTypeUserDeleted   = "persona.user_deleted"
	EventTypeMemoryDeleted = "persona.memory_deleted"
)

// TurnRecorded is published after a user/assistant exchange lands in the
// session log. Background listeners extract memories and facts from it.
type TurnRecorded struct {
	SessionID     string
	UserID        string
	UserTurn      int
	AssistantTurn int
	UserText      string
	AssistantText string
	At            time.Time
}

func (e TurnRecorded) EventType() string     { return EventTypeTurnRecorded }
func (e TurnRecorded) AggregateID() string   { return e.SessionID }
func (e TurnRecorded) OccurredAt() time.Time { return e.At }

// MemoryAdded is published when a new memory becomes searchable.
type MemoryAdded struct {
	MemoryID string
	UserID   string
	At       time.Time
}

func (e MemoryAdded) EventType() string     { return EventTypeMemoryAdded }
func (e MemoryAdded) AggregateID() string   { return e.MemoryID }
func (e MemoryAdded) OccurredAt() time.Time { return e.At }

// FactRecorded is published after a fact upsert.
type FactRecorded struct {
	FactID   string
	UserID   string
	Category string
	Key      string
	At       time.Time
}

func (e FactRecorded) EventType() string     { return EventTypeFactRecorded }
func (e FactRecorded) AggregateID() string   { return e.FactID }
func (e FactRecorded) OccurredAt() time.Time { return e.At }

// SessionEnded is published when a session closes.
type SessionEnded struct {
	SessionID string
	UserID    string
	At        time.Time
}

func (e SessionEnded) EventType() string     { return EventTypeSessionEnded }
func (e SessionEnded) AggregateID() string   { return e.SessionID }
func (e SessionEnded) OccurredAt() time.Time { return e.At }

// UserDeleted is published after a user and everything they own is gone.
type UserDeleted struct {
	UserID string
	At     time.Time
}

func (e UserDeleted) EventType() string     { return EventTypeUserDeleted }
func (e UserDeleted) AggregateID() string   { return e.UserID }
func (e UserDeleted) OccurredAt() time.Time { return e.At }

// MemoryDeleted is published when a memory leaves the store and index.
type MemoryDeleted struct {
	MemoryID string
	UserID   string
	At       time.Time
}

func (e MemoryDeleted) EventType() string     { return EventTypeMemoryDeleted }
func (e MemoryDeleted) AggregateID() string   { return e.MemoryID }
func (e MemoryDeleted) OccurredAt() time.Time { return e.At }
