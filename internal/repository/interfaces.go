// Package repository defines the storage contracts for the memory engine.
// Implementations live under internal/infrastructure/persistence; every
// structural invariant (turn uniqueness, card-slot uniqueness, fact-key
// uniqueness, confidence bounds) is enforced here at the storage boundary and
// surfaced as typed errors from pkg/errors.
package repository

import (
	"context"

	"engram-backend/internal/domain"
)

// UserRepository owns user identities, the root of cascading lifecycle.
type UserRepository interface {
	// CreateUser stores a new user. Fails with UNIQUE_VIOLATION if the ID is
	// already taken.
	CreateUser(ctx context.Context, user *domain.User) error

	// GetUser returns the user or NOT_FOUND.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpdateUser persists mutated display attributes and last-active time.
	UpdateUser(ctx context.Context, user *domain.User) error

	// DeleteUser removes the user and everything it owns: sessions, messages,
	// cards, memories and facts. The cascade is atomic; partial failure
	// aborts the whole deletion.
	DeleteUser(ctx context.Context, userID string) error
}

// SessionRepository is the session log: an append-only, turn-indexed store of
// messages and UI cards per session.
type SessionRepository interface {
	// CreateSession stores a new session.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession returns the session or NOT_FOUND.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// FindActiveSessions returns the user's active sessions of the given
	// kind, most recent first.
	FindActiveSessions(ctx context.Context, userID string, kind domain.SessionKind) ([]domain.Session, error)

	// AppendMessage assigns the next turn number for the session (strictly
	// increasing from 1, no gaps) and stores the message. Turn numbers are
	// assigned by the store, never by the caller. Fails with DUPLICATE_TURN
	// when a concurrent writer claimed the number first, and NOT_FOUND when
	// the session is unknown or already ended.
	AppendMessage(ctx context.Context, sessionID string, role domain.Role, content string, attrs domain.Attributes) (int, error)

	// AttachCards stores cards for an existing turn, assigning DisplayOrder
	// from list position. Fails with INVALID_TURN when the turn was never
	// written.
	AttachCards(ctx context.Context, sessionID string, turnNumber int, cards []domain.CardInput) error

	// History returns turns in ascending turn order; lastN > 0 limits the
	// result to the tail. Reads observe a consistent snapshot: a message and
	// the cards written with it in one logical write are never seen apart.
	History(ctx context.Context, sessionID string, lastN int) ([]domain.Turn, error)

	// CardAtOffset resolves "the card at position displayOrder, turnsBack
	// questions ago": target turn = max turn - turnsBack. NOT_FOUND when no
	// message or card exists at that coordinate.
	CardAtOffset(ctx context.Context, sessionID string, turnsBack, displayOrder int) (*domain.UICard, error)

	// EndSession closes the session; idempotent on an already-ended one.
	EndSession(ctx context.Context, sessionID string) error
}

// MemoryRepository stores per-user embedded memories.
type MemoryRepository interface {
	// CreateMemory stores a new memory record.
	CreateMemory(ctx context.Context, memory *domain.Memory) error

	// GetMemory returns the memory or NOT_FOUND.
	GetMemory(ctx context.Context, memoryID string) (*domain.Memory, error)

	// ListMemories returns all memories for a user, newest first.
	ListMemories(ctx context.Context, userID string) ([]domain.Memory, error)

	// UpdateRelevance changes the relevance score in place; text and
	// embedding are immutable.
	UpdateRelevance(ctx context.Context, memoryID string, relevance float64) error

	// DeleteMemory removes one memory. Provenance references from facts are
	// cleared by the caller, not here.
	DeleteMemory(ctx context.Context, memoryID string) error

	// DeleteMemoriesForUser removes all of a user's memories.
	DeleteMemoriesForUser(ctx context.Context, userID string) error
}

// MergeFunc combines an existing fact (nil on first insert) with an incoming
// one. The store runs it atomically under the per-key write lock; the policy
// itself is a business rule owned by the service layer.
type MergeFunc func(existing *domain.Fact, incoming domain.Fact) domain.Fact

// FactRepository stores per-user structured facts keyed by (category, key).
type FactRepository interface {
	// UpsertFact creates the fact at (user, category, key) or merges into the
	// existing one via merge. The read-modify-write is atomic: concurrent
	// upserts on the same key never lose an update.
	UpsertFact(ctx context.Context, incoming domain.Fact, merge MergeFunc) (*domain.Fact, error)

	// GetProfile returns all facts for a user grouped by category, each group
	// ordered by LastUpdated descending.
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)

	// ClearProvenance nils any fact's source reference pointing at the given
	// memory. Facts are never deleted here: provenance is a weak reference.
	ClearProvenance(ctx context.Context, memoryID string) error

	// DeleteFactsForUser removes all of a user's facts.
	DeleteFactsForUser(ctx context.Context, userID string) error
}

// Store aggregates the four repositories over one storage backend, so that
// user deletion can cascade atomically across all of them.
type Store interface {
	UserRepository
	SessionRepository
	MemoryRepository
	FactRepository
}
