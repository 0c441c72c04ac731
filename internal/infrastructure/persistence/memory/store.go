// Package memory provides the in-memory storage backend. It is the reference
// implementation of the repository contracts: every invariant the DynamoDB
// backend enforces with conditional writes is enforced here with locks, and
// the test suites of the service layer run against it.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"engram-backend/internal/domain"
	"engram-backend/internal/repository"
	pkgerrors "engram-backend/pkg/errors"
)

// sessionState holds one session's log. Writers for a session serialize on
// mu, which is what makes store-assigned turn numbers gapless: under the
// write lock the next turn is always len(messages)+1. Readers take the read
// lock and copy, so a history read never observes a partial turn.
type sessionState struct {
	mu       sync.RWMutex
	session  domain.Session
	messages []domain.Message        // index i holds turn i+1
	cards    map[int][]domain.UICard // turn number -> cards ordered by DisplayOrder
}

// Store is the in-memory implementation of repository.Store. The top-level
// RWMutex guards the maps themselves; per-session locks serialize writes
// within a session so that appends to different sessions never contend.
type Store struct {
	mu       sync.RWMutex
	users    map[string]*domain.User
	sessions map[string]*sessionState
	memories map[string]*domain.Memory
	facts    map[string]*domain.Fact // composite (user, category, key) -> fact

	now func() time.Time
}

var _ repository.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source, used by tests for deterministic
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		users:    make(map[string]*domain.User),
		sessions: make(map[string]*sessionState),
		memories: make(map[string]*domain.Memory),
		facts:    make(map[string]*domain.Fact),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func factKey(userID, category, key string) string {
	return userID + "\x1f" + category + "\x1f" + key
}

// ---------------------------------------------------------------------------
// UserRepository

// CreateUser stores a new user.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if user.ID == "" {
		return pkgerrors.NewValidation("user ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return pkgerrors.NewUniqueViolation("user", user.ID)
	}

	u := *user
	u.Attributes = user.Attributes.Copy()
	s.users[user.ID] = &u
	return nil
}

// GetUser returns a copy of the user or NOT_FOUND.
func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, pkgerrors.NewNotFound("user", userID)
	}
	cp := *u
	cp.Attributes = u.Attributes.Copy()
	return &cp, nil
}

// UpdateUser persists mutated attributes and last-active time.
func (s *Store) UpdateUser(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return pkgerrors.NewNotFound("user", user.ID)
	}
	existing.Name = user.Name
	existing.Email = user.Email
	existing.Attributes = user.Attributes.Copy()
	existing.LastActive = user.LastActive
	return nil
}

// DeleteUser removes the user and cascades over sessions, messages, cards,
// memories and facts. The whole cascade happens under one write lock, so it
// is all-or-nothing and other users' data is untouched.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return pkgerrors.NewNotFound("user", userID)
	}

	delete(s.users, userID)
	for id, ss := range s.sessions {
		if ss.session.UserID == userID {
			delete(s.sessions, id)
		}
	}
	for id, m := range s.memories {
		if m.UserID == userID {
			delete(s.memories, id)
		}
	}
	for key, f := range s.facts {
		if f.UserID == userID {
			delete(s.facts, key)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// SessionRepository

// CreateSession stores a new session.
func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[session.UserID]; !ok {
		return pkgerrors.NewNotFound("user", session.UserID)
	}
	if _, exists := s.sessions[session.ID]; exists {
		return pkgerrors.NewUniqueViolation("session", session.ID)
	}

	cp := *session
	cp.Attributes = session.Attributes.Copy()
	s.sessions[session.ID] = &sessionState{
		session: cp,
		cards:   make(map[int][]domain.UICard),
	}
	return nil
}

// GetSession returns a copy of the session or NOT_FOUND.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ss, err := s.sessionState(sessionID)
	if err != nil {
		return nil, err
	}

	ss.mu.RLock()
	defer ss.mu.RUnlock()
	cp := ss.session
	cp.Attributes = ss.session.Attributes.Copy()
	return &cp, nil
}

// FindActiveSessions returns the user's active sessions of the given kind,
// most recently started first.
func (s *Store) FindActiveSessions(ctx context.Context, userID string, kind domain.SessionKind) ([]domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	states := make([]*sessionState, 0)
	for _, ss := range s.sessions {
		if ss.session.UserID == userID {
			states = append(states, ss)
		}
	}
	s.mu.RUnlock()

	var out []domain.Session
	for _, ss := range states {
		ss.mu.RLock()
		if ss.session.Active && ss.session.Kind == kind {
			cp := ss.session
			cp.Attributes = ss.session.Attributes.Copy()
			out = append(out, cp)
		}
		ss.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// AppendMessage assigns the next turn number under the session's write lock
// and stores the message. The lock is the single-writer guarantee: turn
// numbers come out gapless and strictly increasing from 1.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role domain.Role, content string, attrs domain.Attributes) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !domain.ValidRole(role) {
		return 0, pkgerrors.NewValidation("role must be user, assistant or system")
	}
	if content == "" {
		return 0, pkgerrors.NewValidation("message content cannot be empty")
	}

	ss, err := s.sessionState(sessionID)
	if err != nil {
		return 0, err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.session.Active {
		return 0, &pkgerrors.AppError{
			Type:    pkgerrors.ErrorTypeNotFound,
			Message: "session '" + sessionID + "' is already ended",
		}
	}

	turn := len(ss.messages) + 1
	ss.messages = append(ss.messages, domain.Message{
		SessionID:  sessionID,
		TurnNumber: turn,
		Role:       role,
		Content:    content,
		Attributes: attrs.Copy(),
		CreatedAt:  s.now(),
	})
	return turn, nil
}

// AttachCards stores cards for an existing turn, DisplayOrder assigned from
// list position. A second attach to the same turn collides on slot 0 and is
// rejected as a unique violation.
func (s *Store) AttachCards(ctx context.Context, sessionID string, turnNumber int, cards []domain.CardInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(cards) == 0 {
		return nil
	}
	for _, c := range cards {
		if c.CardType == "" {
			return pkgerrors.NewValidation("card type cannot be empty")
		}
	}

	ss, err := s.sessionState(sessionID)
	if err != nil {
		return err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	if turnNumber < 1 || turnNumber > len(ss.messages) {
		return pkgerrors.NewInvalidTurn(sessionID, turnNumber)
	}
	if len(ss.cards[turnNumber]) > 0 {
		return pkgerrors.NewUniqueViolation("card slot", sessionID)
	}

	shownAt := s.now()
	attached := make([]domain.UICard, len(cards))
	for i, c := range cards {
		attached[i] = domain.UICard{
			SessionID:    sessionID,
			TurnNumber:   turnNumber,
			CardType:     c.CardType,
			Payload:      c.Payload.Copy(),
			DisplayOrder: i,
			ShownAt:      shownAt,
		}
	}
	ss.cards[turnNumber] = attached
	return nil
}

// History returns turns in ascending order, restricted to the last lastN
// turns when lastN > 0. The read happens under the session read lock and
// copies out, so it is a consistent snapshot.
func (s *Store) History(ctx context.Context, sessionID string, lastN int) ([]domain.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ss, err := s.sessionState(sessionID)
	if err != nil {
		return nil, err
	}

	ss.mu.RLock()
	defer ss.mu.RUnlock()

	start := 0
	if lastN > 0 && lastN < len(ss.messages) {
		start = len(ss.messages) - lastN
	}

	turns := make([]domain.Turn, 0, len(ss.messages)-start)
	for _, msg := range ss.messages[start:] {
		m := msg
		m.Attributes = msg.Attributes.Copy()
		t := domain.Turn{Message: m}
		if cards := ss.cards[msg.TurnNumber]; len(cards) > 0 {
			t.Cards = make([]domain.UICard, len(cards))
			for i, c := range cards {
				cc := c
				cc.Payload = c.Payload.Copy()
				t.Cards[i] = cc
			}
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// CardAtOffset resolves the voice-navigation lookup "the card at position
// displayOrder, turnsBack questions ago".
func (s *Store) CardAtOffset(ctx context.Context, sessionID string, turnsBack, displayOrder int) (*domain.UICard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if turnsBack < 0 || displayOrder < 0 {
		return nil, pkgerrors.NewValidation("turnsBack and displayOrder must be non-negative")
	}

	ss, err := s.sessionState(sessionID)
	if err != nil {
		return nil, err
	}

	ss.mu.RLock()
	defer ss.mu.RUnlock()

	target := len(ss.messages) - turnsBack
	if target < 1 {
		return nil, pkgerrors.NewNotFound("turn", sessionID)
	}
	for _, c := range ss.cards[target] {
		if c.DisplayOrder == displayOrder {
			cp := c
			cp.Payload = c.Payload.Copy()
			return &cp, nil
		}
	}
	return nil, pkgerrors.NewNotFound("card", sessionID)
}

// EndSession closes the session; idempotent.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ss, err := s.sessionState(sessionID)
	if err != nil {
		return err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.session.End(s.now())
	return nil
}

func (s *Store) sessionState(sessionID string) (*sessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ss, ok := s.sessions[sessionID]
	if !ok {
		return nil, pkgerrors.NewNotFound("session", sessionID)
	}
	return ss, nil
}

// ---------------------------------------------------------------------------
// MemoryRepository

// CreateMemory stores a new memory record.
func (s *Store) CreateMemory(ctx context.Context, memory *domain.Memory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if memory.Text == "" {
		return pkgerrors.NewValidation("memory text cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[memory.UserID]; !ok {
		return pkgerrors.NewNotFound("user", memory.UserID)
	}
	if _, exists := s.memories[memory.ID]; exists {
		return pkgerrors.NewUniqueViolation("memory", memory.ID)
	}

	cp := *memory
	cp.Attributes = memory.Attributes.Copy()
	cp.Embedding = append([]float32(nil), memory.Embedding...)
	s.memories[memory.ID] = &cp
	return nil
}

// GetMemory returns a copy of the memory or NOT_FOUND.
func (s *Store) GetMemory(ctx context.Context, memoryID string) (*domain.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memories[memoryID]
	if !ok {
		return nil, pkgerrors.NewNotFound("memory", memoryID)
	}
	return copyMemory(m), nil
}

// ListMemories returns all memories for a user, newest first.
func (s *Store) ListMemories(ctx context.Context, userID string) ([]domain.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Memory
	for _, m := range s.memories {
		if m.UserID == userID {
			out = append(out, *copyMemory(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateRelevance changes the relevance score in place.
func (s *Store) UpdateRelevance(ctx context.Context, memoryID string, relevance float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memories[memoryID]
	if !ok {
		return pkgerrors.NewNotFound("memory", memoryID)
	}
	m.Relevance = relevance
	m.UpdatedAt = s.now()
	return nil
}

// DeleteMemory removes one memory record.
func (s *Store) DeleteMemory(ctx context.Context, memoryID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.memories[memoryID]; !ok {
		return pkgerrors.NewNotFound("memory", memoryID)
	}
	delete(s.memories, memoryID)
	return nil
}

// DeleteMemoriesForUser removes all of a user's memories.
func (s *Store) DeleteMemoriesForUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, m := range s.memories {
		if m.UserID == userID {
			delete(s.memories, id)
		}
	}
	return nil
}

func copyMemory(m *domain.Memory) *domain.Memory {
	cp := *m
	cp.Attributes = m.Attributes.Copy()
	cp.Embedding = append([]float32(nil), m.Embedding...)
	return &cp
}

// ---------------------------------------------------------------------------
// FactRepository

// UpsertFact creates or merges the fact at (user, category, key). The merge
// runs under the store write lock, making the read-modify-write atomic:
// concurrent upserts on the same key cannot lose an update.
func (s *Store) UpsertFact(ctx context.Context, incoming domain.Fact, merge repository.MergeFunc) (*domain.Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !domain.ValidConfidence(incoming.Confidence) {
		return nil, pkgerrors.NewInvalidConfidence(incoming.Confidence)
	}
	if incoming.Category == "" || incoming.Key == "" {
		return nil, pkgerrors.NewValidation("fact category and key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[incoming.UserID]; !ok {
		return nil, pkgerrors.NewNotFound("user", incoming.UserID)
	}

	key := factKey(incoming.UserID, incoming.Category, incoming.Key)
	existing := s.facts[key]

	var existingCopy *domain.Fact
	if existing != nil {
		cp := *existing
		cp.Value = existing.Value.Copy()
		existingCopy = &cp
	}

	merged := merge(existingCopy, incoming)
	if !domain.ValidConfidence(merged.Confidence) {
		return nil, pkgerrors.NewInvalidConfidence(merged.Confidence)
	}
	merged.Value = merged.Value.Copy()
	s.facts[key] = &merged

	out := merged
	out.Value = merged.Value.Copy()
	return &out, nil
}

// GetProfile returns all facts for a user grouped by category, each group
// ordered by LastUpdated descending.
func (s *Store) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	profile := make(domain.Profile)
	for _, f := range s.facts {
		if f.UserID != userID {
			continue
		}
		cp := *f
		cp.Value = f.Value.Copy()
		profile[f.Category] = append(profile[f.Category], cp)
	}
	for _, facts := range profile {
		sort.Slice(facts, func(i, j int) bool {
			return facts[i].LastUpdated.After(facts[j].LastUpdated)
		})
	}
	return profile, nil
}

// ClearProvenance nils fact source references pointing at the given memory.
// Facts are never deleted here.
func (s *Store) ClearProvenance(ctx context.Context, memoryID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.facts {
		if f.SourceMemoryID == memoryID {
			f.SourceMemoryID = ""
		}
	}
	return nil
}

// DeleteFactsForUser removes all of a user's facts.
func (s *Store) DeleteFactsForUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, f := range s.facts {
		if f.UserID == userID {
			delete(s.facts, key)
		}
	}
	return nil
}
