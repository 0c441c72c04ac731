package observability

import (
	"context"
	"time"

	"engram-backend/internal/domain"
	"engram-backend/internal/repository"
	appErrors "engram-backend/pkg/errors"
)

// InstrumentedStore decorates a repository.Store with Prometheus metrics.
// Every operation is counted and timed; a few operations also feed the
// business counters (turns, cards, memories, facts).
type InstrumentedStore struct {
	inner   repository.Store
	metrics *Collector
}

// NewInstrumentedStore wraps a store with metrics collection.
func NewInstrumentedStore(inner repository.Store, metrics *Collector) *InstrumentedStore {
	return &InstrumentedStore{inner: inner, metrics: metrics}
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.StoreOperations.WithLabelValues(op, status).Inc()
	s.metrics.StoreDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ---------------------------------------------------------------------------
// UserRepository

func (s *InstrumentedStore) CreateUser(ctx context.Context, user *domain.User) error {
	start := time.Now()
	err := s.inner.CreateUser(ctx, user)
	s.observe("create_user", start, err)
	return err
}

func (s *InstrumentedStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	start := time.Now()
	user, err := s.inner.GetUser(ctx, userID)
	s.observe("get_user", start, err)
	return user, err
}

func (s *InstrumentedStore) UpdateUser(ctx context.Context, user *domain.User) error {
	start := time.Now()
	err := s.inner.UpdateUser(ctx, user)
	s.observe("update_user", start, err)
	return err
}

func (s *InstrumentedStore) DeleteUser(ctx context.Context, userID string) error {
	start := time.Now()
	err := s.inner.DeleteUser(ctx, userID)
	s.observe("delete_user", start, err)
	return err
}

// ---------------------------------------------------------------------------
// SessionRepository

func (s *InstrumentedStore) CreateSession(ctx context.Context, session *domain.Session) error {
	start := time.Now()
	err := s.inner.CreateSession(ctx, session)
	s.observe("create_session", start, err)
	return err
}

func (s *InstrumentedStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	start := time.Now()
	session, err := s.inner.GetSession(ctx, sessionID)
	s.observe("get_session", start, err)
	return session, err
}

func (s *InstrumentedStore) FindActiveSessions(ctx context.Context, userID string, kind domain.SessionKind) ([]domain.Session, error) {
	start := time.Now()
	sessions, err := s.inner.FindActiveSessions(ctx, userID, kind)
	s.observe("find_active_sessions", start, err)
	return sessions, err
}

func (s *InstrumentedStore) AppendMessage(ctx context.Context, sessionID string, role domain.Role, content string, attrs domain.Attributes) (int, error) {
	start := time.Now()
	turn, err := s.inner.AppendMessage(ctx, sessionID, role, content, attrs)
	s.observe("append_message", start, err)
	if err == nil {
		s.metrics.TurnsRecorded.Inc()
	} else if appErrors.IsDuplicateTurn(err) {
		s.metrics.TurnConflicts.Inc()
	}
	return turn, err
}

func (s *InstrumentedStore) AttachCards(ctx context.Context, sessionID string, turnNumber int, cards []domain.CardInput) error {
	start := time.Now()
	err := s.inner.AttachCards(ctx, sessionID, turnNumber, cards)
	s.observe("attach_cards", start, err)
	if err == nil {
		s.metrics.CardsAttached.Add(float64(len(cards)))
	}
	return err
}

func (s *InstrumentedStore) History(ctx context.Context, sessionID string, lastN int) ([]domain.Turn, error) {
	start := time.Now()
	turns, err := s.inner.History(ctx, sessionID, lastN)
	s.observe("history", start, err)
	return turns, err
}

func (s *InstrumentedStore) CardAtOffset(ctx context.Context, sessionID string, turnsBack, displayOrder int) (*domain.UICard, error) {
	start := time.Now()
	card, err := s.inner.CardAtOffset(ctx, sessionID, turnsBack, displayOrder)
	s.observe("card_at_offset", start, err)
	return card, err
}

func (s *InstrumentedStore) EndSession(ctx context.Context, sessionID string) error {
	start := time.Now()
	err := s.inner.EndSession(ctx, sessionID)
	s.observe("end_session", start, err)
	return err
}

// ---------------------------------------------------------------------------
// MemoryRepository

func (s *InstrumentedStore) CreateMemory(ctx context.Context, memory *domain.Memory) error {
	start := time.Now()
	err := s.inner.CreateMemory(ctx, memory)
	s.observe("create_memory", start, err)
	if err == nil {
		s.metrics.MemoriesAdded.Inc()
	}
	return err
}

func (s *InstrumentedStore) GetMemory(ctx context.Context, memoryID string) (*domain.Memory, error) {
	start := time.Now()
	memory, err := s.inner.GetMemory(ctx, memoryID)
	s.observe("get_memory", start, err)
	return memory, err
}

func (s *InstrumentedStore) ListMemories(ctx context.Context, userID string) ([]domain.Memory, error) {
	start := time.Now()
	memories, err := s.inner.ListMemories(ctx, userID)
	s.observe("list_memories", start, err)
	return memories, err
}

func (s *InstrumentedStore) UpdateRelevance(ctx context.Context, memoryID string, relevance float64) error {
	start := time.Now()
	err := s.inner.UpdateRelevance(ctx, memoryID, relevance)
	s.observe("update_relevance", start, err)
	return err
}

func (s *InstrumentedStore) DeleteMemory(ctx context.Context, memoryID string) error {
	start := time.Now()
	err := s.inner.DeleteMemory(ctx, memoryID)
	s.observe("delete_memory", start, err)
	return err
}

func (s *InstrumentedStore) DeleteMemoriesForUser(ctx context.Context, userID string) error {
	start := time.Now()
	err := s.inner.DeleteMemoriesForUser(ctx, userID)
	s.observe("delete_memories_for_user", start, err)
	return err
}

// ---------------------------------------------------------------------------
// FactRepository

func (s *InstrumentedStore) UpsertFact(ctx context.Context, incoming domain.Fact, merge repository.MergeFunc) (*domain.Fact, error) {
	start := time.Now()
	fact, err := s.inner.UpsertFact(ctx, incoming, merge)
	s.observe("upsert_fact", start, err)
	if err == nil {
		s.metrics.FactsMerged.Inc()
	}
	return fact, err
}

func (s *InstrumentedStore) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	start := time.Now()
	profile, err := s.inner.GetProfile(ctx, userID)
	s.observe("get_profile", start, err)
	return profile, err
}

func (s *InstrumentedStore) ClearProvenance(ctx context.Context, memoryID string) error {
	start := time.Now()
	err := s.inner.ClearProvenance(ctx, memoryID)
	s.observe("clear_provenance", start, err)
	return err
}

func (s *InstrumentedStore) DeleteFactsForUser(ctx context.Context, userID string) error {
	start := time.Now()
	err := s.inner.DeleteFactsForUser(ctx, userID)
	s.observe("delete_facts_for_user", start, err)
	return err
}
