// Package sessionlog provides business logic for session-scoped conversation
// logs: turn-ordered messages, attached UI cards, replay, and offset lookup.
package sessionlog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"engram-backend/internal/domain"
	"engram-backend/internal/repository"
	appErrors "engram-backend/pkg/errors"
)

// Service defines the interface for session log operations.
type Service interface {
	// StartSession opens a new session for a user.
	StartSession(ctx context.Context, userID string, kind domain.SessionKind, attrs domain.Attributes) (*domain.Session, error)

	// GetSession retrieves a session by id.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// FindActiveSessions lists a user's open sessions of one kind, most
	// recent first.
	FindActiveSessions(ctx context.Context, userID string, kind domain.SessionKind) ([]domain.Session, error)

	// AppendMessage appends one message to a session's log and returns its
	// assigned turn number.
	AppendMessage(ctx context.Context, sessionID string, role domain.Role, content string, attrs domain.Attributes) (int, error)

	// AttachCards records the UI cards shown alongside one turn.
	AttachCards(ctx context.Context, sessionID string, turnNumber int, cards []domain.CardInput) error

	// History replays a session's log in turn order. lastN <= 0 returns the
	// whole log.
	History(ctx context.Context, sessionID string, lastN int) ([]domain.Turn, error)

	// CardAtOffset resolves a card by conversational offset: turnsBack turns
	// before the latest, at the given display slot.
	CardAtOffset(ctx context.Context, sessionID string, turnsBack, displayOrder int) (*domain.UICard, error)

	// EndSession closes a session. Ending an already ended session is a no-op.
	EndSession(ctx context.Context, sessionID string) error
}

type service struct {
	sessions repository.SessionRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a new session log service.
func NewService(sessions repository.SessionRepository, logger *zap.Logger) Service {
	return &service{
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *service) StartSession(ctx context.Context, userID string, kind domain.SessionKind, attrs domain.Attributes) (*domain.Session, error) {
	if userID == "" {
		return nil, appErrors.NewValidation("user_id cannot be empty")
	}
	if kind == "" {
		kind = domain.SessionKindConversation
	}
	if !domain.ValidSessionKind(kind) {
		return nil, appErrors.NewValidation("unknown session kind: " + string(kind))
	}

	session := domain.Session{
		ID:         uuid.New().String(),
		UserID:     userID,
		Kind:       kind,
		Attributes: attrs.Copy(),
		StartedAt:  s.now(),
		Active:     true,
	}

	if err := s.sessions.CreateSession(ctx, &session); err != nil {
		return nil, appErrors.Wrap(err, "failed to create session")
	}

	s.logger.Info("session started",
		zap.String("session_id", session.ID),
		zap.String("user_id", userID),
		zap.String("kind", string(kind)),
	)
	return &session, nil
}

func (s *service) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to get session")
	}
	return session, nil
}

func (s *service) FindActiveSessions(ctx context.Context, userID string, kind domain.SessionKind) ([]domain.Session, error) {
	sessions, err := s.sessions.FindActiveSessions(ctx, userID, kind)
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to find active sessions")
	}
	return sessions, nil
}

func (s *service) AppendMessage(ctx context.Context, sessionID string, role domain.Role, content string, attrs domain.Attributes) (int, error) {
	if !domain.ValidRole(role) {
		return 0, appErrors.NewValidation("unknown role: " + string(role))
	}
	if content == "" {
		return 0, appErrors.NewValidation("content cannot be empty")
	}

	turn, err := s.sessions.AppendMessage(ctx, sessionID, role, content, attrs)
	if err != nil {
		return 0, appErrors.Wrap(err, "failed to append message")
	}

	s.logger.Debug("message appended",
		zap.String("session_id", sessionID),
		zap.Int("turn", turn),
		zap.String("role", string(role)),
	)
	return turn, nil
}

func (s *service) AttachCards(ctx context.Context, sessionID string, turnNumber int, cards []domain.CardInput) error {
	if len(cards) == 0 {
		return appErrors.NewValidation("cards cannot be empty")
	}
	for _, c := range cards {
		if c.CardType == "" {
			return appErrors.NewValidation("card_type cannot be empty")
		}
	}

	if err := s.sessions.AttachCards(ctx, sessionID, turnNumber, cards); err != nil {
		return appErrors.Wrap(err, "failed to attach cards")
	}

	s.logger.Debug("cards attached",
		zap.String("session_id", sessionID),
		zap.Int("turn", turnNumber),
		zap.Int("count", len(cards)),
	)
	return nil
}

func (s *service) History(ctx context.Context, sessionID string, lastN int) ([]domain.Turn, error) {
	turns, err := s.sessions.History(ctx, sessionID, lastN)
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to load session history")
	}
	return turns, nil
}

func (s *service) CardAtOffset(ctx context.Context, sessionID string, turnsBack, displayOrder int) (*domain.UICard, error) {
	if turnsBack < 0 {
		return nil, appErrors.NewValidation("turns_back cannot be negative")
	}
	if displayOrder < 0 {
		return nil, appErrors.NewValidation("display_order cannot be negative")
	}

	card, err := s.sessions.CardAtOffset(ctx, sessionID, turnsBack, displayOrder)
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to resolve card at offset")
	}
	return card, nil
}

func (s *service) EndSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.EndSession(ctx, sessionID); err != nil {
		return appErrors.Wrap(err, "failed to end session")
	}

	s.logger.Info("session ended", zap.String("session_id", sessionID))
	return nil
}
