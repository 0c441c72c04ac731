// Package conversation composes the session log and the persona store into
// one conversational memory surface: record exchanges, assemble context for
// the next turn, and hand finished turns to background extraction.
package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"engram-backend/internal/domain"
	"engram-backend/internal/infrastructure/messaging"
	"engram-backend/internal/repository"
	"engram-backend/internal/service/persona"
	"engram-backend/internal/service/sessionlog"
	appErrors "engram-backend/pkg/errors"
)

// SessionPolicy decides what StartConversation does when the user already
// has an active session of the requested kind.
type SessionPolicy string

const (
	// SessionPolicySingleActive reuses the most recent active session.
	SessionPolicySingleActive SessionPolicy = "single_active"
	// SessionPolicyAlwaysNew opens a fresh session every time.
	SessionPolicyAlwaysNew SessionPolicy = "always_new"
)

// Config tunes the facade.
type Config struct {
	SessionPolicy SessionPolicy
	HistoryWindow int // turns of history bundled into context
	TopK          int // memories bundled into context
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SessionPolicy: SessionPolicySingleActive,
		HistoryWindow: 10,
		TopK:          5,
	}
}

// RecordTurnInput is one full user/assistant exchange plus the UI cards the
// assistant displayed with its answer.
type RecordTurnInput struct {
	SessionID     string             `json:"session_id" validate:"required"`
	UserText      string             `json:"user_text" validate:"required"`
	AssistantText string             `json:"assistant_text" validate:"required"`
	Cards         []domain.CardInput `json:"cards,omitempty" validate:"dive"`
}

// TurnResult reports where an exchange landed in the log.
type TurnResult struct {
	SessionID     string `json:"session_id"`
	UserTurn      int    `json:"user_turn"`
	AssistantTurn int    `json:"assistant_turn"`
	CardsAttached int    `json:"cards_attached"`
}

// TurnContext is the bundle handed to the response generator before the
// next turn: recent log, semantically relevant memories, and the user's
// fact profile.
type TurnContext struct {
	Session       domain.Session        `json:"session"`
	RecentHistory []domain.Turn         `json:"recent_history"`
	TopMemories   []domain.ScoredMemory `json:"top_memories"`
	Profile       domain.Profile        `json:"profile"`
}

// Facade is the single entry point callers use; it owns the composition of
// both memory layers.
type Facade struct {
	store      repository.Store
	sessions   sessionlog.Service
	memories   persona.MemoryService
	facts      persona.FactService
	embedder   Embedder
	dispatcher *messaging.Dispatcher
	validate   *validator.Validate
	tracer     trace.Tracer
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

// NewFacade wires the facade. The extraction listener must be registered on
// the dispatcher separately, so callers can swap extractors.
func NewFacade(
	store repository.Store,
	sessions sessionlog.Service,
	memories persona.MemoryService,
	facts persona.FactService,
	embedder Embedder,
	dispatcher *messaging.Dispatcher,
	tracer trace.Tracer,
	cfg Config,
	logger *zap.Logger,
) *Facade {
	def := DefaultConfig()
	if cfg.SessionPolicy == "" {
		cfg.SessionPolicy = def.SessionPolicy
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}

	return &Facade{
		store:      store,
		sessions:   sessions,
		memories:   memories,
		facts:      facts,
		embedder:   embedder,
		dispatcher: dispatcher,
		validate:   newValidator(),
		tracer:     tracer,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateUser registers a new user, the root every session, memory and fact
// hangs off.
func (f *Facade) CreateUser(ctx context.Context, name, email string, attrs domain.Attributes) (*domain.User, error) {
	if name == "" {
		return nil, appErrors.NewValidation("name cannot be empty")
	}

	user := domain.User{
		ID:         uuid.New().String(),
		Name:       name,
		Email:      email,
		Attributes: attrs.Copy(),
		CreatedAt:  f.now(),
		LastActive: f.now(),
	}
	if err := f.store.CreateUser(ctx, &user); err != nil {
		return nil, appErrors.Wrap(err, "failed to create user")
	}

	f.logger.Info("user created", zap.String("user_id", user.ID))
	return &user, nil
}

// GetUser returns a user by id.
func (f *Facade) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return f.store.GetUser(ctx, userID)
}

// UpdateUser changes a user's display fields. Blank name or email keeps the
// stored value; a nil attribute map keeps the stored attributes.
func (f *Facade) UpdateUser(ctx context.Context, userID, name, email string, attrs domain.Attributes) (*domain.User, error) {
	user, err := f.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if name != "" {
		user.Name = name
	}
	if email != "" {
		user.Email = email
	}
	if attrs != nil {
		user.Attributes = attrs.Copy()
	}
	user.Touch(f.now())

	if err := f.store.UpdateUser(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, "failed to update user")
	}
	return user, nil
}

// StartConversation opens or reuses a session per the configured policy.
func (f *Facade) StartConversation(ctx context.Context, userID string, kind domain.SessionKind, attrs domain.Attributes) (*domain.Session, error) {
	if kind == "" {
		kind = domain.SessionKindConversation
	}

	if f.cfg.SessionPolicy == SessionPolicySingleActive {
		active, err := f.sessions.FindActiveSessions(ctx, userID, kind)
		if err != nil {
			return nil, err
		}
		if len(active) > 0 {
			f.logger.Debug("reusing active session",
				zap.String("session_id", active[0].ID),
				zap.String("user_id", userID),
			)
			return &active[0], nil
		}
	}
	return f.sessions.StartSession(ctx, userID, kind, attrs)
}

// RecordTurn writes a full exchange into the session log: the user message,
// then the assistant message, then the assistant's cards on the assistant
// turn. The exchange is handed to background extraction afterward.
func (f *Facade) RecordTurn(ctx context.Context, input RecordTurnInput) (*TurnResult, error) {
	ctx, span := f.tracer.Start(ctx, "facade.RecordTurn",
		trace.WithAttributes(
			attribute.String("session.id", input.SessionID),
			attribute.Int("cards.count", len(input.Cards)),
		),
	)
	defer span.End()

	result, err := f.recordTurn(ctx, input)
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

func (f *Facade) recordTurn(ctx context.Context, input RecordTurnInput) (*TurnResult, error) {
	if err := f.validateInput(input); err != nil {
		return nil, err
	}

	session, err := f.sessions.GetSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}

	// Appends retry through lost turn-number races; each retry claims a
	// fresh number, so the pair stays adjacent only when this writer wins
	// both in a row, which the store's gapless sequencing makes the common
	// case.
	userTurn, err := f.appendWithRetry(ctx, input.SessionID, domain.RoleUser, input.UserText)
	if err != nil {
		return nil, err
	}
	assistantTurn, err := f.appendWithRetry(ctx, input.SessionID, domain.RoleAssistant, input.AssistantText)
	if err != nil {
		return nil, err
	}

	if len(input.Cards) > 0 {
		if err := f.sessions.AttachCards(ctx, input.SessionID, assistantTurn, input.Cards); err != nil {
			return nil, err
		}
	}

	f.touchUser(ctx, session.UserID)

	event := messaging.TurnRecorded{
		SessionID:     input.SessionID,
		UserID:        session.UserID,
		UserTurn:      userTurn,
		AssistantTurn: assistantTurn,
		UserText:      input.UserText,
		AssistantText: input.AssistantText,
		At:            f.now(),
	}
	if err := f.dispatcher.Publish(ctx, event); err != nil {
		// The log write already stuck; losing one extraction is better than
		// failing the turn.
		f.logger.Warn("failed to enqueue turn for extraction",
			zap.String("session_id", input.SessionID),
			zap.Error(err),
		)
	}

	return &TurnResult{
		SessionID:     input.SessionID,
		UserTurn:      userTurn,
		AssistantTurn: assistantTurn,
		CardsAttached: len(input.Cards),
	}, nil
}

// touchUser advances last-active. Best effort: a lost touch never fails the
// turn that triggered it.
func (f *Facade) touchUser(ctx context.Context, userID string) {
	user, err := f.store.GetUser(ctx, userID)
	if err != nil {
		f.logger.Warn("failed to load user for activity update", zap.String("user_id", userID), zap.Error(err))
		return
	}
	user.Touch(f.now())
	if err := f.store.UpdateUser(ctx, user); err != nil {
		f.logger.Warn("failed to update last-active", zap.String("user_id", userID), zap.Error(err))
	}
}

func (f *Facade) appendWithRetry(ctx context.Context, sessionID string, role domain.Role, content string) (int, error) {
	var turn int
	err := repository.WithRetry(ctx, repository.DefaultRetryConfig(), func(ctx context.Context) error {
		var appendErr error
		turn, appendErr = f.sessions.AppendMessage(ctx, sessionID, role, content, nil)
		return appendErr
	})
	return turn, err
}

// ContextForNextTurn assembles the memory bundle for generating the next
// response: recent history, top-k relevant memories for the query, and the
// user's profile.
func (f *Facade) ContextForNextTurn(ctx context.Context, sessionID, query string) (*TurnContext, error) {
	ctx, span := f.tracer.Start(ctx, "facade.ContextForNextTurn",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	bundle, err := f.contextForNextTurn(ctx, sessionID, query)
	if err != nil {
		span.RecordError(err)
	}
	return bundle, err
}

func (f *Facade) contextForNextTurn(ctx context.Context, sessionID, query string) (*TurnContext, error) {
	session, err := f.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	history, err := f.sessions.History(ctx, sessionID, f.cfg.HistoryWindow)
	if err != nil {
		return nil, err
	}

	var topMemories []domain.ScoredMemory
	if strings.TrimSpace(query) != "" {
		embedding, err := f.embedder.Embed(ctx, query)
		if err != nil {
			return nil, appErrors.Wrap(err, "failed to embed query")
		}
		topMemories, err = f.memories.SearchMemories(ctx, session.UserID, embedding, f.cfg.TopK)
		if err != nil {
			return nil, err
		}
	}

	profile, err := f.facts.Profile(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	return &TurnContext{
		Session:       *session,
		RecentHistory: history,
		TopMemories:   topMemories,
		Profile:       profile,
	}, nil
}

// ResolveCard answers "the Nth card from M questions ago" against the
// session log.
func (f *Facade) ResolveCard(ctx context.Context, sessionID string, turnsBack, displayOrder int) (*domain.UICard, error) {
	return f.sessions.CardAtOffset(ctx, sessionID, turnsBack, displayOrder)
}

// History replays a session log in exact turn order.
func (f *Facade) History(ctx context.Context, sessionID string, lastN int) ([]domain.Turn, error) {
	return f.sessions.History(ctx, sessionID, lastN)
}

// EndConversation closes the session.
func (f *Facade) EndConversation(ctx context.Context, sessionID string) error {
	session, err := f.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := f.sessions.EndSession(ctx, sessionID); err != nil {
		return err
	}

	if err := f.dispatcher.Publish(ctx, messaging.SessionEnded{
		SessionID: sessionID,
		UserID:    session.UserID,
		At:        f.now(),
	}); err != nil {
		f.logger.Warn("failed to publish session end", zap.Error(err))
	}
	return nil
}

// DeleteUser removes a user and everything they own: sessions, messages,
// cards, memories, facts, and the user's index partition.
func (f *Facade) DeleteUser(ctx context.Context, userID string) error {
	ctx, span := f.tracer.Start(ctx, "facade.DeleteUser",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	if err := f.deleteUser(ctx, userID); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (f *Facade) deleteUser(ctx context.Context, userID string) error {
	// Drain extraction first so no in-flight turn resurrects data for the
	// user after the cascade.
	f.dispatcher.Flush()

	if err := f.store.DeleteUser(ctx, userID); err != nil {
		return appErrors.Wrap(err, "failed to delete user")
	}
	if err := f.memories.DeleteUserMemories(ctx, userID); err != nil {
		return err
	}
	if err := f.facts.DeleteUserFacts(ctx, userID); err != nil {
		return err
	}

	if err := f.dispatcher.Publish(ctx, messaging.UserDeleted{
		UserID: userID,
		At:     f.now(),
	}); err != nil {
		f.logger.Warn("failed to publish user deletion", zap.Error(err))
	}

	f.logger.Info("user deleted", zap.String("user_id", userID))
	return nil
}

// Flush blocks until background extraction has caught up with every turn
// recorded so far.
func (f *Facade) Flush() {
	f.dispatcher.Flush()
}

// Close drains extraction and shuts the dispatcher down.
func (f *Facade) Close() {
	f.dispatcher.Close()
}

func (f *Facade) validateInput(input any) error {
	if err := f.validate.Struct(input); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return appErrors.NewValidation(errs[0].Field() + " failed " + errs[0].Tag() + " validation")
		}
		return appErrors.NewValidation(err.Error())
	}
	return nil
}
