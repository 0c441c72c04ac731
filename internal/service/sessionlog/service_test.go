package sessionlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"engram-backend/internal/domain"
	memstore "engram-backend/internal/infrastructure/persistence/memory"
	appErrors "engram-backend/pkg/errors"
)

func newTestService(t *testing.T) (Service, *memstore.Store) {
	t.Helper()
	store := memstore.NewStore()
	svc := NewService(store, zap.NewNop())

	err := store.CreateUser(context.Background(), &domain.User{
		ID:        "user-1",
		Name:      "Ada",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	return svc, store
}

func TestStartSession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	t.Run("DefaultsToConversation", func(t *testing.T) {
		session, err := svc.StartSession(ctx, "user-1", "", nil)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionKindConversation, session.Kind)
		assert.True(t, session.Active)
		assert.NotEmpty(t, session.ID)
	})

	t.Run("EmptyUserID", func(t *testing.T) {
		_, err := svc.StartSession(ctx, "", domain.SessionKindVoice, nil)
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})

	t.Run("UnknownKind", func(t *testing.T) {
		_, err := svc.StartSession(ctx, "user-1", "telepathy", nil)
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})

	t.Run("UnknownUser", func(t *testing.T) {
		_, err := svc.StartSession(ctx, "nobody", domain.SessionKindConversation, nil)
		require.Error(t, err)
		assert.True(t, appErrors.IsNotFound(err))
	})
}

func TestAppendMessage(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.StartSession(ctx, "user-1", domain.SessionKindConversation, nil)
	require.NoError(t, err)

	t.Run("TurnsAssignedInOrder", func(t *testing.T) {
		turn, err := svc.AppendMessage(ctx, session.ID, domain.RoleUser, "hello", nil)
		require.NoError(t, err)
		assert.Equal(t, 1, turn)

		turn, err = svc.AppendMessage(ctx, session.ID, domain.RoleAssistant, "hi there", nil)
		require.NoError(t, err)
		assert.Equal(t, 2, turn)
	})

	t.Run("InvalidRole", func(t *testing.T) {
		_, err := svc.AppendMessage(ctx, session.ID, "narrator", "x", nil)
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})

	t.Run("EmptyContent", func(t *testing.T) {
		_, err := svc.AppendMessage(ctx, session.ID, domain.RoleUser, "", nil)
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})

	t.Run("EndedSessionRejectsWrites", func(t *testing.T) {
		require.NoError(t, svc.EndSession(ctx, session.ID))
		_, err := svc.AppendMessage(ctx, session.ID, domain.RoleUser, "too late", nil)
		require.Error(t, err)
		assert.True(t, appErrors.IsNotFound(err))
	})
}

func TestAttachCardsAndHistory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.StartSession(ctx, "user-1", domain.SessionKindConversation, nil)
	require.NoError(t, err)

	turn, err := svc.AppendMessage(ctx, session.ID, domain.RoleAssistant, "here are some options", nil)
	require.NoError(t, err)

	cards := []domain.CardInput{
		{CardType: "restaurant", Payload: domain.Attributes{"name": "Blue Hill"}},
		{CardType: "restaurant", Payload: domain.Attributes{"name": "Daniel"}},
	}
	require.NoError(t, svc.AttachCards(ctx, session.ID, turn, cards))

	t.Run("EmptyCards", func(t *testing.T) {
		err := svc.AttachCards(ctx, session.ID, turn, nil)
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})

	t.Run("MissingCardType", func(t *testing.T) {
		err := svc.AttachCards(ctx, session.ID, turn, []domain.CardInput{{Payload: domain.Attributes{"x": 1}}})
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})

	t.Run("HistoryReplaysCardsWithTurn", func(t *testing.T) {
		turns, err := svc.History(ctx, session.ID, 0)
		require.NoError(t, err)
		require.Len(t, turns, 1)
		require.Len(t, turns[0].Cards, 2)
		assert.Equal(t, 0, turns[0].Cards[0].DisplayOrder)
		assert.Equal(t, 1, turns[0].Cards[1].DisplayOrder)
		assert.Equal(t, "Blue Hill", turns[0].Cards[0].Payload["name"])
	})
}

func TestCardAtOffset(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.StartSession(ctx, "user-1", domain.SessionKindConversation, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		turn, err := svc.AppendMessage(ctx, session.ID, domain.RoleAssistant, "answer", nil)
		require.NoError(t, err)
		require.NoError(t, svc.AttachCards(ctx, session.ID, turn, []domain.CardInput{
			{CardType: "place", Payload: domain.Attributes{"turn": turn}},
		}))
	}

	t.Run("ResolvesEarlierTurn", func(t *testing.T) {
		card, err := svc.CardAtOffset(ctx, session.ID, 2, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, card.TurnNumber)
	})

	t.Run("NegativeOffset", func(t *testing.T) {
		_, err := svc.CardAtOffset(ctx, session.ID, -1, 0)
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})

	t.Run("NoCardAtSlot", func(t *testing.T) {
		_, err := svc.CardAtOffset(ctx, session.ID, 0, 5)
		require.Error(t, err)
		assert.True(t, appErrors.IsNotFound(err))
	})
}

func TestFindActiveSessions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.StartSession(ctx, "user-1", domain.SessionKindConversation, nil)
	require.NoError(t, err)
	_, err = svc.StartSession(ctx, "user-1", domain.SessionKindVoice, nil)
	require.NoError(t, err)

	active, err := svc.FindActiveSessions(ctx, "user-1", domain.SessionKindConversation)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, first.ID, active[0].ID)

	require.NoError(t, svc.EndSession(ctx, first.ID))
	active, err = svc.FindActiveSessions(ctx, "user-1", domain.SessionKindConversation)
	require.NoError(t, err)
	assert.Empty(t, active)
}
