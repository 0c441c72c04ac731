package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engram-backend/internal/domain"
	memstore "engram-backend/internal/infrastructure/persistence/memory"
)

func TestInstrumentedStore(t *testing.T) {
	ResetForTesting()
	collector := NewCollector("engram_test")
	store := NewInstrumentedStore(memstore.NewStore(), collector)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, &domain.User{ID: "user-1", Name: "Ada", CreatedAt: time.Now()}))

	session := domain.Session{
		ID: "session-1", UserID: "user-1",
		Kind: domain.SessionKindConversation, Active: true, StartedAt: time.Now(),
	}
	require.NoError(t, store.CreateSession(ctx, &session))

	_, err := store.AppendMessage(ctx, session.ID, domain.RoleUser, "hello", nil)
	require.NoError(t, err)
	turn, err := store.AppendMessage(ctx, session.ID, domain.RoleAssistant, "hi", nil)
	require.NoError(t, err)
	require.NoError(t, store.AttachCards(ctx, session.ID, turn, []domain.CardInput{
		{CardType: "greeting", Payload: domain.Attributes{"x": 1}},
	}))

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.TurnsRecorded))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.CardsAttached))

	// Errors count against the error status, not the business counters.
	_, err = store.AppendMessage(ctx, "missing", domain.RoleUser, "x", nil)
	require.Error(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.TurnsRecorded))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		collector.StoreOperations.WithLabelValues("append_message", "error"),
	))
}
