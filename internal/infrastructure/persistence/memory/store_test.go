package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engram-backend/internal/domain"
	pkgerrors "engram-backend/pkg/errors"
)

func newTestStore(t *testing.T) (*Store, *domain.User) {
	t.Helper()
	store := NewStore()
	user := &domain.User{
		ID:        uuid.New().String(),
		Name:      "Test User",
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return store, user
}

func newTestSession(t *testing.T, store *Store, userID string) *domain.Session {
	t.Helper()
	session := &domain.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		Kind:      domain.SessionKindConversation,
		StartedAt: time.Now(),
		Active:    true,
	}
	require.NoError(t, store.CreateSession(context.Background(), session))
	return session
}

func TestAppendMessageAssignsGaplessTurns(t *testing.T) {
	store, user := newTestStore(t)
	session := newTestSession(t, store, user.ID)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		role := domain.RoleUser
		if i%2 == 0 {
			role = domain.RoleAssistant
		}
		turn, err := store.AppendMessage(ctx, session.ID, role, fmt.Sprintf("message %d", i), nil)
		require.NoError(t, err)
		assert.Equal(t, i, turn)
	}

	turns, err := store.History(ctx, session.ID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 10)
	for i, turn := range turns {
		assert.Equal(t, i+1, turn.Message.TurnNumber)
	}
}

func TestAppendMessageConcurrentTurnsUnique(t *testing.T) {
	store, user := newTestStore(t)
	session := newTestSession(t, store, user.ID)
	ctx := context.Background()

	const writers = 32
	turns := make([]int, writers)
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			turns[i], errs[i] = store.AppendMessage(ctx, session.ID, domain.RoleUser, "concurrent", nil)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[int]bool, writers)
	for _, turn := range turns {
		assert.False(t, seen[turn], "turn %d assigned twice", turn)
		seen[turn] = true
	}
	for i := 1; i <= writers; i++ {
		assert.True(t, seen[i], "turn %d skipped", i)
	}
}

func TestAppendMessageValidation(t *testing.T) {
	store, user := newTestStore(t)
	session := newTestSession(t, store, user.ID)
	ctx := context.Background()

	t.Run("UnknownSession", func(t *testing.T) {
		_, err := store.AppendMessage(ctx, "missing", domain.RoleUser, "hello", nil)
		assert.True(t, pkgerrors.IsNotFound(err))
	})

	t.Run("EndedSession", func(t *testing.T) {
		require.NoError(t, store.EndSession(ctx, session.ID))
		_, err := store.AppendMessage(ctx, session.ID, domain.RoleUser, "hello", nil)
		assert.True(t, pkgerrors.IsNotFound(err))
	})

	t.Run("BadRole", func(t *testing.T) {
		s2 := newTestSession(t, store, user.ID)
		_, err := store.AppendMessage(ctx, s2.ID, domain.Role("moderator"), "hello", nil)
		assert.True(t, pkgerrors.IsValidation(err))
	})
}

func TestAttachCards(t *testing.T) {
	store, user := newTestStore(t)
	session := newTestSession(t, store, user.ID)
	ctx := context.Background()

	turn, err := store.AppendMessage(ctx, session.ID, domain.RoleAssistant, "here are your options", nil)
	require.NoError(t, err)

	cards := []domain.CardInput{
		{CardType: "flashcard", Payload: domain.Attributes{"title": "Option A"}},
		{CardType: "flashcard", Payload: domain.Attributes{"title": "Option B"}},
	}
	require.NoError(t, store.AttachCards(ctx, session.ID, turn, cards))

	turns, err := store.History(ctx, session.ID, 0)
	require.NoError(t, err)
	require.Len(t, turns[0].Cards, 2)
	assert.Equal(t, 0, turns[0].Cards[0].DisplayOrder)
	assert.Equal(t, 1, turns[0].Cards[1].DisplayOrder)
	assert.Equal(t, "Option B", turns[0].Cards[1].Payload.String("title"))

	t.Run("InvalidTurn", func(t *testing.T) {
		err := store.AttachCards(ctx, session.ID, 99, cards)
		assert.True(t, pkgerrors.IsInvalidTurn(err))
	})

	t.Run("DuplicateSlot", func(t *testing.T) {
		err := store.AttachCards(ctx, session.ID, turn, cards)
		assert.True(t, pkgerrors.IsUniqueViolation(err))
	})
}

func TestHistoryTail(t *testing.T) {
	store, user := newTestStore(t)
	session := newTestSession(t, store, user.ID)
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		_, err := store.AppendMessage(ctx, session.ID, domain.RoleUser, fmt.Sprintf("m%d", i), nil)
		require.NoError(t, err)
	}

	tail, err := store.History(ctx, session.ID, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, 5, tail[0].Message.TurnNumber)
	assert.Equal(t, 6, tail[1].Message.TurnNumber)

	all, err := store.History(ctx, session.ID, 100)
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

// Five turns with two cards each; offset (3, 1) must land on turn 2, slot 1,
// and keep resolving to the same card as the session grows.
func TestCardAtOffset(t *testing.T) {
	store, user := newTestStore(t)
	session := newTestSession(t, store, user.ID)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		turn, err := store.AppendMessage(ctx, session.ID, domain.RoleAssistant, fmt.Sprintf("answer %d", i), nil)
		require.NoError(t, err)
		cards := []domain.CardInput{
			{CardType: "flashcard", Payload: domain.Attributes{"slot": "first", "turn": float64(i)}},
			{CardType: "flashcard", Payload: domain.Attributes{"slot": "second", "turn": float64(i)}},
		}
		require.NoError(t, store.AttachCards(ctx, session.ID, turn, cards))
	}

	card, err := store.CardAtOffset(ctx, session.ID, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, card.TurnNumber)
	assert.Equal(t, 1, card.DisplayOrder)
	assert.Equal(t, "second", card.Payload.String("slot"))

	t.Run("StableUnderGrowth", func(t *testing.T) {
		// card_at_offset(s, 3, 1) after more appends points at a different
		// turn; the original coordinates, re-derived from the new max, shift
		// as designed. What must stay stable: the card previously at
		// (turn 2, slot 1) is still retrievable via the grown offset.
		turn, err := store.AppendMessage(ctx, session.ID, domain.RoleAssistant, "answer 6", nil)
		require.NoError(t, err)
		require.Equal(t, 6, turn)

		again, err := store.CardAtOffset(ctx, session.ID, 4, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, again.TurnNumber)
		assert.Equal(t, card.Payload.String("slot"), again.Payload.String("slot"))
	})

	t.Run("NoMessageAtTarget", func(t *testing.T) {
		_, err := store.CardAtOffset(ctx, session.ID, 50, 0)
		assert.True(t, pkgerrors.IsNotFound(err))
	})

	t.Run("NoCardAtSlot", func(t *testing.T) {
		_, err := store.CardAtOffset(ctx, session.ID, 0, 7)
		assert.True(t, pkgerrors.IsNotFound(err))
	})

	t.Run("NegativeOffset", func(t *testing.T) {
		_, err := store.CardAtOffset(ctx, session.ID, -1, 0)
		assert.True(t, pkgerrors.IsValidation(err))
	})
}

func TestEndSessionIdempotent(t *testing.T) {
	store, user := newTestStore(t)
	session := newTestSession(t, store, user.ID)
	ctx := context.Background()

	require.NoError(t, store.EndSession(ctx, session.ID))
	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	endedAt := *got.EndedAt

	require.NoError(t, store.EndSession(ctx, session.ID))
	got, err = store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, endedAt, *got.EndedAt)
	assert.False(t, got.Active)
}

func TestMemoryLifecycle(t *testing.T) {
	store, user := newTestStore(t)
	ctx := context.Background()

	mem := &domain.Memory{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Text:      "prefers morning meetings",
		Embedding: []float32{0.1, 0.2, 0.3},
		Type:      domain.MemoryTypePreference,
		Relevance: 1.0,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, store.CreateMemory(ctx, mem))

	t.Run("CopiesIsolate", func(t *testing.T) {
		got, err := store.GetMemory(ctx, mem.ID)
		require.NoError(t, err)
		got.Embedding[0] = 42
		again, err := store.GetMemory(ctx, mem.ID)
		require.NoError(t, err)
		assert.Equal(t, float32(0.1), again.Embedding[0])
	})

	t.Run("Reweight", func(t *testing.T) {
		require.NoError(t, store.UpdateRelevance(ctx, mem.ID, 0.4))
		got, err := store.GetMemory(ctx, mem.ID)
		require.NoError(t, err)
		assert.Equal(t, 0.4, got.Relevance)
		assert.Equal(t, "prefers morning meetings", got.Text)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.DeleteMemory(ctx, mem.ID))
		_, err := store.GetMemory(ctx, mem.ID)
		assert.True(t, pkgerrors.IsNotFound(err))
	})
}

func TestUpsertFactMergeAtomicity(t *testing.T) {
	store, user := newTestStore(t)
	ctx := context.Background()

	// Additive merge: concurrent upserts must all be counted.
	merge := func(existing *domain.Fact, incoming domain.Fact) domain.Fact {
		if existing == nil {
			return incoming
		}
		merged := *existing
		merged.Confidence = existing.Confidence + 1
		return merged
	}

	const writers = 20
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.UpsertFact(ctx, domain.Fact{
				ID:         uuid.New().String(),
				UserID:     user.ID,
				Category:   "professional",
				Key:        "role",
				Value:      domain.Attributes{"title": "Developer"},
				Confidence: 1,
			}, merge)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	profile, err := store.GetProfile(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, profile["professional"], 1)
	assert.Equal(t, writers, profile["professional"][0].Confidence)
}

func TestUpsertFactValidation(t *testing.T) {
	store, user := newTestStore(t)
	ctx := context.Background()
	keep := func(existing *domain.Fact, incoming domain.Fact) domain.Fact { return incoming }

	_, err := store.UpsertFact(ctx, domain.Fact{UserID: user.ID, Category: "c", Key: "k", Confidence: 101}, keep)
	assert.True(t, pkgerrors.IsInvalidConfidence(err))

	_, err = store.UpsertFact(ctx, domain.Fact{UserID: user.ID, Category: "", Key: "k", Confidence: 50}, keep)
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = store.UpsertFact(ctx, domain.Fact{UserID: "missing", Category: "c", Key: "k", Confidence: 50}, keep)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestClearProvenanceLeavesFact(t *testing.T) {
	store, user := newTestStore(t)
	ctx := context.Background()

	memID := uuid.New().String()
	_, err := store.UpsertFact(ctx, domain.Fact{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Category:       "personal",
		Key:            "hometown",
		Value:          domain.Attributes{"city": "Kolkata"},
		Confidence:     80,
		SourceMemoryID: memID,
	}, func(existing *domain.Fact, incoming domain.Fact) domain.Fact { return incoming })
	require.NoError(t, err)

	require.NoError(t, store.ClearProvenance(ctx, memID))

	profile, err := store.GetProfile(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, profile["personal"], 1)
	fact := profile["personal"][0]
	assert.Empty(t, fact.SourceMemoryID)
	assert.Equal(t, "Kolkata", fact.Value.String("city"))
	assert.Equal(t, 80, fact.Confidence)
}

func TestDeleteUserCascades(t *testing.T) {
	store, user := newTestStore(t)
	ctx := context.Background()

	other := &domain.User{ID: uuid.New().String(), Name: "Other", CreatedAt: time.Now()}
	require.NoError(t, store.CreateUser(ctx, other))

	session := newTestSession(t, store, user.ID)
	turn, err := store.AppendMessage(ctx, session.ID, domain.RoleAssistant, "hello", nil)
	require.NoError(t, err)
	require.NoError(t, store.AttachCards(ctx, session.ID, turn, []domain.CardInput{{CardType: "flashcard"}}))

	otherSession := newTestSession(t, store, other.ID)
	_, err = store.AppendMessage(ctx, otherSession.ID, domain.RoleUser, "untouched", nil)
	require.NoError(t, err)

	require.NoError(t, store.CreateMemory(ctx, &domain.Memory{
		ID: uuid.New().String(), UserID: user.ID, Text: "m", Embedding: []float32{1}, CreatedAt: time.Now(),
	}))
	_, err = store.UpsertFact(ctx, domain.Fact{
		ID: uuid.New().String(), UserID: user.ID, Category: "c", Key: "k", Confidence: 50,
	}, func(existing *domain.Fact, incoming domain.Fact) domain.Fact { return incoming })
	require.NoError(t, err)

	require.NoError(t, store.DeleteUser(ctx, user.ID))

	_, err = store.GetUser(ctx, user.ID)
	assert.True(t, pkgerrors.IsNotFound(err))
	_, err = store.GetSession(ctx, session.ID)
	assert.True(t, pkgerrors.IsNotFound(err))
	mems, err := store.ListMemories(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, mems)
	profile, err := store.GetProfile(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, profile)

	// Other user's data is unaffected.
	otherTurns, err := store.History(ctx, otherSession.ID, 0)
	require.NoError(t, err)
	assert.Len(t, otherTurns, 1)
}
