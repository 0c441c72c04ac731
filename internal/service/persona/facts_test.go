package persona

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"engram-backend/internal/domain"
	memstore "engram-backend/internal/infrastructure/persistence/memory"
	"engram-backend/internal/infrastructure/messaging"
	appErrors "engram-backend/pkg/errors"
)

func newFactService(t *testing.T) (FactService, *memstore.Store) {
	t.Helper()
	store := memstore.NewStore()
	dispatcher := messaging.NewDispatcher(messaging.DefaultDispatcherConfig(), zap.NewNop())
	t.Cleanup(dispatcher.Close)
	svc, err := NewFactService(store, dispatcher, DefaultFactServiceConfig(), zap.NewNop())
	require.NoError(t, err)

	err = store.CreateUser(context.Background(), &domain.User{
		ID:        "user-1",
		Name:      "Ada",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	return svc, store
}

func TestRecordFact_Validation(t *testing.T) {
	svc, _ := newFactService(t)
	ctx := context.Background()

	t.Run("MissingUser", func(t *testing.T) {
		_, err := svc.RecordFact(ctx, domain.Fact{Category: "food", Key: "favorite"})
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})

	t.Run("MissingKey", func(t *testing.T) {
		_, err := svc.RecordFact(ctx, domain.Fact{UserID: "user-1", Category: "food"})
		require.Error(t, err)
		assert.True(t, appErrors.IsValidation(err))
	})

	t.Run("ConfidenceOutOfRange", func(t *testing.T) {
		_, err := svc.RecordFact(ctx, domain.Fact{
			UserID: "user-1", Category: "food", Key: "favorite", Confidence: 101,
		})
		require.Error(t, err)
		assert.True(t, appErrors.IsInvalidConfidence(err))
	})
}

func TestRecordFact_MergeSemantics(t *testing.T) {
	svc, _ := newFactService(t)
	ctx := context.Background()

	first, err := svc.RecordFact(ctx, domain.Fact{
		UserID:     "user-1",
		Category:   "food",
		Key:        "favorite",
		Value:      domain.Attributes{"value": "sushi"},
		Confidence: 70,
	})
	require.NoError(t, err)
	assert.Equal(t, 70, first.Confidence)

	t.Run("SameValueKeepsHigherConfidence", func(t *testing.T) {
		merged, err := svc.RecordFact(ctx, domain.Fact{
			UserID:     "user-1",
			Category:   "food",
			Key:        "favorite",
			Value:      domain.Attributes{"value": "sushi"},
			Confidence: 50,
		})
		require.NoError(t, err)
		assert.Equal(t, 70, merged.Confidence)
		assert.Equal(t, first.ID, merged.ID)
		assert.Equal(t, first.FirstMentioned, merged.FirstMentioned)
	})

	t.Run("ChangedValueTakesIncomingConfidence", func(t *testing.T) {
		merged, err := svc.RecordFact(ctx, domain.Fact{
			UserID:     "user-1",
			Category:   "food",
			Key:        "favorite",
			Value:      domain.Attributes{"value": "ramen"},
			Confidence: 50,
		})
		require.NoError(t, err)
		assert.Equal(t, 50, merged.Confidence)
		assert.Equal(t, "ramen", merged.Value["value"])
		assert.Equal(t, first.ID, merged.ID)
	})

	t.Run("UpgradeStaysOneFact", func(t *testing.T) {
		_, err := svc.RecordFact(ctx, domain.Fact{
			UserID:     "user-1",
			Category:   "work",
			Key:        "title",
			Value:      domain.Attributes{"value": "Developer"},
			Confidence: 60,
		})
		require.NoError(t, err)

		merged, err := svc.RecordFact(ctx, domain.Fact{
			UserID:     "user-1",
			Category:   "work",
			Key:        "title",
			Value:      domain.Attributes{"value": "Senior Developer"},
			Confidence: 80,
		})
		require.NoError(t, err)
		assert.Equal(t, "Senior Developer", merged.Value["value"])
		assert.Equal(t, 80, merged.Confidence)

		profile, err := svc.Profile(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, profile["work"], 1)
	})
}

func TestProfile_GroupsByCategory(t *testing.T) {
	svc, _ := newFactService(t)
	ctx := context.Background()

	seed := []domain.Fact{
		{UserID: "user-1", Category: "food", Key: "favorite", Value: domain.Attributes{"value": "sushi"}, Confidence: 70},
		{UserID: "user-1", Category: "food", Key: "allergy", Value: domain.Attributes{"value": "peanuts"}, Confidence: 95},
		{UserID: "user-1", Category: "work", Key: "title", Value: domain.Attributes{"value": "Engineer"}, Confidence: 80},
	}
	for _, f := range seed {
		_, err := svc.RecordFact(ctx, f)
		require.NoError(t, err)
	}

	profile, err := svc.Profile(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, profile["food"], 2)
	assert.Len(t, profile["work"], 1)

	// A write after a cached read must be visible on the next read.
	_, err = svc.RecordFact(ctx, domain.Fact{
		UserID: "user-1", Category: "work", Key: "employer",
		Value: domain.Attributes{"value": "Initech"}, Confidence: 90,
	})
	require.NoError(t, err)

	profile, err = svc.Profile(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, profile["work"], 2)
}

func TestClearProvenance_FactSurvives(t *testing.T) {
	svc, _ := newFactService(t)
	ctx := context.Background()

	_, err := svc.RecordFact(ctx, domain.Fact{
		UserID:         "user-1",
		Category:       "food",
		Key:            "favorite",
		Value:          domain.Attributes{"value": "sushi"},
		Confidence:     70,
		SourceMemoryID: "mem-1",
	})
	require.NoError(t, err)

	require.NoError(t, svc.ClearProvenance(ctx, "mem-1"))

	profile, err := svc.Profile(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, profile["food"], 1)
	assert.Empty(t, profile["food"][0].SourceMemoryID)
	assert.Equal(t, "sushi", profile["food"][0].Value["value"])
}

func TestDeleteUserFacts(t *testing.T) {
	svc, _ := newFactService(t)
	ctx := context.Background()

	_, err := svc.RecordFact(ctx, domain.Fact{
		UserID: "user-1", Category: "food", Key: "favorite",
		Value: domain.Attributes{"value": "sushi"}, Confidence: 70,
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteUserFacts(ctx, "user-1"))

	profile, err := svc.Profile(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, profile)
}

func TestDefaultMergePolicy(t *testing.T) {
	incoming := domain.Fact{
		ID:         "new-id",
		Value:      domain.Attributes{"value": "sushi"},
		Confidence: 50,
	}

	t.Run("FirstInsertPassesThrough", func(t *testing.T) {
		merged := DefaultMergePolicy(nil, incoming)
		assert.Equal(t, incoming, merged)
	})

	t.Run("AgreementKeepsMaxConfidence", func(t *testing.T) {
		existing := &domain.Fact{
			ID:             "old-id",
			Value:          domain.Attributes{"value": "sushi"},
			Confidence:     70,
			FirstMentioned: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}
		merged := DefaultMergePolicy(existing, incoming)
		assert.Equal(t, 70, merged.Confidence)
		assert.Equal(t, "old-id", merged.ID)
		assert.Equal(t, existing.FirstMentioned, merged.FirstMentioned)
	})

	t.Run("ChangeTakesIncoming", func(t *testing.T) {
		existing := &domain.Fact{
			ID:         "old-id",
			Value:      domain.Attributes{"value": "ramen"},
			Confidence: 90,
		}
		merged := DefaultMergePolicy(existing, incoming)
		assert.Equal(t, 50, merged.Confidence)
		assert.Equal(t, "sushi", merged.Value["value"])
	})
}
