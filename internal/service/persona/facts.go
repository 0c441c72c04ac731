package persona

import (
	"context"
	"reflect"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"engram-backend/internal/domain"
	"engram-backend/internal/infrastructure/messaging"
	"engram-backend/internal/repository"
	appErrors "engram-backend/pkg/errors"
)

// DefaultMergePolicy is the standard rule for combining a re-extracted fact
// with the stored one: when both carry the same value, the fact is confirmed
// and keeps the higher confidence; when the value changed, the incoming
// version wins outright, confidence included. Identity and FirstMentioned
// always survive from the existing fact.
func DefaultMergePolicy(existing *domain.Fact, incoming domain.Fact) domain.Fact {
	if existing == nil {
		return incoming
	}

	merged := incoming
	merged.ID = existing.ID
	merged.FirstMentioned = existing.FirstMentioned
	if reflect.DeepEqual(existing.Value, incoming.Value) && existing.Confidence > incoming.Confidence {
		merged.Confidence = existing.Confidence
	}
	return merged
}

// FactService defines the interface for structured-fact operations.
type FactService interface {
	// RecordFact upserts a fact at (user, category, key), merging with any
	// existing fact under the service's merge policy.
	RecordFact(ctx context.Context, fact domain.Fact) (*domain.Fact, error)

	// Profile returns the user's facts grouped by category.
	Profile(ctx context.Context, userID string) (domain.Profile, error)

	// ClearProvenance detaches facts from a deleted source memory.
	ClearProvenance(ctx context.Context, memoryID string) error

	// DeleteUserFacts removes all of a user's facts.
	DeleteUserFacts(ctx context.Context, userID string) error
}

// FactServiceConfig tunes the fact service.
type FactServiceConfig struct {
	// ProfileCacheTTL bounds staleness of cached profiles. Writes invalidate
	// eagerly, so the TTL only matters for multi-process deployments.
	ProfileCacheTTL time.Duration

	// ProfileCacheSize is the maximum number of cached profiles.
	ProfileCacheSize int64

	// Merge overrides the merge policy. Nil means DefaultMergePolicy.
	Merge repository.MergeFunc
}

// DefaultFactServiceConfig returns sensible defaults.
func DefaultFactServiceConfig() FactServiceConfig {
	return FactServiceConfig{
		ProfileCacheTTL:  5 * time.Minute,
		ProfileCacheSize: 10000,
	}
}

type factService struct {
	facts  repository.FactRepository
	merge  repository.MergeFunc
	cache  *ristretto.Cache
	events EventPublisher
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewFactService creates a new fact service with a ristretto-backed profile
// cache.
func NewFactService(facts repository.FactRepository, events EventPublisher, cfg FactServiceConfig, logger *zap.Logger) (FactService, error) {
	if cfg.ProfileCacheTTL <= 0 {
		cfg.ProfileCacheTTL = DefaultFactServiceConfig().ProfileCacheTTL
	}
	if cfg.ProfileCacheSize <= 0 {
		cfg.ProfileCacheSize = DefaultFactServiceConfig().ProfileCacheSize
	}
	if cfg.Merge == nil {
		cfg.Merge = DefaultMergePolicy
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.ProfileCacheSize * 10,
		MaxCost:     cfg.ProfileCacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to create profile cache")
	}

	return &factService{
		facts:  facts,
		merge:  cfg.Merge,
		cache:  cache,
		events: events,
		ttl:    cfg.ProfileCacheTTL,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *factService) RecordFact(ctx context.Context, fact domain.Fact) (*domain.Fact, error) {
	if fact.UserID == "" {
		return nil, appErrors.NewValidation("user_id cannot be empty")
	}
	if fact.Category == "" || fact.Key == "" {
		return nil, appErrors.NewValidation("category and key cannot be empty")
	}
	if !domain.ValidConfidence(fact.Confidence) {
		return nil, appErrors.NewInvalidConfidence(fact.Confidence)
	}

	now := s.now()
	if fact.ID == "" {
		fact.ID = uuid.New().String()
	}
	if fact.FirstMentioned.IsZero() {
		fact.FirstMentioned = now
	}
	fact.LastUpdated = now

	merged, err := s.facts.UpsertFact(ctx, fact, s.merge)
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to upsert fact")
	}
	s.invalidateProfile(fact.UserID)

	if err := s.events.TryPublish(messaging.FactRecorded{
		FactID:   merged.ID,
		UserID:   fact.UserID,
		Category: fact.Category,
		Key:      fact.Key,
		At:       now,
	}); err != nil {
		s.logger.Debug("event dropped",
			zap.String("event_type", messaging.EventTypeFactRecorded),
			zap.Error(err),
		)
	}

	s.logger.Debug("fact recorded",
		zap.String("user_id", fact.UserID),
		zap.String("category", fact.Category),
		zap.String("key", fact.Key),
		zap.Int("confidence", merged.Confidence),
	)
	return merged, nil
}

func (s *factService) Profile(ctx context.Context, userID string) (domain.Profile, error) {
	if cached, ok := s.cache.Get(profileCacheKey(userID)); ok {
		if profile, ok := cached.(domain.Profile); ok {
			return profile, nil
		}
	}

	profile, err := s.facts.GetProfile(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to load profile")
	}

	s.cache.SetWithTTL(profileCacheKey(userID), profile, 1, s.ttl)
	return profile, nil
}

func (s *factService) ClearProvenance(ctx context.Context, memoryID string) error {
	if err := s.facts.ClearProvenance(ctx, memoryID); err != nil {
		return appErrors.Wrap(err, "failed to clear provenance")
	}
	// The source reference is per-fact, not per-user, so the cheap move is to
	// drop the whole cache rather than track affected users.
	s.cache.Clear()
	s.cache.Wait()
	return nil
}

func (s *factService) DeleteUserFacts(ctx context.Context, userID string) error {
	if err := s.facts.DeleteFactsForUser(ctx, userID); err != nil {
		return appErrors.Wrap(err, "failed to delete user facts")
	}
	s.invalidateProfile(userID)
	return nil
}

// invalidateProfile drops a cached profile and waits for the delete to
// apply, so a read issued right after a write never sees the stale entry.
func (s *factService) invalidateProfile(userID string) {
	s.cache.Del(profileCacheKey(userID))
	s.cache.Wait()
}

func profileCacheKey(userID string) string {
	return "profile:" + userID
}
