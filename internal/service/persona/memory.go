// Package persona provides business logic for the cross-session persona
// store: vector-embedded memories with semantic retrieval, and structured,
// confidence-scored facts merged under a pluggable policy.
package persona

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"engram-backend/internal/domain"
	"engram-backend/internal/index"
	"engram-backend/internal/infrastructure/messaging"
	"engram-backend/internal/repository"
	appErrors "engram-backend/pkg/errors"
)

// EventPublisher is the slice of the dispatcher the persona services need:
// best-effort notifications that must never block or fail the write that
// produced them.
type EventPublisher interface {
	TryPublish(event messaging.Event) error
}

// DefaultRelevance is the score assigned to memories that have not been
// reweighted yet.
const DefaultRelevance = 1.0

// MemoryService defines the interface for embedded-memory operations.
type MemoryService interface {
	// AddMemory stores a new memory and makes it searchable. Memories are
	// append-only: new information supersedes, it never overwrites.
	AddMemory(ctx context.Context, userID, text string, embedding []float32, memType domain.MemoryType, attrs domain.Attributes) (*domain.Memory, error)

	// GetMemory retrieves a memory by id.
	GetMemory(ctx context.Context, memoryID string) (*domain.Memory, error)

	// ListMemories returns all of a user's memories, newest first.
	ListMemories(ctx context.Context, userID string) ([]domain.Memory, error)

	// SearchMemories returns the user's topK most similar memories to the
	// query embedding, scored by cosine similarity.
	SearchMemories(ctx context.Context, userID string, query []float32, topK int) ([]domain.ScoredMemory, error)

	// UpdateRelevance reweights a memory. Text and embedding stay immutable.
	UpdateRelevance(ctx context.Context, memoryID string, relevance float64) error

	// DeleteMemory removes a memory from store and index, and clears any fact
	// provenance pointing at it. Facts themselves survive.
	DeleteMemory(ctx context.Context, memoryID string) error

	// DeleteUserMemories removes all of a user's memories and drops the
	// user's index partition.
	DeleteUserMemories(ctx context.Context, userID string) error

	// RebuildIndex repopulates a user's index partition from the store. Used
	// after cold start when the index is empty but the store is not.
	RebuildIndex(ctx context.Context, userID string) (int, error)
}

type memoryService struct {
	memories repository.MemoryRepository
	facts    FactService
	idx      *index.Index
	events   EventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewMemoryService creates a new memory service backed by the given store
// and vector index. Provenance clearing on deletes goes through the fact
// service so its profile cache stays consistent.
func NewMemoryService(memories repository.MemoryRepository, facts FactService, idx *index.Index, events EventPublisher, logger *zap.Logger) MemoryService {
	return &memoryService{
		memories: memories,
		facts:    facts,
		idx:      idx,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *memoryService) AddMemory(ctx context.Context, userID, text string, embedding []float32, memType domain.MemoryType, attrs domain.Attributes) (*domain.Memory, error) {
	if userID == "" {
		return nil, appErrors.NewValidation("user_id cannot be empty")
	}
	if text == "" {
		return nil, appErrors.NewValidation("text cannot be empty")
	}
	if len(embedding) != s.idx.Dim() {
		return nil, appErrors.NewDimensionMismatch(s.idx.Dim(), len(embedding))
	}
	if memType == "" {
		memType = domain.MemoryTypeConversation
	}
	if !domain.ValidMemoryType(memType) {
		return nil, appErrors.NewValidation("unknown memory type: " + string(memType))
	}

	now := s.now()
	memory := domain.Memory{
		ID:         uuid.New().String(),
		UserID:     userID,
		Text:       text,
		Embedding:  append([]float32(nil), embedding...),
		Type:       memType,
		Attributes: attrs.Copy(),
		Relevance:  DefaultRelevance,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.memories.CreateMemory(ctx, &memory); err != nil {
		return nil, appErrors.Wrap(err, "failed to store memory")
	}
	if err := s.idx.Add(ctx, userID, memory.ID, memory.Embedding, memory.CreatedAt); err != nil {
		return nil, appErrors.Wrap(err, "failed to index memory")
	}

	s.publish(messaging.MemoryAdded{MemoryID: memory.ID, UserID: userID, At: now})
	s.logger.Debug("memory added",
		zap.String("memory_id", memory.ID),
		zap.String("user_id", userID),
		zap.String("type", string(memType)),
	)
	return &memory, nil
}

func (s *memoryService) GetMemory(ctx context.Context, memoryID string) (*domain.Memory, error) {
	memory, err := s.memories.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to get memory")
	}
	return memory, nil
}

func (s *memoryService) ListMemories(ctx context.Context, userID string) ([]domain.Memory, error) {
	memories, err := s.memories.ListMemories(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to list memories")
	}
	return memories, nil
}

func (s *memoryService) SearchMemories(ctx context.Context, userID string, query []float32, topK int) ([]domain.ScoredMemory, error) {
	hits, err := s.idx.Search(ctx, userID, query, topK)
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to search index")
	}

	scored := make([]domain.ScoredMemory, 0, len(hits))
	for _, h := range hits {
		memory, err := s.memories.GetMemory(ctx, h.ID)
		if err != nil {
			// The index can briefly run ahead of the store after a delete.
			if appErrors.IsNotFound(err) {
				s.logger.Warn("index hit missing from store", zap.String("memory_id", h.ID))
				continue
			}
			return nil, appErrors.Wrap(err, "failed to load memory for search hit")
		}
		scored = append(scored, domain.ScoredMemory{Memory: *memory, Similarity: h.Similarity})
	}
	return scored, nil
}

func (s *memoryService) UpdateRelevance(ctx context.Context, memoryID string, relevance float64) error {
	if relevance < 0 {
		return appErrors.NewValidation("relevance cannot be negative")
	}
	if err := s.memories.UpdateRelevance(ctx, memoryID, relevance); err != nil {
		return appErrors.Wrap(err, "failed to update relevance")
	}
	return nil
}

func (s *memoryService) DeleteMemory(ctx context.Context, memoryID string) error {
	memory, err := s.memories.GetMemory(ctx, memoryID)
	if err != nil {
		return appErrors.Wrap(err, "failed to check memory before delete")
	}

	if err := s.memories.DeleteMemory(ctx, memoryID); err != nil {
		return appErrors.Wrap(err, "failed to delete memory")
	}
	if err := s.idx.Remove(ctx, memory.UserID, memoryID); err != nil {
		return appErrors.Wrap(err, "failed to unindex memory")
	}

	if err := s.facts.ClearProvenance(ctx, memoryID); err != nil {
		return appErrors.Wrap(err, "failed to clear fact provenance")
	}

	s.publish(messaging.MemoryDeleted{MemoryID: memoryID, UserID: memory.UserID, At: s.now()})
	s.logger.Debug("memory deleted",
		zap.String("memory_id", memoryID),
		zap.String("user_id", memory.UserID),
	)
	return nil
}

func (s *memoryService) DeleteUserMemories(ctx context.Context, userID string) error {
	if err := s.memories.DeleteMemoriesForUser(ctx, userID); err != nil {
		return appErrors.Wrap(err, "failed to delete user memories")
	}
	if err := s.idx.DropUser(userID); err != nil {
		return appErrors.Wrap(err, "failed to drop user index")
	}
	return nil
}

func (s *memoryService) RebuildIndex(ctx context.Context, userID string) (int, error) {
	memories, err := s.memories.ListMemories(ctx, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, "failed to list memories for reindex")
	}

	if err := s.idx.DropUser(userID); err != nil {
		return 0, appErrors.Wrap(err, "failed to reset user index")
	}
	for _, m := range memories {
		if err := s.idx.Add(ctx, userID, m.ID, m.Embedding, m.CreatedAt); err != nil {
			return 0, appErrors.Wrap(err, "failed to reindex memory")
		}
	}

	s.logger.Info("index rebuilt",
		zap.String("user_id", userID),
		zap.Int("count", len(memories)),
	)
	return len(memories), nil
}

// publish hands a notification to the dispatcher without blocking; a shed
// event only costs observers, never the write.
func (s *memoryService) publish(event messaging.Event) {
	if err := s.events.TryPublish(event); err != nil {
		s.logger.Debug("event dropped",
			zap.String("event_type", event.EventType()),
			zap.Error(err),
		)
	}
}
