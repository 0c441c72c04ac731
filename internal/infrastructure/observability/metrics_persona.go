package observability

import (
	"context"
	"time"

	"engram-backend/internal/domain"
	"engram-backend/internal/index"
	"engram-backend/internal/service/persona"
)

// InstrumentedMemoryService decorates a persona.MemoryService with search
// latency and index size metrics. The services stay metric-free; everything
// observable hangs off decorators.
type InstrumentedMemoryService struct {
	inner   persona.MemoryService
	idx     *index.Index
	metrics *Collector
}

var _ persona.MemoryService = (*InstrumentedMemoryService)(nil)

// NewInstrumentedMemoryService wraps inner with metrics. The index handle is
// only read for partition sizes.
func NewInstrumentedMemoryService(inner persona.MemoryService, idx *index.Index, metrics *Collector) *InstrumentedMemoryService {
	return &InstrumentedMemoryService{inner: inner, idx: idx, metrics: metrics}
}

func (s *InstrumentedMemoryService) AddMemory(ctx context.Context, userID, text string, embedding []float32, memType domain.MemoryType, attrs domain.Attributes) (*domain.Memory, error) {
	memory, err := s.inner.AddMemory(ctx, userID, text, embedding, memType, attrs)
	if err == nil {
		s.gaugeIndexSize(userID)
	}
	return memory, err
}

func (s *InstrumentedMemoryService) GetMemory(ctx context.Context, memoryID string) (*domain.Memory, error) {
	return s.inner.GetMemory(ctx, memoryID)
}

func (s *InstrumentedMemoryService) ListMemories(ctx context.Context, userID string) ([]domain.Memory, error) {
	return s.inner.ListMemories(ctx, userID)
}

func (s *InstrumentedMemoryService) SearchMemories(ctx context.Context, userID string, query []float32, topK int) ([]domain.ScoredMemory, error) {
	start := time.Now()
	scored, err := s.inner.SearchMemories(ctx, userID, query, topK)
	if err == nil {
		s.metrics.SearchDuration.Observe(time.Since(start).Seconds())
	}
	return scored, err
}

func (s *InstrumentedMemoryService) UpdateRelevance(ctx context.Context, memoryID string, relevance float64) error {
	return s.inner.UpdateRelevance(ctx, memoryID, relevance)
}

func (s *InstrumentedMemoryService) DeleteMemory(ctx context.Context, memoryID string) error {
	memory, err := s.inner.GetMemory(ctx, memoryID)
	if err != nil {
		return err
	}
	if err := s.inner.DeleteMemory(ctx, memoryID); err != nil {
		return err
	}
	s.gaugeIndexSize(memory.UserID)
	return nil
}

func (s *InstrumentedMemoryService) DeleteUserMemories(ctx context.Context, userID string) error {
	err := s.inner.DeleteUserMemories(ctx, userID)
	if err == nil {
		s.metrics.IndexSize.DeleteLabelValues(userID)
	}
	return err
}

func (s *InstrumentedMemoryService) RebuildIndex(ctx context.Context, userID string) (int, error) {
	n, err := s.inner.RebuildIndex(ctx, userID)
	if err == nil {
		s.gaugeIndexSize(userID)
	}
	return n, err
}

func (s *InstrumentedMemoryService) gaugeIndexSize(userID string) {
	s.metrics.IndexSize.WithLabelValues(userID).Set(float64(s.idx.Count(userID)))
}
