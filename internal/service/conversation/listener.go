package conversation

import (
	"context"

	"go.uber.org/zap"

	"engram-backend/internal/domain"
	"engram-backend/internal/infrastructure/messaging"
	"engram-backend/internal/service/persona"
)

// ExtractionListener consumes recorded turns off the dispatcher and feeds
// the persona store: one embedded memory per candidate, plus structured
// facts with provenance pointing at the memory they came from.
type ExtractionListener struct {
	extractor TurnExtractor
	embedder  Embedder
	memories  persona.MemoryService
	facts     persona.FactService
	logger    *zap.Logger
}

// NewExtractionListener creates a listener. Call Register to attach it to a
// dispatcher.
func NewExtractionListener(
	extractor TurnExtractor,
	embedder Embedder,
	memories persona.MemoryService,
	facts persona.FactService,
	logger *zap.Logger,
) *ExtractionListener {
	return &ExtractionListener{
		extractor: extractor,
		embedder:  embedder,
		memories:  memories,
		facts:     facts,
		logger:    logger,
	}
}

// Register subscribes the listener to turn events.
func (l *ExtractionListener) Register(d *messaging.Dispatcher) {
	d.Subscribe(messaging.EventTypeTurnRecorded, l.onTurnRecorded)
}

func (l *ExtractionListener) onTurnRecorded(ctx context.Context, event messaging.Event) error {
	turn, ok := event.(messaging.TurnRecorded)
	if !ok {
		return nil
	}

	extraction, err := l.extractor.Extract(ctx, turn.UserText, turn.AssistantText)
	if err != nil {
		return err
	}

	// The first stored memory anchors provenance for the turn's facts.
	var sourceMemoryID string
	for _, candidate := range extraction.Memories {
		embedding, err := l.embedder.Embed(ctx, candidate.Text)
		if err != nil {
			return err
		}

		attrs := candidate.Attributes.Copy()
		if attrs == nil {
			attrs = domain.Attributes{}
		}
		attrs["session_id"] = turn.SessionID
		attrs["turn_number"] = turn.UserTurn

		memory, err := l.memories.AddMemory(ctx, turn.UserID, candidate.Text, embedding, candidate.Type, attrs)
		if err != nil {
			return err
		}
		if sourceMemoryID == "" {
			sourceMemoryID = memory.ID
		}
	}

	for _, candidate := range extraction.Facts {
		_, err := l.facts.RecordFact(ctx, domain.Fact{
			UserID:         turn.UserID,
			Category:       candidate.Category,
			Key:            candidate.Key,
			Value:          candidate.Value,
			Confidence:     candidate.Confidence,
			SourceMemoryID: sourceMemoryID,
		})
		if err != nil {
			return err
		}
	}

	l.logger.Debug("turn extracted",
		zap.String("session_id", turn.SessionID),
		zap.Int("turn", turn.UserTurn),
		zap.Int("memories", len(extraction.Memories)),
		zap.Int("facts", len(extraction.Facts)),
	)
	return nil
}
