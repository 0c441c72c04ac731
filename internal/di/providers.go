// Package di assembles the engine's components with Google Wire. Providers
// are grouped by layer: configuration, infrastructure, services, and the
// facade that ties them together.
package di

import (
	"context"

	"engram-backend/internal/config"
	"engram-backend/internal/index"
	"engram-backend/internal/infrastructure/messaging"
	"engram-backend/internal/infrastructure/observability"
	ddb "engram-backend/internal/infrastructure/persistence/dynamodb"
	memstore "engram-backend/internal/infrastructure/persistence/memory"
	"engram-backend/internal/repository"
	"engram-backend/internal/service/conversation"
	"engram-backend/internal/service/persona"
	"engram-backend/internal/service/sessionlog"
	appErrors "engram-backend/pkg/errors"

	"github.com/google/wire"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ProviderSet is the complete dependency graph.
var ProviderSet = wire.NewSet(
	provideLogLevel,
	provideLogger,
	provideCollector,
	provideTracer,
	provideStore,
	provideIndex,
	provideEmbedder,
	provideExtractor,
	provideDispatcher,
	provideSessionService,
	provideFactService,
	provideMemoryService,
	provideFacade,
	provideListener,
	newContainer,
	wire.Bind(new(conversation.Embedder), new(*conversation.HashingEmbedder)),
	wire.Bind(new(conversation.TurnExtractor), new(*conversation.HeuristicExtractor)),
	wire.Bind(new(persona.EventPublisher), new(*messaging.Dispatcher)),
)

// provideLogLevel exposes the level as its own handle, so the config watcher
// can retune it at runtime.
func provideLogLevel(cfg *config.Config) zap.AtomicLevel {
	return observability.NewLevel(observability.LoggerConfig{Level: cfg.Logging.Level})
}

func provideLogger(cfg *config.Config, level zap.AtomicLevel) (*zap.Logger, error) {
	return observability.NewLogger(observability.LoggerConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}, level)
}

// provideTracer resolves through the otel global, so spans bind to whatever
// provider InitTracing installs, before or after container assembly.
func provideTracer() trace.Tracer {
	return otel.Tracer("engram-backend")
}

func provideCollector(cfg *config.Config) *observability.Collector {
	return observability.NewCollector(cfg.Metrics.Namespace)
}

// provideStore selects the storage backend and wraps it with metrics.
func provideStore(ctx context.Context, cfg *config.Config, metrics *observability.Collector, logger *zap.Logger) (repository.Store, error) {
	var base repository.Store
	switch cfg.Storage.Driver {
	case "dynamodb":
		client, err := ddb.NewClient(ctx, ddb.ClientConfig{
			TableName: cfg.Storage.TableName,
			Region:    cfg.Storage.Region,
			Endpoint:  cfg.Storage.Endpoint,
			Timeout:   cfg.Storage.Timeout,
		})
		if err != nil {
			return nil, err
		}
		base = ddb.NewStore(client, ddb.StoreConfig{
			TableName:        cfg.Storage.TableName,
			MaxMergeAttempts: cfg.Storage.MaxRetries,
		}, logger)
	case "memory":
		base = memstore.NewStore()
	default:
		return nil, appErrors.NewValidation("unknown storage driver: " + cfg.Storage.Driver)
	}

	if cfg.Metrics.Enabled {
		return observability.NewInstrumentedStore(base, metrics), nil
	}
	return base, nil
}

func provideIndex(cfg *config.Config) *index.Index {
	return index.New(index.Params{Dim: cfg.Index.Dim})
}

func provideEmbedder(cfg *config.Config) *conversation.HashingEmbedder {
	return conversation.NewHashingEmbedder(cfg.Index.Dim)
}

func provideExtractor() *conversation.HeuristicExtractor {
	return conversation.NewHeuristicExtractor()
}

func provideDispatcher(cfg *config.Config, logger *zap.Logger) *messaging.Dispatcher {
	return messaging.NewDispatcher(messaging.DispatcherConfig{
		Workers:        cfg.Extraction.Workers,
		QueueSize:      cfg.Extraction.QueueSize,
		HandlerTimeout: cfg.Extraction.HandlerTimeout,
	}, logger)
}

func provideSessionService(store repository.Store, logger *zap.Logger) sessionlog.Service {
	return sessionlog.NewService(store, logger)
}

func provideFactService(store repository.Store, events persona.EventPublisher, cfg *config.Config, logger *zap.Logger) (persona.FactService, error) {
	return persona.NewFactService(store, events, persona.FactServiceConfig{
		ProfileCacheTTL:  cfg.Cache.ProfileTTL,
		ProfileCacheSize: cfg.Cache.ProfileSize,
	}, logger)
}

func provideMemoryService(store repository.Store, facts persona.FactService, idx *index.Index, events persona.EventPublisher, metrics *observability.Collector, cfg *config.Config, logger *zap.Logger) persona.MemoryService {
	svc := persona.NewMemoryService(store, facts, idx, events, logger)
	if cfg.Metrics.Enabled {
		return observability.NewInstrumentedMemoryService(svc, idx, metrics)
	}
	return svc
}

func provideFacade(
	store repository.Store,
	sessions sessionlog.Service,
	memories persona.MemoryService,
	facts persona.FactService,
	embedder conversation.Embedder,
	dispatcher *messaging.Dispatcher,
	tracer trace.Tracer,
	cfg *config.Config,
	logger *zap.Logger,
) *conversation.Facade {
	return conversation.NewFacade(store, sessions, memories, facts, embedder, dispatcher, tracer, conversation.Config{
		SessionPolicy: conversation.SessionPolicy(cfg.Conversation.SessionPolicy),
		HistoryWindow: cfg.Conversation.HistoryWindow,
		TopK:          cfg.Conversation.TopK,
	}, logger)
}

// provideListener builds the extraction pipeline and attaches it to the
// dispatcher, so turns recorded through the facade feed the persona layer.
func provideListener(
	extractor conversation.TurnExtractor,
	embedder conversation.Embedder,
	memories persona.MemoryService,
	facts persona.FactService,
	dispatcher *messaging.Dispatcher,
	logger *zap.Logger,
) *conversation.ExtractionListener {
	listener := conversation.NewExtractionListener(extractor, embedder, memories, facts, logger)
	listener.Register(dispatcher)
	return listener
}
