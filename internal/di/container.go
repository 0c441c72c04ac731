package di

import (
	"engram-backend/internal/config"
	"engram-backend/internal/index"
	"engram-backend/internal/infrastructure/messaging"
	"engram-backend/internal/infrastructure/observability"
	"engram-backend/internal/repository"
	"engram-backend/internal/service/conversation"
	"engram-backend/internal/service/persona"
	"engram-backend/internal/service/sessionlog"

	"go.uber.org/zap"
)

// Container holds the assembled engine. The facade is the main entry point;
// the individual services are exposed for callers that need finer control.
type Container struct {
	Config     *config.Config
	Logger     *zap.Logger
	LogLevel   zap.AtomicLevel
	Metrics    *observability.Collector
	Store      repository.Store
	Index      *index.Index
	Dispatcher *messaging.Dispatcher
	Sessions   sessionlog.Service
	Memories   persona.MemoryService
	Facts      persona.FactService
	Listener   *conversation.ExtractionListener
	Facade     *conversation.Facade
}

func newContainer(
	cfg *config.Config,
	logger *zap.Logger,
	logLevel zap.AtomicLevel,
	metrics *observability.Collector,
	store repository.Store,
	idx *index.Index,
	dispatcher *messaging.Dispatcher,
	sessions sessionlog.Service,
	memories persona.MemoryService,
	facts persona.FactService,
	listener *conversation.ExtractionListener,
	facade *conversation.Facade,
) *Container {
	return &Container{
		Config:     cfg,
		Logger:     logger,
		LogLevel:   logLevel,
		Metrics:    metrics,
		Store:      store,
		Index:      idx,
		Dispatcher: dispatcher,
		Sessions:   sessions,
		Memories:   memories,
		Facts:      facts,
		Listener:   listener,
		Facade:     facade,
	}
}

// Shutdown drains in-flight extraction work and flushes the logger.
func (c *Container) Shutdown() {
	c.Facade.Close()
	_ = c.Logger.Sync()
}
