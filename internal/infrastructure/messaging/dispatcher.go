// Package messaging provides the in-process event dispatcher used to hand
// conversation turns off to background extraction without blocking the
// recording path.
package messaging

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	appErrors "engram-backend/pkg/errors"
)

// Event is something that happened in the engine worth reacting to.
type Event interface {
	EventType() string
	AggregateID() string
	OccurredAt() time.Time
}

// Handler reacts to one event. Handlers run on dispatcher workers, off the
// publishing goroutine.
type Handler func(ctx context.Context, event Event) error

// Dispatcher fans events out to subscribed handlers on a bounded worker
// pool. Publish never blocks the caller beyond queue admission; handler
// failures are logged, not propagated, so one bad listener cannot fail the
// operation that produced the event.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler

	queue   chan queuedEvent
	workers sync.WaitGroup
	pending sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}

	timeout time.Duration
	logger  *zap.Logger
}

type queuedEvent struct {
	event Event
}

// DispatcherConfig tunes the worker pool.
type DispatcherConfig struct {
	Workers        int
	QueueSize      int
	HandlerTimeout time.Duration
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:        4,
		QueueSize:      256,
		HandlerTimeout: 30 * time.Second,
	}
}

// NewDispatcher creates a dispatcher and starts its workers.
func NewDispatcher(cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = def.HandlerTimeout
	}

	d := &Dispatcher{
		handlers: make(map[string][]Handler),
		queue:    make(chan queuedEvent, cfg.QueueSize),
		closed:   make(chan struct{}),
		timeout:  cfg.HandlerTimeout,
		logger:   logger,
	}

	d.workers.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker()
	}
	return d
}

// Subscribe registers a handler for one event type.
func (d *Dispatcher) Subscribe(eventType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], h)
}

// Publish enqueues an event for asynchronous handling. Fails with
// UNAVAILABLE once the dispatcher is closed.
func (d *Dispatcher) Publish(ctx context.Context, event Event) error {
	select {
	case <-d.closed:
		return appErrors.NewUnavailable("dispatcher is closed", nil)
	default:
	}

	d.pending.Add(1)
	select {
	case d.queue <- queuedEvent{event: event}:
		return nil
	case <-ctx.Done():
		d.pending.Done()
		return ctx.Err()
	case <-d.closed:
		d.pending.Done()
		return appErrors.NewUnavailable("dispatcher is closed", nil)
	}
}

// TryPublish enqueues an event only when the queue can admit it right now.
// Services that publish follow-up events while running on dispatcher workers
// use it, so a full queue sheds the notification instead of stalling the
// pool.
func (d *Dispatcher) TryPublish(event Event) error {
	select {
	case <-d.closed:
		return appErrors.NewUnavailable("dispatcher is closed", nil)
	default:
	}

	d.pending.Add(1)
	select {
	case d.queue <- queuedEvent{event: event}:
		return nil
	default:
		d.pending.Done()
		return appErrors.NewUnavailable("dispatcher queue is full", nil)
	}
}

// DispatchSync runs all handlers for an event inline and returns the first
// failure. Used where the caller needs completion before proceeding.
func (d *Dispatcher) DispatchSync(ctx context.Context, event Event) error {
	for _, h := range d.handlersFor(event.EventType()) {
		if err := h(ctx, event); err != nil {
			return appErrors.Wrap(err, "handler failed for "+event.EventType())
		}
	}
	return nil
}

// Flush blocks until every event published so far has been handled.
func (d *Dispatcher) Flush() {
	d.pending.Wait()
}

// Close drains outstanding events and stops the workers. Publish calls
// after Close fail with UNAVAILABLE.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.closed)
		d.pending.Wait()
		close(d.queue)
		d.workers.Wait()
	})
}

func (d *Dispatcher) worker() {
	defer d.workers.Done()
	for q := range d.queue {
		d.handle(q.event)
		d.pending.Done()
	}
}

func (d *Dispatcher) handle(event Event) {
	// Handlers run on a fresh context: the publisher's request has usually
	// finished by the time the event is picked up.
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	start := time.Now()
	for _, h := range d.handlersFor(event.EventType()) {
		if err := h(ctx, event); err != nil {
			d.logger.Error("event handler failed",
				zap.String("event_type", event.EventType()),
				zap.String("aggregate_id", event.AggregateID()),
				zap.Error(err),
			)
		}
	}

	d.logger.Debug("event handled",
		zap.String("event_type", event.EventType()),
		zap.String("aggregate_id", event.AggregateID()),
		zap.Duration("duration", time.Since(start)),
	)
}

func (d *Dispatcher) handlersFor(eventType string) []Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[eventType]
}
