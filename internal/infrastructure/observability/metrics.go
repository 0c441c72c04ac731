package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalCollector *Collector
	collectorMutex  sync.Mutex
)

// Collector holds all Prometheus metrics for the engine.
type Collector struct {
	registry *prometheus.Registry

	// Session log metrics
	TurnsRecorded prometheus.Counter
	CardsAttached prometheus.Counter
	TurnConflicts prometheus.Counter

	// Persona metrics
	MemoriesAdded  prometheus.Counter
	FactsMerged    prometheus.Counter
	SearchDuration prometheus.Histogram
	IndexSize      *prometheus.GaugeVec

	// Storage metrics
	StoreOperations *prometheus.CounterVec
	StoreDuration   *prometheus.HistogramVec
}

// NewCollector creates the metrics collector for the given namespace. A
// process-wide singleton avoids duplicate registration in tests.
func NewCollector(namespace string) *Collector {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()

	if globalCollector != nil {
		return globalCollector
	}

	registry := prometheus.NewRegistry()

	turnsRecorded := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_recorded_total",
		Help:      "Total number of conversation turns recorded",
	})
	cardsAttached := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cards_attached_total",
		Help:      "Total number of UI cards attached to turns",
	})
	turnConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turn_conflicts_total",
		Help:      "Total number of duplicate turn conflicts retried",
	})
	memoriesAdded := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "memories_added_total",
		Help:      "Total number of memories embedded and indexed",
	})
	factsMerged := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "facts_merged_total",
		Help:      "Total number of fact upserts",
	})
	searchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "memory_search_duration_seconds",
		Help:      "Vector search duration in seconds",
		Buckets:   prometheus.DefBuckets,
	})
	indexSize := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "index_vectors",
		Help:      "Live vectors per user partition",
	}, []string{"user_id"})
	storeOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_operations_total",
		Help:      "Total number of storage operations",
	}, []string{"operation", "status"})
	storeDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "store_operation_duration_seconds",
		Help:      "Storage operation duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	registry.MustRegister(
		turnsRecorded,
		cardsAttached,
		turnConflicts,
		memoriesAdded,
		factsMerged,
		searchDuration,
		indexSize,
		storeOperations,
		storeDuration,
	)

	globalCollector = &Collector{
		registry:        registry,
		TurnsRecorded:   turnsRecorded,
		CardsAttached:   cardsAttached,
		TurnConflicts:   turnConflicts,
		MemoriesAdded:   memoriesAdded,
		FactsMerged:     factsMerged,
		SearchDuration:  searchDuration,
		IndexSize:       indexSize,
		StoreOperations: storeOperations,
		StoreDuration:   storeDuration,
	}
	return globalCollector
}

// ResetForTesting clears the singleton so tests can build fresh collectors.
func ResetForTesting() {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()
	globalCollector = nil
}

// GetRegistry returns the Prometheus registry backing this collector.
func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}
