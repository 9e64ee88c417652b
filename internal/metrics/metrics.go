// Package metrics exports the counters and histograms the service uses to
// observe itself: job outcomes, provider latency, search latency, cache
// traffic, circuit breaker state, working-memory utilization, and channel
// notification volume.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalCollector *Collector
	collectorMutex  sync.Mutex
)

// Collector holds every metric the service exports, registered against its
// own private registry rather than the global default so tests can build
// independent instances without colliding.
type Collector struct {
	registry *prometheus.Registry

	JobsTotal           *prometheus.CounterVec
	EmbeddingLatencyMs  *prometheus.HistogramVec
	TagLatencyMs        *prometheus.HistogramVec
	SearchLatencyMs     *prometheus.HistogramVec
	CacheOpsTotal       *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
	WorkingMemoryUtil   *prometheus.GaugeVec
	ChannelNotifsTotal  *prometheus.CounterVec
}

// NewCollector builds a Collector under namespace, registering every metric
// with a fresh private registry. Safe to call more than once (e.g. in
// parallel test packages); each call returns an independent instance unless
// Default is used.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of enrichment jobs processed, by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	embeddingLatency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_latency_ms",
			Help:      "Embedding provider call latency in milliseconds",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
		},
		[]string{"provider", "status"},
	)

	tagLatency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tag_latency_ms",
			Help:      "Tag extraction provider call latency in milliseconds",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
		},
		[]string{"provider", "status"},
	)

	searchLatency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_latency_ms",
			Help:      "Recall latency in milliseconds, by strategy",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 12),
		},
		[]string{"strategy"},
	)

	cacheOps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_ops_total",
			Help:      "Working-memory cache operations, by kind",
		},
		[]string{"operation"},
	)

	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per upstream (0=closed, 1=half-open, 2=open)",
		},
		[]string{"service"},
	)

	wmUtil := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "working_memory_utilization",
			Help:      "Fraction of a robot's token budget currently in use",
		},
		[]string{"robot"},
	)

	channelNotifs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_notifications_received",
			Help:      "Group channel notifications received, by group",
		},
		[]string{"group"},
	)

	registry.MustRegister(
		jobsTotal,
		embeddingLatency,
		tagLatency,
		searchLatency,
		cacheOps,
		breakerState,
		wmUtil,
		channelNotifs,
	)

	return &Collector{
		registry:            registry,
		JobsTotal:           jobsTotal,
		EmbeddingLatencyMs:  embeddingLatency,
		TagLatencyMs:        tagLatency,
		SearchLatencyMs:     searchLatency,
		CacheOpsTotal:       cacheOps,
		CircuitBreakerState: breakerState,
		WorkingMemoryUtil:   wmUtil,
		ChannelNotifsTotal:  channelNotifs,
	}
}

// Default returns a process-wide Collector, building it on first use under
// the "htm" namespace.
func Default() *Collector {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()
	if globalCollector == nil {
		globalCollector = NewCollector("htm")
	}
	return globalCollector
}

// Registry exposes the private registry an HTTP exporter would scrape; the
// exporter itself is a collaborator's concern, not built here.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ResetDefaultForTesting discards the process-wide Collector so the next
// Default() call builds a fresh one.
func ResetDefaultForTesting() {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()
	globalCollector = nil
}

// BreakerState values recorded against CircuitBreakerState.
const (
	BreakerClosed   = 0
	BreakerHalfOpen = 1
	BreakerOpen     = 2
)
