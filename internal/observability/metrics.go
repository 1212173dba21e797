package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the paper parser service.
// Metrics are organized by subsystem: tasks, dedup, sources, graph, and
// streaming. All counters and histograms are registered via promauto with the
// default Prometheus registry.
type Metrics struct {
	// TasksSubmitted counts ingestion tasks accepted for processing.
	TasksSubmitted prometheus.Counter

	// TasksCompleted counts tasks that finished, labeled by result type.
	TasksCompleted *prometheus.CounterVec

	// TasksFailed counts tasks that ended in failure.
	TasksFailed prometheus.Counter

	// TasksCancelled counts tasks cancelled by the user. Tasks that hit the
	// hard timeout are counted in TasksFailed.
	TasksCancelled prometheus.Counter

	// TaskDuration observes end-to-end task duration in seconds.
	TaskDuration prometheus.Histogram

	// ComponentDuration observes per-component duration in seconds,
	// labeled by component name.
	ComponentDuration *prometheus.HistogramVec

	// DedupHits counts deduplication decisions, labeled by phase
	// (identifier, source_url, in_flight, fingerprint, none).
	DedupHits *prometheus.CounterVec

	// SourceRequestsTotal counts HTTP requests to external sources,
	// labeled by source and operation.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed requests to external sources,
	// labeled by source, operation, and error kind.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes request duration to external sources
	// in seconds, labeled by source.
	SourceRequestDuration *prometheus.HistogramVec

	// GraphWrites counts graph store write operations, labeled by operation.
	GraphWrites *prometheus.CounterVec

	// CitationsLinked counts CITES edges created, labeled by target kind
	// (literature, unresolved).
	CitationsLinked *prometheus.CounterVec

	// UnresolvedPromoted counts placeholder nodes promoted to literature.
	UnresolvedPromoted prometheus.Counter

	// SSEConnections gauges currently open task event streams.
	SSEConnections prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TasksSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Total number of ingestion tasks submitted",
		}),
		TasksCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Total number of tasks completed, by result type",
		}, []string{"result"}),
		TasksFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_failed_total",
			Help:      "Total number of tasks that failed",
		}),
		TasksCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_cancelled_total",
			Help:      "Total number of tasks cancelled",
		}),
		TaskDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "End-to-end ingestion task duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		ComponentDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "component_duration_seconds",
			Help:      "Per-component processing duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"component"}),
		DedupHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_hits_total",
			Help:      "Deduplication decisions by phase",
		}, []string{"phase"}),
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "HTTP requests to external sources",
		}, []string{"source", "operation"}),
		SourceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Failed HTTP requests to external sources",
		}, []string{"source", "operation", "kind"}),
		SourceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "HTTP request duration to external sources in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		GraphWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_writes_total",
			Help:      "Graph store write operations",
		}, []string{"operation"}),
		CitationsLinked: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "citations_linked_total",
			Help:      "CITES edges created, by target kind",
		}, []string{"target"}),
		UnresolvedPromoted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unresolved_promoted_total",
			Help:      "Unresolved placeholder nodes promoted to literature",
		}),
		SSEConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sse_connections",
			Help:      "Currently open task event streams",
		}),
	}
}
