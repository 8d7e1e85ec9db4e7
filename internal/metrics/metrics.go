package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the process metrics. A nil *Registry is valid and records nothing,
// so components can take one optionally.
type Registry struct {
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	StoreRetriesTotal      *prometheus.CounterVec

	CacheLookupsTotal *prometheus.CounterVec

	EventsProcessedTotal  *prometheus.CounterVec
	RootCauseSearchTotal  *prometheus.CounterVec
	RootCauseSearchLength prometheus.Histogram

	EdgeUpdatesTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewRegistry creates a registry with all metrics initialized.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{registry: reg}
	f := promauto.With(reg)

	r.StoreOperationsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "topograph_store_operations_total",
		Help: "Graph store operations by operation and status",
	}, []string{"operation", "status"})

	r.StoreOperationDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "topograph_store_operation_duration_seconds",
		Help:    "Graph store operation duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
	}, []string{"operation"})

	r.StoreRetriesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "topograph_store_retries_total",
		Help: "Graph store operations retried after a reconnectable failure",
	}, []string{"operation"})

	r.CacheLookupsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "topograph_cache_lookups_total",
		Help: "Suppression cache lookups by cache and result",
	}, []string{"cache", "result"})

	r.EventsProcessedTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "topograph_events_processed_total",
		Help: "Events processed by the suppression engine by outcome",
	}, []string{"outcome"})

	r.RootCauseSearchTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "topograph_root_cause_searches_total",
		Help: "Root cause searches by resolution path",
	}, []string{"path"})

	r.RootCauseSearchLength = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "topograph_shortest_path_length",
		Help:    "Length in hops of shortest paths found to gateways",
		Buckets: prometheus.LinearBuckets(1, 1, 12),
	})

	r.EdgeUpdatesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "topograph_edge_updates_total",
		Help: "Provider edge set replacements by status",
	}, []string{"status"})

	return r
}

// RecordStoreOperation records a graph store operation.
func (r *Registry) RecordStoreOperation(operation string, err error, duration time.Duration) {
	if r == nil {
		return
	}
	r.StoreOperationsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	r.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordStoreRetry records one retry of a store operation.
func (r *Registry) RecordStoreRetry(operation string) {
	if r == nil {
		return
	}
	r.StoreRetriesTotal.WithLabelValues(operation).Inc()
}

// RecordCacheLookup records a cache hit or miss.
func (r *Registry) RecordCacheLookup(cache string, hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.CacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

// RecordEvent records the outcome of processing one event.
func (r *Registry) RecordEvent(outcome string) {
	if r == nil {
		return
	}
	r.EventsProcessedTotal.WithLabelValues(outcome).Inc()
}

// RecordRootCauseSearch records how a root cause search was resolved.
func (r *Registry) RecordRootCauseSearch(path string) {
	if r == nil {
		return
	}
	r.RootCauseSearchTotal.WithLabelValues(path).Inc()
}

// RecordPathLength records the hop count of a shortest path.
func (r *Registry) RecordPathLength(hops int) {
	if r == nil {
		return
	}
	r.RootCauseSearchLength.Observe(float64(hops))
}

// RecordEdgeUpdate records a provider edge set replacement.
func (r *Registry) RecordEdgeUpdate(err error) {
	if r == nil {
		return
	}
	r.EdgeUpdatesTotal.WithLabelValues(statusLabel(err)).Inc()
}

// Handler exposes the registry over HTTP.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer returns the underlying prometheus gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
