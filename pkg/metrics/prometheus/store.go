// Package prometheus contains the Prometheus-backed implementations of
// the metrics interfaces. Constructors return no-op implementations
// when metrics are disabled (metrics.InitRegistry not called).
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quillfs/quillfs/pkg/metrics"
)

type storeMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// NewStoreMetrics creates Prometheus-backed store metrics labeled with
// the backend type.
func NewStoreMetrics(backend string) metrics.StoreMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopStoreMetrics()
	}

	reg := metrics.GetRegistry()
	constLabels := prometheus.Labels{"backend": backend}

	return &storeMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name:        "quillfs_store_operations_total",
				Help:        "Total store operations by method and status",
				ConstLabels: constLabels,
			},
			[]string{"op", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "quillfs_store_operation_duration_seconds",
				Help:        "Store operation latency by method",
				ConstLabels: constLabels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}
}

func (m *storeMetrics) ObserveOp(op string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.operationsTotal.WithLabelValues(op, status).Inc()
	m.operationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

type walkerMetrics struct {
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	invalidations prometheus.Counter
}

// NewWalkerMetrics creates Prometheus-backed directory walker metrics.
func NewWalkerMetrics() metrics.WalkerMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopWalkerMetrics()
	}

	reg := metrics.GetRegistry()

	return &walkerMetrics{
		cacheHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "quillfs_walker_cache_hits_total",
			Help: "Directory child-list cache hits",
		}),
		cacheMisses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "quillfs_walker_cache_misses_total",
			Help: "Directory child-list cache misses",
		}),
		invalidations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "quillfs_walker_cache_invalidations_total",
			Help: "Directory child-list cache invalidations",
		}),
	}
}

func (m *walkerMetrics) CacheHit()   { m.cacheHits.Inc() }
func (m *walkerMetrics) CacheMiss()  { m.cacheMisses.Inc() }
func (m *walkerMetrics) Invalidate() { m.invalidations.Inc() }
