// Package metrics provides Prometheus metrics for gateway decisions, caches
// and backing stores.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	decisionsTotal  *prometheus.CounterVec
	cacheOperations *prometheus.CounterVec
	storeDuration   *prometheus.HistogramVec
	rateCounters    prometheus.Gauge
	taskFailures    *prometheus.CounterVec
	invalidations   prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil registerer
// creates working but unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		decisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_decisions_total",
			Help: "Total gateway decisions by outcome",
		}, []string{"outcome"}),

		cacheOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_operations_total",
			Help: "Total cache hits and misses",
		}, []string{"cache", "result"}),

		storeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_store_lookup_duration_seconds",
			Help:    "Duration of backing store lookups",
			Buckets: prometheus.DefBuckets,
		}, []string{"store"}),

		rateCounters: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_rate_counters",
			Help: "Number of live fixed-window rate counters",
		}),

		taskFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_background_task_failures_total",
			Help: "Best-effort background tasks that failed or were dropped",
		}, []string{"task"}),

		invalidations: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_cache_invalidations_total",
			Help: "Credential cache invalidations applied",
		}),
	}
}

func (m *Metrics) RecordDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordCache(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheOperations.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) ObserveStore(store string, d time.Duration) {
	if m == nil {
		return
	}
	m.storeDuration.WithLabelValues(store).Observe(d.Seconds())
}

func (m *Metrics) SetRateCounters(n int) {
	if m == nil {
		return
	}
	m.rateCounters.Set(float64(n))
}

func (m *Metrics) RecordTaskFailure(task string) {
	if m == nil {
		return
	}
	m.taskFailures.WithLabelValues(task).Inc()
}

func (m *Metrics) RecordInvalidation() {
	if m == nil {
		return
	}
	m.invalidations.Inc()
}
