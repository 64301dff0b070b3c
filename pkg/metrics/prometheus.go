package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector instruments the ledger engine. Operation outcomes are labelled
// so rejected debits can be told apart from storage conflicts on a
// dashboard; clamp and invariant counters exist for alerting, both signal
// caller or ledger bugs.
type Collector struct {
	registry            *prometheus.Registry
	operations          *prometheus.CounterVec
	operationDuration   prometheus.Histogram
	releaseClamps       prometheus.Counter
	invariantViolations prometheus.Counter
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	return &Collector{
		registry: registry,
		operations: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by kind and outcome",
		}, []string{"operation", "outcome"}),
		operationDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Time taken to apply a ledger operation",
			Buckets: prometheus.DefBuckets,
		}),
		releaseClamps: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "ledger_release_clamps_total",
			Help: "Releases clamped to the ledger balance, indicates a caller bug",
		}),
		invariantViolations: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "ledger_invariant_violations_total",
			Help: "Invariant violations detected before persisting",
		}),
	}
}

func (c *Collector) RecordOperation(operation string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.operations.WithLabelValues(operation, outcome).Inc()
	c.operationDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordReleaseClamp() {
	c.releaseClamps.Inc()
}

func (c *Collector) RecordInvariantViolation() {
	c.invariantViolations.Inc()
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
