package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Monitor is safe to use as a nil pointer; every method is then a no-op.
type Monitor struct {
	operations             *prometheus.CounterVec
	operationDuration      *prometheus.HistogramVec
	propagationAttempts    *prometheus.CounterVec
	reconciliationEvents   *prometheus.CounterVec
	pendingReconciliations prometheus.Gauge
	cacheRequests          *prometheus.CounterVec
	reclaimedHolds         prometheus.Counter
	breakerState           *prometheus.GaugeVec
}

// NewMonitor registers the inventory metrics on reg. A nil reg uses the
// default Prometheus registerer.
func NewMonitor(reg prometheus.Registerer) *Monitor {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Monitor{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inventory_operations_total",
				Help: "Total coordinator operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inventory_operation_duration_seconds",
				Help:    "Duration of coordinator operations",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"operation"},
		),
		propagationAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propagation_attempts_total",
				Help: "Secondary store propagation attempts by target and outcome",
			},
			[]string{"target", "outcome"},
		),
		reconciliationEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciliation_events_total",
				Help: "Propagations that exhausted their retries",
			},
			[]string{"target"},
		),
		pendingReconciliations: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "reconciliation_pending",
				Help: "Unresolved reconciliation events seen by the last sweep",
			},
		),
		cacheRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_requests_total",
				Help: "Cache lookups by resource and result",
			},
			[]string{"resource", "result"},
		),
		reclaimedHolds: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "reclaimed_holds_total",
				Help: "Expired reservations whose capacity was released",
			},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_open",
				Help: "1 when the named circuit breaker rejects calls",
			},
			[]string{"name"},
		),
	}
}

func (m *Monitor) TrackOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Monitor) TrackPropagationAttempt(target string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.propagationAttempts.WithLabelValues(target, outcome).Inc()
}

func (m *Monitor) TrackReconciliation(target string) {
	if m == nil {
		return
	}
	m.reconciliationEvents.WithLabelValues(target).Inc()
}

func (m *Monitor) SetPendingReconciliations(n int) {
	if m == nil {
		return
	}
	m.pendingReconciliations.Set(float64(n))
}

// TrackCache records a cache lookup; hit is false on a miss or a cache error.
func (m *Monitor) TrackCache(resource string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(resource, result).Inc()
}

func (m *Monitor) TrackReclaimed(n int) {
	if m == nil {
		return
	}
	m.reclaimedHolds.Add(float64(n))
}

func (m *Monitor) SetBreakerOpen(name string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.breakerState.WithLabelValues(name).Set(v)
}
