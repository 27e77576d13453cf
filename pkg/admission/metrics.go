package admission

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports Prometheus counters/histograms/gauges for the admission
// webhook, per spec.md §4.2.5, replacing
// original_source/sek8s/metrics.py's hand-rolled text builder with the
// standard exposition library.
type Metrics struct {
	decisions       *prometheus.CounterVec
	byKind          *prometheus.CounterVec
	byOperation     *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	validatorErrors *prometheus.CounterVec
	uptime          prometheus.Gauge
	startedAt       time.Time
}

// NewMetrics registers the admission metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_decisions_total",
			Help: "Total admission decisions by outcome.",
		}, []string{"decision"}),
		byKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_decisions_by_kind_total",
			Help: "Total admission decisions by resource kind and outcome.",
		}, []string{"kind", "decision"}),
		byOperation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_decisions_by_operation_total",
			Help: "Total admission decisions by operation and outcome.",
		}, []string{"operation", "decision"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "admission_decision_duration_seconds",
			Help:    "Admission decision latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"decision"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "admission_cache_hits_total",
			Help: "Admission-result cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "admission_cache_misses_total",
			Help: "Admission-result cache misses.",
		}),
		validatorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_validator_errors_total",
			Help: "Internal validator errors by validator name.",
		}, []string{"validator"}),
		uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "admission_uptime_seconds",
			Help: "Seconds since the admission webhook started.",
		}),
		startedAt: time.Now(),
	}
	reg.MustRegister(m.decisions, m.byKind, m.byOperation, m.duration, m.cacheHits, m.cacheMisses, m.validatorErrors, m.uptime)
	return m
}

func decisionLabel(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}

// RecordDecision records one merged admission decision.
func (m *Metrics) RecordDecision(allowed bool, kind, operation string, duration time.Duration) {
	if m == nil {
		return
	}
	label := decisionLabel(allowed)
	m.decisions.WithLabelValues(label).Inc()
	m.byKind.WithLabelValues(kind, label).Inc()
	m.byOperation.WithLabelValues(operation, label).Inc()
	m.duration.WithLabelValues(label).Observe(duration.Seconds())
	m.uptime.Set(time.Since(m.startedAt).Seconds())
}

// RecordCacheHit records an admission-result cache hit.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// RecordCacheMiss records an admission-result cache miss.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// RecordValidatorError records an internal error from the named validator.
func (m *Metrics) RecordValidatorError(name string) {
	if m == nil {
		return
	}
	m.validatorErrors.WithLabelValues(name).Inc()
}
