package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the engine's operational counters. One instance is
// shared across services; promauto registers on the default registry.
type Metrics struct {
	ChecksTotal        *prometheus.CounterVec
	ViolationsTotal    *prometheus.CounterVec
	PenaltiesTotal     prometheus.Counter
	BlocksTotal        *prometheus.CounterVec
	EventsObservedTotal *prometheus.CounterVec
	AlertsTotal        *prometheus.CounterVec
	AlertFailuresTotal prometheus.Counter
	StorageFailures    *prometheus.CounterVec
	CheckDuration      prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		ChecksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_checks_total",
			Help: "Rate limit checks by action and outcome",
		}, []string{"action", "outcome"}),
		ViolationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_violations_total",
			Help: "Rate limit violations by action",
		}, []string{"action"}),
		PenaltiesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_penalties_total",
			Help: "Penalties applied by the escalator",
		}),
		BlocksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_blocks_total",
			Help: "Hard blocks created by reason",
		}, []string{"reason"}),
		EventsObservedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_events_observed_total",
			Help: "Security events observed by the pattern detector",
		}, []string{"type"}),
		AlertsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_alerts_total",
			Help: "Alerts dispatched by severity",
		}, []string{"severity"}),
		AlertFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vigil_alert_failures_total",
			Help: "Alert deliveries that failed (decision still applied)",
		}),
		StorageFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_storage_failures_total",
			Help: "Storage errors by resolution (fail_open or fail_closed)",
		}, []string{"resolution"}),
		CheckDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigil_check_duration_seconds",
			Help:    "Latency of engine checks including storage round-trips",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) RecordCheck(action, outcome string) {
	if m == nil {
		return
	}
	m.ChecksTotal.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) RecordViolation(action string) {
	if m == nil {
		return
	}
	m.ViolationsTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordPenalty() {
	if m == nil {
		return
	}
	m.PenaltiesTotal.Inc()
}

func (m *Metrics) RecordBlock(reason string) {
	if m == nil {
		return
	}
	m.BlocksTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsObservedTotal.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RecordAlert(severity string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(severity).Inc()
}

func (m *Metrics) RecordAlertFailure() {
	if m == nil {
		return
	}
	m.AlertFailuresTotal.Inc()
}

func (m *Metrics) RecordStorageFailure(resolution string) {
	if m == nil {
		return
	}
	m.StorageFailures.WithLabelValues(resolution).Inc()
}

func (m *Metrics) ObserveCheckDuration(seconds float64) {
	if m == nil {
		return
	}
	m.CheckDuration.Observe(seconds)
}
