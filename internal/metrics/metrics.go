// Package metrics provides Prometheus instrumentation for the monitoring scheduler.
//
// Metrics exposed:
//   - coefwatch_cycles_total: Counter of poll cycles by outcome and trigger
//   - coefwatch_cycle_duration_seconds: Histogram of cycle duration
//   - coefwatch_alerts_total: Counter of alerts delivered
//   - coefwatch_errors_total: Counter of errors by component and reason
//   - coefwatch_active_sessions: Gauge of subscribers with a running loop
//   - coefwatch_last_confidence: Gauge of the most recent forecast confidence
//   - coefwatch_last_median: Gauge of the most recent forecast median
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rewired-gh/coefwatch/internal/monitor"
)

// Metrics holds all Prometheus metrics for the scheduler.
type Metrics struct {
	CyclesTotal          *prometheus.CounterVec
	CycleDurationSeconds prometheus.Histogram
	AlertsTotal          prometheus.Counter
	ErrorsTotal          *prometheus.CounterVec
	ActiveSessions       prometheus.Gauge
	LastConfidence       prometheus.Gauge
	LastMedian           prometheus.Gauge
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coefwatch_cycles_total",
			Help: "Total number of poll cycles by outcome",
		}, []string{"outcome", "trigger"}),

		CycleDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "coefwatch_cycle_duration_seconds",
			Help:    "Time spent in one fetch/forecast/deliver cycle",
			Buckets: prometheus.DefBuckets,
		}),

		AlertsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "coefwatch_alerts_total",
			Help: "Total number of alerts delivered",
		}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coefwatch_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "coefwatch_active_sessions",
			Help: "Number of subscribers with a running monitoring loop",
		}),

		LastConfidence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "coefwatch_last_confidence",
			Help: "Confidence of the most recent forecast",
		}),

		LastMedian: factory.NewGauge(prometheus.GaugeOpts{
			Name: "coefwatch_last_median",
			Help: "Median of the most recent forecast",
		}),
	}
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}

// SessionChanged implements monitor.Observer.
func (m *Metrics) SessionChanged(_ int64, active bool) {
	if active {
		m.ActiveSessions.Inc()
	} else {
		m.ActiveSessions.Dec()
	}
}

// CycleCompleted implements monitor.Observer.
func (m *Metrics) CycleCompleted(_ int64, result monitor.CycleResult) {
	trigger := "loop"
	if result.OnDemand {
		trigger = "on_demand"
	}
	m.CyclesTotal.WithLabelValues(string(result.Outcome), trigger).Inc()
	m.CycleDurationSeconds.Observe(result.Duration.Seconds())

	switch result.Outcome {
	case monitor.OutcomeFetchFailed:
		m.RecordError("feed", "fetch_failed")
	case monitor.OutcomeDeliveryFailed:
		m.RecordError("alerter", "delivery_failed")
	case monitor.OutcomeAlerted:
		m.AlertsTotal.Inc()
	}

	if !result.Forecast.ComputedAt.IsZero() {
		m.LastConfidence.Set(float64(result.Forecast.Confidence))
		m.LastMedian.Set(result.Forecast.Median)
	}
}
