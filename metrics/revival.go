package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RevivalMetrics counts resurrection attempts. A nil *RevivalMetrics is a
// valid no-op recorder.
type RevivalMetrics struct {
	// Attempts by outcome ("success", "failure") and the last phase reached
	Attempts *prometheus.CounterVec

	// Integrity check results: "verified", "mismatch", "unchecked"
	Integrity *prometheus.CounterVec

	// End-to-end resurrection latency
	Duration prometheus.Histogram

	// Completed store-then-resurrect ceremonies by outcome
	Ceremonies *prometheus.CounterVec
}

// NewRevivalMetrics registers the revival metrics with reg.
func NewRevivalMetrics(reg prometheus.Registerer, namespace string) *RevivalMetrics {
	factory := promauto.With(reg)
	return &RevivalMetrics{
		Attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revival_attempts_total",
			Help:      "Resurrection attempts by outcome and last phase reached",
		}, []string{"outcome", "phase"}),

		Integrity: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revival_integrity_total",
			Help:      "Integrity check results of successful resurrections",
		}, []string{"status"}),

		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "revival_duration_seconds",
			Help:      "Duration of resurrection from download to verified soul",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		Ceremonies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revival_ceremonies_total",
			Help:      "Full store-and-resurrect ceremonies by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveAttempt records one resurrection attempt.
func (m *RevivalMetrics) ObserveAttempt(success bool, phase, integrity string, d time.Duration) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(outcomeLabel(success), phase).Inc()
	if success {
		m.Integrity.WithLabelValues(integrity).Inc()
	}
	m.Duration.Observe(d.Seconds())
}

// ObserveCeremony records the outcome of a full ceremony.
func (m *RevivalMetrics) ObserveCeremony(success bool) {
	if m == nil {
		return
	}
	m.Ceremonies.WithLabelValues(outcomeLabel(success)).Inc()
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
