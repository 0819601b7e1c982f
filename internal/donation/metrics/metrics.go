package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the donation module.
// Tracks operation outcomes, durations and optimistic concurrency retries.
type Metrics struct {
	Outcomes             *prometheus.CounterVec
	OperationDuration    *prometheus.HistogramVec
	ParticipationRetries prometheus.Counter
}

// New creates a new Metrics instance with all donation module metrics registered.
func New() *Metrics {
	return &Metrics{
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sangue_donation_outcomes_total",
			Help: "Total number of donation service results by operation and outcome",
		}, []string{"operation", "outcome"}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sangue_donation_operation_duration_seconds",
			Help:    "Duration of donation service operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		ParticipationRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sangue_participation_conflicts_total",
			Help: "Replaces retried after a concurrent write changed the document",
		}),
	}
}

// RecordOutcome counts one result of an operation.
func (m *Metrics) RecordOutcome(operation, outcome string) {
	m.Outcomes.WithLabelValues(operation, outcome).Inc()
}

// ObserveOperation records the duration of an operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// IncrementRetries records one optimistic concurrency retry.
func (m *Metrics) IncrementRetries() {
	m.ParticipationRetries.Inc()
}
