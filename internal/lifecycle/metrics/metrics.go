package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for lifecycle transitions.
type Metrics struct {
	Transitions       *prometheus.CounterVec
	FailedTransitions *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Imported          prometheus.Counter
}

// New creates a new Metrics instance with all lifecycle metrics registered.
func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_lifecycle_transitions_total",
			Help: "Committed lifecycle transitions by audit action",
		}, []string{"action"}),
		FailedTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_lifecycle_transition_failures_total",
			Help: "Rejected or failed lifecycle transitions by operation and error code",
		}, []string{"operation", "code"}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intake_lifecycle_operation_duration_seconds",
			Help:    "Duration of lifecycle operations including the store commit",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		Imported: promauto.NewCounter(prometheus.CounterOpts{
			Name: "intake_lifecycle_imported_records_total",
			Help: "Records inserted by bulk import",
		}),
	}
}

func (m *Metrics) IncrementTransition(action string) {
	if m != nil {
		m.Transitions.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) IncrementFailure(operation, code string) {
	if m != nil {
		m.FailedTransitions.WithLabelValues(operation, code).Inc()
	}
}

// ObserveOperation records the duration of an operation started at start.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	if m != nil {
		m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) AddImported(n int) {
	if m != nil {
		m.Imported.Add(float64(n))
	}
}
