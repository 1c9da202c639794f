package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for intake submissions and duplicate resolutions.
type Metrics struct {
	Submissions     *prometheus.CounterVec
	Resolutions     *prometheus.CounterVec
	ResolveDuration *prometheus.HistogramVec
}

// New creates a new Metrics instance with all resolution metrics registered.
func New() *Metrics {
	return &Metrics{
		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_submissions_total",
			Help: "Application submissions by outcome (saved, review_required, rejected)",
		}, []string{"outcome"}),
		Resolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_duplicate_resolutions_total",
			Help: "Duplicate resolutions by action and outcome",
		}, []string{"action", "outcome"}),
		ResolveDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intake_duplicate_resolution_duration_seconds",
			Help:    "Duration of a resolution including lock wait and commit",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"action"}),
	}
}

func (m *Metrics) IncrementSubmission(outcome string) {
	if m != nil {
		m.Submissions.WithLabelValues(outcome).Inc()
	}
}

// ObserveResolution records one resolution attempt started at start.
func (m *Metrics) ObserveResolution(action, outcome string, start time.Time) {
	if m != nil {
		m.Resolutions.WithLabelValues(action, outcome).Inc()
		m.ResolveDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}
}
