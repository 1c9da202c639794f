package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Published prometheus.Counter
	Failures  prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Published: promauto.NewCounter(prometheus.CounterOpts{
			Name: "intake_outbox_published_total",
			Help: "Audit outbox entries published to the audit topic",
		}),
		Failures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "intake_outbox_publish_failures_total",
			Help: "Outbox batches that failed to publish",
		}),
	}
}

func (m *Metrics) AddPublished(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Published.Add(float64(n))
}

func (m *Metrics) IncrementFailure() {
	if m == nil {
		return
	}
	m.Failures.Inc()
}
