package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for duplicate detection.
type Metrics struct {
	ScanLatency     prometheus.Histogram
	ScannedRecords  prometheus.Histogram
	Findings        *prometheus.CounterVec
	UnresolvedPairs *prometheus.GaugeVec
	ReportRuns      *prometheus.CounterVec
}

// New creates a new Metrics instance with all duplicate metrics registered.
func New() *Metrics {
	return &Metrics{
		ScanLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_duplicate_scan_duration_seconds",
			Help:    "Duration of a single candidate scan over the global record set",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		ScannedRecords: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_duplicate_scan_records",
			Help:    "Number of stored records compared per scan",
			Buckets: prometheus.ExponentialBuckets(10, 4, 8),
		}),
		Findings: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_duplicate_findings_total",
			Help: "Findings returned by field and match type",
		}, []string{"field", "match_type"}),
		UnresolvedPairs: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "intake_duplicate_unresolved_pairs",
			Help: "Active record pairs sharing an identity signal without a link, by field",
		}, []string{"field"}),
		ReportRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_duplicate_report_runs_total",
			Help: "Scheduled duplicate report runs by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveScan records one candidate scan.
func (m *Metrics) ObserveScan(d time.Duration, records int) {
	if m != nil {
		m.ScanLatency.Observe(d.Seconds())
		m.ScannedRecords.Observe(float64(records))
	}
}

func (m *Metrics) IncrementFinding(field, matchType string) {
	if m != nil {
		m.Findings.WithLabelValues(field, matchType).Inc()
	}
}

// SetUnresolvedPairs replaces the gauge values with counts.
func (m *Metrics) SetUnresolvedPairs(counts map[string]int) {
	if m == nil {
		return
	}
	m.UnresolvedPairs.Reset()
	for field, n := range counts {
		m.UnresolvedPairs.WithLabelValues(field).Set(float64(n))
	}
}

func (m *Metrics) IncrementReportRun(outcome string) {
	if m != nil {
		m.ReportRuns.WithLabelValues(outcome).Inc()
	}
}
