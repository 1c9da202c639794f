package duplicate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"intake/internal/application/models"
	"intake/internal/duplicate/metrics"
)

// defaultReportWorkers bounds the parallel scan of the report job.
const defaultReportWorkers = 8

// Report summarizes unresolved duplicate pairs among active records.
// A pair is unresolved when both records are active and not linked.
type Report struct {
	Scanned   int
	Pairs     int
	ByField   map[string]int
	StartedAt time.Time
	Duration  time.Duration
}

// Reporter periodically recomputes duplicate pairs over the whole store.
// It never writes records.
type Reporter struct {
	records     RecordLister
	comparators []Comparator
	workers     int
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu   sync.Mutex
	last *Report
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

func WithReportWorkers(n int) ReporterOption {
	return func(r *Reporter) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithReportLogger(logger *slog.Logger) ReporterOption {
	return func(r *Reporter) {
		r.logger = logger
	}
}

func WithReportMetrics(m *metrics.Metrics) ReporterOption {
	return func(r *Reporter) {
		r.metrics = m
	}
}

func NewReporter(records RecordLister, comparators []Comparator, opts ...ReporterOption) *Reporter {
	if len(comparators) == 0 {
		comparators = DefaultComparators()
	}
	r := &Reporter{
		records:     records,
		comparators: comparators,
		workers:     defaultReportWorkers,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type pairKey struct{ a, b, field string }

// Run scans one snapshot of the store and publishes the result.
func (r *Reporter) Run(ctx context.Context) (Report, error) {
	started := time.Now()
	records, err := r.records.ListAll(ctx)
	if err != nil {
		r.metrics.IncrementReportRun("error")
		return Report{}, fmt.Errorf("duplicate report: list records: %w", err)
	}

	var active []*models.Application
	byID := make(map[string]*models.Application, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
		if rec.IsActive() {
			active = append(active, rec)
		}
	}

	var mu sync.Mutex
	pairs := make(map[pairKey]struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, candidate := range active {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for _, f := range FindIn(candidate, records, r.comparators) {
				other := byID[f.SourceID]
				if other == nil || !other.IsActive() || candidate.IsLinkedTo(other.ID) {
					continue
				}
				key := pairKey{a: candidate.ID, b: other.ID, field: f.Field}
				if key.b < key.a {
					key.a, key.b = key.b, key.a
				}
				mu.Lock()
				pairs[key] = struct{}{}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.metrics.IncrementReportRun("error")
		return Report{}, fmt.Errorf("duplicate report: %w", err)
	}

	report := Report{
		Scanned:   len(active),
		ByField:   make(map[string]int),
		StartedAt: started,
		Duration:  time.Since(started),
	}
	seen := make(map[[2]string]struct{})
	for k := range pairs {
		report.ByField[k.field]++
		seen[[2]string{k.a, k.b}] = struct{}{}
	}
	report.Pairs = len(seen)

	r.metrics.SetUnresolvedPairs(report.ByField)
	r.metrics.IncrementReportRun("ok")
	r.mu.Lock()
	r.last = &report
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "duplicate report completed",
		"scanned", report.Scanned,
		"unresolved_pairs", report.Pairs,
		"by_field", report.ByField,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

// Last returns the most recent successful report.
func (r *Reporter) Last() (Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Report{}, false
	}
	return *r.last, true
}

// Schedule registers Run on a cron spec and starts the scheduler. Stop the
// returned cron to end the job; runs never overlap.
func (r *Reporter) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		if _, err := r.Run(ctx); err != nil {
			r.logger.ErrorContext(ctx, "duplicate report failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule duplicate report %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}
