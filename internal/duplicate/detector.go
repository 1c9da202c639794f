// Package duplicate finds identity collisions between a candidate
// application and every stored record, archived ones included.
package duplicate

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"intake/internal/application/models"
	"intake/internal/duplicate/metrics"
	dErrors "intake/pkg/domain-errors"
)

// RecordLister is the read side of the record store the detector scans.
type RecordLister interface {
	ListAll(ctx context.Context) ([]*models.Application, error)
}

// Detector is a read-only query over the global record set. It keeps no
// state between calls, so every Find observes the latest committed records.
type Detector struct {
	records     RecordLister
	comparators []Comparator
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

// Option configures a Detector.
type Option func(*Detector)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		d.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Detector) {
		d.metrics = m
	}
}

// WithFuzzyNames adds the applicant name similarity comparator.
func WithFuzzyNames(minConfidence float64) Option {
	return func(d *Detector) {
		d.comparators = append(d.comparators, FuzzyNameComparator{MinConfidence: minConfidence})
	}
}

// WithComparators replaces the comparator set.
func WithComparators(comparators ...Comparator) Option {
	return func(d *Detector) {
		d.comparators = comparators
	}
}

func New(records RecordLister, opts ...Option) *Detector {
	d := &Detector{
		records:     records,
		comparators: DefaultComparators(),
		tracer:      otel.Tracer("intake/duplicate"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Find returns every finding of candidate against all stored records.
// A store failure is returned as an error, never as "no findings".
func (d *Detector) Find(ctx context.Context, candidate *models.Application) ([]models.DuplicateFinding, error) {
	ctx, span := d.tracer.Start(ctx, "duplicate.Find", trace.WithAttributes(
		attribute.String("app.id", candidate.ID),
	))
	defer span.End()

	start := time.Now()
	records, err := d.records.ListAll(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list records")
		if d.logger != nil {
			d.logger.ErrorContext(ctx, "duplicate scan failed", "app_id", candidate.ID, "error", err)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "duplicate scan failed")
	}

	findings := FindIn(candidate, records, d.comparators)
	d.metrics.ObserveScan(time.Since(start), len(records))
	for _, f := range findings {
		d.metrics.IncrementFinding(f.Field, string(f.MatchType))
	}
	span.SetAttributes(
		attribute.Int("duplicate.records", len(records)),
		attribute.Int("duplicate.findings", len(findings)),
	)
	return findings, nil
}

// FindIn compares candidate against records in order. Findings follow record
// order, then comparator order. An unsaved candidate without an id is
// compared against every record.
func FindIn(candidate *models.Application, records []*models.Application, comparators []Comparator) []models.DuplicateFinding {
	if candidate == nil {
		return nil
	}
	findings := []models.DuplicateFinding{}
	for _, existing := range records {
		if candidate.ID != "" && existing.ID == candidate.ID {
			continue
		}
		for _, c := range comparators {
			m, ok := c.Compare(candidate, existing)
			if !ok {
				continue
			}
			findings = append(findings, models.DuplicateFinding{
				SourceID:     existing.ID,
				MatchType:    m.Type,
				Field:        m.Field,
				Confidence:   m.Confidence,
				MatchedStage: existing.Stage,
			})
		}
	}
	return findings
}
