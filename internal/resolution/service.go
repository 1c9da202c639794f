// Package resolution runs the intake flow and the operator-driven duplicate
// resolutions on top of the lifecycle state machine and the detector.
//
// A resolution touches two records. Both ids are locked, in sorted order,
// before one store transaction reads, guards, mutates and writes them, so a
// resolution either commits on both sides or on neither.
package resolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"intake/internal/application/lock"
	"intake/internal/application/models"
	"intake/internal/application/store"
	"intake/internal/duplicate"
	"intake/internal/resolution/metrics"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/sentinel"
	"intake/pkg/requestcontext"
)

// Action names a resolution.
type Action string

const (
	ActionIgnore         Action = "ignore"
	ActionLink           Action = "link"
	ActionMerge          Action = "merge"
	ActionNoteAndArchive Action = "note-archive"
)

// ParseAction validates an external action name.
func ParseAction(raw string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	switch a {
	case ActionIgnore, ActionLink, ActionMerge, ActionNoteAndArchive:
		return a, nil
	}
	return "", dErrors.New(dErrors.CodeBadRequest, "unknown resolution action: "+raw)
}

// Detector finds duplicates of a candidate across every stored record.
type Detector interface {
	Find(ctx context.Context, candidate *models.Application) ([]models.DuplicateFinding, error)
}

// Lifecycle saves records through the state machine.
type Lifecycle interface {
	Create(ctx context.Context, app *models.Application, actor string) (*models.Application, error)
	Update(ctx context.Context, in *models.Application, actor string) (*models.Application, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// ReviewRequiredError stops a save whose findings reach the threshold until
// the operator acknowledges them.
type ReviewRequiredError struct {
	Findings []models.DuplicateFinding
}

func (e *ReviewRequiredError) Error() string {
	return fmt.Sprintf("%d potential duplicate(s) require operator review", len(e.Findings))
}

func (e *ReviewRequiredError) Unwrap() error {
	return dErrors.New(dErrors.CodeDuplicateReview, e.Error())
}

// SubmitRequest is one save from the data entry form.
type SubmitRequest struct {
	Application           *models.Application
	IsEdit                bool
	AcknowledgeDuplicates bool
}

// SubmitResult is the saved record and every finding seen at save time.
type SubmitResult struct {
	Application *models.Application
	Findings    []models.DuplicateFinding
}

// ResolveRequest names the pair being resolved. Reason overrides the
// recorded rejection reason for note-and-archive.
type ResolveRequest struct {
	SurvivorID string
	LoserID    string
	Reason     string
}

// Outcome is the committed state of both records.
type Outcome struct {
	Survivor *models.Application
	Loser    *models.Application
	// Repointed lists records whose merge target moved to the survivor.
	Repointed []string
}

// Service orchestrates submissions and resolutions.
type Service struct {
	store     store.TxStore
	lifecycle Lifecycle
	detector  Detector
	locker    lock.Locker
	threshold float64
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithThreshold sets the confidence at which findings block a save.
func WithThreshold(threshold float64) Option {
	return func(s *Service) {
		s.threshold = threshold
	}
}

// WithLocker replaces the in-process locker, e.g. with the Redis locker
// when several replicas share a store.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

// DefaultThreshold matches the shipped admin settings.
const DefaultThreshold = 0.88

// New constructs a Service.
func New(st store.TxStore, lc Lifecycle, detector Detector, opts ...Option) *Service {
	s := &Service{
		store:     st,
		lifecycle: lc,
		detector:  detector,
		threshold: DefaultThreshold,
		tracer:    otel.Tracer("intake/resolution"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = lock.NewSharded()
	}
	return s
}

// Submit saves a record from data entry. New ids are checked before any
// scan or write. Findings at or above the threshold stop the save with a
// ReviewRequiredError unless acknowledged; acknowledged findings are kept
// in the record's duplicate flags.
func (s *Service) Submit(ctx context.Context, req SubmitRequest, actor string) (*SubmitResult, error) {
	app := req.Application
	if app == nil || strings.TrimSpace(app.ID) == "" {
		s.metrics.IncrementSubmission("rejected")
		return nil, dErrors.New(dErrors.CodeValidation, "application number is required")
	}
	app = app.Clone()
	app.ID = strings.TrimSpace(app.ID)

	ctx, span := s.tracer.Start(ctx, "resolution.Submit", trace.WithAttributes(
		attribute.String("app.id", app.ID),
		attribute.Bool("submit.edit", req.IsEdit),
	))
	defer span.End()

	if !req.IsEdit {
		exists, err := s.lifecycle.Exists(ctx, app.ID)
		if err != nil {
			return nil, s.submitFailed(span, err)
		}
		if exists {
			return nil, s.submitFailed(span, dErrors.New(dErrors.CodeConflict,
				fmt.Sprintf("application %s already exists; load it to edit instead", app.ID)))
		}
	}

	findings, err := s.detector.Find(ctx, app)
	if err != nil {
		return nil, s.submitFailed(span, err)
	}
	span.SetAttributes(attribute.Int("duplicate.findings", len(findings)))

	if blocking := duplicate.Blocking(findings, s.threshold); len(blocking) > 0 && !req.AcknowledgeDuplicates {
		s.metrics.IncrementSubmission("review_required")
		if s.logger != nil {
			s.logger.InfoContext(ctx, "save held for duplicate review",
				"app_id", app.ID,
				"actor", actor,
				"findings", len(blocking),
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return nil, &ReviewRequiredError{Findings: findings}
	}

	flags, err := duplicate.EncodeFlags(findings)
	if err != nil {
		return nil, s.submitFailed(span, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record duplicate flags"))
	}
	app.DuplicateFlags = flags

	var saved *models.Application
	if req.IsEdit {
		saved, err = s.lifecycle.Update(ctx, app, actor)
	} else {
		saved, err = s.lifecycle.Create(ctx, app, actor)
	}
	if err != nil {
		return nil, s.submitFailed(span, err)
	}
	s.metrics.IncrementSubmission("saved")
	return &SubmitResult{Application: saved, Findings: findings}, nil
}

func (s *Service) submitFailed(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	s.metrics.IncrementSubmission("rejected")
	return err
}

// Resolve dispatches to the resolution named by action.
func (s *Service) Resolve(ctx context.Context, action Action, req ResolveRequest, actor string) (*Outcome, error) {
	switch action {
	case ActionIgnore:
		return s.ResolveIgnore(ctx, req, actor)
	case ActionLink:
		return s.ResolveLink(ctx, req, actor)
	case ActionMerge:
		return s.ResolveMerge(ctx, req, actor)
	case ActionNoteAndArchive:
		return s.ResolveNoteAndArchive(ctx, req, actor)
	}
	return nil, dErrors.New(dErrors.CodeBadRequest, "unknown resolution action: "+string(action))
}

// ResolveIgnore keeps both records as they are and records the pair's
// findings on the loser's duplicate flags.
func (s *Service) ResolveIgnore(ctx context.Context, req ResolveRequest, actor string) (*Outcome, error) {
	return s.resolve(ctx, ActionIgnore, req, actor, func(ctx context.Context, _ store.Store, survivor, loser *models.Application, now time.Time) (*Outcome, error) {
		findings, err := s.detector.Find(ctx, loser)
		if err != nil {
			return nil, err
		}
		existing, err := duplicate.DecodeFlags(loser.DuplicateFlags)
		if err != nil {
			existing = nil
		}
		flags, err := duplicate.EncodeFlags(mergeFindings(existing, findings, survivor.ID))
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record duplicate flags")
		}
		loser.ApplyIgnoredDuplicates(flags, survivor.ID, now, actor)
		return &Outcome{Survivor: survivor, Loser: loser}, nil
	})
}

// ResolveLink associates the two records without changing either's state.
func (s *Service) ResolveLink(ctx context.Context, req ResolveRequest, actor string) (*Outcome, error) {
	return s.resolve(ctx, ActionLink, req, actor, func(_ context.Context, _ store.Store, survivor, loser *models.Application, now time.Time) (*Outcome, error) {
		if err := survivor.CanLink(loser.ID); err != nil {
			return nil, err
		}
		if err := loser.CanLink(survivor.ID); err != nil {
			return nil, err
		}
		survivor.ApplyLink(loser.ID, now, actor)
		loser.ApplyLink(survivor.ID, now, actor)
		return &Outcome{Survivor: survivor, Loser: loser}, nil
	})
}

// ResolveMerge retires the loser into the survivor. Records previously
// merged into the loser follow it to the survivor.
func (s *Service) ResolveMerge(ctx context.Context, req ResolveRequest, actor string) (*Outcome, error) {
	return s.resolve(ctx, ActionMerge, req, actor, func(ctx context.Context, tx store.Store, survivor, loser *models.Application, now time.Time) (*Outcome, error) {
		if err := survivor.CanSurvive(); err != nil {
			return nil, err
		}
		if err := loser.CanArchiveAsDuplicate(); err != nil {
			return nil, err
		}
		children, err := tx.List(ctx, store.Filter{MergedIntoID: loser.ID})
		if err != nil {
			return nil, err
		}

		loser.ApplyMergedInto(survivor.ID, now, actor)
		survivor.ApplyMergeAbsorbed(loser.ID, now, actor)

		out := &Outcome{Survivor: survivor, Loser: loser}
		out.Repointed, err = repointChildren(ctx, tx, children, loser.ID, survivor.ID, now, actor)
		if err != nil {
			return nil, err
		}
		return out, nil
	})
}

// ResolveNoteAndArchive archives the loser and appends a note naming it and
// its rejection reason to the survivor. Each side gains one audit entry.
// Records merged into the loser are re-pointed at the survivor.
func (s *Service) ResolveNoteAndArchive(ctx context.Context, req ResolveRequest, actor string) (*Outcome, error) {
	return s.resolve(ctx, ActionNoteAndArchive, req, actor, func(ctx context.Context, tx store.Store, survivor, loser *models.Application, now time.Time) (*Outcome, error) {
		if err := survivor.CanSurvive(); err != nil {
			return nil, err
		}
		if err := loser.CanArchiveAsDuplicate(); err != nil {
			return nil, err
		}
		children, err := tx.List(ctx, store.Filter{MergedIntoID: loser.ID})
		if err != nil {
			return nil, err
		}

		reason := loser.DuplicateReason(strings.TrimSpace(req.Reason))
		survivor.ApplyDuplicateNote(loser.ID, reason, now, actor)
		loser.ApplyArchivedDuplicate(survivor.ID, now, actor)

		out := &Outcome{Survivor: survivor, Loser: loser}
		out.Repointed, err = repointChildren(ctx, tx, children, loser.ID, survivor.ID, now, actor)
		if err != nil {
			return nil, err
		}
		return out, nil
	})
}

// repointChildren moves records merged into fromID over to toID so no MERGED
// record is left pointing at an archived one.
func repointChildren(ctx context.Context, tx store.Store, children []*models.Application, fromID, toID string, now time.Time, actor string) ([]string, error) {
	var moved []string
	for _, child := range children {
		if child.ID == toID {
			continue
		}
		child.ApplyMergeRepointed(fromID, toID, now, actor)
		if err := tx.Update(ctx, child); err != nil {
			return nil, err
		}
		moved = append(moved, child.ID)
	}
	return moved, nil
}

type resolveFunc func(ctx context.Context, tx store.Store, survivor, loser *models.Application, now time.Time) (*Outcome, error)

// resolve locks both ids, then loads, mutates and writes both records in
// one transaction. Nothing is written when apply fails.
func (s *Service) resolve(ctx context.Context, action Action, req ResolveRequest, actor string, apply resolveFunc) (*Outcome, error) {
	start := time.Now()
	survivorID, loserID := strings.TrimSpace(req.SurvivorID), strings.TrimSpace(req.LoserID)

	ctx, span := s.tracer.Start(ctx, "resolution."+string(action), trace.WithAttributes(
		attribute.String("resolution.survivor_id", survivorID),
		attribute.String("resolution.loser_id", loserID),
	))
	defer span.End()

	out, err := s.runResolve(ctx, survivorID, loserID, apply)
	if err != nil {
		err = translate(err, "failed to resolve duplicate")
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		s.metrics.ObserveResolution(string(action), string(dErrors.CodeOf(err)), start)
		if s.logger != nil {
			s.logger.WarnContext(ctx, "duplicate resolution failed",
				"action", string(action),
				"survivor_id", survivorID,
				"loser_id", loserID,
				"actor", actor,
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return nil, err
	}

	s.metrics.ObserveResolution(string(action), "ok", start)
	s.logAudit(ctx, out.Survivor, actor, string(action), "role", "survivor", "counterpart_id", loserID)
	s.logAudit(ctx, out.Loser, actor, string(action), "role", "loser", "counterpart_id", survivorID)
	for _, id := range out.Repointed {
		s.logAudit(ctx, &models.Application{ID: id}, actor, models.ActionMergeRepointed, "counterpart_id", survivorID)
	}
	return out, nil
}

func (s *Service) runResolve(ctx context.Context, survivorID, loserID string, apply resolveFunc) (*Outcome, error) {
	if survivorID == "" || loserID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "survivor and loser ids are required")
	}
	if survivorID == loserID {
		return nil, dErrors.New(dErrors.CodeValidation, "a record cannot be resolved against itself")
	}

	release, err := s.locker.Lock(ctx, survivorID, loserID)
	if err != nil {
		return nil, err
	}
	defer release()

	var out *Outcome
	err = s.store.RunInTx(ctx, func(tx store.Store) error {
		survivor, err := tx.FindByID(ctx, survivorID)
		if err != nil {
			return notFound(err, survivorID)
		}
		loser, err := tx.FindByID(ctx, loserID)
		if err != nil {
			return notFound(err, loserID)
		}
		result, err := apply(ctx, tx, survivor, loser, requestcontext.Now(ctx))
		if err != nil {
			return err
		}
		if err := tx.Update(ctx, survivor); err != nil {
			return err
		}
		if err := tx.Update(ctx, loser); err != nil {
			return err
		}
		out = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) logAudit(ctx context.Context, app *models.Application, actor, event string, attributes ...any) {
	if s.logger == nil {
		return
	}
	args := append(attributes,
		"event", event,
		"log_type", "audit",
		"app_id", app.ID,
		"actor", actor,
	)
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	s.logger.InfoContext(ctx, event, args...)
}

// mergeFindings keeps existing flags and adds findings against counterpartID
// that are not already recorded.
func mergeFindings(existing, found []models.DuplicateFinding, counterpartID string) []models.DuplicateFinding {
	type key struct{ source, field string }
	seen := make(map[key]struct{}, len(existing))
	out := append([]models.DuplicateFinding(nil), existing...)
	for _, f := range existing {
		seen[key{f.SourceID, f.Field}] = struct{}{}
	}
	for _, f := range found {
		if f.SourceID != counterpartID {
			continue
		}
		k := key{f.SourceID, f.Field}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, f)
	}
	return out
}

func notFound(err error, id string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("application %s not found", id))
	}
	return err
}

// translate maps store sentinels onto coded errors. Coded errors pass through.
func translate(err error, msg string) error {
	var coded *dErrors.Error
	switch {
	case errors.As(err, &coded):
		return err
	case errors.Is(err, sentinel.ErrStaleWrite):
		return dErrors.Wrap(err, dErrors.CodeStaleWrite, "a record changed during resolution; reload and retry")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeInvalidState, msg)
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

// Threshold is the confidence at which findings block a save.
func (s *Service) Threshold() float64 {
	return s.threshold
}
