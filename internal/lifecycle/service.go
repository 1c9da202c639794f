// Package lifecycle owns the application state machine: creation, edits,
// validation decisions, admin reset, promotion, document uploads and bulk
// import. Every operation applies its transition and audit entry to a fresh
// copy inside one store transaction, so a failed write leaves no trace.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"intake/internal/application/models"
	"intake/internal/application/store"
	"intake/internal/lifecycle/metrics"
	"intake/pkg/attrs"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/sentinel"
	"intake/pkg/requestcontext"
)

// Service applies lifecycle transitions through the record store.
type Service struct {
	store   store.TxStore
	logger  *slog.Logger
	metrics *metrics.Metrics
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

// New constructs a Service.
func New(st store.TxStore, opts ...Option) *Service {
	s := &Service{store: st}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get loads one record.
func (s *Service) Get(ctx context.Context, id string) (*models.Application, error) {
	app, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err, id, "failed to load application")
	}
	return app, nil
}

// Exists reports whether id is taken by any record, archived included.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	ok, err := s.store.Exists(ctx, id)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check application id")
	}
	return ok, nil
}

func (s *Service) List(ctx context.Context, filter store.Filter) ([]*models.Application, error) {
	apps, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list applications")
	}
	return apps, nil
}

// Stats computes dashboard counters for one project, or all projects when
// projectID is empty.
func (s *Service) Stats(ctx context.Context, projectID string) (models.DashboardStats, error) {
	apps, err := s.store.List(ctx, store.Filter{ProjectID: projectID})
	if err != nil {
		return models.DashboardStats{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load applications for stats")
	}
	return models.Tally(apps), nil
}

// Create saves a new record in (STAGING, PENDING). The id must not exist;
// the existence check runs before anything is written.
func (s *Service) Create(ctx context.Context, app *models.Application, actor string) (*models.Application, error) {
	start := time.Now()
	defer s.metrics.ObserveOperation("create", start)

	app.NormalizeIdentity()
	if app.ID == "" {
		return nil, s.fail("create", dErrors.New(dErrors.CodeValidation, "application id is required"))
	}
	if app.ProjectID == "" {
		return nil, s.fail("create", dErrors.New(dErrors.CodeValidation, "project id is required"))
	}

	created := app.Clone()
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		exists, err := tx.Exists(ctx, created.ID)
		if err != nil {
			return err
		}
		if exists {
			return conflict(created.ID)
		}
		created.ApplyCreation(requestcontext.Now(ctx), actor)
		return tx.Create(ctx, created)
	})
	if err != nil {
		return nil, s.fail("create", translate(err, created.ID, "failed to save application"))
	}

	s.committed(ctx, created, actor, models.ActionSave)
	return created, nil
}

// Update applies operator edits to an existing record. in.Revision must
// match the stored revision. Duplicate flags are replaced with in's flags,
// since detection is recomputed on every save.
func (s *Service) Update(ctx context.Context, in *models.Application, actor string) (*models.Application, error) {
	in.NormalizeIdentity()
	return s.transition(ctx, "update", in.ID, actor, models.ActionSave, func(app *models.Application, now time.Time) error {
		if app.Revision != in.Revision {
			return dErrors.New(dErrors.CodeStaleWrite, fmt.Sprintf("application %s was modified by another operator; reload and retry", app.ID))
		}
		app.ApplyEdit(in, now, actor)
		app.DuplicateFlags = in.DuplicateFlags
		return nil
	})
}

// ValidateDecision records a validator's decision. NOT_ELIGIBLE requires a
// reason. Deciding twice appends two entries.
func (s *Service) ValidateDecision(ctx context.Context, id string, decision models.Decision, reason, remarks, actor string) (*models.Application, error) {
	action := models.ActionValidationApproved
	if decision == models.DecisionNotEligible {
		action = models.ActionValidationRejected
	}
	reason = strings.TrimSpace(reason)
	return s.transition(ctx, "validate", id, actor, action, func(app *models.Application, now time.Time) error {
		if err := app.CanValidate(decision, reason); err != nil {
			return err
		}
		app.ApplyValidation(decision, reason, remarks, now, actor)
		return nil
	})
}

// ResetStatus sends any record back to (STAGING, PENDING).
func (s *Service) ResetStatus(ctx context.Context, id, actor string) (*models.Application, error) {
	return s.transition(ctx, "reset", id, actor, models.ActionAdminReset, func(app *models.Application, now time.Time) error {
		app.ApplyReset(now, actor)
		return nil
	})
}

// PromoteToProduction moves a STAGING record to PRODUCTION.
func (s *Service) PromoteToProduction(ctx context.Context, id, actor string) (*models.Application, error) {
	return s.transition(ctx, "promote", id, actor, models.ActionPromoted, func(app *models.Application, now time.Time) error {
		if err := app.CanPromote(); err != nil {
			return err
		}
		app.ApplyPromotion(now, actor)
		return nil
	})
}

// UploadDocument records a new version of a checklist document. The file
// itself lives in external storage; only its metadata is kept here.
func (s *Service) UploadDocument(ctx context.Context, id, docType, fileName, url, actor string) (*models.Application, int, error) {
	docType = strings.TrimSpace(docType)
	if docType == "" || strings.TrimSpace(url) == "" {
		return nil, 0, s.fail("upload", dErrors.New(dErrors.CodeValidation, "document type and url are required"))
	}
	var version int
	app, err := s.transition(ctx, "upload", id, actor, models.ActionUpload, func(app *models.Application, now time.Time) error {
		if !app.IsActive() {
			return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("application %s is archived", app.ID))
		}
		version = app.ApplyDocumentVersion(docType, fileName, url, now, actor)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return app, version, nil
}

// BulkImport inserts the records whose ids are not yet taken and skips the
// rest. Records without an id get a generated IMP- id. The batch commits as
// one unit and returns the number of records inserted.
func (s *Service) BulkImport(ctx context.Context, apps []*models.Application, actor string) (int, error) {
	start := time.Now()
	defer s.metrics.ObserveOperation("import", start)

	now := requestcontext.Now(ctx)
	var imported []*models.Application
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		imported = imported[:0]
		seen := make(map[string]struct{}, len(apps))
		for _, in := range apps {
			app := in.Clone()
			app.NormalizeIdentity()
			if app.ID == "" {
				app.ID = "IMP-" + uuid.NewString()
			}
			if _, dup := seen[app.ID]; dup {
				continue
			}
			seen[app.ID] = struct{}{}

			exists, err := tx.Exists(ctx, app.ID)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			app.ApplyImport(now, actor)
			if err := tx.Create(ctx, app); err != nil {
				return err
			}
			imported = append(imported, app)
		}
		return nil
	})
	if err != nil {
		return 0, s.fail("import", translate(err, "", "bulk import failed"))
	}

	for _, app := range imported {
		s.committed(ctx, app, actor, models.ActionBulkImport)
	}
	s.metrics.AddImported(len(imported))
	if s.logger != nil {
		s.logger.InfoContext(ctx, "bulk import completed",
			"submitted", len(apps),
			"imported", len(imported),
			"actor", actor,
		)
	}
	return len(imported), nil
}

// transition loads id inside a transaction, lets apply guard and mutate it,
// and writes it back. apply must return an error before mutating when its
// guard fails.
func (s *Service) transition(ctx context.Context, operation, id, actor, action string, apply func(app *models.Application, now time.Time) error) (*models.Application, error) {
	start := time.Now()
	defer s.metrics.ObserveOperation(operation, start)

	if strings.TrimSpace(id) == "" {
		return nil, s.fail(operation, dErrors.New(dErrors.CodeValidation, "application id is required"))
	}

	var updated *models.Application
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		app, err := tx.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := apply(app, requestcontext.Now(ctx)); err != nil {
			return err
		}
		if err := tx.Update(ctx, app); err != nil {
			return err
		}
		updated = app
		return nil
	})
	if err != nil {
		return nil, s.fail(operation, translate(err, id, "failed to "+operation+" application"))
	}

	s.committed(ctx, updated, actor, action)
	return updated, nil
}

func (s *Service) committed(ctx context.Context, app *models.Application, actor, action string) {
	s.metrics.IncrementTransition(action)
	s.logAudit(ctx, action,
		"app_id", app.ID,
		"actor", actor,
		"stage", string(app.Stage),
		"status", string(app.Status),
		"revision", app.Revision,
	)
}

func (s *Service) fail(operation string, err error) error {
	s.metrics.IncrementFailure(operation, string(dErrors.CodeOf(err)))
	return err
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if s.logger == nil {
		return
	}
	if attrs.ExtractString(attributes, "request_id") == "" {
		if requestID := requestcontext.RequestID(ctx); requestID != "" {
			attributes = append(attributes, "request_id", requestID)
		}
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}

func conflict(id string) error {
	return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("application %s already exists; load it to edit instead", id))
}

// translate maps store sentinels onto coded errors. Errors that already
// carry a code pass through unchanged.
func translate(err error, id, msg string) error {
	var coded *dErrors.Error
	switch {
	case errors.As(err, &coded):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("application %s not found", id))
	case errors.Is(err, sentinel.ErrConflict):
		return conflict(id)
	case errors.Is(err, sentinel.ErrStaleWrite):
		return dErrors.New(dErrors.CodeStaleWrite, fmt.Sprintf("application %s was modified concurrently; reload and retry", id))
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeInvalidState, msg)
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
