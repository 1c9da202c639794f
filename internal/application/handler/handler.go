// Package handler exposes the application intake, lifecycle and resolution
// operations over HTTP. Handlers decode, call one service method and encode;
// all rules live in the services.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"intake/internal/application/models"
	"intake/internal/application/store"
	"intake/internal/duplicate"
	"intake/internal/resolution"
	"intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/httputil"
	authmw "intake/pkg/platform/middleware/auth"
	"intake/pkg/requestcontext"
)

// Lifecycle is the state machine surface used by the handlers.
type Lifecycle interface {
	Get(ctx context.Context, id string) (*models.Application, error)
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, filter store.Filter) ([]*models.Application, error)
	Stats(ctx context.Context, projectID string) (models.DashboardStats, error)
	ValidateDecision(ctx context.Context, id string, decision models.Decision, reason, remarks, actor string) (*models.Application, error)
	ResetStatus(ctx context.Context, id, actor string) (*models.Application, error)
	PromoteToProduction(ctx context.Context, id, actor string) (*models.Application, error)
	UploadDocument(ctx context.Context, id, docType, fileName, url, actor string) (*models.Application, int, error)
	BulkImport(ctx context.Context, apps []*models.Application, actor string) (int, error)
}

// Intake runs submissions and duplicate resolutions.
type Intake interface {
	Submit(ctx context.Context, req resolution.SubmitRequest, actor string) (*resolution.SubmitResult, error)
	Resolve(ctx context.Context, action resolution.Action, req resolution.ResolveRequest, actor string) (*resolution.Outcome, error)
	Threshold() float64
}

// Finder scans for duplicates of an unsaved candidate.
type Finder interface {
	Find(ctx context.Context, candidate *models.Application) ([]models.DuplicateFinding, error)
}

// Handler wires application endpoints to the services.
type Handler struct {
	lifecycle Lifecycle
	intake    Intake
	finder    Finder
	logger    *slog.Logger
}

// New constructs an application handler with its dependencies.
func New(lifecycle Lifecycle, intake Intake, finder Finder, logger *slog.Logger) *Handler {
	return &Handler{
		lifecycle: lifecycle,
		intake:    intake,
		finder:    finder,
		logger:    logger,
	}
}

// Register mounts the endpoints. The router must already authenticate the
// operator; role gates are applied per route.
func (h *Handler) Register(r chi.Router) {
	entry := authmw.RequireRole(h.logger, domain.RoleDEO, domain.RoleAdmin)
	decide := authmw.RequireRole(h.logger, domain.RoleValidator, domain.RoleAdmin)
	admin := authmw.RequireRole(h.logger, domain.RoleAdmin)

	r.Route("/applications", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.With(entry).Post("/", h.HandleCreate)
		r.Post("/duplicates", h.HandleFindDuplicates)
		r.With(admin).Post("/import", h.HandleImport)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Get("/exists", h.HandleExists)
			r.With(entry).Put("/", h.HandleUpdate)
			r.With(entry).Post("/documents", h.HandleUploadDocument)
			r.With(decide).Post("/decision", h.HandleDecision)
			r.With(admin).Post("/reset", h.HandleReset)
			r.With(admin).Post("/promote", h.HandlePromote)
		})
	})
	r.Get("/projects/{id}/stats", h.HandleStats)
	r.With(admin).Post("/resolutions/{action}", h.HandleResolve)
}

// HandleCreate handles POST /applications.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, false)
}

// HandleUpdate handles PUT /applications/{id}. The body id must match the path.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, true)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, isEdit bool) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor := requestcontext.Actor(ctx)

	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if isEdit {
		if pathID := chi.URLParam(r, "id"); pathID != req.Application.ID {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "application.id does not match the path"))
			return
		}
	}

	res, err := h.intake.Submit(ctx, resolution.SubmitRequest{
		Application:           req.Application,
		IsEdit:                isEdit,
		AcknowledgeDuplicates: req.AcknowledgeDuplicates,
	}, actor)
	if err != nil {
		var review *resolution.ReviewRequiredError
		if errors.As(err, &review) {
			httputil.WriteJSON(w, http.StatusConflict, ReviewResponse{
				Error:            string(dErrors.CodeDuplicateReview),
				ErrorDescription: review.Error(),
				Findings:         review.Findings,
				Threshold:        h.intake.Threshold(),
			})
			return
		}
		h.logger.WarnContext(ctx, "application save failed",
			"request_id", requestID,
			"app_id", req.Application.ID,
			"actor", actor,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusCreated
	if isEdit {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, SubmitResponse{Application: res.Application, Findings: nonNil(res.Findings)})
}

// HandleFindDuplicates handles POST /applications/duplicates for an unsaved candidate.
func (h *Handler) HandleFindDuplicates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[DuplicateCheckRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	findings, err := h.finder.Find(ctx, req.Application)
	if err != nil {
		h.logger.ErrorContext(ctx, "duplicate check failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	threshold := h.intake.Threshold()
	httputil.WriteJSON(w, http.StatusOK, FindingsResponse{
		Findings:  nonNil(findings),
		Blocking:  nonNil(duplicate.Blocking(findings, threshold)),
		Threshold: threshold,
	})
}

// HandleGet handles GET /applications/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	app, err := h.lifecycle.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, app)
}

// HandleExists handles GET /applications/{id}/exists.
func (h *Handler) HandleExists(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exists, err := h.lifecycle.Exists(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ExistsResponse{ID: id, Exists: exists})
}

// HandleList handles GET /applications?project_id=&stage=&status=.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.Filter{ProjectID: q.Get("project_id")}
	if raw := q.Get("stage"); raw != "" {
		stage, err := models.ParseStage(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Stage = stage
	}
	if raw := q.Get("status"); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Status = status
	}

	apps, err := h.lifecycle.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if apps == nil {
		apps = []*models.Application{}
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse{Applications: apps, Count: len(apps)})
}

// HandleDecision handles POST /applications/{id}/decision.
func (h *Handler) HandleDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[DecisionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	app, err := h.lifecycle.ValidateDecision(ctx, chi.URLParam(r, "id"), req.ParsedDecision(), req.Reason, req.Remarks, requestcontext.Actor(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, app)
}

// HandleReset handles POST /applications/{id}/reset.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	app, err := h.lifecycle.ResetStatus(ctx, chi.URLParam(r, "id"), requestcontext.Actor(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, app)
}

// HandlePromote handles POST /applications/{id}/promote.
func (h *Handler) HandlePromote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	app, err := h.lifecycle.PromoteToProduction(ctx, chi.URLParam(r, "id"), requestcontext.Actor(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, app)
}

// HandleUploadDocument handles POST /applications/{id}/documents.
func (h *Handler) HandleUploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[DocumentRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	app, version, err := h.lifecycle.UploadDocument(ctx, chi.URLParam(r, "id"), req.DocType, req.FileName, req.URL, requestcontext.Actor(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, DocumentResponse{Application: app, Version: version})
}

// HandleImport handles POST /applications/import.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ImportRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	n, err := h.lifecycle.BulkImport(ctx, req.Applications, requestcontext.Actor(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "bulk import failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ImportResponse{
		Submitted: len(req.Applications),
		Imported:  n,
		Skipped:   len(req.Applications) - n,
	})
}

// HandleStats handles GET /projects/{id}/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.lifecycle.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// HandleResolve handles POST /resolutions/{action}.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	action, err := resolution.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ResolveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	out, err := h.intake.Resolve(ctx, action, req.toDomain(), requestcontext.Actor(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromOutcome(out))
}
