package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/httputil"
	authmw "intake/pkg/platform/middleware/auth"
	"intake/pkg/requestcontext"
)

// LockoutAdmin lets administrators inspect and lift login locks.
type LockoutAdmin interface {
	ListLocked(ctx context.Context) ([]LockedClient, error)
	Unlock(ctx context.Context, ip string) error
}

type UnlockRequest struct {
	IP string `json:"ip" validate:"required,max=64"`
}

func (r *UnlockRequest) Validate() error {
	r.IP = strings.TrimSpace(r.IP)
	if r.IP == "" {
		return dErrors.New(dErrors.CodeValidation, "ip is required")
	}
	return nil
}

type LockedClientsResponse struct {
	Clients []LockedClient `json:"clients"`
	Count   int            `json:"count"`
}

type UnlockResponse struct {
	Message string `json:"message"`
}

type AdminHandler struct {
	lockout LockoutAdmin
	logger  *slog.Logger
}

func NewAdminHandler(lockout LockoutAdmin, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{lockout: lockout, logger: logger}
}

// Register mounts the lockout endpoints behind an ADMIN gate. The router must
// already authenticate the operator.
func (h *AdminHandler) Register(r chi.Router) {
	admin := authmw.RequireRole(h.logger, domain.RoleAdmin)
	r.With(admin).Get("/admin/locked-ips", h.HandleListLocked)
	r.With(admin).Post("/admin/unlock-ip", h.HandleUnlock)
}

// HandleListLocked handles GET /admin/locked-ips.
func (h *AdminHandler) HandleListLocked(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	locked, err := h.lockout.ListLocked(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list locked clients",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, LockedClientsResponse{Clients: locked, Count: len(locked)})
}

// HandleUnlock handles POST /admin/unlock-ip.
func (h *AdminHandler) HandleUnlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[UnlockRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := h.lockout.Unlock(ctx, req.IP); err != nil {
		h.logger.ErrorContext(ctx, "failed to unlock client",
			"request_id", requestID,
			"ip", req.IP,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, UnlockResponse{Message: fmt.Sprintf("IP %s unlocked successfully.", req.IP)})
}
