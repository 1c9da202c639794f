package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/httputil"
	"intake/pkg/requestcontext"
)

// Authenticator is the login surface used by Handler.
type Authenticator interface {
	Login(ctx context.Context, username, password, ip string) (*Session, error)
}

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=128"`
	Password string `json:"password" validate:"required,max=256"`
}

func (r *LoginRequest) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	if r.Username == "" {
		return dErrors.New(dErrors.CodeValidation, "username is required")
	}
	return nil
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      Identity  `json:"user"`
}

type Handler struct {
	auth   Authenticator
	logger *slog.Logger
}

func NewHandler(auth Authenticator, logger *slog.Logger) *Handler {
	return &Handler{auth: auth, logger: logger}
}

// Register mounts the login endpoint. It must sit outside the token check.
func (h *Handler) Register(r chi.Router) {
	r.Post("/auth/login", h.HandleLogin)
}

// HandleLogin handles POST /auth/login.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[LoginRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	session, err := h.auth.Login(ctx, req.Username, req.Password, requestcontext.ClientIP(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "login failed",
			"request_id", requestID,
			"username", req.Username,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, LoginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      session.User,
	})
}
