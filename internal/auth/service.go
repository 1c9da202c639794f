package auth

import (
	"context"
	"log/slog"
	"time"

	"intake/internal/platform/config"
	"intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/requestcontext"
)

// IdentityBackend verifies operator credentials.
type IdentityBackend interface {
	Login(ctx context.Context, username, password string) (*Identity, error)
}

// TokenIssuer mints access tokens.
type TokenIssuer interface {
	GenerateAccessToken(username string, role domain.Role, fullName string, expiresIn time.Duration) (string, error)
}

// Session is the result of a successful login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      Identity
}

// Service signs operators in.
type Service struct {
	backend  IdentityBackend
	tokens   TokenIssuer
	lockout  *Lockout
	tokenTTL time.Duration
	logger   *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

func NewService(backend IdentityBackend, tokens TokenIssuer, lockout *Lockout, opts ...Option) *Service {
	s := &Service{
		backend:  backend,
		tokens:   tokens,
		lockout:  lockout,
		tokenTTL: config.DefaultTokenTTL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login checks the client's lockout, verifies the credentials and issues a
// token. Only rejected credentials count towards the lockout; an unreachable
// backend does not.
func (s *Service) Login(ctx context.Context, username, password, ip string) (*Session, error) {
	if err := s.lockout.Check(ctx, ip); err != nil {
		s.logAudit(ctx, "login_blocked", "username", username, "ip", ip)
		return nil, err
	}

	identity, err := s.backend.Login(ctx, username, password)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			remaining, lerr := s.lockout.RecordFailure(ctx, ip)
			if lerr != nil {
				return nil, lerr
			}
			s.logAudit(ctx, "login_failed", "username", username, "ip", ip, "attempts_remaining", remaining)
		}
		return nil, err
	}

	if err := s.lockout.Clear(ctx, ip); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	token, err := s.tokens.GenerateAccessToken(identity.Username, identity.Role, identity.FullName, s.tokenTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token")
	}
	s.logAudit(ctx, "login_succeeded", "username", identity.Username, "role", identity.Role.String(), "ip", ip)
	return &Session{Token: token, ExpiresAt: now.Add(s.tokenTTL), User: *identity}, nil
}

func (s *Service) logAudit(ctx context.Context, event string, attrs ...any) {
	args := append(attrs,
		"event", event,
		"log_type", "audit",
		"request_id", requestcontext.RequestID(ctx),
	)
	s.logger.InfoContext(ctx, event, args...)
}
