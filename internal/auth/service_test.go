package auth

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	jwttoken "intake/internal/jwt_token"
	"intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/requestcontext"
)

type fakeBackend struct {
	calls    int
	identity *Identity
	err      error
}

func (f *fakeBackend) Login(context.Context, string, string) (*Identity, error) {
	f.calls++
	return f.identity, f.err
}

type ServiceSuite struct {
	suite.Suite
	backend *fakeBackend
	tokens  *jwttoken.JWTService
	service *Service
	logs    *bytes.Buffer
	ctx     context.Context
	now     time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.backend = &fakeBackend{identity: &Identity{Username: "admin", Role: domain.RoleAdmin, FullName: "Admin"}}
	s.tokens = jwttoken.NewJWTService("test-key")
	s.logs = &bytes.Buffer{}
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(requestcontext.WithRequestID(context.Background(), "req-9"), s.now)
	s.service = NewService(s.backend, s.tokens,
		NewLockout(NewMemoryLockoutStore(), WithLockoutPolicy(2, time.Hour)),
		WithLogger(slog.New(slog.NewJSONHandler(s.logs, nil))),
		WithTokenTTL(time.Hour),
	)
}

func (s *ServiceSuite) TestLoginIssuesToken() {
	session, err := s.service.Login(s.ctx, "admin", "pw", "10.0.0.1")
	s.Require().NoError(err)
	s.Equal(s.now.Add(time.Hour), session.ExpiresAt)
	s.Equal(domain.RoleAdmin, session.User.Role)

	claims, err := s.tokens.ValidateToken(session.Token)
	s.Require().NoError(err)
	s.Equal("admin", claims.Username)
	s.Equal("ADMIN", claims.Role)
	s.Contains(s.logs.String(), `"event":"login_succeeded"`)
	s.Contains(s.logs.String(), `"request_id":"req-9"`)
}

func (s *ServiceSuite) TestRejectedCredentialsLockTheClient() {
	s.backend.err = dErrors.New(dErrors.CodeUnauthorized, "invalid username or password")

	for range 2 {
		_, err := s.service.Login(s.ctx, "admin", "wrong", "10.0.0.1")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	}

	s.backend.err = nil
	_, err := s.service.Login(s.ctx, "admin", "pw", "10.0.0.1")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	s.Equal(2, s.backend.calls, "a locked client never reaches the backend")
	s.Contains(s.logs.String(), `"event":"login_blocked"`)
}

func (s *ServiceSuite) TestSuccessClearsFailures() {
	s.backend.err = dErrors.New(dErrors.CodeUnauthorized, "invalid username or password")
	_, err := s.service.Login(s.ctx, "admin", "wrong", "10.0.0.1")
	s.Require().Error(err)

	s.backend.err = nil
	_, err = s.service.Login(s.ctx, "admin", "pw", "10.0.0.1")
	s.Require().NoError(err)

	s.backend.err = dErrors.New(dErrors.CodeUnauthorized, "invalid username or password")
	_, err = s.service.Login(s.ctx, "admin", "wrong", "10.0.0.1")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized), "one failure after a clear does not lock")
}

func (s *ServiceSuite) TestUnreachableBackendDoesNotCountAsFailure() {
	s.backend.err = dErrors.New(dErrors.CodeUnavailable, "backend unreachable")
	for range 3 {
		_, err := s.service.Login(s.ctx, "admin", "pw", "10.0.0.1")
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	}
	s.NotContains(s.logs.String(), "login_failed")
}

func TestNewServiceDefaults(t *testing.T) {
	svc := NewService(&fakeBackend{}, jwttoken.NewJWTService("k"), NewLockout(NewMemoryLockoutStore()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if svc.tokenTTL != 8*time.Hour {
		t.Fatalf("token ttl = %s, want 8h", svc.tokenTTL)
	}
}
