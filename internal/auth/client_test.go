package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake/internal/platform/config"
	"intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
)

func newBackend(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientLogin(t *testing.T) {
	t.Run("accepted credentials", func(t *testing.T) {
		srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, loginPath, r.URL.Path)
			var req backendLoginRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "val1", req.Username)
			assert.Equal(t, "secret", req.Password)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"username":"val1","role":"VALIDATOR","fullName":"Amit Singh"}`))
		})

		id, err := NewClient(config.IdentityConfig{URL: srv.URL, Timeout: time.Second}).Login(t.Context(), "val1", "secret")
		require.NoError(t, err)
		assert.Equal(t, &Identity{Username: "val1", Role: domain.RoleValidator, FullName: "Amit Singh"}, id)
	})

	tests := []struct {
		name   string
		status int
		body   string
		code   dErrors.Code
	}{
		{name: "rejected credentials", status: http.StatusUnauthorized, body: `{"error":"bad credentials"}`, code: dErrors.CodeUnauthorized},
		{name: "disabled operator", status: http.StatusForbidden, code: dErrors.CodeUnauthorized},
		{name: "backend failing", status: http.StatusBadGateway, code: dErrors.CodeUnavailable},
		{name: "unexpected status", status: http.StatusTeapot, code: dErrors.CodeInternal},
		{name: "unknown role", status: http.StatusOK, body: `{"username":"x","role":"ROOT"}`, code: dErrors.CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := NewClient(config.IdentityConfig{URL: srv.URL, Timeout: time.Second}).Login(t.Context(), "x", "y")
			require.Error(t, err)
			assert.Equal(t, tt.code, dErrors.CodeOf(err))
		})
	}

	t.Run("slow backend is unreachable", func(t *testing.T) {
		srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		})

		_, err := NewClient(config.IdentityConfig{URL: srv.URL, Timeout: 50 * time.Millisecond}).Login(t.Context(), "x", "y")
		assert.Equal(t, dErrors.CodeUnavailable, dErrors.CodeOf(err))
		assert.Equal(t, "backend unreachable", dErrors.MessageOf(err))
	})

	t.Run("closed backend is unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := NewClient(config.IdentityConfig{URL: url, Timeout: time.Second}).Login(t.Context(), "x", "y")
		assert.Equal(t, dErrors.CodeUnavailable, dErrors.CodeOf(err))
	})
}
