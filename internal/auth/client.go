// Package auth signs operators in against the identity backend and issues
// the bearer tokens the rest of the API authorizes with.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"intake/internal/platform/config"
	"intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
)

const loginPath = "/auth/login"

// Identity is an operator accepted by the identity backend.
type Identity struct {
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`
	FullName string      `json:"fullName"`
}

type backendLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type backendLoginResponse struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	FullName string `json:"fullName"`
}

// Client calls the identity backend. Every request is bounded by the
// configured timeout.
type Client struct {
	http *resty.Client
}

func NewClient(cfg config.IdentityConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultIdentityTimeout
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: c}
}

// Login verifies the credentials. A backend that cannot be reached is
// CodeUnavailable; rejected credentials are CodeUnauthorized.
func (c *Client) Login(ctx context.Context, username, password string) (*Identity, error) {
	var body backendLoginResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(backendLoginRequest{Username: username, Password: password}).
		SetResult(&body).
		Post(loginPath)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "login cancelled")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "backend unreachable")
	}

	switch status := resp.StatusCode(); {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid username or password")
	case status >= http.StatusInternalServerError:
		return nil, dErrors.Wrap(fmt.Errorf("identity backend status %d", status), dErrors.CodeUnavailable, "backend unreachable")
	case status != http.StatusOK:
		return nil, dErrors.Wrap(fmt.Errorf("identity backend status %d", status), dErrors.CodeInternal, "unexpected identity backend response")
	}

	role, err := domain.ParseRole(body.Role)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeForbidden, "operator has no recognised role")
	}
	id := &Identity{Username: body.Username, Role: role, FullName: body.FullName}
	if id.Username == "" {
		id.Username = username
	}
	return id, nil
}
