package testutil

import (
	"net/http"

	"intake/pkg/domain"
	"intake/pkg/requestcontext"
)

// WithOperator adds the operator identity the auth middleware would set.
func WithOperator(req *http.Request, actor string, role domain.Role) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actor, role))
}

// WithRequestID adds a request id to the request context.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
