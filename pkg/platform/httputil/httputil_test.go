package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "intake/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "db failed"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "internal_error" {
			t.Fatalf("expected error code internal_error, got %q", body["error"])
		}
		if _, ok := body["error_description"]; ok {
			t.Fatalf("expected error_description to be omitted for internal errors")
		}
	})

	t.Run("bad request includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid input"))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "bad_request" {
			t.Fatalf("expected error code bad_request, got %q", body["error"])
		}
		if body["error_description"] != "invalid input" {
			t.Fatalf("expected error_description to be returned for bad request")
		}
	})
}

type sampleRequest struct {
	Name  string `json:"name" validate:"required,max=10"`
	Phone string `json:"phone"`
}

func (r *sampleRequest) Validate() error {
	if r.Phone != "" && len(r.Phone) != 10 {
		return dErrors.New(dErrors.CodeValidation, "phone must be 10 digits")
	}
	return nil
}

func TestDecodeAndPrepare(t *testing.T) {
	decode := func(body string) (*sampleRequest, *httptest.ResponseRecorder, bool) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		w := httptest.NewRecorder()
		req, ok := DecodeAndPrepare[sampleRequest](w, r, nil, r.Context(), "req-1")
		return req, w, ok
	}

	t.Run("valid body", func(t *testing.T) {
		req, _, ok := decode(`{"name":"Asha","phone":"9876543210"}`)
		require.True(t, ok)
		assert.Equal(t, "Asha", req.Name)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, w, ok := decode(`{`)
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("tag validation", func(t *testing.T) {
		_, w, ok := decode(`{"phone":"9876543210"}`)
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "validation_error")
	})

	t.Run("custom validation", func(t *testing.T) {
		_, w, ok := decode(`{"name":"Asha","phone":"123"}`)
		assert.False(t, ok)
		assert.Contains(t, w.Body.String(), "phone must be 10 digits")
	})
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, StatusFor(dErrors.New(dErrors.CodeStaleWrite, "x")))
	assert.Equal(t, http.StatusConflict, StatusFor(dErrors.New(dErrors.CodeDuplicateReview, "x")))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(dErrors.New(dErrors.CodeUnavailable, "x")))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("plain")))
}
