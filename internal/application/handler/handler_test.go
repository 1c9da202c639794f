package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"intake/internal/application/models"
	"intake/internal/application/store"
	"intake/internal/duplicate"
	"intake/internal/lifecycle"
	"intake/internal/resolution"
	"intake/pkg/domain"
	"intake/pkg/requestcontext"
	"intake/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	store  *store.InMemoryStore
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.store = store.NewInMemory()
	lc := lifecycle.New(s.store, lifecycle.WithLogger(logger))
	detector := duplicate.New(s.store)
	intake := resolution.New(s.store, lc, detector, resolution.WithLogger(logger))

	s.router = chi.NewRouter()
	New(lc, intake, detector, logger).Register(s.router)
}

func (s *HandlerSuite) do(method, path string, body any, role domain.Role) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = testutil.NewJSONRequest(s.T(), method, path, body)
	} else {
		req = testutil.NewRequest(s.T(), method, path)
	}
	req = testutil.WithRequestID(req, "req-1")
	req = req.WithContext(requestcontext.WithTime(req.Context(), time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)))
	req = testutil.WithOperator(req, "op-"+string(role), role)
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) seed(id, aadhaar string) {
	_, err := lifecycle.New(s.store).Create(context.Background(), &models.Application{ID: id, ProjectID: "P1", Aadhaar: aadhaar}, "deo1")
	s.Require().NoError(err)
}

func application(id, aadhaar string) map[string]any {
	return map[string]any{
		"id":            id,
		"projectId":     "P1",
		"applicantName": "Meena",
		"aadhaar":       aadhaar,
	}
}

func (s *HandlerSuite) TestCreate() {
	s.Run("saves a new application", func() {
		rr := s.do(http.MethodPost, "/applications", map[string]any{"application": application("APP-1", "111122223333")}, domain.RoleDEO)
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)

		resp := testutil.UnmarshalResponse[SubmitResponse](s.T(), rr)
		s.Equal("APP-1", resp.Application.ID)
		s.Equal(models.StageStaging, resp.Application.Stage)
		s.Equal("op-DEO", resp.Application.AuditLog[0].UserID)
		s.NotNil(resp.Findings)
	})

	s.Run("existing id is a conflict", func() {
		rr := s.do(http.MethodPost, "/applications", map[string]any{"application": application("APP-1", "")}, domain.RoleDEO)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "conflict")
	})

	s.Run("duplicate aadhaar is held for review with findings", func() {
		rr := s.do(http.MethodPost, "/applications", map[string]any{"application": application("APP-2", "111122223333")}, domain.RoleDEO)
		testutil.AssertStatus(s.T(), rr, http.StatusConflict)

		resp := testutil.UnmarshalResponse[ReviewResponse](s.T(), rr)
		s.Equal("duplicate_review_required", resp.Error)
		s.Require().Len(resp.Findings, 1)
		s.Equal("APP-1", resp.Findings[0].SourceID)
		s.InDelta(0.88, resp.Threshold, 1e-9)
	})

	s.Run("acknowledged duplicate is saved", func() {
		rr := s.do(http.MethodPost, "/applications", map[string]any{
			"application":           application("APP-2", "111122223333"),
			"acknowledgeDuplicates": true,
		}, domain.RoleDEO)
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	})

	s.Run("validator cannot submit", func() {
		rr := s.do(http.MethodPost, "/applications", map[string]any{"application": application("APP-3", "")}, domain.RoleValidator)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	})

	s.Run("bad aadhaar is rejected", func() {
		rr := s.do(http.MethodPost, "/applications", map[string]any{"application": application("APP-3", "12ab")}, domain.RoleDEO)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
	})

	s.Run("control characters in the id are rejected", func() {
		rr := s.do(http.MethodPost, "/applications", map[string]any{"application": application("APP-\t3", "")}, domain.RoleDEO)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
	})

	s.Run("missing application is rejected", func() {
		rr := s.do(http.MethodPost, "/applications", map[string]any{}, domain.RoleDEO)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
	})
}

func (s *HandlerSuite) TestUpdate() {
	s.seed("APP-1", "")

	s.Run("path and body ids must match", func() {
		rr := s.do(http.MethodPut, "/applications/APP-1", map[string]any{"application": application("APP-9", "")}, domain.RoleDEO)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("stale revision conflicts", func() {
		body := application("APP-1", "")
		body["revision"] = 7
		rr := s.do(http.MethodPut, "/applications/APP-1", map[string]any{"application": body}, domain.RoleDEO)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "stale_write")
	})

	s.Run("current revision saves", func() {
		body := application("APP-1", "")
		body["revision"] = 1
		body["applicantName"] = "Meena Kumari"
		rr := s.do(http.MethodPut, "/applications/APP-1", map[string]any{"application": body}, domain.RoleAdmin)
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[SubmitResponse](s.T(), rr)
		s.Equal("Meena Kumari", resp.Application.ApplicantName)
		s.Equal(int64(2), resp.Application.Revision)
	})
}

func (s *HandlerSuite) TestReads() {
	s.seed("APP-1", "111122223333")

	rr := s.do(http.MethodGet, "/applications/APP-1", nil, domain.RoleViewer)
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	testutil.AssertJSONContains(s.T(), rr, "id", "APP-1")

	rr = s.do(http.MethodGet, "/applications/NOPE", nil, domain.RoleViewer)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")

	rr = s.do(http.MethodGet, "/applications/APP-1/exists", nil, domain.RoleViewer)
	testutil.AssertJSONContains(s.T(), rr, "exists", true)

	rr = s.do(http.MethodGet, "/applications?project_id=P1&stage=staging", nil, domain.RoleViewer)
	testutil.AssertJSONContains(s.T(), rr, "count", float64(1))

	rr = s.do(http.MethodGet, "/applications?stage=LIMBO", nil, domain.RoleViewer)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")

	rr = s.do(http.MethodGet, "/projects/P1/stats", nil, domain.RoleViewer)
	testutil.AssertJSONContains(s.T(), rr, "pending", float64(1))

	rr = s.do(http.MethodPost, "/applications/duplicates", map[string]any{"application": application("NEW-1", "111122223333")}, domain.RoleViewer)
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	found := testutil.UnmarshalResponse[FindingsResponse](s.T(), rr)
	s.Len(found.Findings, 1)
	s.Len(found.Blocking, 1)
}

func (s *HandlerSuite) TestDuplicatePreCheck() {
	s.seed("APP-1", "111122223333")

	s.Run("unsaved candidate without id", func() {
		candidate := application("", "111122223333")
		delete(candidate, "id")
		rr := s.do(http.MethodPost, "/applications/duplicates", map[string]any{"application": candidate}, domain.RoleDEO)
		testutil.AssertStatus(s.T(), rr, http.StatusOK)

		found := testutil.UnmarshalResponse[FindingsResponse](s.T(), rr)
		s.Require().Len(found.Findings, 1)
		s.Equal("APP-1", found.Findings[0].SourceID)
		s.Equal("Aadhaar", found.Findings[0].Field)
	})

	s.Run("aadhaar with grouping spaces", func() {
		rr := s.do(http.MethodPost, "/applications/duplicates", map[string]any{"application": application("NEW-2", "1111 2222 3333")}, domain.RoleDEO)
		testutil.AssertStatus(s.T(), rr, http.StatusOK)

		found := testutil.UnmarshalResponse[FindingsResponse](s.T(), rr)
		s.Require().Len(found.Findings, 1)
		s.Equal("APP-1", found.Findings[0].SourceID)
	})

	s.Run("submit with spaced aadhaar is held for review", func() {
		rr := s.do(http.MethodPost, "/applications", map[string]any{"application": application("NEW-3", "1111 2222 3333")}, domain.RoleDEO)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "duplicate_review_required")
	})
}

func (s *HandlerSuite) TestDecisionAndAdminActions() {
	s.seed("APP-1", "")

	rr := s.do(http.MethodPost, "/applications/APP-1/decision", map[string]any{"decision": "NOT_ELIGIBLE"}, domain.RoleValidator)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")

	rr = s.do(http.MethodPost, "/applications/APP-1/decision", map[string]any{"decision": "MAYBE"}, domain.RoleValidator)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")

	rr = s.do(http.MethodPost, "/applications/APP-1/decision", map[string]any{"decision": "ELIGIBLE", "remarks": "ok"}, domain.RoleDEO)
	testutil.AssertStatus(s.T(), rr, http.StatusForbidden)

	rr = s.do(http.MethodPost, "/applications/APP-1/decision", map[string]any{"decision": "ELIGIBLE", "remarks": "ok"}, domain.RoleValidator)
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	testutil.AssertJSONContains(s.T(), rr, "status", "ELIGIBLE")

	rr = s.do(http.MethodPost, "/applications/APP-1/promote", nil, domain.RoleValidator)
	testutil.AssertStatus(s.T(), rr, http.StatusForbidden)

	rr = s.do(http.MethodPost, "/applications/APP-1/promote", nil, domain.RoleAdmin)
	testutil.AssertJSONContains(s.T(), rr, "lifecycleStage", "PRODUCTION")

	rr = s.do(http.MethodPost, "/applications/APP-1/promote", nil, domain.RoleAdmin)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "invalid_state")

	rr = s.do(http.MethodPost, "/applications/APP-1/reset", nil, domain.RoleAdmin)
	testutil.AssertJSONContains(s.T(), rr, "status", "PENDING")
}

func (s *HandlerSuite) TestDocumentsAndImport() {
	s.seed("APP-1", "")

	rr := s.do(http.MethodPost, "/applications/APP-1/documents", map[string]any{
		"docType": "Income Certificate", "fileName": "inc.pdf", "url": "https://files.example/inc.pdf",
	}, domain.RoleDEO)
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	testutil.AssertJSONContains(s.T(), rr, "version", float64(1))

	rr = s.do(http.MethodPost, "/applications/APP-1/documents", map[string]any{"docType": "X", "url": "not a url"}, domain.RoleDEO)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")

	rr = s.do(http.MethodPost, "/applications/import", map[string]any{
		"applications": []map[string]any{application("APP-1", ""), application("APP-7", "")},
	}, domain.RoleAdmin)
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	resp := testutil.UnmarshalResponse[ImportResponse](s.T(), rr)
	s.Equal(ImportResponse{Submitted: 2, Imported: 1, Skipped: 1}, *resp)

	rr = s.do(http.MethodPost, "/applications/import", map[string]any{"applications": []any{}}, domain.RoleAdmin)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
}

func (s *HandlerSuite) TestResolve() {
	s.seed("APP-1", "111122223333")
	s.seed("APP-2", "111122223333")

	rr := s.do(http.MethodPost, "/resolutions/note-archive", map[string]any{"survivorId": "APP-1", "loserId": "APP-2"}, domain.RoleDEO)
	testutil.AssertStatus(s.T(), rr, http.StatusForbidden)

	rr = s.do(http.MethodPost, "/resolutions/shred", map[string]any{"survivorId": "APP-1", "loserId": "APP-2"}, domain.RoleAdmin)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")

	rr = s.do(http.MethodPost, "/resolutions/link", map[string]any{"survivorId": "APP-1", "loserId": "APP-1"}, domain.RoleAdmin)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")

	rr = s.do(http.MethodPost, "/resolutions/note-archive", map[string]any{"survivorId": "APP-1", "loserId": "APP-2"}, domain.RoleAdmin)
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	out := testutil.UnmarshalResponse[OutcomeResponse](s.T(), rr)
	s.Equal(models.StageArchived, out.Loser.Stage)
	s.Contains(out.Survivor.Notes, "APP-2")
}
