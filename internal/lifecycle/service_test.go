package lifecycle

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"intake/internal/application/models"
	"intake/internal/application/store"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	store   *store.InMemoryStore
	service *Service
	logs    *bytes.Buffer
	ctx     context.Context
	now     time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.logs = &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(s.logs, nil))
	s.service = New(s.store, WithLogger(logger))
	s.now = time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(requestcontext.WithRequestID(context.Background(), "req-7"), s.now)
}

func (s *ServiceSuite) create(id string) *models.Application {
	app, err := s.service.Create(s.ctx, &models.Application{
		ID:            id,
		ProjectID:     "P1",
		ApplicantName: "Lakshmi",
		Aadhaar:       "111122223333",
	}, "deo1")
	s.Require().NoError(err)
	return app
}

func (s *ServiceSuite) TestCreate() {
	s.Run("new record starts in staging pending with one save entry", func() {
		app := s.create("APP-1")
		s.Equal(models.StageStaging, app.Stage)
		s.Equal(models.StatusPending, app.Status)
		s.Equal(int64(1), app.Revision)
		s.Require().Len(app.AuditLog, 1)
		s.Equal(models.ActionSave, app.AuditLog[0].Action)
		s.Equal("Application record saved/updated", app.AuditLog[0].Details)
		s.Equal("deo1", app.AuditLog[0].UserID)
		s.Contains(s.logs.String(), `"log_type":"audit"`)
		s.Contains(s.logs.String(), `"request_id":"req-7"`)
	})

	s.Run("existing id is a conflict and the store is unchanged", func() {
		_, err := s.service.Create(s.ctx, &models.Application{ID: "APP-1", ProjectID: "P9", ApplicantName: "Other"}, "deo2")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		stored, err := s.service.Get(s.ctx, "APP-1")
		s.Require().NoError(err)
		s.Equal("P1", stored.ProjectID)
		s.Len(stored.AuditLog, 1)
	})

	s.Run("missing id is a validation error", func() {
		_, err := s.service.Create(s.ctx, &models.Application{ProjectID: "P1"}, "deo1")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("caller's record is not mutated", func() {
		in := &models.Application{ID: "APP-2", ProjectID: "P1", Status: models.StatusAwarded}
		_, err := s.service.Create(s.ctx, in, "deo1")
		s.Require().NoError(err)
		s.Equal(models.StatusAwarded, in.Status)
		s.Empty(in.AuditLog)
	})
}

func (s *ServiceSuite) TestUpdate() {
	app := s.create("APP-1")

	s.Run("edits editable fields and appends save", func() {
		edit := app.Clone()
		edit.ApplicantName = "Lakshmi Devi"
		edit.Status = models.StatusAwarded
		edit.DuplicateFlags = `[{"sourceId":"APP-9"}]`

		updated, err := s.service.Update(s.ctx, edit, "deo1")
		s.Require().NoError(err)
		s.Equal("Lakshmi Devi", updated.ApplicantName)
		s.Equal(models.StatusPending, updated.Status)
		s.Equal(edit.DuplicateFlags, updated.DuplicateFlags)
		s.Equal(int64(2), updated.Revision)
		s.Len(updated.AuditLog, 2)
	})

	s.Run("stale revision is rejected without writing", func() {
		stale := app.Clone()
		stale.ApplicantName = "Stale"
		_, err := s.service.Update(s.ctx, stale, "deo2")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeStaleWrite))

		stored, err := s.service.Get(s.ctx, "APP-1")
		s.Require().NoError(err)
		s.Equal("Lakshmi Devi", stored.ApplicantName)
		s.Len(stored.AuditLog, 2)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.service.Update(s.ctx, &models.Application{ID: "NOPE"}, "deo1")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestValidateDecision() {
	s.create("APP-1")

	s.Run("not eligible without reason fails and appends nothing", func() {
		_, err := s.service.ValidateDecision(s.ctx, "APP-1", models.DecisionNotEligible, "  ", "", "val1")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		stored, err := s.service.Get(s.ctx, "APP-1")
		s.Require().NoError(err)
		s.Len(stored.AuditLog, 1)
		s.Equal(models.StatusPending, stored.Status)
	})

	s.Run("eligible records validator fields", func() {
		app, err := s.service.ValidateDecision(s.ctx, "APP-1", models.DecisionEligible, "", "docs ok", "val1")
		s.Require().NoError(err)
		s.Equal(models.StatusEligible, app.Status)
		s.Equal("val1", app.ValidatorID)
		s.Require().NotNil(app.ValidationTimestamp)
		s.True(s.now.Equal(*app.ValidationTimestamp))
		last := app.AuditLog[len(app.AuditLog)-1]
		s.Equal(models.ActionValidationApproved, last.Action)
		s.Equal("Eligible. Notes: docs ok", last.Details)
	})

	s.Run("deciding again appends a second decision", func() {
		app, err := s.service.ValidateDecision(s.ctx, "APP-1", models.DecisionNotEligible, "Income exceeds limit", "payslip", "val2")
		s.Require().NoError(err)
		s.Equal(models.StatusNotEligible, app.Status)
		s.Equal("Income exceeds limit", app.RejectionReason)
		s.Len(app.AuditLog, 3)
		s.Equal("Rejected: Income exceeds limit. Notes: payslip", app.AuditLog[2].Details)
	})

	s.Run("archived record cannot be decided", func() {
		s.create("APP-2")
		s.archive("APP-2")
		_, err := s.service.ValidateDecision(s.ctx, "APP-2", models.DecisionEligible, "", "", "val1")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func (s *ServiceSuite) archive(id string) {
	s.Require().NoError(s.store.RunInTx(s.ctx, func(tx store.Store) error {
		app, err := tx.FindByID(s.ctx, id)
		if err != nil {
			return err
		}
		app.ApplyArchivedDuplicate("OTHER", s.now, "admin")
		return tx.Update(s.ctx, app)
	}))
}

func (s *ServiceSuite) TestResetStatus() {
	for _, status := range []models.Decision{models.DecisionEligible, models.DecisionNotEligible} {
		s.Run("from "+string(status), func() {
			id := "APP-" + string(status)
			s.create(id)
			_, err := s.service.ValidateDecision(s.ctx, id, status, "Incomplete documents", "r", "val1")
			s.Require().NoError(err)
			_, err = s.service.PromoteToProduction(s.ctx, id, "admin")
			s.Require().NoError(err)

			app, err := s.service.ResetStatus(s.ctx, id, "admin")
			s.Require().NoError(err)
			s.Equal(models.StatusPending, app.Status)
			s.Equal(models.StageStaging, app.Stage)
			s.Empty(app.RejectionReason)
			s.Empty(app.ValidatorID)
			s.Nil(app.ValidationTimestamp)
			s.Empty(app.ValidationRemarks)

			resets := 0
			for _, e := range app.AuditLog {
				if e.Action == models.ActionAdminReset {
					resets++
				}
			}
			s.Equal(1, resets)
		})
	}
}

func (s *ServiceSuite) TestPromoteToProduction() {
	s.create("APP-1")

	app, err := s.service.PromoteToProduction(s.ctx, "APP-1", "admin")
	s.Require().NoError(err)
	s.Equal(models.StageProduction, app.Stage)
	s.Equal(models.ActionPromoted, app.AuditLog[len(app.AuditLog)-1].Action)

	_, err = s.service.PromoteToProduction(s.ctx, "APP-1", "admin")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	_, err = s.service.PromoteToProduction(s.ctx, "MISSING", "admin")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestUploadDocument() {
	s.create("APP-1")

	_, v1, err := s.service.UploadDocument(s.ctx, "APP-1", "Aadhaar Card", "a.pdf", "https://files/a1", "deo1")
	s.Require().NoError(err)
	app, v2, err := s.service.UploadDocument(s.ctx, "APP-1", "Aadhaar Card", "a2.pdf", "https://files/a2", "deo1")
	s.Require().NoError(err)

	s.Equal(1, v1)
	s.Equal(2, v2)
	s.Require().Len(app.Documents, 1)
	s.True(app.Documents[0].IsAvailable)
	s.Len(app.Documents[0].Versions, 2)
	s.Equal("Uploaded Aadhaar Card (v2)", app.AuditLog[len(app.AuditLog)-1].Details)

	_, _, err = s.service.UploadDocument(s.ctx, "APP-1", "", "x", "https://files/x", "deo1")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestBulkImport() {
	s.create("APP-1")

	n, err := s.service.BulkImport(s.ctx, []*models.Application{
		{ID: "APP-1", ProjectID: "P1", ApplicantName: "Existing"},
		{ID: "APP-5", ProjectID: "P1", Status: models.StatusNotEligible},
		{ID: "APP-5", ProjectID: "P1"},
		{ProjectID: "P2", ApplicantName: "No id"},
	}, "admin")
	s.Require().NoError(err)
	s.Equal(2, n)

	existing, err := s.service.Get(s.ctx, "APP-1")
	s.Require().NoError(err)
	s.Equal("Lakshmi", existing.ApplicantName)

	imported, err := s.service.Get(s.ctx, "APP-5")
	s.Require().NoError(err)
	s.Equal("Imported as Rejected", imported.RejectionReason)
	s.Equal(models.ActionBulkImport, imported.AuditLog[0].Action)
	s.Equal("Migrated from CSV", imported.AuditLog[0].Details)

	all, err := s.service.List(s.ctx, store.Filter{ProjectID: "P2"})
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Regexp(`^IMP-[0-9a-f-]{36}$`, all[0].ID)
}

func (s *ServiceSuite) TestBulkImportNormalizesIdentityFields() {
	n, err := s.service.BulkImport(s.ctx, []*models.Application{
		{ID: " APP-9 ", ProjectID: " P1 ", Aadhaar: "1111 2222 3333", PhonePrimary: " 9876543210 "},
	}, "admin")
	s.Require().NoError(err)
	s.Equal(1, n)

	imported, err := s.service.Get(s.ctx, "APP-9")
	s.Require().NoError(err)
	s.Equal("P1", imported.ProjectID)
	s.Equal("111122223333", imported.Aadhaar)
	s.Equal("9876543210", imported.PhonePrimary)
}

func (s *ServiceSuite) TestStats() {
	s.create("APP-1")
	s.create("APP-2")
	s.create("APP-3")
	_, err := s.service.ValidateDecision(s.ctx, "APP-2", models.DecisionEligible, "", "", "val1")
	s.Require().NoError(err)
	s.archive("APP-3")

	stats, err := s.service.Stats(s.ctx, "P1")
	s.Require().NoError(err)
	s.Equal(2, stats.Total)
	s.Equal(1, stats.Eligible)
	s.Equal(1, stats.Pending)

	empty, err := s.service.Stats(s.ctx, "P-none")
	s.Require().NoError(err)
	s.Zero(empty.Total)
}
