package handler

import (
	"fmt"
	"strings"

	"intake/internal/application/models"
	"intake/internal/resolution"
	"intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
)

// SubmitRequest is the body of POST /applications and PUT /applications/{id}.
type SubmitRequest struct {
	Application           *models.Application `json:"application" validate:"required"`
	AcknowledgeDuplicates bool                `json:"acknowledgeDuplicates"`
}

// Validate normalizes identity fields and checks the application number.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *SubmitRequest) Validate() error {
	if r == nil || r.Application == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	app := r.Application
	app.NormalizeIdentity()
	id, err := domain.ParseApplicationID(app.ID)
	if err != nil {
		return err
	}
	app.ID = id

	if app.ProjectID == "" {
		return dErrors.New(dErrors.CodeValidation, "application.projectId is required")
	}
	if app.Aadhaar != "" && !isDigits(app.Aadhaar, 12) {
		return dErrors.New(dErrors.CodeValidation, "application.aadhaar must be 12 digits")
	}
	return nil
}

// DuplicateCheckRequest is the body of POST /applications/duplicates.
type DuplicateCheckRequest struct {
	Application *models.Application `json:"application" validate:"required"`
}

func (r *DuplicateCheckRequest) Validate() error {
	if r == nil || r.Application == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Application.NormalizeIdentity()
	return nil
}

// DecisionRequest is the body of POST /applications/{id}/decision.
type DecisionRequest struct {
	Decision string `json:"decision" validate:"required"`
	Reason   string `json:"rejectionReason" validate:"max=200"`
	Remarks  string `json:"remarks" validate:"max=2000"`

	parsedDecision models.Decision
}

func (r *DecisionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	d, err := models.ParseDecision(r.Decision)
	if err != nil {
		return err
	}
	r.parsedDecision = d
	r.Reason = strings.TrimSpace(r.Reason)
	return nil
}

func (r *DecisionRequest) ParsedDecision() models.Decision {
	return r.parsedDecision
}

// DocumentRequest is the body of POST /applications/{id}/documents. The file
// is stored elsewhere; only its location is recorded.
type DocumentRequest struct {
	DocType  string `json:"docType" validate:"required,max=100"`
	FileName string `json:"fileName" validate:"max=255"`
	URL      string `json:"url" validate:"required,url"`
}

func (r *DocumentRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.DocType = strings.TrimSpace(r.DocType)
	if r.DocType == "" {
		return dErrors.New(dErrors.CodeValidation, "docType is required")
	}
	return nil
}

// ImportRequest is the body of POST /applications/import.
type ImportRequest struct {
	Applications []*models.Application `json:"applications" validate:"required,min=1,max=5000"`
}

func (r *ImportRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	for i, app := range r.Applications {
		if app == nil {
			return dErrors.New(dErrors.CodeValidation, "applications must not contain null entries")
		}
		if strings.TrimSpace(app.ProjectID) == "" {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("applications[%d].projectId is required", i))
		}
	}
	return nil
}

// ResolveRequest is the body of POST /resolutions/{action}.
type ResolveRequest struct {
	SurvivorID string `json:"survivorId" validate:"required"`
	LoserID    string `json:"loserId" validate:"required,nefield=SurvivorID"`
	Reason     string `json:"reason" validate:"max=500"`
}

func (r *ResolveRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	survivor, err := domain.ParseApplicationID(r.SurvivorID)
	if err != nil {
		return err
	}
	loser, err := domain.ParseApplicationID(r.LoserID)
	if err != nil {
		return err
	}
	if survivor == loser {
		return dErrors.New(dErrors.CodeValidation, "survivorId and loserId must differ")
	}
	r.SurvivorID, r.LoserID = survivor, loser
	r.Reason = strings.TrimSpace(r.Reason)
	return nil
}

func (r *ResolveRequest) toDomain() resolution.ResolveRequest {
	return resolution.ResolveRequest{SurvivorID: r.SurvivorID, LoserID: r.LoserID, Reason: r.Reason}
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
