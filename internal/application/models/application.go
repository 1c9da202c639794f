package models

import (
	"fmt"
	"slices"
	"strings"
	"time"

	dErrors "intake/pkg/domain-errors"
)

// Application is the aggregate root for one housing-scheme application.
//
// Invariants:
//   - ID is immutable and globally unique across projects and stages
//   - AuditLog is append-only; Sequence numbers are 1..n in insertion order
//   - Status MERGED implies MergedIntoID names another, non-archived record
//   - Stage moves STAGING → PRODUCTION → ARCHIVED, or back to STAGING via reset
//   - Revision increases by one on every persisted change
//
// Transitions come in Can/Apply pairs: Can* checks the guard without mutating,
// Apply* mutates and appends the matching audit entry. Services call Can*
// first, inside the transaction, so a failed guard leaves no trace.
type Application struct {
	ID                       string    `json:"id"`
	ProjectID                string    `json:"projectId"`
	Stage                    Stage     `json:"lifecycleStage"`
	EntryTimestamp           time.Time `json:"entryTimestamp"`
	PhysicalReceiptTimestamp string    `json:"physicalReceiptTimestamp,omitempty"`
	OperatorID               string    `json:"operatorId"`

	ApplicantName      string `json:"applicantName"`
	FatherOrSpouseName string `json:"fatherOrSpouseName"`
	DOB                string `json:"dob"`
	Gender             string `json:"gender"`
	Category           string `json:"category"`
	IsSpecialCategory  bool   `json:"isSpecialCategory"`

	PhonePrimary string `json:"phonePrimary"`
	PhoneAlt     string `json:"phoneAlt"`
	Aadhaar      string `json:"aadhaar"`
	PAN          string `json:"pan"`

	BankAccount string  `json:"bankAccount"`
	IFSC        string  `json:"ifsc"`
	Income      float64 `json:"income"`

	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2"`
	City         string `json:"city"`
	State        string `json:"state"`
	Pincode      string `json:"pincode"`

	FamilyMembers       []FamilyMember `json:"familyMembers"`
	Documents           []DocumentMeta `json:"documents"`
	ConsolidatedScanURL string         `json:"consolidatedScanUrl,omitempty"`

	Status              Status        `json:"status"`
	RejectionReason     string        `json:"rejectionReason,omitempty"`
	ValidatorID         string        `json:"validatorId,omitempty"`
	ValidationTimestamp *time.Time    `json:"validationTimestamp,omitempty"`
	ValidationRemarks   string        `json:"validationRemarks,omitempty"`
	LotteryStatus       LotteryStatus `json:"lotteryStatus"`
	DuplicateFlags      string        `json:"duplicateFlags,omitempty"`
	LinkedAppIDs        []string      `json:"linkedAppIds,omitempty"`
	MergedIntoID        string        `json:"mergedIntoId,omitempty"`
	Notes               string        `json:"notes,omitempty"`

	AuditLog []AuditEntry `json:"auditLog"`
	Revision int64        `json:"revision"`
}

// AuditEntry is an immutable record of who did what to an application.
type AuditEntry struct {
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
}

type FamilyMember struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Relation string `json:"relation"`
	Aadhaar  string `json:"aadhaar"`
	Age      int    `json:"age"`
}

// DocumentMeta tracks one checklist document and its uploaded versions.
type DocumentMeta struct {
	Type        string            `json:"type"`
	IsAvailable bool              `json:"isAvailable"`
	Versions    []DocumentVersion `json:"versions"`
}

type DocumentVersion struct {
	Version    int       `json:"version"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploadedAt"`
	UploadedBy string    `json:"uploadedBy"`
	FileName   string    `json:"fileName"`
}

// IsActive reports whether the record belongs in working queues.
// Archived records stay visible to duplicate detection.
func (a *Application) IsActive() bool {
	return a.Stage != StageArchived
}

// NormalizeIdentity trims the fields duplicate detection compares and strips
// the grouping spaces from the Aadhaar number, so "1111 2222 3333" matches
// "111122223333".
func (a *Application) NormalizeIdentity() {
	if a == nil {
		return
	}
	a.ID = strings.TrimSpace(a.ID)
	a.ProjectID = strings.TrimSpace(a.ProjectID)
	a.Aadhaar = strings.Join(strings.Fields(a.Aadhaar), "")
	a.PhonePrimary = strings.TrimSpace(a.PhonePrimary)
	a.PhoneAlt = strings.TrimSpace(a.PhoneAlt)
}

// Clone returns a deep copy so callers never share slices with a store.
func (a *Application) Clone() *Application {
	if a == nil {
		return nil
	}
	c := *a
	c.FamilyMembers = slices.Clone(a.FamilyMembers)
	c.LinkedAppIDs = slices.Clone(a.LinkedAppIDs)
	c.AuditLog = slices.Clone(a.AuditLog)
	if a.ValidationTimestamp != nil {
		ts := *a.ValidationTimestamp
		c.ValidationTimestamp = &ts
	}
	if a.Documents != nil {
		c.Documents = make([]DocumentMeta, len(a.Documents))
		for i, d := range a.Documents {
			d.Versions = slices.Clone(d.Versions)
			c.Documents[i] = d
		}
	}
	return &c
}

// AppendAudit adds an entry at the next sequence number.
func (a *Application) AppendAudit(now time.Time, actor, action, details string) {
	next := 1
	if n := len(a.AuditLog); n > 0 {
		next = a.AuditLog[n-1].Sequence + 1
	}
	a.AuditLog = append(a.AuditLog, AuditEntry{
		Sequence:  next,
		Timestamp: now,
		UserID:    actor,
		Action:    action,
		Details:   details,
	})
}

// IsLinkedTo reports whether id is already in LinkedAppIDs.
func (a *Application) IsLinkedTo(id string) bool {
	return slices.Contains(a.LinkedAppIDs, id)
}

// -----------------------------------------------------------------------------
// Creation and edits
// -----------------------------------------------------------------------------

// ApplyCreation puts a new record into its initial state and appends SAVE.
func (a *Application) ApplyCreation(now time.Time, actor string) {
	a.Stage = StageStaging
	a.Status = StatusPending
	a.LotteryStatus = LotteryPending
	a.RejectionReason = ""
	a.ValidatorID = ""
	a.ValidationTimestamp = nil
	a.ValidationRemarks = ""
	a.MergedIntoID = ""
	a.LinkedAppIDs = nil
	a.Revision = 0
	a.AuditLog = nil
	if a.EntryTimestamp.IsZero() {
		a.EntryTimestamp = now
	}
	if a.OperatorID == "" {
		a.OperatorID = actor
	}
	a.AppendAudit(now, actor, ActionSave, "Application record saved/updated")
}

// ApplyEdit copies operator-editable fields from in and appends SAVE.
// Lifecycle, decision, resolution and history fields are left untouched.
func (a *Application) ApplyEdit(in *Application, now time.Time, actor string) {
	a.PhysicalReceiptTimestamp = in.PhysicalReceiptTimestamp
	a.ApplicantName = in.ApplicantName
	a.FatherOrSpouseName = in.FatherOrSpouseName
	a.DOB = in.DOB
	a.Gender = in.Gender
	a.Category = in.Category
	a.IsSpecialCategory = in.IsSpecialCategory
	a.PhonePrimary = in.PhonePrimary
	a.PhoneAlt = in.PhoneAlt
	a.Aadhaar = in.Aadhaar
	a.PAN = in.PAN
	a.BankAccount = in.BankAccount
	a.IFSC = in.IFSC
	a.Income = in.Income
	a.AddressLine1 = in.AddressLine1
	a.AddressLine2 = in.AddressLine2
	a.City = in.City
	a.State = in.State
	a.Pincode = in.Pincode
	a.FamilyMembers = slices.Clone(in.FamilyMembers)
	a.ConsolidatedScanURL = in.ConsolidatedScanURL
	if in.Documents != nil {
		a.Documents = in.Clone().Documents
	}
	a.AppendAudit(now, actor, ActionSave, "Application record saved/updated")
}

// ApplyImport prepares an imported record and appends BULK_IMPORT.
// Imported records keep their supplied status; stage defaults to STAGING.
func (a *Application) ApplyImport(now time.Time, actor string) {
	if !a.Stage.IsValid() {
		a.Stage = StageStaging
	}
	if !a.Status.IsValid() || a.Status == StatusMerged {
		a.Status = StatusPending
	}
	if a.Status == StatusNotEligible && a.RejectionReason == "" {
		a.RejectionReason = "Imported as Rejected"
	}
	if a.LotteryStatus == "" {
		a.LotteryStatus = LotteryPending
	}
	if a.EntryTimestamp.IsZero() {
		a.EntryTimestamp = now
	}
	if a.Notes == "" {
		a.Notes = "Imported via CSV"
	}
	a.MergedIntoID = ""
	a.Revision = 0
	a.AuditLog = nil
	a.AppendAudit(now, actor, ActionBulkImport, "Migrated from CSV")
}

// -----------------------------------------------------------------------------
// Validation decisions
// -----------------------------------------------------------------------------

// CanValidate checks that a decision may be recorded.
func (a *Application) CanValidate(decision Decision, reason string) error {
	if a.Stage != StageStaging && a.Stage != StageProduction {
		return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("application %s is %s and cannot be validated", a.ID, a.Stage))
	}
	if !a.Status.decidable() {
		return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("application %s has status %s and cannot be validated", a.ID, a.Status))
	}
	if decision == DecisionNotEligible && reason == "" {
		return dErrors.New(dErrors.CodeValidation, "rejection reason is required for NOT_ELIGIBLE")
	}
	return nil
}

// ApplyValidation records the decision and appends the matching audit entry.
func (a *Application) ApplyValidation(decision Decision, reason, remarks string, now time.Time, actor string) {
	ts := now
	a.ValidatorID = actor
	a.ValidationTimestamp = &ts
	a.ValidationRemarks = remarks
	if decision == DecisionEligible {
		a.Status = StatusEligible
		a.RejectionReason = ""
		a.AppendAudit(now, actor, ActionValidationApproved, "Eligible. Notes: "+remarks)
		return
	}
	a.Status = StatusNotEligible
	a.RejectionReason = reason
	a.AppendAudit(now, actor, ActionValidationRejected, fmt.Sprintf("Rejected: %s. Notes: %s", reason, remarks))
}

// -----------------------------------------------------------------------------
// Admin reset and promotion
// -----------------------------------------------------------------------------

// ApplyReset sends the record back to the validation queue. Allowed from any state.
func (a *Application) ApplyReset(now time.Time, actor string) {
	a.Status = StatusPending
	a.Stage = StageStaging
	a.RejectionReason = ""
	a.ValidatorID = ""
	a.ValidationTimestamp = nil
	a.ValidationRemarks = ""
	a.MergedIntoID = ""
	a.AppendAudit(now, actor, ActionAdminReset, "Reset status to PENDING for re-validation")
}

// CanPromote checks the STAGING guard.
func (a *Application) CanPromote() error {
	if a.Stage != StageStaging {
		return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("application %s is %s; only STAGING records can be promoted", a.ID, a.Stage))
	}
	return nil
}

func (a *Application) ApplyPromotion(now time.Time, actor string) {
	a.Stage = StageProduction
	a.AppendAudit(now, actor, ActionPromoted, "Promoted from STAGING to PRODUCTION")
}

// -----------------------------------------------------------------------------
// Documents
// -----------------------------------------------------------------------------

// ApplyDocumentVersion appends a new version of docType and returns its number.
func (a *Application) ApplyDocumentVersion(docType, fileName, url string, now time.Time, actor string) int {
	idx := slices.IndexFunc(a.Documents, func(d DocumentMeta) bool { return d.Type == docType })
	if idx < 0 {
		a.Documents = append(a.Documents, DocumentMeta{Type: docType})
		idx = len(a.Documents) - 1
	}
	doc := &a.Documents[idx]
	version := 1
	for _, v := range doc.Versions {
		if v.Version >= version {
			version = v.Version + 1
		}
	}
	doc.IsAvailable = true
	doc.Versions = append(doc.Versions, DocumentVersion{
		Version:    version,
		URL:        url,
		UploadedAt: now,
		UploadedBy: actor,
		FileName:   fileName,
	})
	a.AppendAudit(now, actor, ActionUpload, fmt.Sprintf("Uploaded %s (v%d)", docType, version))
	return version
}
