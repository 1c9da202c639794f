package models

import (
	"strings"

	dErrors "intake/pkg/domain-errors"
)

// Stage is the coarse workflow phase of an application.
type Stage string

const (
	StageStaging    Stage = "STAGING"
	StageProduction Stage = "PRODUCTION"
	StageArchived   Stage = "ARCHIVED"
)

func (s Stage) IsValid() bool {
	return s == StageStaging || s == StageProduction || s == StageArchived
}

func (s Stage) String() string { return string(s) }

// ParseStage validates an external stage value. Empty input is rejected.
func ParseStage(raw string) (Stage, error) {
	s := Stage(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown lifecycle stage: "+raw)
	}
	return s, nil
}

// Status is the eligibility decision within a stage.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusEligible     Status = "ELIGIBLE"
	StatusNotEligible  Status = "NOT_ELIGIBLE"
	StatusLotteryReady Status = "LOTTERY_READY"
	StatusAwarded      Status = "AWARDED"
	StatusMerged       Status = "MERGED"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusEligible, StatusNotEligible, StatusLotteryReady, StatusAwarded, StatusMerged:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// ParseStatus validates an external status value.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown status: "+raw)
	}
	return s, nil
}

// decidable reports whether a validator may (re)decide a record in this status.
func (s Status) decidable() bool {
	return s == StatusPending || s == StatusEligible || s == StatusNotEligible
}

// Decision is a validator outcome.
type Decision string

const (
	DecisionEligible    Decision = "ELIGIBLE"
	DecisionNotEligible Decision = "NOT_ELIGIBLE"
)

// ParseDecision validates an external decision value.
func ParseDecision(raw string) (Decision, error) {
	d := Decision(strings.ToUpper(strings.TrimSpace(raw)))
	if d != DecisionEligible && d != DecisionNotEligible {
		return "", dErrors.New(dErrors.CodeInvalidInput, "decision must be ELIGIBLE or NOT_ELIGIBLE")
	}
	return d, nil
}

// LotteryStatus tracks the post-validation lottery outcome.
type LotteryStatus string

const (
	LotteryPending     LotteryStatus = "Pending"
	LotteryShortlisted LotteryStatus = "Shortlisted"
	LotteryAwarded     LotteryStatus = "Awarded"
	LotteryNotAwarded  LotteryStatus = "Not Awarded"
)

// MatchType distinguishes exact identity collisions from similarity matches.
type MatchType string

const (
	MatchExact MatchType = "EXACT"
	MatchFuzzy MatchType = "FUZZY"
)

// Audit actions. The vocabulary is closed; entries carry one of these tags.
const (
	ActionSave                  = "SAVE"
	ActionValidationApproved    = "VALIDATION_APPROVED"
	ActionValidationRejected    = "VALIDATION_REJECTED"
	ActionAdminReset            = "ADMIN_RESET"
	ActionPromoted              = "PROMOTED"
	ActionArchivedDuplicate     = "ARCHIVED_DUPLICATE"
	ActionDuplicateNoteAppended = "DUPLICATE_NOTE_APPENDED"
	ActionDuplicateIgnored      = "DUPLICATE_IGNORED"
	ActionDuplicateLinked       = "DUPLICATE_LINKED"
	ActionMergedInto            = "MERGED_INTO"
	ActionMergeAbsorbed         = "MERGE_ABSORBED"
	ActionMergeRepointed        = "MERGE_REPOINTED"
	ActionUpload                = "UPLOAD"
	ActionBulkImport            = "BULK_IMPORT"
)
