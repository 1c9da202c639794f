package models

import (
	"fmt"
	"time"

	dErrors "intake/pkg/domain-errors"
)

// DuplicateFinding is one identity-field collision between a candidate and a
// stored record. Findings are computed on demand and only persisted as the
// flattened DuplicateFlags blob.
type DuplicateFinding struct {
	SourceID     string    `json:"sourceId"`
	MatchType    MatchType `json:"matchType"`
	Field        string    `json:"field"`
	Confidence   float64   `json:"confidence"`
	MatchedStage Stage     `json:"matchedStage"`
}

// DefaultDuplicateReason is used when neither the operator nor the losing
// record supplies a rejection reason.
const DefaultDuplicateReason = "Duplicate"

// CanSurvive checks that a record may be kept as the canonical side of a pair.
func (a *Application) CanSurvive() error {
	if a.Stage == StageArchived || a.Status == StatusMerged {
		return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("application %s is archived or merged and cannot be kept as survivor", a.ID))
	}
	return nil
}

// CanArchiveAsDuplicate checks that the record is not already archived.
func (a *Application) CanArchiveAsDuplicate() error {
	if a.Stage == StageArchived {
		return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("application %s is already archived", a.ID))
	}
	return nil
}

// ApplyIgnoredDuplicates records acknowledged findings without changing state.
func (a *Application) ApplyIgnoredDuplicates(flags, counterpartID string, now time.Time, actor string) {
	a.DuplicateFlags = flags
	a.AppendAudit(now, actor, ActionDuplicateIgnored, "Duplicate warning against "+counterpartID+" acknowledged")
}

// CanLink checks that the pair is not already linked.
func (a *Application) CanLink(otherID string) error {
	if a.IsLinkedTo(otherID) {
		return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("applications %s and %s are already linked", a.ID, otherID))
	}
	return nil
}

// ApplyLink adds otherID to LinkedAppIDs and appends DUPLICATE_LINKED.
// Callers apply it to both sides of the pair.
func (a *Application) ApplyLink(otherID string, now time.Time, actor string) {
	if !a.IsLinkedTo(otherID) {
		a.LinkedAppIDs = append(a.LinkedAppIDs, otherID)
	}
	a.AppendAudit(now, actor, ActionDuplicateLinked, "Linked with application "+otherID)
}

// ApplyMergedInto retires the record as merged into survivorID.
func (a *Application) ApplyMergedInto(survivorID string, now time.Time, actor string) {
	a.Stage = StageArchived
	a.Status = StatusMerged
	a.MergedIntoID = survivorID
	a.AppendAudit(now, actor, ActionMergedInto, "Merged into application "+survivorID)
}

// ApplyMergeAbsorbed marks the survivor as the canonical entry for loserID.
func (a *Application) ApplyMergeAbsorbed(loserID string, now time.Time, actor string) {
	if !a.IsLinkedTo(loserID) {
		a.LinkedAppIDs = append(a.LinkedAppIDs, loserID)
	}
	a.AppendAudit(now, actor, ActionMergeAbsorbed, "Absorbed merged application "+loserID)
}

// ApplyMergeRepointed moves a MERGED record's target from an archived
// record onto its new survivor.
func (a *Application) ApplyMergeRepointed(fromID, toID string, now time.Time, actor string) {
	a.MergedIntoID = toID
	a.AppendAudit(now, actor, ActionMergeRepointed, fmt.Sprintf("Merge target moved from %s to %s", fromID, toID))
}

// DuplicateReason picks the reason recorded for a note-and-archive resolution.
func (a *Application) DuplicateReason(override string) string {
	if override != "" {
		return override
	}
	if a.RejectionReason != "" {
		return a.RejectionReason
	}
	return DefaultDuplicateReason
}

// ApplyDuplicateNote appends the system note about a rejected duplicate.
func (a *Application) ApplyDuplicateNote(loserID, reason string, now time.Time, actor string) {
	a.Notes += fmt.Sprintf("\n[System] Application %s is marked for rejected due to duplication (%s).", loserID, reason)
	a.AppendAudit(now, actor, ActionDuplicateNoteAppended, "Appended note regarding rejected duplicate "+loserID)
}

// ApplyArchivedDuplicate archives the losing side of a note-and-archive.
func (a *Application) ApplyArchivedDuplicate(survivorID string, now time.Time, actor string) {
	a.Stage = StageArchived
	a.AppendAudit(now, actor, ActionArchivedDuplicate, "Resolved as duplicate of "+survivorID)
}
