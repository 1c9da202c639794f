package store

import (
	"fmt"
	"time"

	"intake/internal/application/models"
	"intake/pkg/platform/sentinel"
)

// checkAuditExtension verifies that next keeps every stored entry unchanged
// and numbers new entries consecutively after them.
func checkAuditExtension(stored, next []models.AuditEntry) error {
	if len(next) < len(stored) {
		return fmt.Errorf("audit log shrank from %d to %d entries: %w", len(stored), len(next), sentinel.ErrInvalidState)
	}
	for i := range stored {
		if !sameEntry(stored[i], next[i]) {
			return fmt.Errorf("audit entry %d was modified: %w", stored[i].Sequence, sentinel.ErrInvalidState)
		}
	}
	return checkSequences(next, len(stored))
}

// checkSequences verifies entries[from:] continue the 1..n numbering.
func checkSequences(entries []models.AuditEntry, from int) error {
	for i := from; i < len(entries); i++ {
		if entries[i].Sequence != i+1 {
			return fmt.Errorf("audit entry at position %d has sequence %d: %w", i+1, entries[i].Sequence, sentinel.ErrInvalidState)
		}
	}
	return nil
}

// sameEntry compares at the precision Postgres stores timestamps with.
func sameEntry(a, b models.AuditEntry) bool {
	return a.Sequence == b.Sequence &&
		a.UserID == b.UserID &&
		a.Action == b.Action &&
		a.Details == b.Details &&
		a.Timestamp.Truncate(time.Microsecond).Equal(b.Timestamp.Truncate(time.Microsecond))
}
