package domain

import (
	"strings"

	dErrors "intake/pkg/domain-errors"
)

// MaxApplicationIDLength bounds application numbers accepted at trust boundaries.
const MaxApplicationIDLength = 64

// ParseApplicationID trims and validates an application number.
// Application numbers are operator-entered (printed on the physical form), so
// only emptiness, length and control characters are enforced.
func ParseApplicationID(s string) (string, error) {
	id := strings.TrimSpace(s)
	if id == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "application id is required")
	}
	if len(id) > MaxApplicationIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "application id is too long")
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return "", dErrors.New(dErrors.CodeInvalidInput, "application id contains control characters")
		}
	}
	return id, nil
}
