package duplicate

import (
	"encoding/json"
	"fmt"

	"intake/internal/application/models"
)

// Blocking returns the findings at or above threshold. The detector never
// filters; callers use this to decide whether a save needs operator review.
func Blocking(findings []models.DuplicateFinding, threshold float64) []models.DuplicateFinding {
	var out []models.DuplicateFinding
	for _, f := range findings {
		if f.Confidence >= threshold {
			out = append(out, f)
		}
	}
	return out
}

// EncodeFlags flattens findings into the duplicateFlags blob. No findings
// encode as the empty string.
func EncodeFlags(findings []models.DuplicateFinding) (string, error) {
	if len(findings) == 0 {
		return "", nil
	}
	b, err := json.Marshal(findings)
	if err != nil {
		return "", fmt.Errorf("encode duplicate flags: %w", err)
	}
	return string(b), nil
}

// DecodeFlags parses a duplicateFlags blob. The empty string decodes to nil.
func DecodeFlags(flags string) ([]models.DuplicateFinding, error) {
	if flags == "" {
		return nil, nil
	}
	var findings []models.DuplicateFinding
	if err := json.Unmarshal([]byte(flags), &findings); err != nil {
		return nil, fmt.Errorf("decode duplicate flags: %w", err)
	}
	return findings, nil
}
