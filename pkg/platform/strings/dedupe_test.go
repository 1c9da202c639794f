package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{name: "empty slice", input: []string{}, expected: []string{}},
		{
			name:     "trims whitespace",
			input:    []string{"  Aadhaar Card  ", "Bank Passbook  "},
			expected: []string{"Aadhaar Card", "Bank Passbook"},
		},
		{
			name:     "removes repeats keeping first position",
			input:    []string{"Other", "Aadhaar Card", "Other", " Aadhaar Card"},
			expected: []string{"Other", "Aadhaar Card"},
		},
		{
			name:     "drops blanks",
			input:    []string{"Other", "", "   "},
			expected: []string{"Other"},
		},
		{
			name:     "case is significant",
			input:    []string{"Other", "OTHER"},
			expected: []string{"Other", "OTHER"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}
