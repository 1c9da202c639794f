package duplicate

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"

	"intake/internal/application/models"
)

// Match is what a Comparator reports for one candidate/record pair.
type Match struct {
	Field      string
	Type       models.MatchType
	Confidence float64
}

// Comparator tests one identity signal between a candidate and a stored record.
type Comparator interface {
	Compare(candidate, existing *models.Application) (Match, bool)
}

// ExactComparator matches when both values are non-empty and equal.
type ExactComparator struct {
	Field string
	Value func(*models.Application) string
}

func (c ExactComparator) Compare(candidate, existing *models.Application) (Match, bool) {
	v := c.Value(candidate)
	if v == "" || v != c.Value(existing) {
		return Match{}, false
	}
	return Match{Field: c.Field, Type: models.MatchExact, Confidence: 1.0}, true
}

// Aadhaar and Phone are the identity comparators every detector runs.
var (
	Aadhaar = ExactComparator{Field: "Aadhaar", Value: func(a *models.Application) string { return a.Aadhaar }}
	Phone   = ExactComparator{Field: "Phone", Value: func(a *models.Application) string { return a.PhonePrimary }}
)

// DefaultComparators returns the exact identity comparators.
func DefaultComparators() []Comparator {
	return []Comparator{Aadhaar, Phone}
}

// maxFuzzyConfidence keeps similarity matches below exact identity matches.
const maxFuzzyConfidence = 0.99

// FuzzyNameComparator scores applicant names by normalized Levenshtein
// similarity and reports matches at or above MinConfidence.
type FuzzyNameComparator struct {
	MinConfidence float64
}

func (c FuzzyNameComparator) Compare(candidate, existing *models.Application) (Match, bool) {
	a, b := normalizeName(candidate.ApplicantName), normalizeName(existing.ApplicantName)
	if a == "" || b == "" {
		return Match{}, false
	}
	score := min(similarity(a, b), maxFuzzyConfidence)
	if score < c.MinConfidence {
		return Match{}, false
	}
	return Match{Field: "Name", Type: models.MatchFuzzy, Confidence: score}, true
}

// similarity is 1 - distance/longest, in runes.
func similarity(a, b string) float64 {
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// normalizeName lowercases, drops punctuation and collapses whitespace.
func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
