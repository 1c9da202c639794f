package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	strutil "intake/pkg/platform/strings"
)

// DefaultDuplicateThreshold is the confidence at which findings block a save.
const DefaultDuplicateThreshold = 0.88

// Settings are the admin-managed knobs that shape intake behavior.
type Settings struct {
	DuplicateThreshold float64       `yaml:"duplicate_threshold"`
	RejectionReasons   []string      `yaml:"rejection_reasons"`
	DocumentChecklist  []string      `yaml:"document_checklist"`
	FuzzyMatching      FuzzyMatching `yaml:"fuzzy_matching"`
}

// FuzzyMatching toggles the name similarity comparator.
type FuzzyMatching struct {
	Enabled       bool    `yaml:"enabled"`
	MinConfidence float64 `yaml:"min_confidence"`
}

// DefaultSettings mirrors the values shipped with a fresh installation.
func DefaultSettings() Settings {
	return Settings{
		DuplicateThreshold: DefaultDuplicateThreshold,
		RejectionReasons: []string{
			"Already awarded in same scheme",
			"Income exceeds guidelines",
			"Fake or forged documents",
			"Incomplete data/documents",
			"Other",
		},
		DocumentChecklist: []string{
			"Aadhaar Card",
			"Income Certificate",
			"Caste Certificate",
			"Bank Passbook",
			"Passport Photo",
		},
		FuzzyMatching: FuzzyMatching{MinConfidence: 0.85},
	}
}

// LoadSettings reads the YAML settings file at path over the defaults.
// An empty path returns the defaults.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()
	if path == "" {
		return settings, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings file: %w", err)
	}
	return ParseSettings(data)
}

// ParseSettings decodes YAML over the defaults and validates the result.
func ParseSettings(data []byte) (Settings, error) {
	settings := DefaultSettings()
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	settings.RejectionReasons = strutil.DedupeAndTrim(settings.RejectionReasons)
	settings.DocumentChecklist = strutil.DedupeAndTrim(settings.DocumentChecklist)
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// Validate checks that confidences are within [0,1].
func (s Settings) Validate() error {
	if s.DuplicateThreshold < 0 || s.DuplicateThreshold > 1 {
		return fmt.Errorf("duplicate_threshold must be within [0,1], got %v", s.DuplicateThreshold)
	}
	if s.FuzzyMatching.MinConfidence < 0 || s.FuzzyMatching.MinConfidence > 1 {
		return fmt.Errorf("fuzzy_matching.min_confidence must be within [0,1], got %v", s.FuzzyMatching.MinConfidence)
	}
	return nil
}
