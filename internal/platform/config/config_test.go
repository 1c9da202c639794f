package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Setenv("INTAKE_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("IDENTITY_TIMEOUT", "2s")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 2*time.Second, cfg.Identity.Timeout)
	assert.Equal(t, "intake.audit", cfg.Kafka.AuditTopic)
}

func TestFromEnvRejectsBadDuration(t *testing.T) {
	t.Setenv("IDENTITY_TIMEOUT", "soon")

	_, err := FromEnv()
	assert.ErrorContains(t, err, "IDENTITY_TIMEOUT")
}

func TestLoadSettings(t *testing.T) {
	t.Run("defaults without file", func(t *testing.T) {
		s, err := LoadSettings("")
		require.NoError(t, err)
		assert.InDelta(t, 0.88, s.DuplicateThreshold, 1e-9)
		assert.False(t, s.FuzzyMatching.Enabled)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "settings.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
duplicate_threshold: 0.95
rejection_reasons: [" Other ", Other, ""]
fuzzy_matching:
  enabled: true
  min_confidence: 0.9
`), 0o600))

		s, err := LoadSettings(path)
		require.NoError(t, err)
		assert.InDelta(t, 0.95, s.DuplicateThreshold, 1e-9)
		assert.Equal(t, []string{"Other"}, s.RejectionReasons)
		assert.True(t, s.FuzzyMatching.Enabled)
		assert.NotEmpty(t, s.DocumentChecklist)
	})

	t.Run("threshold out of range", func(t *testing.T) {
		_, err := ParseSettings([]byte("duplicate_threshold: 1.5"))
		assert.ErrorContains(t, err, "duplicate_threshold")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
