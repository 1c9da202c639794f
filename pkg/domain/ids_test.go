package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "intake/pkg/domain-errors"
)

func TestParseApplicationID(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseApplicationID("   ")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects overlong id", func(t *testing.T) {
		_, err := ParseApplicationID(strings.Repeat("A", MaxApplicationIDLength+1))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects control characters", func(t *testing.T) {
		_, err := ParseApplicationID("APP-\n1")
		require.Error(t, err)
	})

	t.Run("trims surrounding whitespace", func(t *testing.T) {
		id, err := ParseApplicationID("  APP-1 ")
		require.NoError(t, err)
		assert.Equal(t, "APP-1", id)
	})
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("validator")
	require.NoError(t, err)
	assert.Equal(t, RoleValidator, r)
	assert.True(t, r.OneOf(RoleAdmin, RoleValidator))
	assert.False(t, r.OneOf(RoleAdmin))

	_, err = ParseRole("superuser")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
