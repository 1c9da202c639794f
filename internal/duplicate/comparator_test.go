package duplicate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"intake/internal/application/models"
)

func TestExactComparator(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		existing  string
		wantMatch bool
	}{
		{name: "equal values", candidate: "123412341234", existing: "123412341234", wantMatch: true},
		{name: "different values", candidate: "123412341234", existing: "123412341235"},
		{name: "empty candidate", candidate: "", existing: ""},
		{name: "empty existing", candidate: "123412341234", existing: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := Aadhaar.Compare(
				&models.Application{Aadhaar: tt.candidate},
				&models.Application{Aadhaar: tt.existing},
			)
			assert.Equal(t, tt.wantMatch, ok)
			if tt.wantMatch {
				assert.Equal(t, Match{Field: "Aadhaar", Type: models.MatchExact, Confidence: 1.0}, m)
			}
		})
	}
}

func TestPhoneComparatorUsesPrimaryPhone(t *testing.T) {
	_, ok := Phone.Compare(
		&models.Application{PhonePrimary: "9000000001", PhoneAlt: "9111111111"},
		&models.Application{PhonePrimary: "9111111111"},
	)
	assert.False(t, ok)
}

func TestFuzzyNameComparator(t *testing.T) {
	c := FuzzyNameComparator{MinConfidence: 0.85}

	t.Run("identical normalized names stay below exact", func(t *testing.T) {
		m, ok := c.Compare(
			&models.Application{ApplicantName: "Sita Devi"},
			&models.Application{ApplicantName: " SITA   devi "},
		)
		assert.True(t, ok)
		assert.Equal(t, models.MatchFuzzy, m.Type)
		assert.InDelta(t, 0.99, m.Confidence, 1e-9)
	})

	t.Run("one typo in a long name matches", func(t *testing.T) {
		m, ok := c.Compare(
			&models.Application{ApplicantName: "Venkatesh Prasad"},
			&models.Application{ApplicantName: "Venkatesh Prasd"},
		)
		assert.True(t, ok)
		assert.Less(t, m.Confidence, 0.99)
		assert.GreaterOrEqual(t, m.Confidence, 0.85)
	})

	t.Run("different names do not match", func(t *testing.T) {
		_, ok := c.Compare(
			&models.Application{ApplicantName: "Anil Sharma"},
			&models.Application{ApplicantName: "Sunil Verma"},
		)
		assert.False(t, ok)
	})

	t.Run("blank names do not match", func(t *testing.T) {
		_, ok := c.Compare(&models.Application{}, &models.Application{})
		assert.False(t, ok)
	})
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "r k narayan", normalizeName("  R.K.  Narayan "))
	assert.Equal(t, "", normalizeName("..."))
}
