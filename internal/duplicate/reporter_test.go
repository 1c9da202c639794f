package duplicate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake/internal/application/models"
)

func TestReporterRun(t *testing.T) {
	ctx := context.Background()

	t.Run("counts each unresolved pair once", func(t *testing.T) {
		st := seed(t,
			&models.Application{ID: "APP-1", Aadhaar: "42", PhonePrimary: "900"},
			&models.Application{ID: "APP-2", Aadhaar: "42", PhonePrimary: "900"},
			&models.Application{ID: "APP-3", Aadhaar: "77"},
		)
		r := NewReporter(st, nil, WithReportWorkers(2))

		report, err := r.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, report.Scanned)
		assert.Equal(t, 1, report.Pairs)
		assert.Equal(t, map[string]int{"Aadhaar": 1, "Phone": 1}, report.ByField)

		last, ok := r.Last()
		require.True(t, ok)
		assert.Equal(t, report.Pairs, last.Pairs)
	})

	t.Run("linked and archived pairs are resolved", func(t *testing.T) {
		linkedA := &models.Application{ID: "L-1", Aadhaar: "11", LinkedAppIDs: nil}
		linkedB := &models.Application{ID: "L-2", Aadhaar: "11"}
		archived := &models.Application{ID: "X-1", Aadhaar: "22", Stage: models.StageArchived}
		active := &models.Application{ID: "X-2", Aadhaar: "22"}
		st := seed(t, linkedA, linkedB, archived, active)

		for _, pair := range [][2]string{{"L-1", "L-2"}, {"L-2", "L-1"}} {
			app, err := st.FindByID(ctx, pair[0])
			require.NoError(t, err)
			app.ApplyLink(pair[1], testNow, "admin")
			require.NoError(t, st.Update(ctx, app))
		}

		report, err := NewReporter(st, nil).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, report.Scanned)
		assert.Zero(t, report.Pairs)
		assert.Empty(t, report.ByField)
	})

	t.Run("store failure is returned", func(t *testing.T) {
		r := NewReporter(failingLister{err: errors.New("down")}, nil)
		_, err := r.Run(ctx)
		require.Error(t, err)
		_, ok := r.Last()
		assert.False(t, ok)
	})
}

func TestReporterSchedule(t *testing.T) {
	st := seed(t)
	r := NewReporter(st, nil)

	_, err := r.Schedule(context.Background(), "not a cron spec")
	require.Error(t, err)

	c, err := r.Schedule(context.Background(), "@every 1h")
	require.NoError(t, err)
	<-c.Stop().Done()
}
