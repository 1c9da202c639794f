package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"intake/internal/application/models"
	"intake/internal/application/store"
	"intake/internal/application/store/mocks"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/sentinel"
)

// runTx executes the callback against the same mock, standing in for a
// transaction-bound store.
func runTx(st *mocks.MockTxStore) func(ctx context.Context, fn func(store.Store) error) error {
	return func(_ context.Context, fn func(store.Store) error) error {
		return fn(st)
	}
}

func TestStoreFailuresAreTranslated(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		storeErr error
		wantCode dErrors.Code
	}{
		{name: "stale write", storeErr: fmt.Errorf("app: %w", sentinel.ErrStaleWrite), wantCode: dErrors.CodeStaleWrite},
		{name: "audit rewrite", storeErr: fmt.Errorf("app: %w", sentinel.ErrInvalidState), wantCode: dErrors.CodeInvalidState},
		{name: "backend down", storeErr: sentinel.ErrUnavailable, wantCode: dErrors.CodeUnavailable},
		{name: "unexpected", storeErr: errors.New("disk full"), wantCode: dErrors.CodeInternal},
		{name: "deadline", storeErr: context.DeadlineExceeded, wantCode: dErrors.CodeTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			st := mocks.NewMockTxStore(ctrl)
			svc := New(st)

			st.EXPECT().RunInTx(gomock.Any(), gomock.Any()).DoAndReturn(runTx(st))
			st.EXPECT().FindByID(gomock.Any(), "APP-1").Return(&models.Application{
				ID: "APP-1", Stage: models.StageStaging, Status: models.StatusPending, Revision: 3,
			}, nil)
			st.EXPECT().Update(gomock.Any(), gomock.Any()).Return(tt.storeErr)

			_, err := svc.ResetStatus(ctx, "APP-1", "admin")
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestCreateRaceIsConflict(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockTxStore(ctrl)
	svc := New(st)

	st.EXPECT().RunInTx(gomock.Any(), gomock.Any()).DoAndReturn(runTx(st))
	st.EXPECT().Exists(gomock.Any(), "APP-1").Return(false, nil)
	st.EXPECT().Create(gomock.Any(), gomock.Any()).Return(fmt.Errorf("insert: %w", sentinel.ErrConflict))

	_, err := svc.Create(context.Background(), &models.Application{ID: "APP-1", ProjectID: "P1"}, "deo1")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestGuardFailureSkipsWrite(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockTxStore(ctrl)
	svc := New(st)

	st.EXPECT().RunInTx(gomock.Any(), gomock.Any()).DoAndReturn(runTx(st))
	st.EXPECT().FindByID(gomock.Any(), "APP-1").Return(&models.Application{
		ID: "APP-1", Stage: models.StageProduction, Status: models.StatusEligible,
	}, nil)
	// No Update expectation: a failed guard must not reach the store.

	_, err := svc.PromoteToProduction(context.Background(), "APP-1", "admin")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}
