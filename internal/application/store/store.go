// Package store persists application records together with their audit log.
//
// Stores return sentinel facts from pkg/platform/sentinel; services translate
// them into coded domain errors.
package store

import (
	"context"
	"time"

	"intake/internal/application/models"
)

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks

// Store is the single authority for application records.
//
// Create inserts atomically and fails with sentinel.ErrConflict when the id
// exists. Update is optimistic: the stored revision must equal app.Revision,
// else sentinel.ErrStaleWrite; on success app.Revision is incremented. Update
// also rejects any audit log that does not extend the stored one with
// sentinel.ErrInvalidState. Every appended audit entry is mirrored into the
// outbox in the same commit.
type Store interface {
	FindByID(ctx context.Context, id string) (*models.Application, error)
	Exists(ctx context.Context, id string) (bool, error)
	// ListAll returns every record, archived included, in insertion order.
	ListAll(ctx context.Context) ([]*models.Application, error)
	List(ctx context.Context, filter Filter) ([]*models.Application, error)
	Create(ctx context.Context, app *models.Application) error
	Update(ctx context.Context, app *models.Application) error
}

// Tx runs fn against a transaction-bound Store. Writes made through that
// Store commit together only when fn returns nil.
type Tx interface {
	RunInTx(ctx context.Context, fn func(store Store) error) error
}

// TxStore is a Store that can also open transactions.
type TxStore interface {
	Store
	Tx
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	ProjectID    string
	Stage        models.Stage
	Status       models.Status
	MergedIntoID string
}

// Matches reports whether app satisfies every set field of f.
func (f Filter) Matches(app *models.Application) bool {
	if f.ProjectID != "" && app.ProjectID != f.ProjectID {
		return false
	}
	if f.Stage != "" && app.Stage != f.Stage {
		return false
	}
	if f.Status != "" && app.Status != f.Status {
		return false
	}
	if f.MergedIntoID != "" && app.MergedIntoID != f.MergedIntoID {
		return false
	}
	return true
}

// defaultTxTimeout bounds a transaction when the caller set no deadline.
const defaultTxTimeout = 5 * time.Second
