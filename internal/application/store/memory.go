package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"intake/internal/application/models"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/sentinel"
)

// InMemoryStore keeps records in process memory. Writers are serialized by
// writeMu; readers only take mu and always see committed state.
type InMemoryStore struct {
	writeMu sync.Mutex

	mu      sync.RWMutex
	records map[string]*models.Application
	order   []string
	outbox  []OutboxEntry

	timeout time.Duration
}

// MemoryOption configures an InMemoryStore.
type MemoryOption func(*InMemoryStore)

// WithTxTimeout bounds RunInTx when the caller's context has no deadline.
func WithTxTimeout(d time.Duration) MemoryOption {
	return func(s *InMemoryStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewInMemory(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		records: make(map[string]*models.Application),
		timeout: defaultTxTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) FindByID(_ context.Context, id string) (*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if app, ok := s.records[id]; ok {
		return app.Clone(), nil
	}
	return nil, fmt.Errorf("application %s: %w", id, sentinel.ErrNotFound)
}

func (s *InMemoryStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok, nil
}

func (s *InMemoryStore) ListAll(ctx context.Context) ([]*models.Application, error) {
	return s.List(ctx, Filter{})
}

func (s *InMemoryStore) List(_ context.Context, filter Filter) ([]*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Application, 0, len(s.order))
	for _, id := range s.order {
		if app := s.records[id]; filter.Matches(app) {
			out = append(out, app.Clone())
		}
	}
	return out, nil
}

// Create and Update outside RunInTx run as single-statement transactions.
func (s *InMemoryStore) Create(ctx context.Context, app *models.Application) error {
	return s.RunInTx(ctx, func(tx Store) error { return tx.Create(ctx, app) })
}

func (s *InMemoryStore) Update(ctx context.Context, app *models.Application) error {
	return s.RunInTx(ctx, func(tx Store) error { return tx.Update(ctx, app) })
}

// RunInTx stages writes and commits them only when fn returns nil.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(store Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	tx := &memoryTx{base: s, staged: make(map[string]*models.Application)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted before commit")
	}
	s.commit(tx)
	return nil
}

func (s *InMemoryStore) commit(tx *memoryTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range tx.created {
		s.order = append(s.order, id)
	}
	for id, app := range tx.staged {
		s.records[id] = app
	}
	s.outbox = append(s.outbox, tx.outbox...)
}

// ClaimPending publishes up to limit pending entries in creation order.
// Published entries are dropped, so the outbox only holds unpublished work.
func (s *InMemoryStore) ClaimPending(ctx context.Context, limit int, publish func(ctx context.Context, entries []OutboxEntry) error) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	s.mu.RLock()
	n := min(limit, len(s.outbox))
	batch := slices.Clone(s.outbox[:n])
	s.mu.RUnlock()

	if len(batch) == 0 {
		return 0, nil
	}
	if err := publish(ctx, batch); err != nil {
		return 0, err
	}

	claimed := make(map[uuid.UUID]struct{}, len(batch))
	for _, e := range batch {
		claimed[e.ID] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = slices.DeleteFunc(s.outbox, func(e OutboxEntry) bool {
		_, ok := claimed[e.ID]
		return ok
	})
	return len(batch), nil
}

// PendingOutbox returns the ids of entries not yet published.
func (s *InMemoryStore) PendingOutbox() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uuid.UUID
	for _, e := range s.outbox {
		ids = append(ids, e.ID)
	}
	return ids
}

// memoryTx is the Store handed to RunInTx callbacks. Reads see staged writes first.
type memoryTx struct {
	base    *InMemoryStore
	staged  map[string]*models.Application
	created []string
	outbox  []OutboxEntry
}

func (t *memoryTx) current(id string) (*models.Application, bool) {
	if app, ok := t.staged[id]; ok {
		return app, true
	}
	t.base.mu.RLock()
	defer t.base.mu.RUnlock()
	app, ok := t.base.records[id]
	return app, ok
}

func (t *memoryTx) FindByID(_ context.Context, id string) (*models.Application, error) {
	if app, ok := t.current(id); ok {
		return app.Clone(), nil
	}
	return nil, fmt.Errorf("application %s: %w", id, sentinel.ErrNotFound)
}

func (t *memoryTx) Exists(_ context.Context, id string) (bool, error) {
	_, ok := t.current(id)
	return ok, nil
}

func (t *memoryTx) ListAll(ctx context.Context) ([]*models.Application, error) {
	return t.List(ctx, Filter{})
}

func (t *memoryTx) List(_ context.Context, filter Filter) ([]*models.Application, error) {
	t.base.mu.RLock()
	ids := slices.Clone(t.base.order)
	t.base.mu.RUnlock()
	ids = append(ids, t.created...)

	out := make([]*models.Application, 0, len(ids))
	for _, id := range ids {
		if app, ok := t.current(id); ok && filter.Matches(app) {
			out = append(out, app.Clone())
		}
	}
	return out, nil
}

func (t *memoryTx) Create(ctx context.Context, app *models.Application) error {
	if _, ok := t.current(app.ID); ok {
		return fmt.Errorf("application %s: %w", app.ID, sentinel.ErrConflict)
	}
	if err := checkSequences(app.AuditLog, 0); err != nil {
		return err
	}
	entries, err := outboxEntries(ctx, app, 0)
	if err != nil {
		return err
	}
	app.Revision = 1
	t.staged[app.ID] = app.Clone()
	t.created = append(t.created, app.ID)
	t.outbox = append(t.outbox, entries...)
	return nil
}

func (t *memoryTx) Update(ctx context.Context, app *models.Application) error {
	stored, ok := t.current(app.ID)
	if !ok {
		return fmt.Errorf("application %s: %w", app.ID, sentinel.ErrNotFound)
	}
	if stored.Revision != app.Revision {
		return fmt.Errorf("application %s at revision %d, write based on %d: %w", app.ID, stored.Revision, app.Revision, sentinel.ErrStaleWrite)
	}
	if err := checkAuditExtension(stored.AuditLog, app.AuditLog); err != nil {
		return fmt.Errorf("application %s: %w", app.ID, err)
	}
	entries, err := outboxEntries(ctx, app, len(stored.AuditLog))
	if err != nil {
		return err
	}
	app.Revision++
	t.staged[app.ID] = app.Clone()
	t.outbox = append(t.outbox, entries...)
	return nil
}
