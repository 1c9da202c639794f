package auth

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"intake/internal/platform/config"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/requestcontext"
)

// LockoutStore tracks failed logins per client IP. Stores are pure I/O; the
// attempt limit and lock duration live in Lockout.
type LockoutStore interface {
	// RecordFailure counts a failure and returns the failures seen within window.
	RecordFailure(ctx context.Context, ip string, now time.Time, window time.Duration) (int, error)
	Lock(ctx context.Context, ip string, now, until time.Time) error
	// LockedUntil reports the end of an active lock.
	LockedUntil(ctx context.Context, ip string, now time.Time) (time.Time, bool, error)
	// ListLocked returns every client whose lock is still active at now.
	ListLocked(ctx context.Context, now time.Time) ([]LockedClient, error)
	Clear(ctx context.Context, ip string) error
}

// LockedClient is a client IP barred from logging in.
type LockedClient struct {
	IP          string    `json:"ip"`
	LockedUntil time.Time `json:"lockedUntil"`
}

// Lockout locks a client IP after too many failed logins.
type Lockout struct {
	store       LockoutStore
	maxAttempts int
	duration    time.Duration
	logger      *slog.Logger
}

type LockoutOption func(*Lockout)

func WithLockoutLogger(logger *slog.Logger) LockoutOption {
	return func(l *Lockout) {
		l.logger = logger
	}
}

// WithLockoutPolicy overrides the attempt limit and lock duration.
func WithLockoutPolicy(maxAttempts int, duration time.Duration) LockoutOption {
	return func(l *Lockout) {
		if maxAttempts > 0 {
			l.maxAttempts = maxAttempts
		}
		if duration > 0 {
			l.duration = duration
		}
	}
}

func NewLockout(store LockoutStore, opts ...LockoutOption) *Lockout {
	l := &Lockout{
		store:       store,
		maxAttempts: config.DefaultMaxFailedLogins,
		duration:    config.DefaultLoginLockout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check fails with CodeForbidden while ip is locked.
func (l *Lockout) Check(ctx context.Context, ip string) error {
	_, locked, err := l.store.LockedUntil(ctx, ip, requestcontext.Now(ctx))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read login lockout")
	}
	if locked {
		return dErrors.New(dErrors.CodeForbidden, "Access Denied: IP is locked")
	}
	return nil
}

// RecordFailure counts a failed login and locks ip once the limit is reached.
// It returns the attempts left before the lock.
func (l *Lockout) RecordFailure(ctx context.Context, ip string) (int, error) {
	now := requestcontext.Now(ctx)
	failures, err := l.store.RecordFailure(ctx, ip, now, l.duration)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record login failure")
	}
	if failures < l.maxAttempts {
		return l.maxAttempts - failures, nil
	}
	until := now.Add(l.duration)
	if err := l.store.Lock(ctx, ip, now, until); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock client")
	}
	if l.logger != nil {
		l.logger.WarnContext(ctx, "login_ip_locked",
			"event", "login_ip_locked",
			"log_type", "audit",
			"ip", ip,
			"failures", failures,
			"locked_until", until,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return 0, nil
}

func (l *Lockout) Clear(ctx context.Context, ip string) error {
	if err := l.store.Clear(ctx, ip); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear login failures")
	}
	return nil
}

// ListLocked returns the locked clients ordered by IP.
func (l *Lockout) ListLocked(ctx context.Context) ([]LockedClient, error) {
	locked, err := l.store.ListLocked(ctx, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list locked clients")
	}
	slices.SortFunc(locked, func(a, b LockedClient) int {
		return strings.Compare(a.IP, b.IP)
	})
	return locked, nil
}

// Unlock lifts the lock on ip and forgets its failures. Unlocking a client
// that is not locked succeeds.
func (l *Lockout) Unlock(ctx context.Context, ip string) error {
	if err := l.store.Clear(ctx, ip); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to unlock client")
	}
	if l.logger != nil {
		l.logger.InfoContext(ctx, "login_ip_unlocked",
			"event", "login_ip_unlocked",
			"log_type", "audit",
			"ip", ip,
			"actor", requestcontext.Actor(ctx),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return nil
}

type lockoutRecord struct {
	failures    int
	windowEnd   time.Time
	lockedUntil time.Time
}

// MemoryLockoutStore keeps lockout state in process memory.
type MemoryLockoutStore struct {
	mu      sync.Mutex
	records map[string]*lockoutRecord
}

func NewMemoryLockoutStore() *MemoryLockoutStore {
	return &MemoryLockoutStore{records: make(map[string]*lockoutRecord)}
}

func (s *MemoryLockoutStore) RecordFailure(_ context.Context, ip string, now time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[ip]
	if !ok {
		rec = &lockoutRecord{}
		s.records[ip] = rec
	}
	if !now.Before(rec.windowEnd) {
		rec.failures = 0
	}
	rec.failures++
	rec.windowEnd = now.Add(window)
	return rec.failures, nil
}

func (s *MemoryLockoutStore) Lock(_ context.Context, ip string, _, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[ip]
	if !ok {
		rec = &lockoutRecord{}
		s.records[ip] = rec
	}
	rec.lockedUntil = until
	return nil
}

func (s *MemoryLockoutStore) LockedUntil(_ context.Context, ip string, now time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[ip]
	if !ok || !now.Before(rec.lockedUntil) {
		return time.Time{}, false, nil
	}
	return rec.lockedUntil, true, nil
}

func (s *MemoryLockoutStore) ListLocked(_ context.Context, now time.Time) ([]LockedClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	locked := []LockedClient{}
	for ip, rec := range s.records {
		if now.Before(rec.lockedUntil) {
			locked = append(locked, LockedClient{IP: ip, LockedUntil: rec.lockedUntil})
		}
	}
	return locked, nil
}

func (s *MemoryLockoutStore) Clear(_ context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, ip)
	return nil
}

const (
	failureKeyPrefix = "intake:login:failures:"
	lockKeyPrefix    = "intake:login:lock:"
)

// RedisLockoutStore shares lockout state between instances. Failures are an
// expiring counter; a lock is a key whose TTL is the remaining lock time.
type RedisLockoutStore struct {
	client redis.UniversalClient
}

func NewRedisLockoutStore(client redis.UniversalClient) *RedisLockoutStore {
	return &RedisLockoutStore{client: client}
}

func (s *RedisLockoutStore) RecordFailure(ctx context.Context, ip string, _ time.Time, window time.Duration) (int, error) {
	key := failureKeyPrefix + ip
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("record login failure: %w", err)
	}
	return int(incr.Val()), nil
}

func (s *RedisLockoutStore) Lock(ctx context.Context, ip string, now, until time.Time) error {
	if err := s.client.Set(ctx, lockKeyPrefix+ip, until.UTC().Format(time.RFC3339), until.Sub(now)).Err(); err != nil {
		return fmt.Errorf("lock client: %w", err)
	}
	return nil
}

func (s *RedisLockoutStore) LockedUntil(ctx context.Context, ip string, now time.Time) (time.Time, bool, error) {
	ttl, err := s.client.PTTL(ctx, lockKeyPrefix+ip).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read login lock: %w", err)
	}
	// PTTL is negative when the key is missing or has no expiry.
	if ttl <= 0 {
		return time.Time{}, false, nil
	}
	return now.Add(ttl), true, nil
}

// ListLocked scans the lock keys. On a cluster client only the node serving
// the scan is covered.
func (s *RedisLockoutStore) ListLocked(ctx context.Context, now time.Time) ([]LockedClient, error) {
	locked := []LockedClient{}
	iter := s.client.Scan(ctx, 0, lockKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := s.client.PTTL(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("read login lock: %w", err)
		}
		if ttl <= 0 {
			continue
		}
		locked = append(locked, LockedClient{
			IP:          strings.TrimPrefix(key, lockKeyPrefix),
			LockedUntil: now.Add(ttl),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan login locks: %w", err)
	}
	return locked, nil
}

func (s *RedisLockoutStore) Clear(ctx context.Context, ip string) error {
	if err := s.client.Del(ctx, failureKeyPrefix+ip, lockKeyPrefix+ip).Err(); err != nil {
		return fmt.Errorf("clear login failures: %w", err)
	}
	return nil
}
