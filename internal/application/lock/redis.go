package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	dErrors "intake/pkg/domain-errors"
)

const (
	keyPrefix         = "intake:lock:app:"
	defaultTTL        = 10 * time.Second
	defaultRetryDelay = 25 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every process pointing at the same Redis.
// Each key is held with SET NX PX and a random token; the TTL bounds how long
// a crashed holder can block others.
type RedisLocker struct {
	client     redis.UniversalClient
	ttl        time.Duration
	retryDelay time.Duration
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithRetryDelay(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.retryDelay = d
		}
	}
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{client: client, ttl: defaultTTL, retryDelay: defaultRetryDelay}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock acquires every id in sorted order, retrying until ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, ids ...string) (func(), error) {
	token := uuid.NewString()
	keys := normalize(ids)
	held := make([]string, 0, len(keys))

	releaseHeld := func() {
		// release must not depend on the caller's possibly cancelled context
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = releaseScript.Run(rctx, l.client, []string{keyPrefix + held[i]}, token).Err()
		}
	}

	for _, id := range keys {
		if err := l.acquire(ctx, keyPrefix+id, token); err != nil {
			releaseHeld()
			return nil, err
		}
		held = append(held, id)
	}
	var once sync.Once
	return func() { once.Do(releaseHeld) }, nil
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(l.retryDelay)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return dErrors.Wrap(err, dErrors.CodeTimeout, "timed out waiting for record lock")
			}
			return dErrors.Wrap(fmt.Errorf("acquire %s: %w", key, err), dErrors.CodeUnavailable, "lock backend unreachable")
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "timed out waiting for record lock")
		case <-ticker.C:
		}
	}
}
