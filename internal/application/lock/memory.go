package lock

import (
	"context"
	"slices"
	"sync"

	dErrors "intake/pkg/domain-errors"
)

// numShards spreads ids over a fixed set of mutexes.
const numShards = 128

// ShardedLocker is an in-process Locker backed by FNV-hashed mutex shards.
type ShardedLocker struct {
	shards [numShards]chan struct{}
	once   sync.Once
}

func NewSharded() *ShardedLocker {
	l := &ShardedLocker{}
	l.init()
	return l
}

func (l *ShardedLocker) init() {
	l.once.Do(func() {
		for i := range l.shards {
			l.shards[i] = make(chan struct{}, 1)
		}
	})
}

// Lock blocks until every shard covering ids is held or ctx is done.
func (l *ShardedLocker) Lock(ctx context.Context, ids ...string) (func(), error) {
	l.init()
	shards := make([]int, 0, len(ids))
	for _, id := range normalize(ids) {
		shards = append(shards, int(hashString(id)%numShards))
	}
	slices.Sort(shards)
	shards = slices.Compact(shards)

	held := make([]int, 0, len(shards))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-l.shards[held[i]]
		}
	}
	for _, shard := range shards {
		select {
		case l.shards[shard] <- struct{}{}:
			held = append(held, shard)
		case <-ctx.Done():
			release()
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "timed out waiting for record lock")
		}
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}

// hashString uses FNV-1a for an even shard distribution.
func hashString(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
