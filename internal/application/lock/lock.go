// Package lock serializes writers per application id. Resolution workflows
// lock both records of a pair before opening their transaction.
package lock

import (
	"context"
	"slices"
)

// Locker acquires exclusive locks on application ids. Implementations take
// keys in sorted order so two workflows locking the same pair cannot deadlock.
// The returned release func is safe to call once.
type Locker interface {
	Lock(ctx context.Context, ids ...string) (release func(), err error)
}

// normalize sorts and de-duplicates ids.
func normalize(ids []string) []string {
	keys := slices.Clone(ids)
	slices.Sort(keys)
	return slices.Compact(keys)
}
