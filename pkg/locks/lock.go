// Package locks provides per-product mutual exclusion for reconciliation
// runs. A lock is keyed by storefront product ID, held by at most one
// owner at a time, and expires after a TTL so a crashed holder cannot
// deadlock the key forever.
package locks

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Manager hands out product leases. Acquire returns (lease, true, nil) on
// success, (nil, false, nil) when the key is held by someone else, and a
// non-nil error only when the backend itself failed.
type Manager interface {
	Acquire(ctx context.Context, productID string, ttl time.Duration) (*Lease, bool, error)
}

// Lease is an acquired lock. Release is idempotent and never fails: a
// backend error on release is logged and swallowed, since the TTL will
// reap the claim anyway.
type Lease struct {
	Key   string
	Owner string

	once    sync.Once
	release func(ctx context.Context) error
	logger  *slog.Logger
}

func newLease(key, owner string, logger *slog.Logger, release func(ctx context.Context) error) *Lease {
	return &Lease{Key: key, Owner: owner, release: release, logger: logger}
}

// Release frees the lease if it is still held by this owner.
func (l *Lease) Release(ctx context.Context) {
	l.once.Do(func() {
		if err := l.release(ctx); err != nil {
			l.logger.WarnContext(ctx, "lock release failed, relying on TTL expiry",
				"key", l.Key, "error", err)
		}
	})
}
