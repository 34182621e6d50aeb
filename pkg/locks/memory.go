package locks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryClaim struct {
	owner     string
	claimedAt time.Time
	ttl       time.Duration
}

// MemoryManager is an in-process Manager for tests and for deterministic
// single-process runs. The clock is injectable so TTL expiry can be
// tested without sleeping.
type MemoryManager struct {
	mu     sync.Mutex
	claims map[string]memoryClaim
	logger *slog.Logger
	now    func() time.Time
}

// NewMemoryManager creates an empty in-memory manager.
func NewMemoryManager(logger *slog.Logger) *MemoryManager {
	return &MemoryManager{
		claims: make(map[string]memoryClaim),
		logger: logger.With("component", "locks.memory"),
		now:    time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (m *MemoryManager) SetClock(now func() time.Time) {
	m.now = now
}

// Acquire claims productID unless an unexpired claim exists.
func (m *MemoryManager) Acquire(_ context.Context, productID string, ttl time.Duration) (*Lease, bool, error) {
	key := fmt.Sprintf("sync_lock:product:%s", productID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.claims[key]; ok {
		if m.now().Sub(c.claimedAt) < c.ttl {
			return nil, false, nil
		}
		// Stale claim from a crashed holder, reclaim it.
	}

	owner := uuid.NewString()
	m.claims[key] = memoryClaim{owner: owner, claimedAt: m.now(), ttl: ttl}

	lease := newLease(key, owner, m.logger, func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.claims[key]; ok && c.owner == owner {
			delete(m.claims, key)
		}
		return nil
	})
	return lease, true, nil
}
