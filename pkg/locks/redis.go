package locks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisReleaseScript deletes the lock key only if it is still held by the
// releasing owner, so a holder that outlived its TTL cannot release a
// claim that has since been reclaimed by someone else.
// KEYS[1] = lock key
// ARGV[1] = owner token
var redisReleaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisManager implements Manager using Redis SET NX PX semantics.
// Expiry is handled server-side by Redis, so stale claims from crashed
// holders become reclaimable without any sweeper process.
type RedisManager struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisManager creates a manager backed by Redis.
func NewRedisManager(addr, password string, db int, logger *slog.Logger) *RedisManager {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisManager{client: rdb, logger: logger.With("component", "locks.redis")}
}

// Ping verifies the backend is reachable. The CLI uses this at startup to
// decide whether to fall back to the file-backed manager.
func (m *RedisManager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Acquire attempts an exclusive claim on productID.
func (m *RedisManager) Acquire(ctx context.Context, productID string, ttl time.Duration) (*Lease, bool, error) {
	key := fmt.Sprintf("sync_lock:product:%s", productID)
	owner := uuid.NewString()

	ok, err := m.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock acquire: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	lease := newLease(key, owner, m.logger, func(ctx context.Context) error {
		return redisReleaseScript.Run(ctx, m.client, []string{key}, owner).Err()
	})
	return lease, true, nil
}

// Close releases the underlying client.
func (m *RedisManager) Close() error {
	return m.client.Close()
}
