package locks

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLiteManager is the degraded single-process fallback used when Redis
// is unreachable. It keeps claims in a local SQLite file; mutual
// exclusion holds within the process (and across processes sharing the
// file) but not across hosts.
type SQLiteManager struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteManager opens (or creates) the lock database under dir.
func NewSQLiteManager(dir string, logger *slog.Logger) (*SQLiteManager, error) {
	db, err := sql.Open("sqlite", filepath.Join(dir, "sync_locks.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open lock db: %w", err)
	}
	m := &SQLiteManager{db: db, logger: logger.With("component", "locks.sqlite"), now: time.Now}
	if err := m.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *SQLiteManager) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS sync_locks (
        key        TEXT PRIMARY KEY,
        owner      TEXT NOT NULL,
        claimed_at INTEGER NOT NULL,
        ttl_ms     INTEGER NOT NULL
    );`
	_, err := m.db.ExecContext(context.Background(), query)
	return err
}

// Acquire claims productID via exclusive-create; an existing row is
// overwritten only when its claim has outlived its TTL.
func (m *SQLiteManager) Acquire(ctx context.Context, productID string, ttl time.Duration) (*Lease, bool, error) {
	key := fmt.Sprintf("sync_lock:product:%s", productID)
	owner := uuid.NewString()
	nowMs := m.now().UnixMilli()

	query := `
        INSERT INTO sync_locks (key, owner, claimed_at, ttl_ms)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET
            owner = excluded.owner,
            claimed_at = excluded.claimed_at,
            ttl_ms = excluded.ttl_ms
        WHERE excluded.claimed_at - sync_locks.claimed_at >= sync_locks.ttl_ms
    `
	res, err := m.db.ExecContext(ctx, query, key, owner, nowMs, ttl.Milliseconds())
	if err != nil {
		return nil, false, fmt.Errorf("sqlite lock acquire: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("sqlite lock acquire: %w", err)
	}
	if n == 0 {
		return nil, false, nil
	}

	lease := newLease(key, owner, m.logger, func(ctx context.Context) error {
		_, err := m.db.ExecContext(ctx,
			"DELETE FROM sync_locks WHERE key = ? AND owner = ?", key, owner)
		return err
	})
	return lease, true, nil
}

// Close closes the lock database.
func (m *SQLiteManager) Close() error {
	return m.db.Close()
}
