// Package rms is the read model over the legacy retail-management
// database. The reverse synchronizer only reads from it; stock mutation
// happens elsewhere.
package rms

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// StockRecord is one SKU row under a parent code, as stored in RMS.
// Quantity may be negative when the item is oversold; callers decide how
// to clamp.
type StockRecord struct {
	SKU      string
	Quantity int
}

// Store queries authoritative stock from the RMS database.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to the RMS database.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open rms database: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// VariantsByParentCode returns every SKU row sharing the given parent
// code (CCOD). An unknown code yields an empty slice, not an error.
func (s *Store) VariantsByParentCode(ctx context.Context, ccod string) ([]StockRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT item_lookup_code, quantity FROM rms_items WHERE parent_code = $1",
		ccod)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock for code %s: %w", ccod, err)
	}
	defer rows.Close()

	var records []StockRecord
	for rows.Next() {
		var r StockRecord
		if err := rows.Scan(&r.SKU, &r.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan stock row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stock rows: %w", err)
	}
	return records, nil
}
