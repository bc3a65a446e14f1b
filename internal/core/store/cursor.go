package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CursorStore is the named-counter view of a Store.
type CursorStore struct {
	s *Store
}

// Cursors returns the named-counter view.
func (s *Store) Cursors() *CursorStore {
	return &CursorStore{s: s}
}

// Load returns the current value of a named counter, zero when unset.
func (c *CursorStore) Load(ctx context.Context, name string) (int64, error) {
	if c == nil || c.s == nil || c.s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	var value int64
	err := c.s.DB.QueryRowContext(ctx, `SELECT value FROM cursors WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	return value, nil
}

// Increment adds one to a named counter in a single upsert and returns the
// new value.
func (c *CursorStore) Increment(ctx context.Context, name string) (int64, error) {
	if c == nil || c.s == nil || c.s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	var value int64
	err := c.s.DB.QueryRowContext(ctx, `
		INSERT INTO cursors (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value
	`, name).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("increment cursor: %w", err)
	}
	return value, nil
}

// Reset sets a named counter back to zero.
func (c *CursorStore) Reset(ctx context.Context, name string) error {
	if c == nil || c.s == nil || c.s.DB == nil {
		return errors.New("store is not initialized")
	}
	if _, err := c.s.DB.ExecContext(ctx, `DELETE FROM cursors WHERE name = ?`, name); err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}
	return nil
}
