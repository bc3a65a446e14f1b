package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS window_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		window_key TEXT NOT NULL,
		at_ms INTEGER NOT NULL,
		expires_at_ms INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_window_events_key ON window_events(window_key, at_ms);`,
	`CREATE TABLE IF NOT EXISTS cursors (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS ledger_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		total_claims INTEGER NOT NULL DEFAULT 0,
		successful_claims INTEGER NOT NULL DEFAULT 0,
		failed_claims INTEGER NOT NULL DEFAULT 0,
		epoch_start_ms INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS ledger_counts (
		dimension TEXT NOT NULL,
		member TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (dimension, member)
	);`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		event TEXT NOT NULL,
		request_id TEXT,
		occurred_at_ms INTEGER NOT NULL,
		payload TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_event ON audit_events(event);`,
}

// Migrate ensures the required database tables exist and seeds the ledger
// epoch on first run.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	if _, err := s.DB.ExecContext(ctx, `
		INSERT INTO ledger_meta (id, epoch_start_ms) VALUES (1, ?)
		ON CONFLICT(id) DO NOTHING
	`, s.now().UnixMilli()); err != nil {
		return fmt.Errorf("seed ledger: %w", err)
	}

	if err := s.ensureColumn(ctx, "window_events", "expires_at_ms", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}

	return nil
}

func (s *Store) ensureColumn(ctx context.Context, table, column, columnDef string) error {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspect %s schema: %w", table, err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("inspect %s columns: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect %s columns: %w", table, err)
	}

	if _, err := s.DB.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, columnDef)); err != nil {
		return fmt.Errorf("add %s.%s column: %w", table, column, err)
	}

	return nil
}

func (s *Store) now() time.Time {
	if s != nil && s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}
