package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dripgate/dripgate/internal/core"
)

func whereClause(q core.WindowQuery) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	if key := strings.TrimSpace(q.Key); key != "" {
		return "WHERE window_key = ?", []any{key}, nil
	}
	prefix := strings.TrimSpace(q.Prefix)
	if prefix == "" {
		return "", nil, errors.New("prefix is required")
	}
	return "WHERE window_key LIKE ?", []any{prefix + "%"}, nil
}

// ListWindows summarizes stored events per key.
func (w *WindowStore) ListWindows(ctx context.Context, q core.WindowQuery) ([]core.WindowEntry, error) {
	if w == nil || w.s == nil || w.s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	where, args, err := whereClause(q)
	if err != nil {
		return nil, err
	}

	rows, err := w.s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT window_key, COUNT(*), MIN(at_ms), MAX(at_ms)
		FROM window_events
		%s
		GROUP BY window_key
		ORDER BY window_key
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []core.WindowEntry{}
	for rows.Next() {
		var (
			key            string
			events         int
			oldest, newest int64
		)
		if err := rows.Scan(&key, &events, &oldest, &newest); err != nil {
			return nil, fmt.Errorf("scan windows: %w", err)
		}
		entries = append(entries, core.WindowEntry{
			Key:    key,
			Events: events,
			Oldest: time.UnixMilli(oldest).UTC(),
			Newest: time.UnixMilli(newest).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}

	return entries, nil
}

// CountWindows returns the number of distinct keys matching q.
func (w *WindowStore) CountWindows(ctx context.Context, q core.WindowQuery) (int, error) {
	if w == nil || w.s == nil || w.s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	where, args, err := whereClause(q)
	if err != nil {
		return 0, err
	}

	row := w.s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(DISTINCT window_key)
		FROM window_events
		%s
	`, where), args...)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count windows: %w", err)
	}
	return count, nil
}

// ResetWindows deletes every event of the matching keys.
func (w *WindowStore) ResetWindows(ctx context.Context, q core.WindowQuery) (int64, error) {
	if w == nil || w.s == nil || w.s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	where, args, err := whereClause(q)
	if err != nil {
		return 0, err
	}

	result, err := w.s.DB.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM window_events
		%s
	`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset windows: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset windows: %w", err)
	}
	return affected, nil
}
