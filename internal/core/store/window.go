package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dripgate/dripgate/internal/core"
)

// WindowStore is the sliding-window view of a Store.
type WindowStore struct {
	s *Store
}

// Windows returns the sliding-window view.
func (s *Store) Windows() *WindowStore {
	return &WindowStore{s: s}
}

// Trim deletes events at or before cutoff and returns the surviving count and
// oldest timestamp, inside one transaction.
func (w *WindowStore) Trim(ctx context.Context, key string, cutoff time.Time) (core.WindowState, error) {
	if w == nil || w.s == nil || w.s.DB == nil {
		return core.WindowState{}, errors.New("store is not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return core.WindowState{}, errors.New("window key is required")
	}

	tx, err := w.s.DB.BeginTx(ctx, nil)
	if err != nil {
		return core.WindowState{}, fmt.Errorf("begin trim: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	state, err := trimTx(ctx, tx, key, cutoff)
	if err != nil {
		return core.WindowState{}, err
	}
	if err := tx.Commit(); err != nil {
		return core.WindowState{}, fmt.Errorf("commit trim: %w", err)
	}
	return state, nil
}

// Reserve trims, counts and inserts inside one transaction. The leading
// DELETE takes the database write lock, so a concurrent reservation waits for
// this one to commit before it counts.
func (w *WindowStore) Reserve(ctx context.Context, slots []core.WindowSlot, at time.Time) (core.Reservation, error) {
	if w == nil || w.s == nil || w.s.DB == nil {
		return core.Reservation{}, errors.New("store is not initialized")
	}
	slots = append([]core.WindowSlot(nil), slots...)
	for i := range slots {
		slots[i].Key = strings.TrimSpace(slots[i].Key)
		if slots[i].Key == "" {
			return core.Reservation{}, errors.New("window key is required")
		}
	}

	tx, err := w.s.DB.BeginTx(ctx, nil)
	if err != nil {
		return core.Reservation{}, fmt.Errorf("begin reserve: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	reservation := core.Reservation{Blocked: -1}
	for i, slot := range slots {
		state, err := trimTx(ctx, tx, slot.Key, at.Add(-slot.Window))
		if err != nil {
			return core.Reservation{}, err
		}
		reservation.States = append(reservation.States, state)
		if state.Count >= slot.Limit {
			reservation.Blocked = i
			break
		}
	}

	if reservation.Granted() {
		for _, slot := range slots {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO window_events (window_key, at_ms, expires_at_ms)
				VALUES (?, ?, ?)
			`, slot.Key, at.UnixMilli(), at.Add(slot.Window).UnixMilli()); err != nil {
				return core.Reservation{}, fmt.Errorf("append window event: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return core.Reservation{}, fmt.Errorf("commit reserve: %w", err)
	}
	return reservation, nil
}

func trimTx(ctx context.Context, tx *sql.Tx, key string, cutoff time.Time) (core.WindowState, error) {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM window_events
		WHERE window_key = ? AND at_ms <= ?
	`, key, cutoff.UnixMilli()); err != nil {
		return core.WindowState{}, fmt.Errorf("trim window: %w", err)
	}

	var (
		count  int
		oldest sql.NullInt64
	)
	row := tx.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(at_ms)
		FROM window_events
		WHERE window_key = ?
	`, key)
	if err := row.Scan(&count, &oldest); err != nil {
		return core.WindowState{}, fmt.Errorf("read window: %w", err)
	}

	state := core.WindowState{Count: count}
	if oldest.Valid {
		state.Oldest = time.UnixMilli(oldest.Int64).UTC()
	}
	return state, nil
}

// Append records one event. A single INSERT is atomic on its own.
func (w *WindowStore) Append(ctx context.Context, key string, at time.Time, ttl time.Duration) error {
	if w == nil || w.s == nil || w.s.DB == nil {
		return errors.New("store is not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("window key is required")
	}

	_, err := w.s.DB.ExecContext(ctx, `
		INSERT INTO window_events (window_key, at_ms, expires_at_ms)
		VALUES (?, ?, ?)
	`, key, at.UnixMilli(), at.Add(ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("append window event: %w", err)
	}
	return nil
}

// PurgeExpired removes events whose window has fully elapsed across all keys.
// Trim only prunes keys that are checked again, so idle keys need this.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	result, err := s.DB.ExecContext(ctx, `
		DELETE FROM window_events WHERE expires_at_ms > 0 AND expires_at_ms <= ?
	`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge window events: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge window events: %w", err)
	}
	return affected, nil
}
