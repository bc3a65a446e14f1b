package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dripgate/dripgate/internal/core"
)

const (
	dimensionNetwork    = "network"
	dimensionMode       = "mode"
	dimensionCredential = "credential"
)

// LedgerStore is the claim-ledger view of a Store.
type LedgerStore struct {
	s *Store
}

// Ledger returns the claim-ledger view.
func (s *Store) Ledger() *LedgerStore {
	return &LedgerStore{s: s}
}

// Apply updates every counter touched by delta in one transaction.
func (l *LedgerStore) Apply(ctx context.Context, delta core.LedgerDelta) error {
	if l == nil || l.s == nil || l.s.DB == nil {
		return errors.New("store is not initialized")
	}

	success, failed := 0, 1
	if delta.Success {
		success, failed = 1, 0
	}

	tx, err := l.s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger update: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `
		UPDATE ledger_meta
		SET total_claims = total_claims + 1,
			successful_claims = successful_claims + ?,
			failed_claims = failed_claims + ?
		WHERE id = 1
	`, success, failed); err != nil {
		return fmt.Errorf("update ledger totals: %w", err)
	}

	members := [][2]string{
		{dimensionMode, string(delta.Mode)},
		{dimensionNetwork, delta.Network},
	}
	if delta.CredentialIndex != nil {
		members = append(members, [2]string{dimensionCredential, strconv.Itoa(*delta.CredentialIndex)})
	}
	for _, member := range members {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_counts (dimension, member, count) VALUES (?, ?, 1)
			ON CONFLICT(dimension, member) DO UPDATE SET count = count + 1
		`, member[0], member[1]); err != nil {
			return fmt.Errorf("update ledger %s: %w", member[0], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger update: %w", err)
	}
	return nil
}

// Load reads a consistent snapshot inside one transaction.
func (l *LedgerStore) Load(ctx context.Context) (core.LedgerSnapshot, error) {
	if l == nil || l.s == nil || l.s.DB == nil {
		return core.LedgerSnapshot{}, errors.New("store is not initialized")
	}

	tx, err := l.s.DB.BeginTx(ctx, nil)
	if err != nil {
		return core.LedgerSnapshot{}, fmt.Errorf("begin ledger read: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // read-only transaction

	var (
		total, successful, failed int64
		epochMS                   int64
	)
	row := tx.QueryRowContext(ctx, `
		SELECT total_claims, successful_claims, failed_claims, epoch_start_ms
		FROM ledger_meta WHERE id = 1
	`)
	if err := row.Scan(&total, &successful, &failed, &epochMS); err != nil {
		return core.LedgerSnapshot{}, fmt.Errorf("read ledger totals: %w", err)
	}

	snap := core.NewLedgerSnapshot(time.UnixMilli(epochMS))
	snap.TotalClaims = total
	snap.SuccessfulClaims = successful
	snap.FailedClaims = failed

	rows, err := tx.QueryContext(ctx, `SELECT dimension, member, count FROM ledger_counts`)
	if err != nil {
		return core.LedgerSnapshot{}, fmt.Errorf("read ledger counts: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	for rows.Next() {
		var (
			dimension, member string
			count             int64
		)
		if err := rows.Scan(&dimension, &member, &count); err != nil {
			return core.LedgerSnapshot{}, fmt.Errorf("scan ledger counts: %w", err)
		}
		switch dimension {
		case dimensionNetwork:
			snap.ClaimsByNetwork[member] = count
		case dimensionMode:
			snap.ClaimsByMode[member] = count
		case dimensionCredential:
			idx, err := strconv.Atoi(member)
			if err != nil {
				return core.LedgerSnapshot{}, fmt.Errorf("invalid credential index %q: %w", member, err)
			}
			snap.CredentialUsage[idx] = count
		}
	}
	if err := rows.Err(); err != nil {
		return core.LedgerSnapshot{}, fmt.Errorf("read ledger counts: %w", err)
	}

	return snap, nil
}

// Reset zeroes every counter and starts a new epoch.
func (l *LedgerStore) Reset(ctx context.Context, epoch time.Time) error {
	if l == nil || l.s == nil || l.s.DB == nil {
		return errors.New("store is not initialized")
	}

	tx, err := l.s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger reset: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_counts`); err != nil {
		return fmt.Errorf("reset ledger counts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_meta (id, total_claims, successful_claims, failed_claims, epoch_start_ms)
		VALUES (1, 0, 0, 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_claims = 0,
			successful_claims = 0,
			failed_claims = 0,
			epoch_start_ms = excluded.epoch_start_ms
	`, epoch.UnixMilli()); err != nil {
		return fmt.Errorf("reset ledger totals: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger reset: %w", err)
	}
	return nil
}
