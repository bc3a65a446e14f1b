package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dripgate/dripgate/internal/core"
)

// LedgerStore persists the claim ledger. Apply must update every counter of
// the delta as one atomic unit.
type LedgerStore interface {
	Apply(ctx context.Context, delta core.LedgerDelta) error
	Load(ctx context.Context) (core.LedgerSnapshot, error)
	Reset(ctx context.Context, epoch time.Time) error
}

// Ledger records dispatched claim outcomes and derives operator statistics.
type Ledger struct {
	Store LedgerStore
	Pool  *CredentialPool
	Audit *Auditor
	Clock func() time.Time
}

// Record applies one outcome.
func (l *Ledger) Record(ctx context.Context, mode core.Mode, network string, success bool, credentialIndex *int) error {
	delta := core.LedgerDelta{
		Mode:            mode,
		Network:         network,
		Success:         success,
		CredentialIndex: credentialIndex,
	}
	if err := l.Store.Apply(ctx, delta); err != nil {
		return fmt.Errorf("apply ledger delta: %w", err)
	}
	return nil
}

// Snapshot returns a consistent copy of the counters.
func (l *Ledger) Snapshot(ctx context.Context) (core.LedgerSnapshot, error) {
	snap, err := l.Store.Load(ctx)
	if err != nil {
		return core.LedgerSnapshot{}, fmt.Errorf("load ledger: %w", err)
	}
	return snap, nil
}

// Stats returns the snapshot with derived fields.
func (l *Ledger) Stats(ctx context.Context) (core.Stats, error) {
	snap, err := l.Snapshot(ctx)
	if err != nil {
		return core.Stats{}, err
	}
	cursor := 0
	if l.Pool.Size() > 0 {
		_, idx, _, err := l.Pool.Current(ctx)
		if err != nil {
			return core.Stats{}, err
		}
		cursor = idx
	}
	return core.BuildStats(snap, l.now(), l.Pool.Size(), cursor), nil
}

// IsBalanced reports whether credential usage is within tolerance of the mean.
func (l *Ledger) IsBalanced(ctx context.Context, tolerance float64) (bool, error) {
	snap, err := l.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return core.IsBalanced(snap.CredentialUsage, l.Pool.Size(), tolerance), nil
}

// Reset zeroes the ledger with a fresh epoch and rewinds the rotation cursor.
// It is not reversible.
func (l *Ledger) Reset(ctx context.Context, requestID string) (core.LedgerSnapshot, error) {
	before, err := l.Snapshot(ctx)
	if err != nil {
		return core.LedgerSnapshot{}, err
	}
	epoch := l.now()
	if err := l.Store.Reset(ctx, epoch); err != nil {
		return core.LedgerSnapshot{}, fmt.Errorf("reset ledger: %w", err)
	}
	if err := l.Pool.Reset(ctx); err != nil {
		return core.LedgerSnapshot{}, err
	}

	l.Audit.Emit(ctx, core.AuditEvent{
		Event:     core.AuditLedgerReset,
		RequestID: requestID,
		Success:   true,
		Detail:    fmt.Sprintf("discarded %d claims", before.TotalClaims),
	})
	return before, nil
}

func (l *Ledger) now() time.Time {
	if l.Clock != nil {
		return l.Clock().UTC()
	}
	return time.Now().UTC()
}
