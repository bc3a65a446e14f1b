package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dripgate/dripgate/internal/core"
)

var (
	// ErrInvalidLimit is returned for negative limits.
	ErrInvalidLimit = errors.New("limit must be >= 0")
	// ErrInvalidWindow is returned for non-positive windows.
	ErrInvalidWindow = errors.New("window must be > 0")
)

// WindowStore persists per-key event timestamps.
type WindowStore interface {
	// Trim atomically drops events at or before cutoff and returns what remains.
	Trim(ctx context.Context, key string, cutoff time.Time) (core.WindowState, error)
	// Append atomically records one event at the given instant. ttl caps the
	// key lifetime on stores that support expiry.
	Append(ctx context.Context, key string, at time.Time, ttl time.Duration) error
	// Reserve trims every slot, and appends at to all of them only when each
	// is below its limit. Evaluation and append form one atomic unit, so two
	// concurrent reservations can never both take the last free slot.
	Reserve(ctx context.Context, slots []core.WindowSlot, at time.Time) (core.Reservation, error)
}

// WindowCounter answers "has key seen fewer than limit events in the last
// window" over a WindowStore.
type WindowCounter struct {
	Store WindowStore
	Clock func() time.Time
}

// Check prunes expired events and evaluates the policy. It never records.
func (w *WindowCounter) Check(ctx context.Context, key string, limit int, window time.Duration) (core.WindowDecision, error) {
	if limit < 0 {
		return core.WindowDecision{}, ErrInvalidLimit
	}
	if window <= 0 {
		return core.WindowDecision{}, ErrInvalidWindow
	}
	if w == nil || w.Store == nil {
		return core.WindowDecision{}, fmt.Errorf("window store not configured")
	}

	now := w.now()
	state, err := w.Store.Trim(ctx, key, now.Add(-window))
	if err != nil {
		return core.WindowDecision{}, fmt.Errorf("trim window %q: %w", key, err)
	}

	decision := core.WindowDecision{Count: state.Count}
	if state.Count < limit {
		decision.Allowed = true
		decision.Remaining = limit - state.Count - 1
		return decision, nil
	}

	if state.Count > 0 && !state.Oldest.IsZero() {
		decision.ResetAt = state.Oldest.Add(window)
	}
	return decision, nil
}

// Record appends the current instant to key.
func (w *WindowCounter) Record(ctx context.Context, key string, window time.Duration) error {
	if window <= 0 {
		return ErrInvalidWindow
	}
	if w == nil || w.Store == nil {
		return fmt.Errorf("window store not configured")
	}
	if err := w.Store.Append(ctx, key, w.now(), window); err != nil {
		return fmt.Errorf("append window %q: %w", key, err)
	}
	return nil
}

// Take checks and records slots as one unit. It returns one decision per
// evaluated slot and the index of the first disallowed slot, or -1 when the
// event was counted against all of them.
func (w *WindowCounter) Take(ctx context.Context, slots ...core.WindowSlot) ([]core.WindowDecision, int, error) {
	for _, slot := range slots {
		if slot.Limit < 0 {
			return nil, -1, ErrInvalidLimit
		}
		if slot.Window <= 0 {
			return nil, -1, ErrInvalidWindow
		}
	}
	if w == nil || w.Store == nil {
		return nil, -1, fmt.Errorf("window store not configured")
	}

	reservation, err := w.Store.Reserve(ctx, slots, w.now())
	if err != nil {
		return nil, -1, fmt.Errorf("reserve window: %w", err)
	}

	decisions := make([]core.WindowDecision, len(reservation.States))
	for i, state := range reservation.States {
		slot := slots[i]
		decision := core.WindowDecision{Count: state.Count}
		if i != reservation.Blocked {
			decision.Allowed = true
			decision.Remaining = slot.Limit - state.Count - 1
		} else if state.Count > 0 && !state.Oldest.IsZero() {
			decision.ResetAt = state.Oldest.Add(slot.Window)
		}
		decisions[i] = decision
	}
	return decisions, reservation.Blocked, nil
}

func (w *WindowCounter) now() time.Time {
	if w != nil && w.Clock != nil {
		return w.Clock()
	}
	return time.Now()
}
