// Package memstore keeps gateway state in process memory. It is meant for
// development and tests: state is lost on restart and is not shared between
// instances.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dripgate/dripgate/internal/core"
)

// DefaultAuditCapacity bounds the in-memory audit ring.
const DefaultAuditCapacity = 1000

// Store holds every view behind one mutex.
type Store struct {
	mu sync.Mutex

	windows map[string][]time.Time
	cursors map[string]int64
	ledger  core.LedgerSnapshot

	audit    []core.AuditEvent
	auditCap int
	auditPos int
	auditLen int
}

// New returns an empty store whose ledger epoch is now.
func New(now time.Time, auditCapacity int) *Store {
	if auditCapacity <= 0 {
		auditCapacity = DefaultAuditCapacity
	}
	return &Store{
		windows:  map[string][]time.Time{},
		cursors:  map[string]int64{},
		ledger:   core.NewLedgerSnapshot(now),
		audit:    make([]core.AuditEvent, auditCapacity),
		auditCap: auditCapacity,
	}
}

// WindowStore is the sliding-window view.
type WindowStore struct{ s *Store }

// CursorStore is the cursor view.
type CursorStore struct{ s *Store }

// LedgerStore is the claim-ledger view.
type LedgerStore struct{ s *Store }

// AuditStore is the audit ring view.
type AuditStore struct{ s *Store }

func (s *Store) Windows() *WindowStore { return &WindowStore{s: s} }
func (s *Store) Cursors() *CursorStore { return &CursorStore{s: s} }
func (s *Store) Ledger() *LedgerStore  { return &LedgerStore{s: s} }
func (s *Store) Audit() *AuditStore    { return &AuditStore{s: s} }

func (w *WindowStore) Trim(_ context.Context, key string, cutoff time.Time) (core.WindowState, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.trimLocked(key, cutoff), nil
}

// Append keeps each key sorted so Trim can read the oldest event directly.
func (w *WindowStore) Append(_ context.Context, key string, at time.Time, _ time.Duration) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	events := append(w.s.windows[key], at)
	sort.Slice(events, func(i, j int) bool { return events[i].Before(events[j]) })
	w.s.windows[key] = events
	return nil
}

// Reserve runs under the store mutex, which makes it atomic with respect to
// every other view.
func (w *WindowStore) Reserve(_ context.Context, slots []core.WindowSlot, at time.Time) (core.Reservation, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	reservation := core.Reservation{Blocked: -1}
	for i, slot := range slots {
		state := w.trimLocked(slot.Key, at.Add(-slot.Window))
		reservation.States = append(reservation.States, state)
		if state.Count >= slot.Limit {
			reservation.Blocked = i
			return reservation, nil
		}
	}
	for _, slot := range slots {
		events := append(w.s.windows[slot.Key], at)
		sort.Slice(events, func(i, j int) bool { return events[i].Before(events[j]) })
		w.s.windows[slot.Key] = events
	}
	return reservation, nil
}

func (w *WindowStore) trimLocked(key string, cutoff time.Time) core.WindowState {
	events := w.s.windows[key]
	kept := events[:0]
	for _, at := range events {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(w.s.windows, key)
		return core.WindowState{}
	}
	w.s.windows[key] = kept
	return core.WindowState{Count: len(kept), Oldest: kept[0]}
}

func (w *WindowStore) matching(q core.WindowQuery) ([]string, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	keys := []string{}
	for key := range w.s.windows {
		switch {
		case q.All:
		case strings.TrimSpace(q.Key) != "":
			if key != strings.TrimSpace(q.Key) {
				continue
			}
		default:
			if !strings.HasPrefix(key, strings.TrimSpace(q.Prefix)) {
				continue
			}
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// ListWindows summarizes stored events per key.
func (w *WindowStore) ListWindows(_ context.Context, q core.WindowQuery) ([]core.WindowEntry, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	keys, err := w.matching(q)
	if err != nil {
		return nil, err
	}
	entries := make([]core.WindowEntry, 0, len(keys))
	for _, key := range keys {
		events := w.s.windows[key]
		entries = append(entries, core.WindowEntry{
			Key:    key,
			Events: len(events),
			Oldest: events[0],
			Newest: events[len(events)-1],
		})
	}
	return entries, nil
}

func (w *WindowStore) CountWindows(_ context.Context, q core.WindowQuery) (int, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	keys, err := w.matching(q)
	return len(keys), err
}

func (w *WindowStore) ResetWindows(_ context.Context, q core.WindowQuery) (int64, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()

	keys, err := w.matching(q)
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, key := range keys {
		removed += int64(len(w.s.windows[key]))
		delete(w.s.windows, key)
	}
	return removed, nil
}

func (c *CursorStore) Load(_ context.Context, name string) (int64, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.s.cursors[name], nil
}

func (c *CursorStore) Increment(_ context.Context, name string) (int64, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.cursors[name]++
	return c.s.cursors[name], nil
}

func (c *CursorStore) Reset(_ context.Context, name string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	delete(c.s.cursors, name)
	return nil
}

func (l *LedgerStore) Apply(_ context.Context, delta core.LedgerDelta) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.ledger.Apply(delta)
	return nil
}

func (l *LedgerStore) Load(_ context.Context) (core.LedgerSnapshot, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.s.ledger.Clone(), nil
}

func (l *LedgerStore) Reset(_ context.Context, epoch time.Time) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.ledger = core.NewLedgerSnapshot(epoch)
	return nil
}

// Append overwrites the oldest event once the ring is full.
func (a *AuditStore) Append(_ context.Context, event core.AuditEvent) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	a.s.audit[a.s.auditPos] = event
	a.s.auditPos = (a.s.auditPos + 1) % a.s.auditCap
	if a.s.auditLen < a.s.auditCap {
		a.s.auditLen++
	}
	return nil
}

// Tail returns recent events, newest first.
func (a *AuditStore) Tail(_ context.Context, q core.AuditQuery) ([]core.AuditEvent, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	events := []core.AuditEvent{}
	for i := 1; i <= a.s.auditLen && len(events) < limit; i++ {
		event := a.s.audit[(a.s.auditPos-i+a.s.auditCap)%a.s.auditCap]
		if q.Event != "" && event.Event != q.Event {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close discards nothing; state lives until the process exits.
func (s *Store) Close() error { return nil }
