package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dripgate/dripgate/internal/core"
)

var testEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: testEpoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memoryWindowStore struct {
	mu     sync.Mutex
	events map[string][]time.Time
	err    error
}

func (m *memoryWindowStore) Trim(ctx context.Context, key string, cutoff time.Time) (core.WindowState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return core.WindowState{}, m.err
	}
	kept := m.events[key][:0]
	for _, at := range m.events[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if m.events == nil {
		m.events = map[string][]time.Time{}
	}
	m.events[key] = kept
	state := core.WindowState{Count: len(kept)}
	if len(kept) > 0 {
		sort.Slice(kept, func(i, j int) bool { return kept[i].Before(kept[j]) })
		state.Oldest = kept[0]
	}
	return state, nil
}

func (m *memoryWindowStore) Append(ctx context.Context, key string, at time.Time, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.events == nil {
		m.events = map[string][]time.Time{}
	}
	m.events[key] = append(m.events[key], at)
	return nil
}

func (m *memoryWindowStore) Reserve(ctx context.Context, slots []core.WindowSlot, at time.Time) (core.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return core.Reservation{}, m.err
	}
	if m.events == nil {
		m.events = map[string][]time.Time{}
	}
	reservation := core.Reservation{Blocked: -1}
	for i, slot := range slots {
		cutoff := at.Add(-slot.Window)
		kept := m.events[slot.Key][:0]
		for _, event := range m.events[slot.Key] {
			if event.After(cutoff) {
				kept = append(kept, event)
			}
		}
		m.events[slot.Key] = kept
		state := core.WindowState{Count: len(kept)}
		if len(kept) > 0 {
			sort.Slice(kept, func(i, j int) bool { return kept[i].Before(kept[j]) })
			state.Oldest = kept[0]
		}
		reservation.States = append(reservation.States, state)
		if state.Count >= slot.Limit {
			reservation.Blocked = i
			return reservation, nil
		}
	}
	for _, slot := range slots {
		m.events[slot.Key] = append(m.events[slot.Key], at)
	}
	return reservation, nil
}

func (m *memoryWindowStore) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events[key])
}

type memoryCursorStore struct {
	mu     sync.Mutex
	values map[string]int64
	err    error
}

func (m *memoryCursorStore) Load(ctx context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[name], nil
}

func (m *memoryCursorStore) Increment(ctx context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	if m.values == nil {
		m.values = map[string]int64{}
	}
	m.values[name]++
	return m.values[name], nil
}

func (m *memoryCursorStore) Reset(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, name)
	return nil
}

type memoryLedgerStore struct {
	mu   sync.Mutex
	snap core.LedgerSnapshot
	err  error
}

func newMemoryLedgerStore() *memoryLedgerStore {
	return &memoryLedgerStore{snap: core.NewLedgerSnapshot(testEpoch)}
}

func (m *memoryLedgerStore) Apply(ctx context.Context, delta core.LedgerDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.snap.Apply(delta)
	return nil
}

func (m *memoryLedgerStore) Load(ctx context.Context) (core.LedgerSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Clone(), nil
}

func (m *memoryLedgerStore) Reset(ctx context.Context, epoch time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = core.NewLedgerSnapshot(epoch)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []core.AuditEvent
}

func (r *recordingSink) Append(ctx context.Context, event core.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Event)
	}
	return out
}

func (r *recordingSink) last() core.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return core.AuditEvent{}
	}
	return r.events[len(r.events)-1]
}

type upstreamCall struct {
	credential string
	payload    core.DripPayload
}

// scriptedUpstream answers per credential; credentials without a script succeed.
type scriptedUpstream struct {
	mu      sync.Mutex
	results map[string]core.UpstreamResult
	calls   []upstreamCall
}

func (s *scriptedUpstream) Drip(ctx context.Context, credential string, payload core.DripPayload) core.UpstreamResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, upstreamCall{credential: credential, payload: payload})
	if result, ok := s.results[credential]; ok {
		return result
	}
	return core.UpstreamResult{
		Kind:       core.UpstreamSuccess,
		StatusCode: 201,
		Body:       map[string]any{"data": map[string]any{"transactionId": "tx-" + credential}},
	}
}

func (s *scriptedUpstream) credentials() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, call := range s.calls {
		out = append(out, call.credential)
	}
	return out
}

// hookedUpstream runs before on every call, outside the delegate's lock.
type hookedUpstream struct {
	*scriptedUpstream
	before func(ctx context.Context, credential string)
}

func (h *hookedUpstream) Drip(ctx context.Context, credential string, payload core.DripPayload) core.UpstreamResult {
	if h.before != nil {
		h.before(ctx, credential)
	}
	return h.scriptedUpstream.Drip(ctx, credential, payload)
}

func quotaExhausted() core.UpstreamResult {
	return core.UpstreamResult{Kind: core.UpstreamQuotaExhausted, StatusCode: 429, Body: map[string]any{"message": "rate limited"}}
}
