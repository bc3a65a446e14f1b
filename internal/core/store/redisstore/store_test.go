package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripgate/dripgate/internal/config"
	"github.com/dripgate/dripgate/internal/core"
	"github.com/dripgate/dripgate/internal/core/engine"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := New(context.Background(), client, "test:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestOpenRequiresAddress(t *testing.T) {
	_, err := Open(context.Background(), config.RedisConfig{})
	require.Error(t, err)
}

func TestOpenFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Open(context.Background(), config.RedisConfig{Addr: addr})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

func TestWindowTrimAndAppend(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	windows := s.Windows()

	state, err := windows.Trim(ctx, "wallet:a", epoch)
	require.NoError(t, err)
	assert.Equal(t, 0, state.Count)
	assert.True(t, state.Oldest.IsZero())

	require.NoError(t, windows.Append(ctx, "wallet:a", epoch, time.Hour))
	require.NoError(t, windows.Append(ctx, "wallet:a", epoch.Add(10*time.Minute), time.Hour))

	state, err = windows.Trim(ctx, "wallet:a", epoch.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, state.Count)
	assert.Equal(t, epoch, state.Oldest)

	// The cutoff is inclusive: an event exactly at the boundary is expired.
	state, err = windows.Trim(ctx, "wallet:a", epoch)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Count)
	assert.Equal(t, epoch.Add(10*time.Minute), state.Oldest)
}

func TestWindowAppendSetsTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Windows().Append(ctx, "ip:x", epoch, time.Hour))
	assert.Equal(t, time.Hour, mr.TTL("test:window:ip:x"))

	mr.FastForward(2 * time.Hour)
	assert.False(t, mr.Exists("test:window:ip:x"))
}

func TestWindowCounterOverRedis(t *testing.T) {
	s, _ := newTestStore(t)
	now := epoch
	counter := &engine.WindowCounter{Store: s.Windows(), Clock: func() time.Time { return now }}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		decision, err := counter.Check(ctx, "k", 2, time.Hour)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
		require.NoError(t, counter.Record(ctx, "k", time.Hour))
	}

	decision, err := counter.Check(ctx, "k", 2, time.Hour)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, epoch.Add(time.Hour), decision.ResetAt)

	now = epoch.Add(time.Hour + time.Millisecond)
	decision, err = counter.Check(ctx, "k", 2, time.Hour)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestWindowAdmin(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	windows := s.Windows()

	require.NoError(t, windows.Append(ctx, "wallet:a", epoch, time.Hour))
	require.NoError(t, windows.Append(ctx, "wallet:a", epoch.Add(time.Minute), time.Hour))
	require.NoError(t, windows.Append(ctx, "ip:a", epoch, time.Hour))

	_, err := windows.ListWindows(ctx, core.WindowQuery{})
	require.Error(t, err)

	entries, err := windows.ListWindows(ctx, core.WindowQuery{Prefix: "wallet:"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "wallet:a", entries[0].Key)
	assert.Equal(t, 2, entries[0].Events)
	assert.Equal(t, epoch, entries[0].Oldest)
	assert.Equal(t, epoch.Add(time.Minute), entries[0].Newest)

	count, err := windows.CountWindows(ctx, core.WindowQuery{All: true})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	removed, err := windows.ResetWindows(ctx, core.WindowQuery{Key: "wallet:a"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	count, err = windows.CountWindows(ctx, core.WindowQuery{All: true})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCursorIncrementIsAtomic(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	cursors := s.Cursors()

	value, err := cursors.Load(ctx, engine.CursorName)
	require.NoError(t, err)
	assert.Equal(t, int64(0), value)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cursors.Increment(ctx, engine.CursorName)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	value, err = cursors.Load(ctx, engine.CursorName)
	require.NoError(t, err)
	assert.Equal(t, int64(50), value)

	require.NoError(t, cursors.Reset(ctx, engine.CursorName))
	value, err = cursors.Load(ctx, engine.CursorName)
	require.NoError(t, err)
	assert.Equal(t, int64(0), value)
}

func TestLedgerApplyLoadReset(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	ledger := s.Ledger()

	zero, one := 0, 1
	require.NoError(t, ledger.Apply(ctx, core.LedgerDelta{Mode: core.ModeShared, Network: "ETH-SEPOLIA", Success: true, CredentialIndex: &zero}))
	require.NoError(t, ledger.Apply(ctx, core.LedgerDelta{Mode: core.ModeShared, Network: "ETH-SEPOLIA", Success: false, CredentialIndex: &one}))
	require.NoError(t, ledger.Apply(ctx, core.LedgerDelta{Mode: core.ModeOwnKey, Network: "ARB-SEPOLIA", Success: true}))

	snap, err := ledger.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.TotalClaims)
	assert.Equal(t, int64(2), snap.SuccessfulClaims)
	assert.Equal(t, int64(1), snap.FailedClaims)
	assert.Equal(t, int64(2), snap.ClaimsByNetwork["ETH-SEPOLIA"])
	assert.Equal(t, int64(1), snap.ClaimsByNetwork["ARB-SEPOLIA"])
	assert.Equal(t, int64(2), snap.ClaimsByMode[string(core.ModeShared)])
	assert.Equal(t, int64(1), snap.ClaimsByMode[string(core.ModeOwnKey)])
	assert.Equal(t, map[int]int64{0: 1, 1: 1}, snap.CredentialUsage)

	later := epoch.Add(48 * time.Hour)
	require.NoError(t, ledger.Reset(ctx, later))

	snap, err = ledger.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.TotalClaims)
	assert.Empty(t, snap.ClaimsByNetwork)
	assert.Empty(t, snap.CredentialUsage)
	assert.Equal(t, int64(0), snap.ClaimsByMode[string(core.ModeShared)])
	assert.Equal(t, later, snap.EpochStart)
}

func TestAuditAppendAndTail(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	audit := s.Audit()

	events := []core.AuditEvent{
		{ID: "1", Event: core.AuditClaimSuccess, Timestamp: epoch, Success: true},
		{ID: "2", Event: core.AuditInvalidPassword, Timestamp: epoch.Add(time.Second)},
		{ID: "3", Event: core.AuditClaimSuccess, Timestamp: epoch.Add(2 * time.Second), Success: true},
	}
	for _, event := range events {
		require.NoError(t, audit.Append(ctx, event))
	}

	tail, err := audit.Tail(ctx, core.AuditQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "3", tail[0].ID)
	assert.Equal(t, "2", tail[1].ID)

	tail, err = audit.Tail(ctx, core.AuditQuery{Event: core.AuditClaimSuccess})
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "3", tail[0].ID)
	assert.Equal(t, "1", tail[1].ID)
	assert.Equal(t, epoch, tail[1].Timestamp.UTC())
}

func TestWindowReserveIsAtomic(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	windows := s.Windows()
	slot := core.WindowSlot{Key: "wallet:a", Limit: 1, Window: 24 * time.Hour}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reservation, err := windows.Reserve(ctx, []core.WindowSlot{slot}, epoch)
			assert.NoError(t, err)
			if reservation.Granted() {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, granted)
	state, err := windows.Trim(ctx, "wallet:a", epoch.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, state.Count)
	assert.Equal(t, 24*time.Hour, mr.TTL("test:window:wallet:a"))
}

func TestWindowReserveBlockedSlotAppendsNothing(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	windows := s.Windows()
	require.NoError(t, windows.Append(ctx, "ip:x", epoch, time.Hour))

	reservation, err := windows.Reserve(ctx, []core.WindowSlot{
		{Key: "wallet:b", Limit: 1, Window: time.Hour},
		{Key: "ip:x", Limit: 1, Window: time.Hour},
	}, epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, reservation.Blocked)
	require.Len(t, reservation.States, 2)
	assert.Equal(t, 0, reservation.States[0].Count)
	assert.Equal(t, 1, reservation.States[1].Count)
	assert.Equal(t, epoch, reservation.States[1].Oldest)

	state, err := windows.Trim(ctx, "wallet:b", epoch.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, state.Count)
}
