package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripgate/dripgate/internal/core"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestWindowTrimIsInclusive(t *testing.T) {
	s := New(epoch, 0)
	ctx := context.Background()
	w := s.Windows()

	require.NoError(t, w.Append(ctx, "k", epoch.Add(time.Minute), time.Hour))
	require.NoError(t, w.Append(ctx, "k", epoch, time.Hour))

	state, err := w.Trim(ctx, "k", epoch.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, state.Count)
	assert.Equal(t, epoch, state.Oldest)

	state, err = w.Trim(ctx, "k", epoch)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Count)
	assert.Equal(t, epoch.Add(time.Minute), state.Oldest)

	state, err = w.Trim(ctx, "k", epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, state.Count)

	count, err := w.CountWindows(ctx, core.WindowQuery{All: true})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestWindowAdmin(t *testing.T) {
	s := New(epoch, 0)
	ctx := context.Background()
	w := s.Windows()

	require.NoError(t, w.Append(ctx, "wallet:a", epoch, time.Hour))
	require.NoError(t, w.Append(ctx, "wallet:b", epoch, time.Hour))
	require.NoError(t, w.Append(ctx, "ip:a", epoch, time.Hour))

	_, err := w.ListWindows(ctx, core.WindowQuery{})
	require.Error(t, err)

	entries, err := w.ListWindows(ctx, core.WindowQuery{Prefix: "wallet:"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "wallet:a", entries[0].Key)

	removed, err := w.ResetWindows(ctx, core.WindowQuery{Prefix: "wallet:"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	count, err := w.CountWindows(ctx, core.WindowQuery{All: true})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCursorAndLedger(t *testing.T) {
	s := New(epoch, 0)
	ctx := context.Background()

	v, err := s.Cursors().Increment(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	require.NoError(t, s.Cursors().Reset(ctx, "c"))
	v, err = s.Cursors().Load(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	idx := 2
	require.NoError(t, s.Ledger().Apply(ctx, core.LedgerDelta{Mode: core.ModeShared, Network: "ETH-SEPOLIA", Success: true, CredentialIndex: &idx}))
	snap, err := s.Ledger().Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.TotalClaims)
	assert.Equal(t, int64(1), snap.CredentialUsage[2])

	snap.CredentialUsage[2] = 99
	again, err := s.Ledger().Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.CredentialUsage[2])

	require.NoError(t, s.Ledger().Reset(ctx, epoch.Add(time.Hour)))
	snap, err = s.Ledger().Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.TotalClaims)
	assert.Equal(t, epoch.Add(time.Hour), snap.EpochStart)
}

func TestAuditRingOverwritesOldest(t *testing.T) {
	s := New(epoch, 3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		event := core.AuditEvent{ID: fmt.Sprint(i), Event: core.AuditClaimSuccess}
		if i%2 == 0 {
			event.Event = core.AuditInvalidPassword
		}
		require.NoError(t, s.Audit().Append(ctx, event))
	}

	tail, err := s.Audit().Tail(ctx, core.AuditQuery{})
	require.NoError(t, err)
	require.Len(t, tail, 3)
	assert.Equal(t, []string{"5", "4", "3"}, []string{tail[0].ID, tail[1].ID, tail[2].ID})

	tail, err = s.Audit().Tail(ctx, core.AuditQuery{Event: core.AuditInvalidPassword})
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "4", tail[0].ID)
}

func TestWindowReserveIsAtomic(t *testing.T) {
	s := New(epoch, 0)
	ctx := context.Background()
	slots := []core.WindowSlot{
		{Key: "wallet:a", Limit: 1, Window: 24 * time.Hour},
		{Key: "ip:a", Limit: 3, Window: 24 * time.Hour},
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reservation, err := s.Windows().Reserve(ctx, slots, epoch)
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
	entries, err := s.Windows().ListWindows(ctx, core.WindowQuery{All: true})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, 1, entry.Events, entry.Key)
	}
}
