package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dripgate/dripgate/internal/core"
)

const (
	ledgerTotalsKey     = "ledger:totals"
	ledgerNetworkKey    = "ledger:network"
	ledgerModeKey       = "ledger:mode"
	ledgerCredentialKey = "ledger:credential"

	fieldTotal      = "total"
	fieldSuccessful = "successful"
	fieldFailed     = "failed"
	fieldEpoch      = "epoch_ms"
)

// LedgerStore keeps totals and per-dimension counts in hashes.
type LedgerStore struct {
	s *Store
}

// Ledger returns the claim-ledger view.
func (s *Store) Ledger() *LedgerStore {
	return &LedgerStore{s: s}
}

// Apply increments every touched counter inside one MULTI/EXEC.
func (l *LedgerStore) Apply(ctx context.Context, delta core.LedgerDelta) error {
	_, err := l.s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		totals := l.s.key(ledgerTotalsKey)
		pipe.HIncrBy(ctx, totals, fieldTotal, 1)
		if delta.Success {
			pipe.HIncrBy(ctx, totals, fieldSuccessful, 1)
		} else {
			pipe.HIncrBy(ctx, totals, fieldFailed, 1)
		}
		pipe.HIncrBy(ctx, l.s.key(ledgerModeKey), string(delta.Mode), 1)
		pipe.HIncrBy(ctx, l.s.key(ledgerNetworkKey), delta.Network, 1)
		if delta.CredentialIndex != nil {
			pipe.HIncrBy(ctx, l.s.key(ledgerCredentialKey), strconv.Itoa(*delta.CredentialIndex), 1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update ledger: %w", err)
	}
	return nil
}

// Load reads every hash inside one MULTI/EXEC so the snapshot is consistent.
func (l *LedgerStore) Load(ctx context.Context) (core.LedgerSnapshot, error) {
	var totals, networks, modes, credentials *redis.MapStringStringCmd
	_, err := l.s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		totals = pipe.HGetAll(ctx, l.s.key(ledgerTotalsKey))
		networks = pipe.HGetAll(ctx, l.s.key(ledgerNetworkKey))
		modes = pipe.HGetAll(ctx, l.s.key(ledgerModeKey))
		credentials = pipe.HGetAll(ctx, l.s.key(ledgerCredentialKey))
		return nil
	})
	if err != nil {
		return core.LedgerSnapshot{}, fmt.Errorf("read ledger: %w", err)
	}

	t := totals.Val()
	epoch := l.s.now()
	if raw, ok := t[fieldEpoch]; ok {
		epoch = time.UnixMilli(parseInt(raw)).UTC()
	}

	snap := core.NewLedgerSnapshot(epoch)
	snap.TotalClaims = parseInt(t[fieldTotal])
	snap.SuccessfulClaims = parseInt(t[fieldSuccessful])
	snap.FailedClaims = parseInt(t[fieldFailed])
	for member, raw := range networks.Val() {
		snap.ClaimsByNetwork[member] = parseInt(raw)
	}
	for member, raw := range modes.Val() {
		snap.ClaimsByMode[member] = parseInt(raw)
	}
	for member, raw := range credentials.Val() {
		idx, err := strconv.Atoi(member)
		if err != nil {
			return core.LedgerSnapshot{}, fmt.Errorf("invalid credential index %q: %w", member, err)
		}
		snap.CredentialUsage[idx] = parseInt(raw)
	}
	return snap, nil
}

// Reset drops every ledger hash and records the new epoch atomically.
func (l *LedgerStore) Reset(ctx context.Context, epoch time.Time) error {
	_, err := l.s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx,
			l.s.key(ledgerTotalsKey),
			l.s.key(ledgerNetworkKey),
			l.s.key(ledgerModeKey),
			l.s.key(ledgerCredentialKey),
		)
		pipe.HSet(ctx, l.s.key(ledgerTotalsKey), fieldEpoch, epoch.UnixMilli())
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	return nil
}

func parseInt(value string) int64 {
	n, _ := strconv.ParseInt(value, 10, 64)
	return n
}
