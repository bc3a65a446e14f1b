package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripgate/dripgate/internal/core"
	"github.com/dripgate/dripgate/internal/core/identity"
)

const testPassword = "open-sesame"

type harness struct {
	clock    *fakeClock
	windows  *memoryWindowStore
	ledger   *memoryLedgerStore
	sink     *recordingSink
	upstream *scriptedUpstream
	disabled bool
	orch     *ClaimOrchestrator
}

func newHarness(t *testing.T, credentials []string) *harness {
	t.Helper()
	h := &harness{
		clock:    newFakeClock(),
		windows:  &memoryWindowStore{},
		ledger:   newMemoryLedgerStore(),
		sink:     &recordingSink{},
		upstream: &scriptedUpstream{},
	}
	counter := &WindowCounter{Store: h.windows, Clock: h.clock.Now}
	pool := NewCredentialPool(credentials, &memoryCursorStore{})
	auditor := &Auditor{Sink: h.sink, Clock: h.clock.Now}

	h.orch = &ClaimOrchestrator{
		Infra: &InfraLimiter{Counter: counter, Policy: core.WindowPolicy{Limit: 5, Window: time.Hour}},
		Quota: &QuotaLimiter{Counter: counter, Wallet: DefaultWalletPolicy, IP: DefaultIPPolicy},
		Pool:  pool,
		Dispatcher: &FailoverDispatcher{
			Pool:     pool,
			Upstream: h.upstream,
			Audit:    auditor,
		},
		Upstream:     h.upstream,
		Ledger:       &Ledger{Store: h.ledger, Pool: pool, Audit: auditor, Clock: h.clock.Now},
		Audit:        auditor,
		Networks:     core.NewNetworkSet(core.DefaultNetworks),
		PasswordHash: identity.Digest(testPassword),
		Revoked:      identity.NewDigestSet([]string{identity.Digest("TEST_API_KEY:revoked:key")}),
		Disabled:     func() bool { return h.disabled },
		Clock:        h.clock.Now,
	}
	return h
}

func (h *harness) claim(t *testing.T, ip string, body any) ClaimResult {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return h.orch.Process(context.Background(), core.Submission{RequestID: "req", ClientIP: ip, Body: raw})
}

func (h *harness) totalClaims(t *testing.T) int64 {
	t.Helper()
	snap, err := h.ledger.Load(context.Background())
	require.NoError(t, err)
	return snap.TotalClaims
}

func sharedClaim(address string) map[string]any {
	return map[string]any{
		"address":    address,
		"blockchain": "ETH-SEPOLIA",
		"usdc":       true,
		"mode":       "default",
		"password":   testPassword,
	}
}

func TestProcessSharedClaimSuccess(t *testing.T) {
	h := newHarness(t, []string{"k0", "k1"})

	result := h.claim(t, "10.0.0.1", sharedClaim("0xabc"))

	require.Nil(t, result.Err)
	require.NotNil(t, result.Outcome)
	assert.True(t, result.Outcome.Accepted)
	require.NotNil(t, result.Outcome.CredentialIndex)
	assert.Equal(t, 0, *result.Outcome.CredentialIndex)
	assert.Equal(t, "tx-k0", result.Upstream.TransactionID())
	assert.Equal(t, []State{
		StateReceived, StateInfraChecked, StateValidated, StateModeResolved,
		StateQuotaChecked, StateDispatched, StateRecorded, StateResponded,
	}, result.Trace)
	assert.Equal(t, int64(1), h.totalClaims(t))

	event := h.sink.last()
	assert.Equal(t, core.AuditClaimSuccess, event.Event)
	assert.Equal(t, identity.Short("0xabc"), event.WalletHash)
	assert.Equal(t, identity.Short("10.0.0.1"), event.IPHash)
	assert.NotContains(t, fmt.Sprintf("%+v", event), testPassword)
}

func TestProcessWalletQuota(t *testing.T) {
	h := newHarness(t, []string{"k0"})

	first := h.claim(t, "10.0.0.1", sharedClaim("0xabc"))
	require.Nil(t, first.Err)

	second := h.claim(t, "10.0.0.2", sharedClaim("0xabc"))
	require.NotNil(t, second.Err)
	assert.Equal(t, core.FailureQuotaExceeded, second.Err.Kind)
	assert.Equal(t, core.AuditWalletLimitExceeded, second.Err.Reason)
	assert.Equal(t, testEpoch.Add(24*time.Hour), second.ResetAt)
	assert.False(t, second.Reached(StateQuotaChecked))
	assert.False(t, second.Reached(StateDispatched))
	assert.Equal(t, int64(1), h.totalClaims(t))
	assert.Equal(t, core.AuditWalletLimitExceeded, h.sink.last().Event)
}

func TestProcessIPQuota(t *testing.T) {
	h := newHarness(t, []string{"k0"})
	h.orch.Quota.IPEnabled = true
	h.orch.Quota.IP = core.WindowPolicy{Limit: 1, Window: 24 * time.Hour}

	require.Nil(t, h.claim(t, "10.0.0.1", sharedClaim("0x1")).Err)
	result := h.claim(t, "10.0.0.1", sharedClaim("0x2"))

	require.NotNil(t, result.Err)
	assert.Equal(t, core.AuditIPLimitExceeded, result.Err.Reason)
	assert.Equal(t, 0, h.windows.count(identity.WalletKey("0x2", "ETH-SEPOLIA")))
}

func TestProcessInfraLimitRunsBeforeParsing(t *testing.T) {
	h := newHarness(t, []string{"k0"})
	for i := 0; i < 5; i++ {
		result := h.orch.Process(context.Background(), core.Submission{ClientIP: "10.0.0.9", Body: []byte("not json")})
		require.NotNil(t, result.Err)
		require.Equal(t, core.FailureValidation, result.Err.Kind)
	}

	result := h.orch.Process(context.Background(), core.Submission{ClientIP: "10.0.0.9", Body: []byte("not json")})
	require.NotNil(t, result.Err)
	assert.Equal(t, core.FailureQuotaExceeded, result.Err.Kind)
	assert.Equal(t, core.AuditInfraLimitExceeded, result.Err.Reason)
	assert.Equal(t, []State{StateReceived, StateResponded}, result.Trace)
	assert.False(t, result.ResetAt.IsZero())
}

func TestProcessValidation(t *testing.T) {
	h := newHarness(t, []string{"k0"})

	cases := []struct {
		name string
		body map[string]any
	}{
		{name: "missing address", body: map[string]any{"blockchain": "ETH-SEPOLIA", "usdc": true, "mode": "default"}},
		{name: "unsupported network", body: map[string]any{"address": "0x1", "blockchain": "DOGE", "usdc": true, "mode": "default"}},
		{name: "no tokens", body: map[string]any{"address": "0x1", "blockchain": "ETH-SEPOLIA", "mode": "default"}},
		{name: "unknown mode", body: map[string]any{"address": "0x1", "blockchain": "ETH-SEPOLIA", "usdc": true, "mode": "free"}},
		{name: "missing password", body: map[string]any{"address": "0x1", "blockchain": "ETH-SEPOLIA", "usdc": true, "mode": "default"}},
		{name: "missing api key", body: map[string]any{"address": "0x1", "blockchain": "ETH-SEPOLIA", "usdc": true, "mode": "own-key"}},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := h.claim(t, fmt.Sprintf("10.0.1.%d", i), tc.body)
			require.NotNil(t, result.Err)
			assert.Equal(t, core.FailureValidation, result.Err.Kind)
			assert.False(t, result.Reached(StateDispatched))
		})
	}

	unsupported := h.claim(t, "10.0.2.1", cases[1].body)
	assert.Equal(t, core.DefaultNetworks, unsupported.Err.Details["supported"])
	assert.Equal(t, int64(0), h.totalClaims(t))
	assert.Empty(t, h.sink.names())
}

func TestProcessAuthentication(t *testing.T) {
	h := newHarness(t, []string{"k0"})

	wrong := sharedClaim("0x1")
	wrong["password"] = "guess"
	result := h.claim(t, "10.0.0.1", wrong)
	require.NotNil(t, result.Err)
	assert.Equal(t, core.FailureAuthentication, result.Err.Kind)
	assert.Equal(t, core.AuditInvalidPassword, h.sink.last().Event)

	malformed := map[string]any{"address": "0x1", "blockchain": "ETH-SEPOLIA", "native": true, "mode": "own-key", "apiKey": "sk_live_123"}
	result = h.claim(t, "10.0.0.1", malformed)
	require.NotNil(t, result.Err)
	assert.Equal(t, core.FailureValidation, result.Err.Kind)
	assert.Equal(t, core.AuditInvalidAPIKeyFormat, h.sink.last().Event)
	assert.Equal(t, identity.Short("sk_live_123"), h.sink.last().APIKeyHash)

	revoked := map[string]any{"address": "0x1", "blockchain": "ETH-SEPOLIA", "native": true, "mode": "own-key", "apiKey": "TEST_API_KEY:revoked:key"}
	result = h.claim(t, "10.0.0.1", revoked)
	require.NotNil(t, result.Err)
	assert.Equal(t, core.FailureForbidden, result.Err.Kind)
	assert.Equal(t, core.AuditRevokedKeyAttempt, h.sink.last().Event)
	assert.Equal(t, int64(0), h.totalClaims(t))
	assert.Empty(t, h.upstream.credentials())
}

func TestProcessEmptyPoolIsUnavailable(t *testing.T) {
	h := newHarness(t, nil)

	result := h.claim(t, "10.0.0.1", sharedClaim("0x1"))
	require.NotNil(t, result.Err)
	assert.Equal(t, core.FailureUnavailable, result.Err.Kind)
	assert.ErrorIs(t, result.Err, ErrPoolEmpty)
	assert.Equal(t, core.AuditPoolUnavailable, h.sink.last().Event)
}

func TestProcessKillSwitch(t *testing.T) {
	h := newHarness(t, []string{"k0"})
	h.disabled = true

	result := h.claim(t, "10.0.0.1", sharedClaim("0x1"))
	require.NotNil(t, result.Err)
	assert.ErrorIs(t, result.Err, ErrFaucetDisabled)
	assert.Equal(t, []State{StateReceived, StateInfraChecked, StateResponded}, result.Trace)
}

func TestProcessOwnKeyBypassesQuota(t *testing.T) {
	h := newHarness(t, nil)
	body := map[string]any{"address": "0x1", "blockchain": "SOL-DEVNET", "native": true, "mode": "own-key", "apiKey": "TEST_API_KEY:a:b"}

	for i := 0; i < 3; i++ {
		result := h.claim(t, "10.0.0.1", body)
		require.Nil(t, result.Err)
		assert.False(t, result.Reached(StateQuotaChecked))
		assert.Nil(t, result.Outcome.CredentialIndex)
	}
	assert.Equal(t, []string{"TEST_API_KEY:a:b", "TEST_API_KEY:a:b", "TEST_API_KEY:a:b"}, h.upstream.credentials())
	assert.Equal(t, int64(3), h.totalClaims(t))
}

func TestProcessUpstreamErrorPassesThrough(t *testing.T) {
	h := newHarness(t, []string{"k0", "k1"})
	h.upstream.results = map[string]core.UpstreamResult{
		"k0": {Kind: core.UpstreamRejected, StatusCode: 422, Body: map[string]any{"message": "invalid address", "code": float64(2)}},
	}

	result := h.claim(t, "10.0.0.1", sharedClaim("0x1"))
	require.NotNil(t, result.Err)
	assert.Equal(t, core.FailureUpstream, result.Err.Kind)
	assert.Equal(t, "invalid address", result.Err.Message)
	assert.Equal(t, "2", result.Err.Details["code"])
	assert.Equal(t, 422, result.Outcome.UpstreamStatus)
	assert.True(t, result.Reached(StateRecorded))
	assert.Equal(t, int64(1), h.totalClaims(t))
	assert.Equal(t, core.AuditUpstreamError, h.sink.last().Event)
}

func TestProcessPoolExhausted(t *testing.T) {
	h := newHarness(t, []string{"k0", "k1"})
	h.upstream.results = map[string]core.UpstreamResult{"k0": quotaExhausted(), "k1": quotaExhausted()}

	result := h.claim(t, "10.0.0.1", sharedClaim("0x1"))
	require.NotNil(t, result.Err)
	assert.Equal(t, core.FailureCredentialPoolExhausted, result.Err.Kind)
	assert.ErrorIs(t, result.Err, ErrCredentialPoolExhausted)
	assert.Equal(t, 2, result.Outcome.Attempts)

	snap, err := h.ledger.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.FailedClaims)
	assert.Empty(t, snap.CredentialUsage)
}

func TestValidAPIKey(t *testing.T) {
	assert.True(t, ValidAPIKey("TEST_API_KEY:abc:def"))
	assert.False(t, ValidAPIKey("TEST_API_KEY:abc"))
	assert.False(t, ValidAPIKey("LIVE_API_KEY:abc:def"))
	assert.False(t, ValidAPIKey("TEST_API_KEY:abc:def:ghi"))
	assert.False(t, ValidAPIKey("TEST_API_KEY::def"))
}

func TestProcessSameWalletOtherNetwork(t *testing.T) {
	h := newHarness(t, []string{"k0"})

	require.Nil(t, h.claim(t, "10.0.0.1", sharedClaim("0xabc")).Err)

	other := sharedClaim("0xabc")
	other["blockchain"] = "SOL-DEVNET"
	result := h.claim(t, "10.0.0.1", other)
	require.Nil(t, result.Err)
	assert.True(t, result.Outcome.Accepted)

	again := h.claim(t, "10.0.0.1", sharedClaim("0xabc"))
	require.NotNil(t, again.Err)
	assert.Equal(t, core.AuditWalletLimitExceeded, again.Err.Reason)
	assert.Equal(t, int64(2), h.totalClaims(t))
}

func TestProcessFailoverAttributesSuccessToLastCredential(t *testing.T) {
	h := newHarness(t, []string{"k0", "k1", "k2"})
	h.upstream.results = map[string]core.UpstreamResult{"k0": quotaExhausted(), "k1": quotaExhausted()}

	result := h.claim(t, "10.0.0.1", sharedClaim("0x1"))
	require.Nil(t, result.Err)
	require.NotNil(t, result.Outcome.CredentialIndex)
	assert.Equal(t, 2, *result.Outcome.CredentialIndex)
	assert.Equal(t, 3, result.Outcome.Attempts)
	assert.Equal(t, []string{"k0", "k1", "k2"}, h.upstream.credentials())

	snap, err := h.ledger.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.TotalClaims)
	assert.Equal(t, int64(1), snap.SuccessfulClaims)
	assert.Equal(t, map[int]int64{2: 1}, snap.CredentialUsage)
	assert.Equal(t, []string{
		core.AuditCredentialQuotaExhausted,
		core.AuditCredentialQuotaExhausted,
		core.AuditClaimSuccess,
	}, h.sink.names())
}

func TestProcessConcurrentClaimsForOneWallet(t *testing.T) {
	h := newHarness(t, []string{"k0", "k1"})
	h.orch.Infra.Disabled = true
	raw, err := json.Marshal(sharedClaim("0xabc"))
	require.NoError(t, err)

	const callers = 20
	results := make([]ClaimResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.orch.Process(context.Background(), core.Submission{
				RequestID: fmt.Sprintf("req-%d", i),
				ClientIP:  fmt.Sprintf("10.0.3.%d", i),
				Body:      raw,
			})
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, result := range results {
		if result.Err == nil {
			accepted++
			continue
		}
		assert.Equal(t, core.AuditWalletLimitExceeded, result.Err.Reason)
	}
	assert.Equal(t, 1, accepted)
	assert.Len(t, h.upstream.credentials(), 1)
	assert.Equal(t, int64(1), h.totalClaims(t))
}

func TestProcessCompletesAfterCallerCancels(t *testing.T) {
	h := newHarness(t, []string{"k0"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dispatchErr error
	upstream := &hookedUpstream{
		scriptedUpstream: h.upstream,
		before: func(ctx context.Context, _ string) {
			cancel()
			dispatchErr = ctx.Err()
		},
	}
	h.orch.Upstream = upstream
	h.orch.Dispatcher.Upstream = upstream

	raw, err := json.Marshal(sharedClaim("0xabc"))
	require.NoError(t, err)
	result := h.orch.Process(ctx, core.Submission{RequestID: "req-gone", ClientIP: "10.0.0.1", Body: raw})

	require.Nil(t, result.Err)
	assert.NoError(t, dispatchErr)
	assert.True(t, result.Outcome.Accepted)
	assert.True(t, result.Reached(StateRecorded))
	assert.Equal(t, int64(1), h.totalClaims(t))
	assert.Equal(t, core.AuditClaimSuccess, h.sink.last().Event)
	assert.Equal(t, "req-gone", h.sink.last().RequestID)
}

func TestProcessNoLedgerEntryWithoutUpstreamCall(t *testing.T) {
	h := newHarness(t, []string{"k0"})
	h.orch.Pool.store = &memoryCursorStore{err: errors.New("cursor unavailable")}

	result := h.claim(t, "10.0.0.1", sharedClaim("0x1"))
	require.NotNil(t, result.Err)
	assert.Equal(t, core.FailureInternal, result.Err.Kind)
	assert.False(t, result.Reached(StateRecorded))
	assert.Empty(t, h.upstream.credentials())
	assert.Equal(t, int64(0), h.totalClaims(t))
	assert.Equal(t, core.AuditInternalError, h.sink.last().Event)
}
