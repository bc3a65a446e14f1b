package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripgate/dripgate/internal/core"
)

func newDispatcher(credentials []string, upstream *scriptedUpstream, sink *recordingSink) *FailoverDispatcher {
	return &FailoverDispatcher{
		Pool:     NewCredentialPool(credentials, &memoryCursorStore{}),
		Upstream: upstream,
		Audit:    &Auditor{Sink: sink},
	}
}

func TestDispatcherSucceedsOnFirstCredential(t *testing.T) {
	upstream := &scriptedUpstream{}
	sink := &recordingSink{}
	d := newDispatcher([]string{"k0", "k1"}, upstream, sink)

	result, err := d.Dispatch(context.Background(), core.DripPayload{Address: "0x1"}, core.AuditEvent{})
	require.NoError(t, err)
	assert.Equal(t, core.UpstreamSuccess, result.Result.Kind)
	require.NotNil(t, result.CredentialIndex)
	assert.Equal(t, 0, *result.CredentialIndex)
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, sink.names())
}

func TestDispatcherFailsOverOnQuotaExhaustion(t *testing.T) {
	upstream := &scriptedUpstream{results: map[string]core.UpstreamResult{"k0": quotaExhausted()}}
	sink := &recordingSink{}
	d := newDispatcher([]string{"k0", "k1", "k2"}, upstream, sink)

	result, err := d.Dispatch(context.Background(), core.DripPayload{}, core.AuditEvent{RequestID: "req-1"})
	require.NoError(t, err)
	require.NotNil(t, result.CredentialIndex)
	assert.Equal(t, 1, *result.CredentialIndex)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, []string{"k0", "k1"}, upstream.credentials())
	assert.Equal(t, []string{core.AuditCredentialQuotaExhausted}, sink.names())

	event := sink.last()
	assert.Equal(t, "req-1", event.RequestID)
	require.NotNil(t, event.CredentialIndex)
	assert.Equal(t, 0, *event.CredentialIndex)
	assert.NotEmpty(t, event.ID)
}

func TestDispatcherStopsOnNonQuotaRejection(t *testing.T) {
	rejected := core.UpstreamResult{Kind: core.UpstreamRejected, StatusCode: 400, Body: map[string]any{"message": "bad address"}}
	upstream := &scriptedUpstream{results: map[string]core.UpstreamResult{"k0": rejected}}
	d := newDispatcher([]string{"k0", "k1"}, upstream, &recordingSink{})

	result, err := d.Dispatch(context.Background(), core.DripPayload{}, core.AuditEvent{})
	require.NoError(t, err)
	assert.Equal(t, rejected, result.Result)
	assert.Equal(t, []string{"k0"}, upstream.credentials())
}

func TestDispatcherContinuesAfterTransportError(t *testing.T) {
	transport := core.UpstreamResult{Kind: core.UpstreamTransport, Err: errors.New("connection reset")}
	upstream := &scriptedUpstream{results: map[string]core.UpstreamResult{"k0": transport}}
	sink := &recordingSink{}
	d := newDispatcher([]string{"k0", "k1"}, upstream, sink)

	result, err := d.Dispatch(context.Background(), core.DripPayload{}, core.AuditEvent{})
	require.NoError(t, err)
	assert.Equal(t, core.UpstreamSuccess, result.Result.Kind)
	assert.Equal(t, []string{core.AuditTransportError}, sink.names())
	assert.Equal(t, "connection reset", sink.last().Detail)
}

func TestDispatcherExhaustsPool(t *testing.T) {
	last := core.UpstreamResult{Kind: core.UpstreamTransport, Err: errors.New("timeout")}
	upstream := &scriptedUpstream{results: map[string]core.UpstreamResult{
		"k0": quotaExhausted(),
		"k1": quotaExhausted(),
		"k2": last,
	}}
	sink := &recordingSink{}
	d := newDispatcher([]string{"k0", "k1", "k2"}, upstream, sink)

	result, err := d.Dispatch(context.Background(), core.DripPayload{}, core.AuditEvent{})
	require.ErrorIs(t, err, ErrCredentialPoolExhausted)
	assert.Equal(t, last, result.Result)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, []string{"k0", "k1", "k2"}, upstream.credentials())
	assert.Equal(t, []string{
		core.AuditCredentialQuotaExhausted,
		core.AuditCredentialQuotaExhausted,
		core.AuditTransportError,
		core.AuditCredentialPoolExhausted,
	}, sink.names())
}

func TestDispatcherEmptyPool(t *testing.T) {
	d := newDispatcher(nil, &scriptedUpstream{}, &recordingSink{})
	_, err := d.Dispatch(context.Background(), core.DripPayload{}, core.AuditEvent{})
	assert.ErrorIs(t, err, ErrPoolEmpty)
}

func TestDispatcherStartsWhereCursorPoints(t *testing.T) {
	upstream := &scriptedUpstream{}
	d := newDispatcher([]string{"k0", "k1", "k2"}, upstream, &recordingSink{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := d.Dispatch(ctx, core.DripPayload{}, core.AuditEvent{})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"k0", "k1", "k2", "k0"}, upstream.credentials())
}

func TestDispatcherCoversPoolWhenClaimsInterleave(t *testing.T) {
	scripted := &scriptedUpstream{results: map[string]core.UpstreamResult{"k0": quotaExhausted()}}
	upstream := &hookedUpstream{scriptedUpstream: scripted}
	d := &FailoverDispatcher{
		Pool:     NewCredentialPool([]string{"k0", "k1"}, &memoryCursorStore{}),
		Upstream: upstream,
		Audit:    &Auditor{Sink: &recordingSink{}},
	}
	ctx := context.Background()

	var inner DispatchResult
	var innerErr error
	upstream.before = func(_ context.Context, credential string) {
		if credential != "k0" || inner.Attempts != 0 {
			return
		}
		// Another claim moves the shared cursor while this one waits on k0.
		inner, innerErr = d.Dispatch(ctx, core.DripPayload{Address: "0xinner"}, core.AuditEvent{})
	}

	outer, err := d.Dispatch(ctx, core.DripPayload{Address: "0xouter"}, core.AuditEvent{})
	require.NoError(t, err)
	require.NotNil(t, outer.CredentialIndex)
	assert.Equal(t, 1, *outer.CredentialIndex)
	assert.Equal(t, 2, outer.Attempts)

	require.NoError(t, innerErr)
	require.NotNil(t, inner.CredentialIndex)
	assert.Equal(t, 1, *inner.CredentialIndex)

	var outerCalls []string
	for _, call := range scripted.calls {
		if call.payload.Address == "0xouter" {
			outerCalls = append(outerCalls, call.credential)
		}
	}
	assert.Equal(t, []string{"k0", "k1"}, outerCalls)
}

func TestDispatcherTriesEachCredentialOnceFromStart(t *testing.T) {
	upstream := &scriptedUpstream{results: map[string]core.UpstreamResult{
		"k1": quotaExhausted(),
		"k2": quotaExhausted(),
	}}
	cursor := &memoryCursorStore{values: map[string]int64{CursorName: 1}}
	d := &FailoverDispatcher{
		Pool:     NewCredentialPool([]string{"k0", "k1", "k2"}, cursor),
		Upstream: upstream,
		Audit:    &Auditor{Sink: &recordingSink{}},
	}

	result, err := d.Dispatch(context.Background(), core.DripPayload{}, core.AuditEvent{})
	require.NoError(t, err)
	require.NotNil(t, result.CredentialIndex)
	assert.Equal(t, 0, *result.CredentialIndex)
	assert.Equal(t, []string{"k1", "k2", "k0"}, upstream.credentials())
	// One slot per claim, however many credentials it visited.
	assert.Equal(t, int64(2), cursor.values[CursorName])
}

func TestDispatcherCursorErrorMakesNoCall(t *testing.T) {
	upstream := &scriptedUpstream{}
	d := &FailoverDispatcher{
		Pool:     NewCredentialPool([]string{"k0"}, &memoryCursorStore{err: errors.New("store down")}),
		Upstream: upstream,
		Audit:    &Auditor{Sink: &recordingSink{}},
	}

	result, err := d.Dispatch(context.Background(), core.DripPayload{}, core.AuditEvent{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCredentialPoolExhausted)
	assert.Equal(t, 0, result.Attempts)
	assert.Empty(t, upstream.credentials())
}
