package engine

import (
	"context"
	"errors"
	"time"

	"github.com/dripgate/dripgate/internal/core"
	"github.com/dripgate/dripgate/internal/metrics"
)

// ErrCredentialPoolExhausted is returned when every credential was tried
// without a terminal upstream answer.
var ErrCredentialPoolExhausted = errors.New("all credentials exhausted")

// Upstream dispatches one drip with one credential.
type Upstream interface {
	Drip(ctx context.Context, credential string, payload core.DripPayload) core.UpstreamResult
}

// DispatchResult describes how a shared-pool dispatch ended.
type DispatchResult struct {
	// Result is the terminal upstream result, or the last one seen when the
	// pool was exhausted.
	Result          core.UpstreamResult
	CredentialIndex *int
	Attempts        int
}

// FailoverDispatcher walks the credential pool until the upstream gives a
// terminal answer. Each claim takes one slot from the shared cursor and then
// visits the pool from there on its own, so concurrent claims cannot steer
// each other onto spent credentials and every credential is tried exactly
// once before the pool counts as exhausted.
type FailoverDispatcher struct {
	Pool     *CredentialPool
	Upstream Upstream
	Audit    *Auditor
}

// Dispatch sends payload through the pool. template carries request-scoped
// audit fields copied into every event emitted here. A store error before
// the first upstream call returns with Attempts == 0.
func (d *FailoverDispatcher) Dispatch(ctx context.Context, payload core.DripPayload, template core.AuditEvent) (DispatchResult, error) {
	size := d.Pool.Size()
	if size == 0 {
		return DispatchResult{}, ErrPoolEmpty
	}

	start, _, err := d.Pool.Advance(ctx)
	if err != nil {
		return DispatchResult{}, err
	}

	var out DispatchResult
	for attempt := 0; attempt < size; attempt++ {
		index := (start + attempt) % size
		credential, _ := d.Pool.Credential(index)

		result := d.Upstream.Drip(ctx, credential, payload)
		out = DispatchResult{Result: result, CredentialIndex: &index, Attempts: attempt + 1}

		switch result.Kind {
		case core.UpstreamSuccess, core.UpstreamRejected:
			return out, nil
		case core.UpstreamQuotaExhausted:
			d.emit(ctx, template, core.AuditCredentialQuotaExhausted, index, result)
		case core.UpstreamTransport:
			d.emit(ctx, template, core.AuditTransportError, index, result)
		default:
			return out, nil
		}
		metrics.RecordFailover(core.KeyLabel(index), string(result.Kind))
	}

	d.emit(ctx, template, core.AuditCredentialPoolExhausted, -1, out.Result)
	return out, ErrCredentialPoolExhausted
}

func (d *FailoverDispatcher) emit(ctx context.Context, template core.AuditEvent, name string, index int, result core.UpstreamResult) {
	event := template
	event.ID = ""
	event.Event = name
	event.StatusCode = result.StatusCode
	event.DurationMS = int64(result.Duration / time.Millisecond)
	if index >= 0 {
		idx := index
		event.CredentialIndex = &idx
	}
	if result.Err != nil {
		event.Detail = result.Err.Error()
	} else if msg := result.Message(); msg != "" {
		event.Detail = msg
	}
	d.Audit.Emit(ctx, event)
}
