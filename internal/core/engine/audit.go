package engine

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dripgate/dripgate/internal/core"
)

// AuditSink receives append-only audit events.
type AuditSink interface {
	Append(ctx context.Context, event core.AuditEvent) error
}

// auditTimeout bounds one sink append.
const auditTimeout = 5 * time.Second

// Auditor stamps events and forwards them to a sink. Sink failures are logged
// and swallowed so auditing never changes a claim's outcome.
type Auditor struct {
	Sink   AuditSink
	Logger *logging.Logger
	Clock  func() time.Time
}

// Emit fills ID and Timestamp when missing and appends the event. The append
// outlives cancellation of ctx so a departing caller cannot drop its trail.
func (a *Auditor) Emit(ctx context.Context, event core.AuditEvent) {
	if a == nil || a.Sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = a.now()
	}
	if err := a.Sink.Append(ctx, event); err != nil && a.Logger != nil {
		a.Logger.Warn("Failed to append audit event",
			zap.String("event", event.Event),
			zap.String("request_id", event.RequestID),
			zap.Error(err))
	}
}

func (a *Auditor) now() time.Time {
	if a.Clock != nil {
		return a.Clock().UTC()
	}
	return time.Now().UTC()
}
