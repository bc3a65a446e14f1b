// Package audit delivers audit events to logs, the store and Kafka.
package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/dripgate/dripgate/internal/core"
	"github.com/dripgate/dripgate/internal/metrics"
)

// Sink receives audit events.
type Sink interface {
	Append(ctx context.Context, event core.AuditEvent) error
}

// LogSink writes each event as one structured INFO line.
type LogSink struct {
	Logger *logging.Logger
}

func (l LogSink) Append(_ context.Context, event core.AuditEvent) error {
	if l.Logger == nil {
		return nil
	}
	l.Logger.Info("audit", Fields(event)...)
	return nil
}

// Fields flattens an event into zap fields, omitting empty values.
func Fields(event core.AuditEvent) []zap.Field {
	fields := []zap.Field{
		zap.String("audit_id", event.ID),
		zap.String("event", event.Event),
		zap.Time("timestamp", event.Timestamp),
		zap.Bool("success", event.Success),
	}
	if event.RequestID != "" {
		fields = append(fields, zap.String("request_id", event.RequestID))
	}
	if event.Mode != "" {
		fields = append(fields, zap.String("mode", string(event.Mode)))
	}
	if event.Network != "" {
		fields = append(fields, zap.String("blockchain", event.Network))
	}
	if event.Tokens != nil {
		fields = append(fields,
			zap.Bool("native", event.Tokens.Native),
			zap.Bool("usdc", event.Tokens.USDC),
			zap.Bool("eurc", event.Tokens.EURC),
		)
	}
	if event.WalletHash != "" {
		fields = append(fields, zap.String("wallet_hash", event.WalletHash))
	}
	if event.IPHash != "" {
		fields = append(fields, zap.String("ip_hash", event.IPHash))
	}
	if event.APIKeyHash != "" {
		fields = append(fields, zap.String("api_key_hash", event.APIKeyHash))
	}
	if event.CredentialIndex != nil {
		fields = append(fields, zap.Int("credential_index", *event.CredentialIndex))
	}
	if event.StatusCode != 0 {
		fields = append(fields, zap.Int("status_code", event.StatusCode))
	}
	if event.DurationMS != 0 {
		fields = append(fields, zap.Int64("duration_ms", event.DurationMS))
	}
	if event.Detail != "" {
		fields = append(fields, zap.String("detail", event.Detail))
	}
	return fields
}

// NamedSink labels a sink for failure metrics.
type NamedSink struct {
	Name string
	Sink Sink
}

// MultiSink fans an event out to every sink. One failing sink does not stop
// delivery to the others.
type MultiSink []NamedSink

func (m MultiSink) Append(ctx context.Context, event core.AuditEvent) error {
	var errs []error
	for _, named := range m {
		if named.Sink == nil {
			continue
		}
		if err := named.Sink.Append(ctx, event); err != nil {
			metrics.RecordAuditFailure(named.Name)
			errs = append(errs, fmt.Errorf("%s sink: %w", named.Name, err))
		}
	}
	return errors.Join(errs...)
}
