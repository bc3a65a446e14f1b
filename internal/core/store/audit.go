package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dripgate/dripgate/internal/core"
)

// AuditStore is the audit-event view of a Store.
type AuditStore struct {
	s *Store
}

// Audit returns the audit-event view.
func (s *Store) Audit() *AuditStore {
	return &AuditStore{s: s}
}

// Append stores one audit event. Events are never updated.
func (a *AuditStore) Append(ctx context.Context, event core.AuditEvent) error {
	if a == nil || a.s == nil || a.s.DB == nil {
		return errors.New("store is not initialized")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	_, err = a.s.DB.ExecContext(ctx, `
		INSERT INTO audit_events (id, event, request_id, occurred_at_ms, payload)
		VALUES (?, ?, ?, ?, ?)
	`, event.ID, event.Event, event.RequestID, event.Timestamp.UnixMilli(), string(payload))
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Tail returns the most recent events, newest first.
func (a *AuditStore) Tail(ctx context.Context, q core.AuditQuery) ([]core.AuditEvent, error) {
	if a == nil || a.s == nil || a.s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	where := ""
	args := []any{}
	if q.Event != "" {
		where = "WHERE event = ?"
		args = append(args, q.Event)
	}
	args = append(args, limit)

	rows, err := a.s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT payload FROM audit_events
		%s
		ORDER BY seq DESC
		LIMIT ?
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	events := []core.AuditEvent{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan audit events: %w", err)
		}
		var event core.AuditEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("decode audit event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return events, nil
}
