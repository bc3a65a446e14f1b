package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dripgate/dripgate/internal/core"
)

const auditStreamKey = "audit"

// AuditStore appends events to a capped stream.
type AuditStore struct {
	s *Store
}

// Audit returns the audit-event view.
func (s *Store) Audit() *AuditStore {
	return &AuditStore{s: s}
}

func (a *AuditStore) Append(ctx context.Context, event core.AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	err = a.s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: a.s.key(auditStreamKey),
		MaxLen: auditMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event":   event.Event,
			"payload": string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Tail returns up to limit recent events, newest first. An event filter scans
// a bounded window of the stream.
func (a *AuditStore) Tail(ctx context.Context, q core.AuditQuery) ([]core.AuditEvent, error) {
	limit, event := q.Limit, q.Event
	if limit <= 0 {
		limit = 50
	}
	fetch := int64(limit)
	if event != "" {
		fetch = int64(limit) * 20
	}

	messages, err := a.s.client.XRevRangeN(ctx, a.s.key(auditStreamKey), "+", "-", fetch).Result()
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}

	events := []core.AuditEvent{}
	for _, msg := range messages {
		if event != "" && msg.Values["event"] != event {
			continue
		}
		raw, _ := msg.Values["payload"].(string)
		var decoded core.AuditEvent
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return nil, fmt.Errorf("decode audit event %s: %w", msg.ID, err)
		}
		events = append(events, decoded)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}
