package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dripgate/dripgate/internal/core"
)

const windowNamespace = "window"

// WindowStore keeps each window as a sorted set scored by event time.
type WindowStore struct {
	s *Store
}

// Windows returns the sliding-window view.
func (s *Store) Windows() *WindowStore {
	return &WindowStore{s: s}
}

// Trim prunes and reads the window in one server-side script.
func (w *WindowStore) Trim(ctx context.Context, key string, cutoff time.Time) (core.WindowState, error) {
	result, err := windowTrimScript.Run(ctx, w.s.client, []string{w.s.key(windowNamespace, key)}, cutoff.UnixMilli()).Result()
	if err != nil {
		return core.WindowState{}, fmt.Errorf("trim window: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return core.WindowState{}, errors.New("invalid window script response")
	}
	count, _ := values[0].(int64)
	oldest, _ := values[1].(int64)

	state := core.WindowState{Count: int(count)}
	if count > 0 {
		state.Oldest = time.UnixMilli(oldest).UTC()
	}
	return state, nil
}

// Append adds an event and refreshes the key TTL in one MULTI/EXEC.
func (w *WindowStore) Append(ctx context.Context, key string, at time.Time, ttl time.Duration) error {
	redisKey := w.s.key(windowNamespace, key)
	pipe := w.s.client.TxPipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(at.UnixMilli()), Member: uuid.NewString()})
	if ttl > 0 {
		pipe.PExpire(ctx, redisKey, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append window event: %w", err)
	}
	return nil
}

// Reserve evaluates and appends every slot in one server-side script.
func (w *WindowStore) Reserve(ctx context.Context, slots []core.WindowSlot, at time.Time) (core.Reservation, error) {
	keys := make([]string, 0, len(slots))
	args := []interface{}{at.UnixMilli(), uuid.NewString()}
	for _, slot := range slots {
		keys = append(keys, w.s.key(windowNamespace, slot.Key))
		args = append(args, slot.Limit, at.Add(-slot.Window).UnixMilli(), slot.Window.Milliseconds())
	}

	result, err := windowReserveScript.Run(ctx, w.s.client, keys, args...).Result()
	if err != nil {
		return core.Reservation{}, fmt.Errorf("reserve window: %w", err)
	}
	values, ok := result.([]interface{})
	if !ok || len(values)%2 != 1 {
		return core.Reservation{}, errors.New("invalid reserve script response")
	}

	blocked, _ := values[0].(int64)
	reservation := core.Reservation{Blocked: int(blocked) - 1}
	for i := 1; i+1 < len(values); i += 2 {
		count, _ := values[i].(int64)
		oldest, _ := values[i+1].(int64)
		state := core.WindowState{Count: int(count)}
		if count > 0 {
			state.Oldest = time.UnixMilli(oldest).UTC()
		}
		reservation.States = append(reservation.States, state)
	}
	return reservation, nil
}

func windowPattern(q core.WindowQuery) (string, error) {
	if err := q.Validate(); err != nil {
		return "", err
	}
	switch {
	case q.All:
		return "*", nil
	case strings.TrimSpace(q.Key) != "":
		return strings.TrimSpace(q.Key), nil
	default:
		return strings.TrimSpace(q.Prefix) + "*", nil
	}
}

func (w *WindowStore) scan(ctx context.Context, q core.WindowQuery) ([]string, error) {
	pattern, err := windowPattern(q)
	if err != nil {
		return nil, err
	}
	var keys []string
	iter := w.s.client.Scan(ctx, 0, w.s.key(windowNamespace, pattern), 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan windows: %w", err)
	}
	return keys, nil
}

// ListWindows summarizes stored events per key.
func (w *WindowStore) ListWindows(ctx context.Context, q core.WindowQuery) ([]core.WindowEntry, error) {
	keys, err := w.scan(ctx, q)
	if err != nil {
		return nil, err
	}
	trim := w.s.key(windowNamespace) + ":"
	entries := []core.WindowEntry{}
	for _, redisKey := range keys {
		scores, err := w.s.client.ZRangeWithScores(ctx, redisKey, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("read window %s: %w", redisKey, err)
		}
		if len(scores) == 0 {
			continue
		}
		entries = append(entries, core.WindowEntry{
			Key:    strings.TrimPrefix(redisKey, trim),
			Events: len(scores),
			Oldest: time.UnixMilli(int64(scores[0].Score)).UTC(),
			Newest: time.UnixMilli(int64(scores[len(scores)-1].Score)).UTC(),
		})
	}
	return entries, nil
}

// ResetWindows deletes the matching keys and reports the events removed.
func (w *WindowStore) ResetWindows(ctx context.Context, q core.WindowQuery) (int64, error) {
	keys, err := w.scan(ctx, q)
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, redisKey := range keys {
		n, err := w.s.client.ZCard(ctx, redisKey).Result()
		if err != nil {
			return removed, fmt.Errorf("count window %s: %w", redisKey, err)
		}
		if err := w.s.client.Del(ctx, redisKey).Err(); err != nil {
			return removed, fmt.Errorf("reset window %s: %w", redisKey, err)
		}
		removed += n
	}
	return removed, nil
}

// CountWindows returns the number of keys matching q.
func (w *WindowStore) CountWindows(ctx context.Context, q core.WindowQuery) (int, error) {
	keys, err := w.scan(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
