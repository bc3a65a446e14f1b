package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const cursorNamespace = "cursor"

// CursorStore keeps named monotonic counters as plain INCR keys.
type CursorStore struct {
	s *Store
}

// Cursors returns the cursor view.
func (s *Store) Cursors() *CursorStore {
	return &CursorStore{s: s}
}

func (c *CursorStore) Load(ctx context.Context, name string) (int64, error) {
	value, err := c.s.client.Get(ctx, c.s.key(cursorNamespace, name)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	return value, nil
}

func (c *CursorStore) Increment(ctx context.Context, name string) (int64, error) {
	value, err := c.s.client.Incr(ctx, c.s.key(cursorNamespace, name)).Result()
	if err != nil {
		return 0, fmt.Errorf("advance cursor: %w", err)
	}
	return value, nil
}

func (c *CursorStore) Reset(ctx context.Context, name string) error {
	if err := c.s.client.Del(ctx, c.s.key(cursorNamespace, name)).Err(); err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}
	return nil
}
