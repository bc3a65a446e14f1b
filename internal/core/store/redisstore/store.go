// Package redisstore backs windows, cursors, ledger and audit with Redis so
// independent gateway instances share one atomic view of state.
package redisstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dripgate/dripgate/internal/config"
)

//go:embed window_trim.lua
var windowTrimSource string

var windowTrimScript = redis.NewScript(windowTrimSource)

//go:embed window_reserve.lua
var windowReserveSource string

var windowReserveScript = redis.NewScript(windowReserveSource)

// auditMaxLen approximately caps the audit stream.
const auditMaxLen = 100000

// Store is the Redis backend.
type Store struct {
	client *redis.Client
	prefix string

	// Clock stamps ledger epochs; nil uses time.Now.
	Clock func() time.Time
}

// Open connects, verifies the server and preloads scripts.
func Open(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	s, err := New(ctx, client, cfg.Prefix)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing client.
func New(ctx context.Context, client *redis.Client, prefix string) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	for _, script := range []*redis.Script{windowTrimScript, windowReserveScript} {
		if err := script.Load(pingCtx, client).Err(); err != nil {
			return nil, fmt.Errorf("load window script: %w", err)
		}
	}

	s := &Store{client: client, prefix: prefix}
	if err := s.client.HSetNX(pingCtx, s.key(ledgerTotalsKey), fieldEpoch, s.now().UnixMilli()).Err(); err != nil {
		return nil, fmt.Errorf("seed ledger: %w", err)
	}
	return s, nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) key(parts ...string) string {
	return s.prefix + strings.Join(parts, ":")
}

func (s *Store) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}
