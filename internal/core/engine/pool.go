package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CursorName is the store key holding the round-robin counter.
const CursorName = "credential_cursor"

// ErrPoolEmpty is returned when no shared credentials are configured.
var ErrPoolEmpty = errors.New("credential pool is empty")

// CursorStore persists monotonic named counters.
type CursorStore interface {
	Load(ctx context.Context, name string) (int64, error)
	// Increment atomically adds one and returns the new value.
	Increment(ctx context.Context, name string) (int64, error)
	Reset(ctx context.Context, name string) error
}

// CredentialPool rotates through an immutable list of shared credentials.
type CredentialPool struct {
	credentials []string
	store       CursorStore
}

// NewCredentialPool trims and drops blank credentials.
func NewCredentialPool(credentials []string, store CursorStore) *CredentialPool {
	pool := &CredentialPool{store: store}
	for _, credential := range credentials {
		credential = strings.TrimSpace(credential)
		if credential == "" {
			continue
		}
		pool.credentials = append(pool.credentials, credential)
	}
	return pool
}

// Size returns the number of credentials.
func (p *CredentialPool) Size() int {
	if p == nil {
		return 0
	}
	return len(p.credentials)
}

// Credential returns the credential at index.
func (p *CredentialPool) Credential(index int) (string, bool) {
	if p == nil || index < 0 || index >= len(p.credentials) {
		return "", false
	}
	return p.credentials[index], true
}

// Current returns the credential the next Advance will hand out.
func (p *CredentialPool) Current(ctx context.Context) (string, int, bool, error) {
	n := p.Size()
	if n == 0 {
		return "", 0, false, nil
	}
	value, err := p.store.Load(ctx, CursorName)
	if err != nil {
		return "", 0, false, fmt.Errorf("load cursor: %w", err)
	}
	idx := mod(value, n)
	return p.credentials[idx], idx, true, nil
}

// Advance claims the current slot and moves the cursor in one atomic
// increment. used is the index the caller must dispatch with; next is where
// the cursor now points.
func (p *CredentialPool) Advance(ctx context.Context) (used int, next int, err error) {
	n := p.Size()
	if n == 0 {
		return 0, 0, ErrPoolEmpty
	}
	value, err := p.store.Increment(ctx, CursorName)
	if err != nil {
		return 0, 0, fmt.Errorf("advance cursor: %w", err)
	}
	return mod(value-1, n), mod(value, n), nil
}

// Reset moves the cursor back to index 0.
func (p *CredentialPool) Reset(ctx context.Context) error {
	if p == nil || p.store == nil {
		return nil
	}
	if err := p.store.Reset(ctx, CursorName); err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}
	return nil
}

func mod(value int64, n int) int {
	m := int(value % int64(n))
	if m < 0 {
		m += n
	}
	return m
}
