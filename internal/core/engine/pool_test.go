package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialPoolRoundRobin(t *testing.T) {
	pool := NewCredentialPool([]string{" a ", "", "b", "c"}, &memoryCursorStore{})
	ctx := context.Background()
	require.Equal(t, 3, pool.Size())

	credential, idx, ok, err := pool.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", credential)
	assert.Equal(t, 0, idx)

	var used []int
	for i := 0; i < 4; i++ {
		u, next, err := pool.Advance(ctx)
		require.NoError(t, err)
		assert.Equal(t, (u+1)%3, next)
		used = append(used, u)
	}
	assert.Equal(t, []int{0, 1, 2, 0}, used)

	_, idx, _, err = pool.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	require.NoError(t, pool.Reset(ctx))
	_, idx, _, err = pool.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestCredentialPoolEmpty(t *testing.T) {
	pool := NewCredentialPool(nil, &memoryCursorStore{})

	_, _, ok, err := pool.Current(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = pool.Advance(context.Background())
	assert.ErrorIs(t, err, ErrPoolEmpty)
}

func TestCredentialPoolConcurrentAdvanceIsFair(t *testing.T) {
	pool := NewCredentialPool([]string{"a", "b", "c"}, &memoryCursorStore{})
	const calls = 300

	var mu sync.Mutex
	counts := map[int]int{}
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			used, _, err := pool.Advance(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			counts[used]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, map[int]int{0: 100, 1: 100, 2: 100}, counts)
}
