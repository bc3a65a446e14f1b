//go:build cgo

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripgate/dripgate/internal/config"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("Memory", func(t *testing.T) {
		s, err := Open(ctx, config.StoreConfig{Driver: config.DriverLibsql, Path: ":memory:"})
		require.NoError(t, err)
		require.NoError(t, s.Ping(ctx))
		assert.Equal(t, 1, s.DB.Stats().MaxOpenConnections)
		require.NoError(t, s.Close())
	})

	t.Run("LocalFileTuning", func(t *testing.T) {
		s, err := Open(ctx, config.StoreConfig{Path: "file:" + t.TempDir() + "/dripgate.db"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })

		assert.Equal(t, 1, s.DB.Stats().MaxOpenConnections)

		var journalMode string
		require.NoError(t, s.DB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode))
		assert.Contains(t, journalMode, "wal")

		var busyTimeout int
		require.NoError(t, s.DB.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout))
		assert.GreaterOrEqual(t, busyTimeout, 1000)
	})

	t.Run("WrongDriver", func(t *testing.T) {
		_, err := Open(ctx, config.StoreConfig{Driver: config.DriverRedis, Path: ":memory:"})
		assert.ErrorContains(t, err, "unsupported store driver")
	})

	t.Run("NilStore", func(t *testing.T) {
		var s *Store
		assert.Error(t, s.Ping(ctx))
		assert.NoError(t, s.Close())
	})
}
