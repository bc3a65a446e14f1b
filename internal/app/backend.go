// Package app assembles the gateway from configuration and runs it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/dripgate/dripgate/internal/config"
	"github.com/dripgate/dripgate/internal/core"
	"github.com/dripgate/dripgate/internal/core/engine"
	"github.com/dripgate/dripgate/internal/core/store"
	"github.com/dripgate/dripgate/internal/core/store/memstore"
	"github.com/dripgate/dripgate/internal/core/store/redisstore"
)

// WindowAdmin lists and clears stored window keys.
type WindowAdmin interface {
	ListWindows(ctx context.Context, q core.WindowQuery) ([]core.WindowEntry, error)
	CountWindows(ctx context.Context, q core.WindowQuery) (int, error)
	ResetWindows(ctx context.Context, q core.WindowQuery) (int64, error)
}

// AuditTail reads recent audit events, newest first.
type AuditTail interface {
	Tail(ctx context.Context, q core.AuditQuery) ([]core.AuditEvent, error)
}

// Backend is one opened store driver exposed through the engine ports.
type Backend struct {
	Driver  string
	Windows engine.WindowStore
	Admin   WindowAdmin
	Cursors engine.CursorStore
	Ledger  engine.LedgerStore
	Audit   engine.AuditSink
	Tail    AuditTail

	ping  func(ctx context.Context) error
	purge func(ctx context.Context, now time.Time) (int64, error)
	close func() error
}

// OpenBackend opens the configured driver. libsql stores are migrated before
// use. clock stamps ledger epochs and may be nil.
func OpenBackend(ctx context.Context, cfg config.StoreConfig, logger *logging.Logger, clock func() time.Time) (*Backend, error) {
	if clock == nil {
		clock = time.Now
	}

	switch cfg.Driver {
	case config.DriverLibsql, "":
		db, err := store.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		db.Clock = clock
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate store: %w", err)
		}
		windows := db.Windows()
		audit := db.Audit()
		return &Backend{
			Driver:  config.DriverLibsql,
			Windows: windows,
			Admin:   windows,
			Cursors: db.Cursors(),
			Ledger:  db.Ledger(),
			Audit:   audit,
			Tail:    audit,
			ping:    db.Ping,
			purge:   db.PurgeExpired,
			close:   db.Close,
		}, nil

	case config.DriverRedis:
		rs, err := redisstore.Open(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		rs.Clock = clock
		windows := rs.Windows()
		audit := rs.Audit()
		return &Backend{
			Driver:  config.DriverRedis,
			Windows: windows,
			Admin:   windows,
			Cursors: rs.Cursors(),
			Ledger:  rs.Ledger(),
			Audit:   audit,
			Tail:    audit,
			ping:    rs.Ping,
			close:   rs.Close,
		}, nil

	case config.DriverMemory:
		if logger != nil {
			logger.Warn("Using in-memory store: single process, reset on restart",
				zap.String("driver", config.DriverMemory))
		}
		ms := memstore.New(clock(), memstore.DefaultAuditCapacity)
		windows := ms.Windows()
		audit := ms.Audit()
		return &Backend{
			Driver:  config.DriverMemory,
			Windows: windows,
			Admin:   windows,
			Cursors: ms.Cursors(),
			Ledger:  ms.Ledger(),
			Audit:   audit,
			Tail:    audit,
			ping:    ms.Ping,
			close:   ms.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

// Ping checks backend connectivity.
func (b *Backend) Ping(ctx context.Context) error {
	if b == nil || b.ping == nil {
		return nil
	}
	return b.ping(ctx)
}

// Purge drops expired window rows. Backends with native expiry report zero.
func (b *Backend) Purge(ctx context.Context, now time.Time) (int64, error) {
	if b == nil || b.purge == nil {
		return 0, nil
	}
	return b.purge(ctx, now)
}

// Close releases backend resources.
func (b *Backend) Close() error {
	if b == nil || b.close == nil {
		return nil
	}
	return b.close()
}
