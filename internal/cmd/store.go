package cmd

import (
	"context"

	"github.com/dripgate/dripgate/internal/app"
	"github.com/dripgate/dripgate/internal/audit"
	"github.com/dripgate/dripgate/internal/config"
	"github.com/dripgate/dripgate/internal/core/engine"
	"github.com/dripgate/dripgate/internal/observability"
)

func openBackend(ctx context.Context, cfg *config.Config) (*app.Backend, error) {
	return app.OpenBackend(ctx, cfg.Store, observability.CLILogger, nil)
}

// ledgerFor builds a ledger over backend with the configured pool. Ledger
// resets issued from the CLI are audited to the store when store auditing is
// on.
func ledgerFor(cfg *config.Config, backend *app.Backend) *engine.Ledger {
	pool := engine.NewCredentialPool(cfg.Faucet.Credentials, backend.Cursors)
	var sinks audit.MultiSink
	if cfg.Audit.Store && backend.Audit != nil {
		sinks = append(sinks, audit.NamedSink{Name: "store", Sink: backend.Audit})
	}
	return &engine.Ledger{
		Store: backend.Ledger,
		Pool:  pool,
		Audit: &engine.Auditor{Sink: sinks, Logger: observability.CLILogger},
	}
}
