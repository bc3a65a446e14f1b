package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/oklog/run"
	"go.uber.org/zap"

	"github.com/dripgate/dripgate/internal/config"
	apperrors "github.com/dripgate/dripgate/internal/errors"
	"github.com/dripgate/dripgate/internal/metrics"
	"github.com/dripgate/dripgate/internal/server"
	"github.com/dripgate/dripgate/internal/server/handlers"
)

var startedAt = time.Now()

// ServeOptions configures Serve.
type ServeOptions struct {
	Config  *config.Config
	Logger  *logging.Logger
	Version string

	// Host and Port override the configured listen address when set.
	Host string
	Port int

	// ConfigFile and EnvFile are re-read on SIGHUP.
	ConfigFile string
	EnvFile    string
}

// Serve runs the HTTP server, the signal listener and the ledger reporter as
// one group. The first to exit stops the others.
func Serve(ctx context.Context, opts ServeOptions) error {
	cfg := opts.Config
	logger := opts.Logger
	if cfg == nil {
		return errors.New("config is required")
	}

	backend, err := OpenBackend(ctx, cfg.Store, logger, nil)
	if err != nil {
		return apperrors.WrapServiceUnavailable(ctx, err, "store unavailable")
	}
	defer func() {
		if err := backend.Close(); err != nil && logger != nil {
			logger.Warn("Store close failed", zap.Error(err))
		}
	}()

	gw, err := NewGateway(cfg, backend, logger)
	if err != nil {
		return err
	}
	defer func() { _ = gw.Close() }()

	apperrors.SetDebug(cfg.Debug.Enabled)
	health := registerHealthChecks(opts.Version, backend, cfg.Metrics.Enabled)

	host, port := cfg.Server.Host, cfg.Server.Port
	if opts.Host != "" {
		host = opts.Host
	}
	if opts.Port != 0 {
		port = opts.Port
	}
	srv := server.New(host, port, gw.API())
	health.MarkStarted()

	startedAt = time.Now()
	metrics.SetServerStartTime(startedAt.Unix())

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handlers run LIFO: shutdown the server first, flush the logger last.
	signals.OnShutdown(func(context.Context) error {
		if logger != nil {
			_ = logger.Sync()
		}
		return nil
	})
	signals.OnShutdown(func(sctx context.Context) error {
		cancel()
		shutdownCtx, done := context.WithTimeout(sctx, shutdownTimeout)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return apperrors.WrapInternal(sctx, err, "server shutdown failed")
		}
		return nil
	})
	signals.OnReload(func(rctx context.Context) error {
		return reload(rctx, gw, logger, opts)
	})
	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil && logger != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	var g run.Group
	{
		g.Add(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		})
	}
	{
		sigCtx, sigCancel := context.WithCancel(ctx)
		g.Add(func() error {
			return signals.Listen(sigCtx)
		}, func(error) {
			sigCancel()
		})
	}
	{
		reporter := &Reporter{
			Stats:    gw.Ledger,
			Purger:   backend,
			Interval: cfg.Stats.ReportInterval,
			Logger:   logger,
		}
		repCtx, repCancel := context.WithCancel(ctx)
		g.Add(func() error {
			return reporter.Run(repCtx)
		}, func(error) {
			repCancel()
		})
	}

	if logger != nil {
		logger.Info("Serving claims",
			zap.String("host", host),
			zap.Int("port", port),
			zap.String("store", backend.Driver),
			zap.String("version", opts.Version))
	}

	if err := g.Run(); err != nil {
		return apperrors.WrapInternal(ctx, err, "server error")
	}
	return nil
}

// reload re-reads configuration. Only the kill switch is applied live;
// everything else needs a restart.
func reload(ctx context.Context, gw *Gateway, logger *logging.Logger, opts ServeOptions) error {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: opts.ConfigFile, EnvFile: opts.EnvFile})
	if err != nil {
		if logger != nil {
			logger.Error("Config reload failed", zap.Error(err))
		}
		return apperrors.WrapConfigInvalid(ctx, err, "config reload failed")
	}
	previous := gw.Disabled()
	gw.SetDisabled(cfg.Faucet.Disabled)
	if logger != nil {
		logger.Info("Configuration reloaded",
			zap.Bool("faucet_disabled", cfg.Faucet.Disabled),
			zap.Bool("changed", previous != cfg.Faucet.Disabled))
	}
	return nil
}

// registerHealthChecks makes the store critical for readiness. Telemetry
// only degrades health, and only when metrics are on.
func registerHealthChecks(version string, backend *Backend, metricsEnabled bool) *handlers.HealthManager {
	handlers.InitHealthManager(version)
	hm := handlers.GetHealthManager()
	hm.RegisterChecker("store", handlers.CheckFunc(backend.Ping))
	if metricsEnabled {
		hm.RegisterOptional("telemetry", handlers.CheckFunc(telemetryReady))
	}
	return hm
}
