package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dripgate/dripgate/internal/app"
	errwrap "github.com/dripgate/dripgate/internal/errors"
	"github.com/dripgate/dripgate/internal/observability"
	"github.com/dripgate/dripgate/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the claim gateway",
	Long: `Start the HTTP claim gateway with graceful shutdown support.

Endpoints:
  POST /api/claim            submit a claim
  GET  /api/stats            ledger statistics
  GET  /api/stats/live       ledger statistics over a websocket
  POST /admin/ledger/reset   reset the ledger (requires admin.token)

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Reload configuration (applies faucet.disabled live)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustLoadConfig()

		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()

		logLevel := cfg.Logging.Level
		if verbose {
			logLevel = "debug"
		}
		if err := observability.InitServerLogger(observability.ServerLogOptions{
			Service:   identity.BinaryName,
			Level:     logLevel,
			Profile:   cfg.Logging.Profile,
			Namespace: namespace,
		}); err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to initialize server logger", err)
		}

		metricsPort := cfg.Metrics.Port
		if metricsPort == 0 {
			metricsPort = 9090
		}
		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(identity.BinaryName, metricsPort, namespace); err != nil {
				observability.ServerLogger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}

		handlers.SetAppIdentity(identity)

		observability.ServerLogger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.Int("metrics_port", metricsPort))

		return app.Serve(cmd.Context(), app.ServeOptions{
			Config:     cfg,
			Logger:     observability.ServerLogger,
			Version:    versionInfo.Version,
			Host:       serverHost,
			Port:       serverPort,
			ConfigFile: cfgFile,
			EnvFile:    envFile,
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host (default server.host)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "server port (default server.port)")
}
