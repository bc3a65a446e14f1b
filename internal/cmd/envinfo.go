package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dripgate/dripgate/internal/config"
	"github.com/dripgate/dripgate/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, configuration, and version information. Secrets are reported only as set or not set.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		version := crucible.GetVersion()
		identity := GetAppIdentity()

		log.Info("=== " + identity.BinaryName + " Environment Information ===")
		log.Info("")

		log.Info("Application:")
		log.Info("  Name:       " + identity.BinaryName)
		log.Info("  Version:    " + versionInfo.Version)
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("")

		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		log.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		log.Info("")

		cfg, err := loadConfig()
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return
		}

		log.Info("Server:")
		log.Info(fmt.Sprintf("  Listen:         %s:%d", cfg.Server.Host, cfg.Server.Port))
		log.Info(fmt.Sprintf("  Proxy headers:  %t", cfg.Server.TrustProxyHeaders))
		log.Info(fmt.Sprintf("  Metrics port:   %d", cfg.Metrics.Port))
		log.Info("  Log level:      " + cfg.Logging.Level)
		log.Info("")

		log.Info("Store:")
		log.Info("  Driver:         " + cfg.Store.Driver)
		switch cfg.Store.Driver {
		case config.DriverRedis:
			log.Info("  Redis:          " + cfg.Store.Redis.Addr + " prefix=" + cfg.Store.Redis.Prefix)
		case config.DriverLibsql:
			if strings.TrimSpace(cfg.Store.URL) != "" {
				log.Info("  URL:            " + cfg.Store.URL)
			} else {
				log.Info("  Path:           " + cfg.Store.Path)
			}
		}
		log.Info("")

		log.Info("Faucet:")
		log.Info(fmt.Sprintf("  Disabled:       %t", cfg.Faucet.Disabled))
		log.Info(fmt.Sprintf("  Credentials:    %d", len(cfg.Faucet.Credentials)))
		log.Info("  Password hash:  " + setStatus(cfg.Faucet.PasswordHash))
		log.Info(fmt.Sprintf("  Revoked keys:   %d", len(cfg.Faucet.RevokedKeyHashes)))
		log.Info("  Upstream:       " + cfg.Faucet.Upstream.BaseURL)
		log.Info(fmt.Sprintf("  Networks:       %d", len(cfg.Faucet.Networks)))
		log.Info("")

		log.Info("Audit:")
		log.Info(fmt.Sprintf("  Log:            %t", cfg.Audit.Log))
		log.Info(fmt.Sprintf("  Store:          %t", cfg.Audit.Store))
		log.Info(fmt.Sprintf("  Kafka:          %t", cfg.Audit.Kafka.Enabled))
		log.Info("  Admin token:    " + setStatus(cfg.Admin.Token))
		log.Info("")

		log.Info("=== End Environment Information ===")
	},
}

func setStatus(value string) string {
	if strings.TrimSpace(value) != "" {
		return "(set)"
	}
	return "(not set)"
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
