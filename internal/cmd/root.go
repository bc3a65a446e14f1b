package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dripgate/dripgate/internal/appid"
	"github.com/dripgate/dripgate/internal/config"
	"github.com/dripgate/dripgate/internal/observability"
)

var (
	cfgFile string
	envFile string
	verbose bool

	// App identity for help text, logger names and metric namespaces
	appIdentity *appidentity.Identity

	loadedConfig    *config.Config
	loadedConfigErr error
	loadConfigOnce  sync.Once

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the loaded app identity (only valid after initConfig)
func GetAppIdentity() *appidentity.Identity {
	return appIdentity
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   filepath.Base(os.Args[0]),
	Short: "Abuse-control gateway for testnet token faucets",
	Long: `dripgate fronts a token faucet API. It rate limits claims, rotates
upstream credentials, fails over on quota exhaustion and keeps a ledger and
audit trail of every decision.

Use the subcommands to serve claims or inspect and reset stored state.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Disable global telemetry early so CLI commands never emit metrics to
	// stdout. Server mode installs the Prometheus-backed system later.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	if identity, err := appid.Get(context.Background()); err == nil && identity != nil {
		appIdentity = identity
		if identity.BinaryName != "" {
			rootCmd.Use = identity.BinaryName
		}
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/dripgate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the environment (default ./.env if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
}

// initConfig sets up identity and the CLI logger. Configuration itself is
// loaded lazily so commands like version work without a valid config.
func initConfig() {
	identity, err := appid.Get(context.Background())
	if err != nil {
		ExitWithCodeStderr(foundry.ExitFileNotFound, "Failed to load app identity", err)
	}
	appIdentity = identity

	if f := rootCmd.PersistentFlags().Lookup("config"); f != nil && identity.ConfigName != "" {
		f.Usage = fmt.Sprintf("config file (default is $XDG_CONFIG_HOME/%s/config.yaml)", identity.ConfigName)
	}

	if err := observability.InitCLILogger(appIdentity.BinaryName, verbose); err != nil {
		ExitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize CLI logger", err)
	}
}

// loadConfig loads configuration once per process.
func loadConfig() (*config.Config, error) {
	loadConfigOnce.Do(func() {
		loadedConfig, loadedConfigErr = config.Load(config.LoadOptions{
			ConfigFile: cfgFile,
			EnvFile:    envFile,
		})
		if loadedConfigErr == nil && verbose && observability.CLILogger != nil {
			observability.CLILogger.Debug("Configuration loaded",
				zap.String("config_file", cfgFile),
				zap.String("store_driver", loadedConfig.Store.Driver))
		}
	})
	return loadedConfig, loadedConfigErr
}

// mustLoadConfig exits with ExitConfigInvalid when configuration is unusable.
func mustLoadConfig() *config.Config {
	cfg, err := loadConfig()
	if err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid configuration", err)
	}
	return cfg
}
