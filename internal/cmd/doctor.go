package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dripgate/dripgate/internal/config"
	errwrap "github.com/dripgate/dripgate/internal/errors"
	"github.com/dripgate/dripgate/internal/observability"
)

// doctorLevel grades one diagnostic finding.
type doctorLevel int

const (
	doctorOK doctorLevel = iota
	doctorWarn
	doctorFail
)

type doctorFinding struct {
	Check  string
	Level  doctorLevel
	Detail string
}

// diagnoseConfig inspects a loaded configuration for settings that will make
// claims fail or weaken abuse control.
func diagnoseConfig(cfg *config.Config) []doctorFinding {
	var findings []doctorFinding
	add := func(check string, level doctorLevel, format string, args ...any) {
		findings = append(findings, doctorFinding{Check: check, Level: level, Detail: fmt.Sprintf(format, args...)})
	}

	creds := cfg.Faucet.Credentials
	switch {
	case len(creds) == 0:
		add("credentials", doctorWarn, "none configured; shared-mode claims will return 503")
	case hasDuplicates(creds):
		add("credentials", doctorWarn, "%d configured with duplicates; rotation will reuse a key", len(creds))
	default:
		add("credentials", doctorOK, "%d configured", len(creds))
	}

	switch {
	case cfg.Faucet.PasswordHash == "":
		add("password_hash", doctorWarn, "not set; shared-mode claims will always be refused")
	case !isSHA256Hex(cfg.Faucet.PasswordHash):
		add("password_hash", doctorFail, "not a 64-character hex SHA-256 digest")
	default:
		add("password_hash", doctorOK, "set")
	}

	malformed := 0
	for _, digest := range cfg.Faucet.RevokedKeyHashes {
		if !isSHA256Hex(digest) {
			malformed++
		}
	}
	if malformed > 0 {
		add("revoked_key_hashes", doctorFail, "%d of %d entries are not hex SHA-256 digests", malformed, len(cfg.Faucet.RevokedKeyHashes))
	} else {
		add("revoked_key_hashes", doctorOK, "%d entries", len(cfg.Faucet.RevokedKeyHashes))
	}

	add("networks", doctorOK, "%s", strings.Join(cfg.Faucet.Networks, ", "))

	if cfg.Faucet.Disabled {
		add("kill_switch", doctorWarn, "faucet.disabled is on; every claim returns 503")
	} else {
		add("kill_switch", doctorOK, "off")
	}

	if !cfg.Faucet.Limits.Infra.Enabled {
		add("limits", doctorWarn, "infra limit disabled; request floods are not throttled")
	} else {
		add("limits", doctorOK, "infra %d/%s, wallet %d/%s",
			cfg.Faucet.Limits.Infra.Limit, cfg.Faucet.Limits.Infra.Window,
			cfg.Faucet.Limits.Wallet.Limit, cfg.Faucet.Limits.Wallet.Window)
	}

	if cfg.Store.Driver == config.DriverMemory {
		add("store", doctorWarn, "memory driver: single process, reset on restart")
	}

	switch token := cfg.Admin.Token; {
	case token == "":
		add("admin_token", doctorOK, "not set; admin endpoints disabled")
	case len(token) < 16:
		add("admin_token", doctorWarn, "shorter than 16 characters")
	default:
		add("admin_token", doctorOK, "set")
	}

	if cfg.Server.TrustProxyHeaders {
		add("proxy_headers", doctorWarn, "trusted; only safe behind a proxy that overwrites X-Forwarded-For")
	}

	if cfg.Audit.Kafka.Enabled {
		add("audit_kafka", doctorOK, "topic %s on %s", cfg.Audit.Kafka.Topic, strings.Join(cfg.Audit.Kafka.Brokers, ","))
	}

	return findings
}

func hasDuplicates(values []string) bool {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			return true
		}
		seen[v] = struct{}{}
	}
	return false
}

func isSHA256Hex(value string) bool {
	if len(value) != 64 {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Check runtime, configuration, credentials and store connectivity, and suggest fixes for common issues.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		log := observability.CLILogger
		identity := GetAppIdentity()

		log.Info("=== " + identity.BinaryName + " doctor ===")
		log.Info("")

		allChecks := true

		goVersion := runtime.Version()
		log.Info("Runtime... ✅ "+goVersion, zap.String("go_version", goVersion),
			zap.String("os", runtime.GOOS), zap.String("arch", runtime.GOARCH))

		version := crucible.GetVersion()
		if version.Gofulmen != "" {
			log.Info("Gofulmen... ✅ v"+version.Gofulmen, zap.String("crucible_version", version.Crucible))
		} else {
			log.Warn("Gofulmen... ⚠️  version unavailable")
		}

		configPath := cfgFile
		if configPath == "" {
			configPath = config.DefaultConfigPath()
		}
		log.Info(fmt.Sprintf("Config file... %s (%s)", configPath, existenceStatus(fileExists(configPath))))

		cfg, err := loadConfig()
		if err != nil {
			log.Error("Configuration... ❌ invalid", zap.Error(err))
			ExitWithCode(log, foundry.ExitConfigInvalid, "Invalid configuration", err)
			return
		}
		log.Info("Configuration... ✅ loaded", zap.String("store_driver", cfg.Store.Driver))

		for _, finding := range diagnoseConfig(cfg) {
			msg := fmt.Sprintf("  %-20s %s", finding.Check, finding.Detail)
			switch finding.Level {
			case doctorFail:
				log.Error("❌"+msg, zap.String("check", finding.Check))
				allChecks = false
			case doctorWarn:
				log.Warn("⚠️ "+msg, zap.String("check", finding.Check))
			default:
				log.Info("✅"+msg, zap.String("check", finding.Check))
			}
		}

		if err := checkStore(ctx, cfg); err != nil {
			log.Error("Store... ❌ unreachable", zap.String("driver", cfg.Store.Driver), zap.Error(err))
			allChecks = false
		} else {
			log.Info("Store... ✅ "+describeStore(cfg), zap.String("driver", cfg.Store.Driver))
		}

		log.Info("")
		if allChecks {
			log.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", identity.BinaryName))
		} else {
			log.Warn("⚠️  Some checks failed. Review the output above for details.")
			ExitWithCode(log, foundry.ExitConfigInvalid, "Diagnostics failed", errwrap.NewConfigInvalidError("one or more doctor checks failed"))
		}
	},
}

func checkStore(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close() // nolint:errcheck // best-effort cleanup
	return backend.Ping(ctx)
}

func describeStore(cfg *config.Config) string {
	switch cfg.Store.Driver {
	case config.DriverRedis:
		return "redis " + cfg.Store.Redis.Addr
	case config.DriverMemory:
		return "memory"
	}
	if cfg.Store.URL != "" {
		return cfg.Store.URL + " (remote)"
	}
	absPath, _ := filepath.Abs(cfg.Store.Path)
	if info, err := os.Stat(absPath); err == nil {
		return fmt.Sprintf("%s (%s)", absPath, formatFileSize(info.Size()))
	}
	return absPath
}

var doctorInitForce bool

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := cfgFile
		if configPath == "" {
			configPath = config.DefaultConfigPath()
		}
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}

		if _, err := os.Stat(configPath); err == nil && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		// Credentials may be added here later; keep the file private.
		if err := os.WriteFile(configPath, []byte(buildInitConfig()), 0600); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

func init() {
	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "Overwrite an existing config file")
	doctorCmd.AddCommand(doctorInitCmd)
	rootCmd.AddCommand(doctorCmd)
}

func buildInitConfig() string {
	lines := []string{
		"# dripgate config - created by 'dripgate doctor init'",
		"server:",
		"  host: localhost",
		"  port: 8080",
		"  trust_proxy_headers: false",
		"store:",
		"  driver: libsql",
		"faucet:",
		"  # credentials: [\"key-a\", \"key-b\"]  # or DRIPGATE_FAUCET_CREDENTIALS / CIRCLE_API_KEYS",
		"  # password_hash: \"<sha256 hex of the shared password>\"",
		"  limits:",
		"    infra: {enabled: true, limit: 100, window: 1h}",
		"    wallet: {enabled: true, limit: 1, window: 24h}",
		"    ip: {enabled: false, limit: 3, window: 24h}",
		"audit:",
		"  log: true",
		"  store: true",
		"stats:",
		"  live_interval: 5s",
		"  report_interval: 30s",
	}
	return strings.Join(lines, "\n") + "\n"
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "missing"
}
