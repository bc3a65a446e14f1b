// Package config provides centralized configuration management for dripgate.
// Values are layered with viper: built-in defaults, an optional YAML file,
// a .env file and finally DRIPGATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dripgate/dripgate/internal/appid"
	"github.com/dripgate/dripgate/internal/core"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// legacyEnv maps config keys to the unprefixed variable names older
// deployments export. Prefixed variables still win.
var legacyEnv = map[string]string{
	"faucet.credentials":        "CIRCLE_API_KEYS",
	"faucet.password_hash":      "DEFAULT_PASSWORD_HASH",
	"faucet.revoked_key_hashes": "REVOKED_API_KEY_HASHES",
	"faucet.disabled":           "FAUCET_DISABLED",
}

// LoadOptions controls where Load looks for configuration.
type LoadOptions struct {
	// ConfigFile is an explicit YAML path. When empty the XDG default is used
	// if it exists.
	ConfigFile string
	// EnvFile is a dotenv file loaded before reading the environment. Empty
	// means ".env" in the working directory, if present.
	EnvFile string
	// Overrides are applied last, keyed by dotted config path.
	Overrides map[string]any
}

// Load builds the configuration. It is safe to call again for reload.
func Load(opts LoadOptions) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	configFile := strings.TrimSpace(opts.ConfigFile)
	if configFile == "" {
		if candidate := DefaultConfigPath(); candidate != "" {
			if _, err := os.Stat(candidate); err == nil {
				configFile = candidate
			}
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	v.SetEnvPrefix(strings.TrimSuffix(appid.EnvPrefix, "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := appid.EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("bind %s: %w", legacy, err)
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.StringToFloat64HookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	// godotenv.Load never overrides variables already set in the process.
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// SetDefaults registers every known key with its default value.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.trust_proxy_headers", false)
	v.SetDefault("server.max_body_bytes", 16*1024)

	// Store defaults
	v.SetDefault("store.driver", DriverLibsql)
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "dripgate:")

	// Faucet defaults
	v.SetDefault("faucet.disabled", false)
	v.SetDefault("faucet.credentials", []string{})
	v.SetDefault("faucet.password_hash", "")
	v.SetDefault("faucet.revoked_key_hashes", []string{})
	v.SetDefault("faucet.networks", defaultNetworks())
	v.SetDefault("faucet.upstream.base_url", "https://api.circle.com")
	v.SetDefault("faucet.upstream.timeout", "10s")
	v.SetDefault("faucet.upstream.quota_statuses", []int{429})
	v.SetDefault("faucet.upstream.quota_codes", []string{})
	v.SetDefault("faucet.upstream.requests_per_second", 0.0)
	v.SetDefault("faucet.upstream.burst", 1)
	v.SetDefault("faucet.limits.infra.enabled", true)
	v.SetDefault("faucet.limits.infra.limit", 100)
	v.SetDefault("faucet.limits.infra.window", "1h")
	v.SetDefault("faucet.limits.wallet.enabled", true)
	v.SetDefault("faucet.limits.wallet.limit", 1)
	v.SetDefault("faucet.limits.wallet.window", "24h")
	v.SetDefault("faucet.limits.ip.enabled", false)
	v.SetDefault("faucet.limits.ip.limit", 3)
	v.SetDefault("faucet.limits.ip.window", "24h")

	// Audit defaults
	v.SetDefault("audit.log", true)
	v.SetDefault("audit.store", true)
	v.SetDefault("audit.kafka.enabled", false)
	v.SetDefault("audit.kafka.brokers", []string{})
	v.SetDefault("audit.kafka.topic", "dripgate.audit")
	v.SetDefault("audit.kafka.client_id", appid.BinaryName)

	// Stats defaults
	v.SetDefault("stats.live_interval", "5s")
	v.SetDefault("stats.report_interval", "30s")

	v.SetDefault("admin.token", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)

	// Debug defaults
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)
}

func (c *Config) normalize() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == DriverLibsql && strings.TrimSpace(c.Store.URL) == "" && strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = DefaultStorePath()
	}
	c.Faucet.Credentials = cleanList(c.Faucet.Credentials)
	c.Faucet.RevokedKeyHashes = cleanList(c.Faucet.RevokedKeyHashes)
	c.Faucet.Networks = cleanList(c.Faucet.Networks)
	c.Faucet.Upstream.QuotaCodes = cleanList(c.Faucet.Upstream.QuotaCodes)
	c.Faucet.PasswordHash = strings.ToLower(strings.TrimSpace(c.Faucet.PasswordHash))
	c.Faucet.Upstream.BaseURL = strings.TrimRight(strings.TrimSpace(c.Faucet.Upstream.BaseURL), "/")
	c.Audit.Kafka.Brokers = cleanList(c.Audit.Kafka.Brokers)
}

// Validate reports configuration that cannot be served.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverLibsql, DriverRedis, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unsupported store driver: %q", c.Store.Driver))
	}

	limits := map[string]LimitConfig{
		"infra":  c.Faucet.Limits.Infra,
		"wallet": c.Faucet.Limits.Wallet,
		"ip":     c.Faucet.Limits.IP,
	}
	for name, limit := range limits {
		if limit.Limit < 0 {
			errs = append(errs, fmt.Errorf("faucet.limits.%s.limit must be >= 0", name))
		}
		if limit.Window <= 0 {
			errs = append(errs, fmt.Errorf("faucet.limits.%s.window must be > 0", name))
		}
	}

	if !c.Faucet.Limits.Wallet.Enabled {
		errs = append(errs, errors.New("faucet.limits.wallet cannot be disabled"))
	}
	if c.Faucet.Upstream.Timeout <= 0 {
		errs = append(errs, errors.New("faucet.upstream.timeout must be > 0"))
	}
	if len(c.Faucet.Networks) == 0 {
		errs = append(errs, errors.New("faucet.networks must not be empty"))
	}
	if c.Audit.Kafka.Enabled && len(c.Audit.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("audit.kafka.brokers is required when kafka is enabled"))
	}
	if c.Stats.LiveInterval <= 0 || c.Stats.ReportInterval <= 0 {
		errs = append(errs, errors.New("stats intervals must be > 0"))
	}

	return errors.Join(errs...)
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		// Env values may arrive as a single comma-joined element.
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func defaultNetworks() []string {
	out := make([]string, len(core.DefaultNetworks))
	copy(out, core.DefaultNetworks)
	return out
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(appid.ConfigName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(appid.ConfigName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./" + appid.BinaryName + ".db"
	}
	return filepath.Join(dataDir, appid.BinaryName+".db")
}
