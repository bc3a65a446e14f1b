package config

import (
	"time"
)

// Config represents the complete application configuration.
// Layers, lowest precedence first:
// Layer 1: Built-in defaults (SetDefaults)
// Layer 2: YAML config file (--config or $XDG_CONFIG_HOME/dripgate/config.yaml)
// Layer 3: .env file and environment variables (DRIPGATE_* plus legacy names)
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Faucet  FaucetConfig  `mapstructure:"faucet"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Stats   StatsConfig   `mapstructure:"stats"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Debug   DebugConfig   `mapstructure:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// TrustProxyHeaders derives the client IP from X-Forwarded-For / X-Real-IP.
	// Only enable behind a proxy that overwrites these headers.
	TrustProxyHeaders bool `mapstructure:"trust_proxy_headers"`

	// MaxBodyBytes caps the claim request body.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// Store drivers.
const (
	DriverLibsql = "libsql"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// StoreConfig selects the backend holding windows, cursor, ledger and audit.
type StoreConfig struct {
	Driver    string      `mapstructure:"driver"`
	Path      string      `mapstructure:"path"`
	URL       string      `mapstructure:"url"`
	AuthToken string      `mapstructure:"auth_token"`
	Redis     RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the shared redis backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// FaucetConfig holds claim policy and upstream settings.
type FaucetConfig struct {
	// Disabled is the maintenance kill switch.
	Disabled bool `mapstructure:"disabled"`

	// Credentials is the shared upstream credential pool, in rotation order.
	Credentials []string `mapstructure:"credentials"`

	// PasswordHash is the hex SHA-256 digest of the shared-mode password.
	PasswordHash string `mapstructure:"password_hash"`

	// RevokedKeyHashes lists hex SHA-256 digests of revoked caller keys.
	RevokedKeyHashes []string `mapstructure:"revoked_key_hashes"`

	Networks []string       `mapstructure:"networks"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Limits   LimitsConfig   `mapstructure:"limits"`
}

// UpstreamConfig configures the faucet provider client.
type UpstreamConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`

	// QuotaStatuses are HTTP statuses meaning "this credential is spent".
	QuotaStatuses []int `mapstructure:"quota_statuses"`
	// QuotaCodes are body error codes with the same meaning.
	QuotaCodes []string `mapstructure:"quota_codes"`

	// RequestsPerSecond paces outbound calls across all credentials (0 disables).
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// LimitsConfig holds the three sliding-window policies.
type LimitsConfig struct {
	Infra  LimitConfig `mapstructure:"infra"`
	Wallet LimitConfig `mapstructure:"wallet"`
	IP     LimitConfig `mapstructure:"ip"`
}

// LimitConfig is one "limit events per window" policy.
type LimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
}

// AuditConfig selects audit sinks.
type AuditConfig struct {
	// Log writes every event to the server logger.
	Log bool `mapstructure:"log"`
	// Store appends events to the configured store backend.
	Store bool        `mapstructure:"store"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig configures the optional audit topic producer.
type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
}

// StatsConfig controls stats publishing cadence.
type StatsConfig struct {
	LiveInterval   time.Duration `mapstructure:"live_interval"`
	ReportInterval time.Duration `mapstructure:"report_interval"`
}

// AdminConfig protects administrative endpoints.
type AdminConfig struct {
	// Token enables /admin/ledger/reset when non-empty.
	Token string `mapstructure:"token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	// Enabled exposes internal error details in responses
	Enabled bool `mapstructure:"enabled"`

	// PprofEnabled controls whether pprof endpoints are exposed
	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}
