package config

import (
	"time"
)

// Config represents the complete application configuration.
// Values are layered: built-in defaults, then the user config file
// (~/.config/subtrack/config.yaml or --config), then SUBTRACK_* environment
// variables and runtime overrides.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
	Debug     DebugConfig     `mapstructure:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For and
	// X-Real-IP headers name the client. Empty means the socket peer is used.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// StoreConfig selects and configures the shared rate limit store.
//
// Driver is one of libsql (default), redis, postgres or memory. Path, URL and
// AuthToken apply to libsql; URL doubles as the DSN for postgres.
type StoreConfig struct {
	Driver    string      `mapstructure:"driver"`
	Path      string      `mapstructure:"path"`
	URL       string      `mapstructure:"url"`
	AuthToken string      `mapstructure:"auth_token"`
	Redis     RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the redis driver. Multiple addresses select a
// cluster client.
type RedisConfig struct {
	Addrs     []string `mapstructure:"addrs"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	DB        int      `mapstructure:"db"`
	KeyPrefix string   `mapstructure:"key_prefix"`
}

// RateLimitConfig contains request throttling configuration.
type RateLimitConfig struct {
	// Enabled toggles the policy middleware on the API route groups.
	Enabled bool `mapstructure:"enabled"`

	// StoreTimeout bounds each store round trip; a timeout fails open.
	StoreTimeout time.Duration `mapstructure:"store_timeout"`

	// CleanupInterval is how often expired records are swept. Zero disables
	// the sweep.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	// Headers enables RateLimit-Limit/Remaining/Reset on allowed responses.
	Headers bool `mapstructure:"headers"`

	// Policies overrides the built-in route class policies by class name
	// (general, auth, subscription, user-management).
	Policies map[string]RateLimitPolicyConfig `mapstructure:"policies"`
}

// RateLimitPolicyConfig overrides a single route class policy. Zero values
// keep the built-in setting.
type RateLimitPolicyConfig struct {
	Window                 time.Duration `mapstructure:"window"`
	Max                    int           `mapstructure:"max"`
	Message                string        `mapstructure:"message"`
	SkipSuccessfulRequests bool          `mapstructure:"skip_successful_requests"`
}

// AdminConfig controls the admin HTTP surface.
type AdminConfig struct {
	// Token enables /admin endpoints behind bearer auth when non-empty.
	Token string `mapstructure:"token"`
}

// LoggingConfig contains logging configuration
// Supports progressive logging profiles per Fulmen Forge Workhorse Standard:
// - SIMPLE: Console output only, minimal configuration (CLI tools)
// - STRUCTURED: Structured sinks, correlation IDs (API services)
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
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

// DebugConfig contains debug configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
