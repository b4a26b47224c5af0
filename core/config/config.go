// Package config provides environment-based configuration for the FlowStudio
// authorization service.
//
// Configuration is loaded from environment variables using Viper, with sensible
// defaults for development.
//
// # Environment Variables
//
//   - DB_TYPE: Database type (sqlite, postgres, mysql). Default: sqlite
//   - DSN: Database connection string. Default: flowstudio-authz.db
//   - SKIP_AUTO_MIGRATE: Skip automatic database migrations. Default: false
//   - LOG_LEVEL: Logging level (debug, info, warn, error). Default: info
//   - PORT: HTTP server port. Default: 8080
//   - JWT_SECRET: HS256 secret used to verify bearer tokens. Required.
//   - CACHE_BACKEND: Decision cache (none, memory, redis). Default: none
//   - CACHE_TTL: Lifetime of a cached decision. Default: 5s
//   - REDIS_ADDR: Redis address for the redis cache backend
//   - NATS_URL: NATS server for change notifications. Empty disables NATS
//   - TELEMETRY_ENABLED: Enable OpenTelemetry tracing and metrics. Default: true
//   - OTLP_ENDPOINT: OTLP gRPC endpoint for traces. Empty disables export
//   - TRACE_SAMPLING_RATE: Trace sampling ratio (0.0-1.0). Default: 1.0
//   - BOOTSTRAP_ADMIN: Subject seeded as system administrator at startup
//
// # Example Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Starting on port %d with %s database\n", cfg.Port, cfg.DBType)
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DBType            string        `mapstructure:"DB_TYPE"` // sqlite, postgres, mysql
	DSN               string        `mapstructure:"DSN"`
	SkipAutoMigrate   bool          `mapstructure:"SKIP_AUTO_MIGRATE"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	Port              int           `mapstructure:"PORT"`
	JWTSecret         string        `mapstructure:"JWT_SECRET"`
	CacheBackend      string        `mapstructure:"CACHE_BACKEND"` // none, memory, redis
	CacheTTL          time.Duration `mapstructure:"CACHE_TTL"`
	RedisAddr         string        `mapstructure:"REDIS_ADDR"`
	NATSURL           string        `mapstructure:"NATS_URL"`
	TelemetryEnabled  bool          `mapstructure:"TELEMETRY_ENABLED"`
	OTLPEndpoint      string        `mapstructure:"OTLP_ENDPOINT"`
	TraceSamplingRate float64       `mapstructure:"TRACE_SAMPLING_RATE"`
	BootstrapAdmin    string        `mapstructure:"BOOTSTRAP_ADMIN"`
	AuditRetention    int           `mapstructure:"AUDIT_RETENTION_DAYS"` // 0 keeps events forever
}

func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", 8080)
	v.SetDefault("DB_TYPE", "sqlite")
	v.SetDefault("DSN", "flowstudio-authz.db")
	v.SetDefault("SKIP_AUTO_MIGRATE", false)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("CACHE_BACKEND", "none")
	v.SetDefault("CACHE_TTL", "5s")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("NATS_URL", "")
	v.SetDefault("TELEMETRY_ENABLED", true)
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("TRACE_SAMPLING_RATE", 1.0)
	v.SetDefault("BOOTSTRAP_ADMIN", "")
	v.SetDefault("AUDIT_RETENTION_DAYS", 365)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.DBType {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("config: unsupported DB_TYPE %q", c.DBType)
	}
	switch c.CacheBackend {
	case "none", "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("config: REDIS_ADDR is required for the redis cache")
		}
	default:
		return fmt.Errorf("config: unsupported CACHE_BACKEND %q", c.CacheBackend)
	}
	if c.CacheBackend != "none" && c.CacheTTL <= 0 {
		return fmt.Errorf("config: CACHE_TTL must be positive")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	if c.AuditRetention < 0 {
		return fmt.Errorf("config: AUDIT_RETENTION_DAYS must not be negative")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid PORT %d", c.Port)
	}
	return nil
}
