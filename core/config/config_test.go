package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBType != "sqlite" || cfg.DSN != "flowstudio-authz.db" || cfg.Port != 8080 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.CacheBackend != "none" || cfg.CacheTTL != 5*time.Second {
		t.Errorf("unexpected cache defaults: %s %s", cfg.CacheBackend, cfg.CacheTTL)
	}
	if cfg.AuditRetention != 365 {
		t.Errorf("unexpected audit retention default: %d", cfg.AuditRetention)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DB_TYPE", "postgres")
	t.Setenv("DSN", "host=db user=authz")
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("CACHE_TTL", "250ms")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("BOOTSTRAP_ADMIN", "user-root")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBType != "postgres" || cfg.Port != 9090 || cfg.CacheTTL != 250*time.Millisecond {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.BootstrapAdmin != "user-root" || cfg.RedisAddr != "redis:6379" {
		t.Errorf("env not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	base := Config{DBType: "sqlite", CacheBackend: "none", JWTSecret: "x", Port: 8080}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(c *Config) {}, ""},
		{"bad db", func(c *Config) { c.DBType = "oracle" }, "DB_TYPE"},
		{"bad cache", func(c *Config) { c.CacheBackend = "memcached" }, "CACHE_BACKEND"},
		{"redis without addr", func(c *Config) { c.CacheBackend = "redis"; c.RedisAddr = "" }, "REDIS_ADDR"},
		{"zero ttl", func(c *Config) { c.CacheBackend = "memory" }, "CACHE_TTL"},
		{"negative retention", func(c *Config) { c.AuditRetention = -1 }, "AUDIT_RETENTION_DAYS"},
		{"no secret", func(c *Config) { c.JWTSecret = "" }, "JWT_SECRET"},
		{"bad port", func(c *Config) { c.Port = 0 }, "PORT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}
