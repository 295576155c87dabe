// Package config loads the session subsystem configuration from YAML with
// environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Supabase  SupabaseConfig  `yaml:"supabase"`
	Storage   StorageConfig   `yaml:"storage"`
	Validator ValidatorConfig `yaml:"validator"`
	KeepAlive KeepAliveConfig `yaml:"keepalive"`
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
}

// SupabaseConfig points at the hosted backend project.
type SupabaseConfig struct {
	URL     string `yaml:"url"`
	AnonKey string `yaml:"anon_key"`
}

// StorageConfig configures the dual-backend auth store.
type StorageConfig struct {
	// Dir is the directory for the encrypted file backend.
	Dir string `yaml:"dir"`
	// Passphrase protects the encrypted file backend. Prefer the
	// HOMEMEAL_STORE_PASSPHRASE environment variable over the file.
	Passphrase string `yaml:"passphrase"`
	// RedisAddr enables the redis fallback backend when non-empty.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// ValidatorConfig tunes the validation state machine.
type ValidatorConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	RepairRPC    string        `yaml:"repair_rpc"`
	Verbose      bool          `yaml:"verbose"`
}

// KeepAliveConfig configures background token refresh.
type KeepAliveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// ServerConfig configures the diagnostic HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// PostgresConfig optionally points the profile store straight at the
// database instead of the REST gateway.
type PostgresConfig struct {
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Storage: StorageConfig{
			Dir: ".homemeal/auth",
		},
		Validator: ValidatorConfig{
			MaxRetries:   2,
			RetryBackoff: time.Second,
			RepairRPC:    "repair_user_claims",
		},
		KeepAlive: KeepAliveConfig{
			Enabled:  true,
			Schedule: "@every 10m",
		},
		Server: ServerConfig{
			Addr: ":8090",
		},
	}
}

// Load reads the configuration file at path on top of defaults, then applies
// environment overrides. A missing file yields defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if uerr := yaml.Unmarshal(data, &cfg); uerr != nil {
			return cfg, fmt.Errorf("parse config: %w", uerr)
		}
	}

	applyEnv(&cfg)

	if cfg.Supabase.URL == "" {
		return cfg, fmt.Errorf("supabase.url is required")
	}
	if cfg.Supabase.AnonKey == "" {
		return cfg, fmt.Errorf("supabase.anon_key is required")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		cfg.Supabase.URL = v
	}
	if v := os.Getenv("SUPABASE_ANON_KEY"); v != "" {
		cfg.Supabase.AnonKey = v
	}
	if v := os.Getenv("HOMEMEAL_STORE_PASSPHRASE"); v != "" {
		cfg.Storage.Passphrase = v
	}
	if v := os.Getenv("HOMEMEAL_REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := os.Getenv("HOMEMEAL_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
}
