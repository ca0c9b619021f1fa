package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the demo server configuration. The core library takes no
// configuration of its own; everything here belongs to the embedding
// application.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Limit  LimitConfig  `yaml:"limit"`
	Sweep  SweepConfig  `yaml:"sweep"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// LimitConfig is the single admission policy the server enforces:
// at most Count requests per Window for each client.
type LimitConfig struct {
	Window time.Duration `yaml:"window"`
	Count  uint16        `yaml:"count"`
}

// SweepConfig controls the periodic eviction of stale usage entries.
// An Interval of 0 disables sweeping.
type SweepConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Retention time.Duration `yaml:"retention"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Limit: LimitConfig{
			Window: time.Minute,
			Count:  100,
		},
		Sweep: SweepConfig{
			Interval:  30 * time.Second,
			Retention: 5 * time.Minute,
		},
	}
}

// Load reads configuration from the YAML file at path, fills in
// defaults for anything unset, applies BUCKET_* environment variable
// overrides and validates the result. An empty path skips the file and
// uses defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Environment variables take precedence over the file.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("BUCKET_ADDR"); val != "" {
		cfg.Server.Addr = val
	}
	if val := os.Getenv("BUCKET_LIMIT_WINDOW"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Limit.Window = d
		}
	}
	if val := os.Getenv("BUCKET_LIMIT_COUNT"); val != "" {
		if n, err := strconv.ParseUint(val, 10, 16); err == nil {
			cfg.Limit.Count = uint16(n)
		}
	}
	if val := os.Getenv("BUCKET_SWEEP_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Sweep.Interval = d
		}
	}
	if val := os.Getenv("BUCKET_SWEEP_RETENTION"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Sweep.Retention = d
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if cfg.Limit.Window < 0 {
		return fmt.Errorf("limit.window must not be negative, got %s", cfg.Limit.Window)
	}
	if cfg.Sweep.Interval < 0 {
		return fmt.Errorf("sweep.interval must not be negative, got %s", cfg.Sweep.Interval)
	}
	if cfg.Sweep.Interval > 0 && cfg.Sweep.Retention < cfg.Limit.Window {
		return fmt.Errorf("sweep.retention (%s) must be at least limit.window (%s), or limited clients would be forgotten early",
			cfg.Sweep.Retention, cfg.Limit.Window)
	}
	return nil
}
