package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level configuration for tally.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Data     DataConfig     `koanf:"data"`
	Limits   LimitsConfig   `koanf:"limits"`
	Rollover RolloverConfig `koanf:"rollover"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port int    `koanf:"port"`
	Host string `koanf:"host"`
	Mode string `koanf:"mode"` // debug | release
}

// DatabaseConfig holds the relational event-log settings. The log is
// optional: an empty DSN disables it and the service runs on local state only.
type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// DataConfig holds the local dataset layout and freshness settings.
type DataConfig struct {
	Dir         string `koanf:"dir"`
	ArchiveDir  string `koanf:"archive_dir"`
	SeedFile    string `koanf:"seed_file"`    // optional catalog bootstrap
	CatalogTTL  string `koanf:"catalog_ttl"`  // reference data, changes rarely
	CountersTTL string `koanf:"counters_ttl"` // live aggregates, kept short
}

// LimitsConfig holds the caller-facing ceilings.
type LimitsConfig struct {
	DailyHeists     int `koanf:"daily_heists"`
	MaxParticipants int `koanf:"max_participants"`
}

// RolloverConfig holds the reset schedules, all evaluated in Timezone.
type RolloverConfig struct {
	Weekly     string `koanf:"weekly"`
	DailyReset string `koanf:"daily_reset"`
	Sweep      string `koanf:"sweep"`
	Timezone   string `koanf:"timezone"`
}

// CatalogTTLDuration returns the parsed catalog TTL.
func (d DataConfig) CatalogTTLDuration() (time.Duration, error) {
	return time.ParseDuration(d.CatalogTTL)
}

// CountersTTLDuration returns the parsed counters TTL.
func (d DataConfig) CountersTTLDuration() (time.Duration, error) {
	return time.ParseDuration(d.CountersTTL)
}

// Load loads the configuration from the given file path and environment
// variables. An empty path loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	defaults := map[string]interface{}{
		"server.port":             8080,
		"server.host":             "0.0.0.0",
		"server.mode":             "release",
		"database.dsn":            "",
		"database.max_open_conns": 25,
		"database.max_idle_conns": 25,
		"database.auto_migrate":   true,
		"data.dir":                "./data",
		"data.archive_dir":        "./data/archives",
		"data.seed_file":          "",
		"data.catalog_ttl":        "5m",
		"data.counters_ttl":       "1m",
		"limits.daily_heists":     3,
		"limits.max_participants": 10,
		"rollover.weekly":         "0 20 * * 1",
		"rollover.daily_reset":    "0 0 * * *",
		"rollover.sweep":          "*/15 * * * *",
		"rollover.timezone":       "Europe/Madrid",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// 2. Load from file
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// 3. Load from Environment Variables
	// TALLY_SERVER__PORT=9090 overrides server.port
	if err := k.Load(env.Provider("TALLY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "TALLY_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if _, err := cfg.Data.CatalogTTLDuration(); err != nil {
		return nil, fmt.Errorf("invalid data.catalog_ttl: %w", err)
	}
	if _, err := cfg.Data.CountersTTLDuration(); err != nil {
		return nil, fmt.Errorf("invalid data.counters_ttl: %w", err)
	}
	if cfg.Limits.DailyHeists <= 0 {
		return nil, fmt.Errorf("limits.daily_heists must be positive, got %d", cfg.Limits.DailyHeists)
	}
	if cfg.Limits.MaxParticipants <= 0 {
		return nil, fmt.Errorf("limits.max_participants must be positive, got %d", cfg.Limits.MaxParticipants)
	}

	return &cfg, nil
}
