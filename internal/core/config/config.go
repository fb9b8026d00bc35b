// Package config handles configuration loading and validation for inloop.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
//
// The poll interval here is only the bootstrap default: the engine reads the
// live value from the settings table at the start of every tick.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Polling  PollingConfig  `yaml:"polling"`
	OpenCode OpenCodeConfig `yaml:"opencode"`
	Copilot  CopilotConfig  `yaml:"copilot"`
	Ingest   IngestConfig   `yaml:"ingest"`
	DataDir  string         `yaml:"-"` // set by caller, not from config file
}

// DatabaseConfig holds SQLite connection pool settings.
type DatabaseConfig struct {
	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`
	BusyTimeout  int `yaml:"busy_timeout"` // milliseconds
}

// PollingConfig holds reconciliation loop settings.
type PollingConfig struct {
	// IntervalSeconds seeds the settings table on first run.
	IntervalSeconds int `yaml:"interval_seconds"`
	// Workers bounds concurrent item polls within a tick.
	Workers int `yaml:"workers"`
}

// OpenCodeConfig points at the OpenCode server.
type OpenCodeConfig struct {
	// BaseURL overrides the opencode_url credential when set.
	BaseURL string `yaml:"base_url"`
	// StorageDir is where OpenCode keeps per-directory session files.
	// Defaults to ~/.local/share/opencode/storage/session.
	StorageDir string `yaml:"storage_dir"`
}

// CopilotConfig points at the Copilot CLI session-state directory.
type CopilotConfig struct {
	// StateDir defaults to ~/.copilot/session-state.
	StateDir string `yaml:"state_dir"`
	// Watch enables the fsnotify nudge that triggers an early tick when
	// session logs change.
	Watch *bool `yaml:"watch"`
}

// IngestConfig configures the local ingestion endpoint used by CLI wrappers.
type IngestConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()

	return Config{
		Database: DatabaseConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			BusyTimeout:  5000,
		},
		Polling: PollingConfig{
			IntervalSeconds: 30,
			Workers:         4,
		},
		OpenCode: OpenCodeConfig{
			StorageDir: filepath.Join(home, ".local", "share", "opencode", "storage", "session"),
		},
		Copilot: CopilotConfig{
			StateDir: filepath.Join(home, ".copilot", "session-state"),
		},
		Ingest: IngestConfig{
			Addr: "127.0.0.1:19532",
		},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the
// provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = defaults.Database.MaxOpenConns
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = defaults.Database.MaxIdleConns
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = defaults.Database.BusyTimeout
	}
	if c.Polling.IntervalSeconds == 0 {
		c.Polling.IntervalSeconds = defaults.Polling.IntervalSeconds
	}
	if c.Polling.Workers == 0 {
		c.Polling.Workers = defaults.Polling.Workers
	}
	if c.OpenCode.StorageDir == "" {
		c.OpenCode.StorageDir = defaults.OpenCode.StorageDir
	}
	if c.Copilot.StateDir == "" {
		c.Copilot.StateDir = defaults.Copilot.StateDir
	}
	if c.Ingest.Addr == "" {
		c.Ingest.Addr = defaults.Ingest.Addr
	}
}

// IngestEnabled reports whether the ingestion server should run.
// Unset means enabled.
func (c *Config) IngestEnabled() bool {
	return c.Ingest.Enabled == nil || *c.Ingest.Enabled
}

// CopilotWatchEnabled reports whether the session-state watcher should run.
// Unset means enabled.
func (c *Config) CopilotWatchEnabled() bool {
	return c.Copilot.Watch == nil || *c.Copilot.Watch
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}
	if c.Polling.IntervalSeconds < 1 {
		return fmt.Errorf("polling.interval_seconds must be at least 1")
	}
	if c.Polling.Workers < 1 {
		return fmt.Errorf("polling.workers must be at least 1")
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be at least 1")
	}
	return nil
}
