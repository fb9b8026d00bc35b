// Package commands contains the CLI command implementations.
package commands

import (
	"os"
	"path/filepath"

	"github.com/colonyops/inloop/internal/core/config"
	"github.com/colonyops/inloop/internal/core/eventbus"
	"github.com/colonyops/inloop/internal/core/item"
	"github.com/colonyops/inloop/internal/core/kv"
	"github.com/colonyops/inloop/internal/core/notify"
)

// Flags carries global flag values plus the dependencies wired up in the
// root command's Before hook, shared by every subcommand.
type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	DataDir    string

	// Config is loaded in the Before hook and available to all commands.
	Config *config.Config

	Items         item.Store
	Credentials   kv.KV
	Settings      kv.KV
	Notifications notify.Store
	Bus           *eventbus.EventBus
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "inloop", "config.yaml")
}

// DefaultDataDir returns the default data directory using XDG_DATA_HOME.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "inloop")
}
