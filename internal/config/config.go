// Package config handles loading and managing thereabout configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the thereabout configuration.
type Config struct {
	Data        DataConfig        `toml:"data"`
	Server      ServerConfig      `toml:"server"`
	Import      ImportConfig      `toml:"import"`
	Maintenance MaintenanceConfig `toml:"maintenance"`

	// Computed home directory (not from config file)
	HomeDir string `toml:"-"`
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir      string `toml:"data_dir"`
	DatabasePath string `toml:"database_path"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	Port           int `toml:"port"`             // HTTP server port (default: 8080)
	RateLimitQPS   int `toml:"rate_limit_qps"`   // Requests per second per client
	RateLimitBurst int `toml:"rate_limit_burst"` // Burst allowance
}

// ImportConfig holds chat import configuration.
type ImportConfig struct {
	BatchSize int `toml:"batch_size"` // Messages per bulk insert (default: 1000)
}

// MaintenanceConfig holds the scratch-directory sweeper configuration.
type MaintenanceConfig struct {
	SweepSchedule    string `toml:"sweep_schedule"`      // Cron expression (default: "0 3 * * *")
	SweepMaxAgeHours int    `toml:"sweep_max_age_hours"` // Scratch dirs older than this are removed
}

// DefaultHome returns the default thereabout home directory.
// Respects the THEREABOUT_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("THEREABOUT_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".thereabout"
	}
	return filepath.Join(home, ".thereabout")
}

// Load reads the configuration from the specified file. If path is empty,
// the default location (~/.thereabout/config.toml) is used; a missing file
// there just yields the defaults.
func Load(path string) (*Config, error) {
	homeDir := DefaultHome()

	explicit := path != ""
	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir: homeDir,
		Data: DataConfig{
			DataDir: homeDir,
		},
		Server: ServerConfig{
			Port:           8080,
			RateLimitQPS:   10,
			RateLimitBurst: 20,
		},
		Import: ImportConfig{
			BatchSize: 1000,
		},
		Maintenance: MaintenanceConfig{
			SweepSchedule:    "0 3 * * *",
			SweepMaxAgeHours: 24,
		},
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Data.DataDir == "" {
		cfg.Data.DataDir = homeDir
	}
	return cfg, nil
}

// DatabasePath returns the configured database path, defaulting to
// <data_dir>/thereabout.db.
func (c *Config) DatabasePath() string {
	if c.Data.DatabasePath != "" {
		return c.Data.DatabasePath
	}
	return filepath.Join(c.Data.DataDir, "thereabout.db")
}

// ScratchRoot returns the directory under which per-upload scratch
// directories are created.
func (c *Config) ScratchRoot() string {
	return filepath.Join(c.Data.DataDir, "uploads")
}

// EnsureDataDir creates the data directory if it does not exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.Data.DataDir, 0755)
}
