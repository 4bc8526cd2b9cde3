package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("THEREABOUT_HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Import.BatchSize != 1000 {
		t.Errorf("BatchSize = %d, want 1000", cfg.Import.BatchSize)
	}
	if cfg.Maintenance.SweepSchedule != "0 3 * * *" {
		t.Errorf("SweepSchedule = %q", cfg.Maintenance.SweepSchedule)
	}
	if got, want := cfg.DatabasePath(), filepath.Join(cfg.Data.DataDir, "thereabout.db"); got != want {
		t.Errorf("DatabasePath() = %q, want %q", got, want)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[data]
data_dir = "/var/lib/thereabout"

[server]
port = 9090

[import]
batch_size = 250
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Data.DataDir != "/var/lib/thereabout" {
		t.Errorf("DataDir = %q", cfg.Data.DataDir)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Import.BatchSize != 250 {
		t.Errorf("BatchSize = %d, want 250", cfg.Import.BatchSize)
	}
	// Unset fields keep their defaults.
	if cfg.Server.RateLimitQPS != 10 {
		t.Errorf("RateLimitQPS = %d, want 10", cfg.Server.RateLimitQPS)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}
