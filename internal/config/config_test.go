package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:8080" {
		t.Fatalf("unexpected default addr: %s", cfg.Server.Addr)
	}
	if cfg.Database.Path == "" || cfg.Database.OpTimeoutMs <= 0 {
		t.Fatalf("unexpected database defaults: %+v", cfg.Database)
	}
	if cfg.Limits.MaxBodyBytes <= 0 || cfg.Limits.MaxIconBytes <= 0 {
		t.Fatalf("unexpected limit defaults: %+v", cfg.Limits)
	}
}

func TestMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != DefaultConfig().Server.Addr {
		t.Fatal("missing file should yield defaults")
	}
}

func TestOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[server]
addr = "127.0.0.1:9999"

[database]
path = "/tmp/reg.db"

[limits]
max_icon_bytes = 1024

[log]
level = "debug"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9999" {
		t.Fatalf("addr not overlaid: %s", cfg.Server.Addr)
	}
	if cfg.Database.Path != "/tmp/reg.db" {
		t.Fatalf("db path not overlaid: %s", cfg.Database.Path)
	}
	if cfg.Limits.MaxIconBytes != 1024 {
		t.Fatalf("icon limit not overlaid: %d", cfg.Limits.MaxIconBytes)
	}
	// Untouched sections keep their defaults.
	if cfg.Limits.MaxBodyBytes != DefaultConfig().Limits.MaxBodyBytes {
		t.Fatal("unset limit lost its default")
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level not overlaid: %s", cfg.Log.Level)
	}
}

func TestBadTomlIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[server\naddr="), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
