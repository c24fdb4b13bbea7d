package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Limits   LimitsConfig   `toml:"limits"`
	Log      LogConfig      `toml:"log"`
}

type ServerConfig struct {
	Addr            string `toml:"addr"`
	ShutdownGraceMs int    `toml:"shutdown_grace_ms"`
}

type DatabaseConfig struct {
	Path        string `toml:"path"`
	OpTimeoutMs int    `toml:"op_timeout_ms"`
}

type LimitsConfig struct {
	// MaxBodyBytes bounds the JSON push payload (script + base64 icon).
	MaxBodyBytes int64 `toml:"max_body_bytes"`
	MaxIconBytes int64 `toml:"max_icon_bytes"`
	// PushRateLimit allows this many mutating requests per IP per window.
	PushRateLimit  int `toml:"push_rate_limit"`
	PushRateWindow int `toml:"push_rate_window_s"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "0.0.0.0:8080",
			ShutdownGraceMs: 5000,
		},
		Database: DatabaseConfig{
			Path:        "data/tools.db",
			OpTimeoutMs: 5000,
		},
		Limits: LimitsConfig{
			MaxBodyBytes:   2 * 1024 * 1024, // 2MB: scripts are text, icons small
			MaxIconBytes:   512 * 1024,
			PushRateLimit:  60,
			PushRateWindow: 60,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
