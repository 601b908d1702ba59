package main

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/wippyai/lua-bridge/host"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the luahost.toml file. Flags override it.
type Config struct {
	LogLevel string   `toml:"log-level"`
	Event    string   `toml:"event"`
	Wasm     string   `toml:"wasm"`
	Scripts  []string `toml:"scripts"`
	Tick     Duration `toml:"tick"`
	Wait     Duration `toml:"wait"`
	Modules  Modules  `toml:"modules"`
}

// Modules toggles the extension modules.
type Modules struct {
	Async  *bool `toml:"async"`
	Wasm   *bool `toml:"wasm"`
	Socket *bool `toml:"socket"`
	Codec  *bool `toml:"codec"`
}

// Duration is a time.Duration written as "15ms" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func defaultConfig() *Config {
	return &Config{
		LogLevel: "warn",
		Event:    "Think",
		Tick:     Duration{host.DefaultTick},
	}
}

// loadConfig reads path over the defaults. An empty path returns the defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if cfg.Tick.Duration <= 0 {
		return nil, fmt.Errorf("%s: tick must be positive, got %s", path, cfg.Tick.Duration)
	}
	return cfg, nil
}

func enabled(b *bool) bool {
	return b == nil || *b
}

// newLogger builds a console logger at level. "debug" uses the development
// config.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Encoding = "console"
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
