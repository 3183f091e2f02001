package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the switchyard server configuration, loaded from YAML with CLI
// flags taking precedence.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	Storage      StorageConfig      `yaml:"storage"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Tracing      TracingConfig      `yaml:"tracing"`
	Watchdog     WatchdogConfig     `yaml:"watchdog"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type OrchestratorConfig struct {
	Driver string `yaml:"driver"`
}

type TracingConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// WatchdogConfig controls deadline enforcement for rollouts. Disabled by
// default: rollback timeouts on deployment specs stay advisory unless the
// watchdog is turned on.
type WatchdogConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// UnmarshalYAML accepts the interval as a duration string ("30s") or an
// integer nanosecond count.
func (w *WatchdogConfig) UnmarshalYAML(node *yaml.Node) error {
	type raw struct {
		Enabled  bool      `yaml:"enabled"`
		Interval yaml.Node `yaml:"interval"`
	}
	var r raw
	if err := node.Decode(&r); err != nil {
		return err
	}
	w.Enabled = r.Enabled
	if r.Interval.IsZero() {
		return nil
	}

	var asString string
	if err := r.Interval.Decode(&asString); err == nil {
		parsed, err := time.ParseDuration(asString)
		if err != nil {
			return fmt.Errorf("watchdog.interval: invalid duration %q: %w", asString, err)
		}
		w.Interval = parsed
		return nil
	}
	var asInt int64
	if err := r.Interval.Decode(&asInt); err != nil {
		return fmt.Errorf("watchdog.interval: expected duration string or integer")
	}
	w.Interval = time.Duration(asInt)
	return nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server:       ServerConfig{ListenAddr: ":8400"},
		Log:          LogConfig{Level: "info"},
		Storage:      StorageConfig{DataDir: "/var/lib/switchyard"},
		Orchestrator: OrchestratorConfig{Driver: "local"},
		Watchdog:     WatchdogConfig{Interval: 30 * time.Second},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must not be empty")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must not be empty")
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not a known level", c.Log.Level)
	}
	if c.Watchdog.Enabled && c.Watchdog.Interval <= 0 {
		return fmt.Errorf("watchdog.interval must be positive when the watchdog is enabled")
	}
	return nil
}
