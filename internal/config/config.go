// SPDX-License-Identifier: MIT

// Package config holds the engine's init-time configuration: sources,
// control surface, health policy, and switch policy knobs, loaded from a
// YAML file layered under environment overrides and saved back atomically.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"
)

// DefaultConfigFilePath is the default on-disk location for the engine's
// configuration file.
const DefaultConfigFilePath = "/etc/mswitch/config.yaml"

// Config is the complete engine configuration.
type Config struct {
	Sources []SourceConfig `yaml:"sources" koanf:"sources"`
	Control ControlConfig  `yaml:"control" koanf:"control"`
	Health  HealthConfig   `yaml:"health" koanf:"health"`
	Switch  SwitchConfig   `yaml:"switch" koanf:"switch"`
}

// SourceConfig describes one upstream source. The last entry in Sources is,
// by convention, the never-failing black interim used as the failover
// target of last resort.
type SourceConfig struct {
	URL string `yaml:"url" koanf:"url"`
}

// ControlConfig configures the HTTP control surface.
type ControlConfig struct {
	Addr          string `yaml:"addr" koanf:"addr"`                         // e.g. ":8099"
	SwitchPolicy  string `yaml:"switch_policy" koanf:"switch_policy"`       // "seamless", "cutover", or "graceful"
	EventLogPath  string `yaml:"event_log_path" koanf:"event_log_path"`     // rotating structured log of engine events; empty disables
	EventLogMaxMB int64  `yaml:"event_log_max_mb" koanf:"event_log_max_mb"`
	EventLogKeep  int    `yaml:"event_log_keep" koanf:"event_log_keep"`
}

// HealthConfig configures the Health Monitor.
type HealthConfig struct {
	AutoFailoverEnabled bool `yaml:"auto_failover_enabled" koanf:"auto_failover_enabled"`
	IntervalMs          int  `yaml:"health_check_interval_ms" koanf:"health_check_interval_ms"`
	SourceTimeoutMs     int  `yaml:"source_timeout_ms" koanf:"source_timeout_ms"`
	StartupGraceMs      int  `yaml:"startup_grace_period_ms" koanf:"startup_grace_period_ms"`
}

// SwitchConfig configures the switch engine's forced-switch and manual-grace
// timing knobs.
type SwitchConfig struct {
	ForcedSwitchTimeoutMs int `yaml:"forced_switch_timeout_ms" koanf:"forced_switch_timeout_ms"`
	ManualSwitchGraceMs   int `yaml:"manual_switch_grace_ms" koanf:"manual_switch_grace_ms"`
	RingCapacity          int `yaml:"ring_capacity" koanf:"ring_capacity"`
}

// LoadConfig reads and parses the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 - path is administrator-controlled
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

// atomicFile abstracts the file operations Save needs, so tests can inject
// a fake without touching the real filesystem's failure modes.
type atomicFile interface {
	Write([]byte) (int, error)
	Sync() error
	Chmod(os.FileMode) error
	Close() error
	Name() string
}

type atomicCreateTemp func(dir, pattern string) (atomicFile, error)

func defaultCreateTemp(dir, pattern string) (atomicFile, error) {
	return os.CreateTemp(dir, pattern) // #nosec G304
}

// Save writes the configuration to path via a temp-file-then-rename, so a
// crash mid-write never leaves a truncated config on disk.
func (c *Config) Save(path string) error {
	return c.saveWith(path, defaultCreateTemp)
}

func (c *Config) saveWith(path string, createTemp atomicCreateTemp) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tmpFile, err := createTemp(dir, ".config.*.yaml")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("config: sync temp file: %w", err)
	}
	// #nosec G302 - config may carry source URLs, restrict to owner+group
	if err := tmpFile.Chmod(0640); err != nil {
		return fmt.Errorf("config: chmod temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("config: rename into place: %w", err)
	}

	success = true
	return nil
}

// Validate enforces the init-time ranges: at least two sources (one real,
// one black interim), a valid switch policy name, and sane timing ranges.
func (c *Config) Validate() error {
	if len(c.Sources) < 2 {
		return fmt.Errorf("need at least 2 sources (last is the black interim), got %d", len(c.Sources))
	}
	for i, s := range c.Sources {
		if s.URL == "" {
			return fmt.Errorf("source %d: url cannot be empty", i)
		}
	}
	switch c.Control.SwitchPolicy {
	case "", "seamless", "cutover", "graceful":
	default:
		return fmt.Errorf("control.switch_policy must be seamless, cutover, or graceful (got %q)", c.Control.SwitchPolicy)
	}
	if c.Health.IntervalMs != 0 && (c.Health.IntervalMs < 100 || c.Health.IntervalMs > 10000) {
		return fmt.Errorf("health.health_check_interval_ms must be in [100,10000] (got %d)", c.Health.IntervalMs)
	}
	if c.Health.SourceTimeoutMs != 0 && (c.Health.SourceTimeoutMs < 1000 || c.Health.SourceTimeoutMs > 60000) {
		return fmt.Errorf("health.source_timeout_ms must be in [1000,60000] (got %d)", c.Health.SourceTimeoutMs)
	}
	if c.Switch.RingCapacity < 0 {
		return fmt.Errorf("switch.ring_capacity must not be negative")
	}
	return nil
}

// DefaultConfig returns a configuration with the spec's documented
// defaults: 2000ms health interval, 5000ms source timeout, 3s forced-switch
// timeout and manual-switch grace, a 90-packet ring.
func DefaultConfig() *Config {
	return &Config{
		Control: ControlConfig{
			Addr:          ":8099",
			SwitchPolicy:  "seamless",
			EventLogMaxMB: 10,
			EventLogKeep:  5,
		},
		Health: HealthConfig{
			AutoFailoverEnabled: true,
			IntervalMs:          2000,
			SourceTimeoutMs:     5000,
			StartupGraceMs:      10000,
		},
		Switch: SwitchConfig{
			ForcedSwitchTimeoutMs: 3000,
			ManualSwitchGraceMs:   3000,
			RingCapacity:          90,
		},
	}
}
