// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// KoanfConfig layers the on-disk YAML config under environment-variable
// overrides, following the same file-then-env precedence as the teacher's
// own KoanfConfig, generalized from per-device audio settings to the
// switch engine's Sources/Control/Health/Switch top-level keys.
type KoanfConfig struct {
	mu        sync.RWMutex
	k         *koanf.Koanf
	filePath  string
	envPrefix string
}

// Option configures a KoanfConfig.
type Option func(*KoanfConfig)

// WithYAMLFile sets the YAML configuration file path.
func WithYAMLFile(path string) Option {
	return func(kc *KoanfConfig) { kc.filePath = path }
}

// WithEnvPrefix overrides the default "MSWITCH" environment prefix.
func WithEnvPrefix(prefix string) Option {
	return func(kc *KoanfConfig) { kc.envPrefix = prefix }
}

// NewKoanfConfig loads configuration from a YAML file (if set) layered
// under MSWITCH_* environment variables (highest precedence).
func NewKoanfConfig(opts ...Option) (*KoanfConfig, error) {
	kc := &KoanfConfig{
		k:         koanf.New("."),
		envPrefix: "MSWITCH",
	}
	for _, opt := range opts {
		opt(kc)
	}
	if err := kc.reload(); err != nil {
		return nil, err
	}
	return kc, nil
}

// Load unmarshals the layered configuration into a Config and validates it.
func (kc *KoanfConfig) Load() (*Config, error) {
	kc.mu.RLock()
	k := kc.k
	kc.mu.RUnlock()

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

// Reload re-reads both layers from scratch.
func (kc *KoanfConfig) Reload() error {
	return kc.reload()
}

var topLevelKeys = []string{"sources_", "control_", "health_", "switch_"}

func (kc *KoanfConfig) reload() error {
	newK := koanf.New(".")

	if kc.filePath != "" {
		if err := newK.Load(file.Provider(kc.filePath), yaml.Parser()); err != nil {
			return fmt.Errorf("config: load yaml file: %w", err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: kc.envPrefix + "_",
		TransformFunc: func(k, v string) (string, any) {
			k = strings.TrimPrefix(k, kc.envPrefix+"_")
			k = strings.ToLower(k)
			for _, prefix := range topLevelKeys {
				if strings.HasPrefix(k, prefix) {
					top := strings.TrimSuffix(prefix, "_")
					rest := strings.TrimPrefix(k, prefix)
					return top + "." + rest, v
				}
			}
			return strings.ReplaceAll(k, "_", "."), v
		},
	})
	if err := newK.Load(envProvider, nil); err != nil {
		return fmt.Errorf("config: load env vars: %w", err)
	}

	kc.mu.Lock()
	kc.k = newK
	kc.mu.Unlock()
	return nil
}

// GetString retrieves a string value from the layered configuration.
func (kc *KoanfConfig) GetString(key string) string {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	return kc.k.String(key)
}

// GetInt retrieves an integer value from the layered configuration.
func (kc *KoanfConfig) GetInt(key string) int {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	return kc.k.Int(key)
}

// GetBool retrieves a boolean value from the layered configuration.
func (kc *KoanfConfig) GetBool(key string) bool {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	return kc.k.Bool(key)
}

// All returns the entire layered configuration as a nested map.
func (kc *KoanfConfig) All() map[string]interface{} {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	return kc.k.All()
}
