// Package config provides YAML configuration loading for the FieldSync daemon.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relieflab/fieldsync/internal/logging"
	"github.com/relieflab/fieldsync/internal/models"
)

// RemoteConfig holds remote authority endpoint configuration.
type RemoteConfig struct {
	BaseURL        string        `yaml:"base_url"`
	ProbePath      string        `yaml:"probe_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// MetricsConfig holds metrics exposition configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Config represents the complete configuration for the sync daemon.
type Config struct {
	DataDir string                        `yaml:"data_dir"`
	Sync    models.BackgroundSyncSettings `yaml:"sync"`
	Remote  RemoteConfig                  `yaml:"remote"`
	Metrics MetricsConfig                 `yaml:"metrics"`
	Logging logging.Config                `yaml:"logging"`
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Sync:    models.DefaultBackgroundSyncSettings(),
		Remote: RemoteConfig{
			ProbePath:      "/ping",
			RequestTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    9090,
		},
		Logging: logging.DefaultConfig(),
	}
}

// LoadConfig reads a YAML configuration file, applying defaults for
// unset fields.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url must not be empty")
	}
	if c.Remote.RequestTimeout <= 0 {
		return fmt.Errorf("remote.request_timeout must be positive")
	}
	if c.Sync.MaxConcurrentOperations <= 0 {
		return fmt.Errorf("sync.max_concurrent_operations must be positive")
	}
	if c.Sync.SyncIntervalMinutes <= 0 {
		return fmt.Errorf("sync.sync_interval_minutes must be positive")
	}
	if c.Sync.MinimumBatteryLevel < 0 || c.Sync.MinimumBatteryLevel > 100 {
		return fmt.Errorf("sync.minimum_battery_level must be within [0,100]")
	}
	if c.Sync.PriorityThreshold < 0 || c.Sync.PriorityThreshold > 100 {
		return fmt.Errorf("sync.priority_threshold must be within [0,100]")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be a valid port")
	}
	return nil
}
