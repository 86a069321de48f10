package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig holds the offline-engine tunables. All values have working
// defaults; an optional YAML file pointed to by ENGINE_CONFIG_PATH overrides
// them for field deployments.
type EngineConfig struct {
	// Scheduling
	SyncIntervalSec  int  `yaml:"sync_interval_sec"`
	SyncOnStartup    bool `yaml:"sync_on_startup"`
	ProbeIntervalSec int  `yaml:"probe_interval_sec"`
	ProbeTimeoutSec  int  `yaml:"probe_timeout_sec"`

	// Durable write queue
	GracePeriodSec int `yaml:"grace_period_sec"` // delay before a synced report is deleted

	// Messages
	RetentionDays int `yaml:"retention_days"` // messages older than this age out

	// Push subscription
	ReadinessTimeoutSec int `yaml:"readiness_timeout_sec"`
	KeyFetchAttempts    int `yaml:"key_fetch_attempts"`
	KeyFetchBackoffSec  int `yaml:"key_fetch_backoff_sec"` // linear: n*backoff per attempt
}

// DefaultEngineConfig returns the built-in tunables
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		SyncIntervalSec:     300,
		SyncOnStartup:       true,
		ProbeIntervalSec:    30,
		ProbeTimeoutSec:     5,
		GracePeriodSec:      5,
		RetentionDays:       30,
		ReadinessTimeoutSec: 10,
		KeyFetchAttempts:    3,
		KeyFetchBackoffSec:  1,
	}
}

// LoadEngineConfig loads tunables from ENGINE_CONFIG_PATH or falls back to
// the defaults. A present-but-broken file is an error: silently running with
// defaults in that case has burned field deployments before.
func LoadEngineConfig() (*EngineConfig, error) {
	path := os.Getenv("ENGINE_CONFIG_PATH")
	if path == "" {
		return DefaultEngineConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine config %s: %w", path, err)
	}

	cfg := DefaultEngineConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse engine config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *EngineConfig) validate() error {
	if c.SyncIntervalSec <= 0 {
		return fmt.Errorf("sync_interval_sec must be positive, got %d", c.SyncIntervalSec)
	}
	if c.GracePeriodSec < 0 {
		return fmt.Errorf("grace_period_sec must not be negative, got %d", c.GracePeriodSec)
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention_days must be positive, got %d", c.RetentionDays)
	}
	if c.KeyFetchAttempts <= 0 {
		return fmt.Errorf("key_fetch_attempts must be positive, got %d", c.KeyFetchAttempts)
	}
	return nil
}

// SyncInterval returns the periodic sync interval as a duration
func (c *EngineConfig) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSec) * time.Second
}

// ProbeInterval returns the connectivity probe interval as a duration
func (c *EngineConfig) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSec) * time.Second
}

// ProbeTimeout returns the connectivity probe timeout as a duration
func (c *EngineConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSec) * time.Second
}

// GracePeriod returns the synced-report deletion delay as a duration
func (c *EngineConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSec) * time.Second
}

// ReadinessTimeout returns the push transport readiness bound as a duration
func (c *EngineConfig) ReadinessTimeout() time.Duration {
	return time.Duration(c.ReadinessTimeoutSec) * time.Second
}

// KeyFetchBackoff returns the linear backoff unit for key retrieval
func (c *EngineConfig) KeyFetchBackoff() time.Duration {
	return time.Duration(c.KeyFetchBackoffSec) * time.Second
}
