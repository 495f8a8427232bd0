// Package config loads the lockgate configuration file.
//
// Configuration is optional: a missing file yields pure defaults, and every
// value present in the file overrides its default individually. Values are
// validated at load so a bad file fails fast with a field-specific error
// instead of surfacing later as odd runtime behavior.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/knagatomi/lockgate/pkg/credential"
	"github.com/knagatomi/lockgate/pkg/kdf"
)

// FileName is the configuration file looked up under the lockgate directory.
const FileName = "config.yaml"

// Config is the on-disk configuration. Durations are plain seconds so the
// file needs no unit-string parsing.
type Config struct {
	// Dir overrides the lockgate data directory (default ~/.lockgate).
	Dir string `yaml:"dir"`

	// AutoLockSeconds is the inactivity window before the session locks
	// itself. Negative disables auto-lock; zero selects the default.
	AutoLockSeconds int `yaml:"auto_lock_seconds"`

	// CheckSeconds is how often long-running hosts poll for auto-lock.
	CheckSeconds int `yaml:"check_seconds"`

	Lockout Lockout    `yaml:"lockout"`
	KDF     kdf.Params `yaml:"kdf"`
	MCP     MCP        `yaml:"mcp"`
}

// Lockout bounds consecutive failed unlock attempts.
type Lockout struct {
	MaxAttempts     int `yaml:"max_attempts"`
	DurationSeconds int `yaml:"duration_seconds"`
}

// MCP throttles tool calls on the agent surface.
type MCP struct {
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
}

// Default returns the configuration used when no file exists: five failed
// attempts arm a five-minute lockout, the session auto-locks after five
// idle minutes checked every thirty seconds.
func Default() *Config {
	return &Config{
		AutoLockSeconds: 300,
		CheckSeconds:    30,
		Lockout:         Lockout{MaxAttempts: 5, DurationSeconds: 300},
		KDF:             kdf.DefaultParams(),
		MCP:             MCP{RatePerSec: 5, Burst: 10},
	}
}

// Load reads the file at path over the defaults. A missing file is not an
// error; a malformed or invalid one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field that carries a hard floor.
func (c *Config) Validate() error {
	if c.CheckSeconds < 1 {
		return fmt.Errorf("check_seconds must be at least 1, got %d", c.CheckSeconds)
	}
	if c.Lockout.MaxAttempts < 1 {
		return fmt.Errorf("lockout.max_attempts must be at least 1, got %d", c.Lockout.MaxAttempts)
	}
	if c.Lockout.DurationSeconds < 1 {
		return fmt.Errorf("lockout.duration_seconds must be at least 1, got %d", c.Lockout.DurationSeconds)
	}
	if err := c.KDF.Validate(); err != nil {
		return fmt.Errorf("kdf: time must be at least 1, memory_kib at least %d, threads at least 1: %w",
			kdf.MinMemoryKiB, err)
	}
	if c.MCP.RatePerSec <= 0 {
		return fmt.Errorf("mcp.rate_per_sec must be positive, got %v", c.MCP.RatePerSec)
	}
	if c.MCP.Burst < 1 {
		return fmt.Errorf("mcp.burst must be at least 1, got %d", c.MCP.Burst)
	}
	return nil
}

// AutoLockTimeout converts the configured seconds into the session timeout.
func (c *Config) AutoLockTimeout() time.Duration {
	return time.Duration(c.AutoLockSeconds) * time.Second
}

// CheckInterval converts the configured seconds into the watcher interval.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckSeconds) * time.Second
}

// Policy converts the lockout section into the credential policy.
func (c *Config) Policy() credential.Policy {
	return credential.Policy{
		MaxAttempts: c.Lockout.MaxAttempts,
		Duration:    time.Duration(c.Lockout.DurationSeconds) * time.Second,
	}
}

// DefaultDir returns the default lockgate data directory, ~/.lockgate.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".lockgate"), nil
}
