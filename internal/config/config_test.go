package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knagatomi/lockgate/pkg/kdf"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoadMissingFile yields pure defaults without error.
func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := Default()
	if *cfg != *want {
		t.Errorf("Load() = %+v, want defaults %+v", cfg, want)
	}
}

// TestLoadOverridesDefaults keeps defaults for absent keys and replaces the
// present ones.
func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
auto_lock_seconds: 120
lockout:
  max_attempts: 3
  duration_seconds: 60
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AutoLockSeconds != 120 {
		t.Errorf("AutoLockSeconds = %d, want 120", cfg.AutoLockSeconds)
	}
	if cfg.Lockout.MaxAttempts != 3 || cfg.Lockout.DurationSeconds != 60 {
		t.Errorf("Lockout = %+v, want {3 60}", cfg.Lockout)
	}
	// Untouched sections keep their defaults.
	if cfg.CheckSeconds != Default().CheckSeconds {
		t.Errorf("CheckSeconds = %d, want default %d", cfg.CheckSeconds, Default().CheckSeconds)
	}
	if cfg.KDF != kdf.DefaultParams() {
		t.Errorf("KDF = %+v, want default %+v", cfg.KDF, kdf.DefaultParams())
	}
}

// TestLoadRejectsInvalid fails at load with a field-specific error.
func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero check interval", "check_seconds: 0"},
		{"zero attempts", "lockout:\n  max_attempts: 0"},
		{"zero lockout duration", "lockout:\n  duration_seconds: 0"},
		{"kdf memory below floor", "kdf:\n  memory_kib: 64"},
		{"zero kdf time", "kdf:\n  time: 0"},
		{"negative mcp rate", "mcp:\n  rate_per_sec: -1"},
		{"zero mcp burst", "mcp:\n  burst: 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Errorf("Load(%q) succeeded, want validation error", tt.content)
			}
		})
	}
}

// TestLoadMalformedYAML reports a parse error, not defaults.
func TestLoadMalformedYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "lockout: [not a mapping")); err == nil {
		t.Error("Load() succeeded on malformed YAML")
	}
}

// TestNegativeAutoLockDisables passes the disable sentinel through.
func TestNegativeAutoLockDisables(t *testing.T) {
	cfg, err := Load(writeConfig(t, "auto_lock_seconds: -1"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AutoLockTimeout() >= 0 {
		t.Errorf("AutoLockTimeout() = %v, want negative", cfg.AutoLockTimeout())
	}
}

// TestConversions maps the file values onto the library types.
func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.AutoLockSeconds = 90
	cfg.CheckSeconds = 15
	cfg.Lockout = Lockout{MaxAttempts: 7, DurationSeconds: 45}

	if got := cfg.AutoLockTimeout(); got != 90*time.Second {
		t.Errorf("AutoLockTimeout() = %v, want 90s", got)
	}
	if got := cfg.CheckInterval(); got != 15*time.Second {
		t.Errorf("CheckInterval() = %v, want 15s", got)
	}
	policy := cfg.Policy()
	if policy.MaxAttempts != 7 || policy.Duration != 45*time.Second {
		t.Errorf("Policy() = %+v, want {7 45s}", policy)
	}
}
