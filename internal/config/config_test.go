package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowsock.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadManagerDefaultsAppliesBuiltinDefaults(t *testing.T) {
	path := writeTemp(t, "")
	cfg, err := LoadManagerDefaults(path)
	if err != nil {
		t.Fatalf("LoadManagerDefaults: %v", err)
	}
	if cfg.Path != "/socket.io" {
		t.Fatalf("Path=%q, want /socket.io", cfg.Path)
	}
	if cfg.ReconnectionDelay.Duration() != time.Second {
		t.Fatalf("ReconnectionDelay=%v, want 1s", cfg.ReconnectionDelay.Duration())
	}
	if cfg.ReconnectionDelayMax.Duration() != 5*time.Second {
		t.Fatalf("ReconnectionDelayMax=%v, want 5s", cfg.ReconnectionDelayMax.Duration())
	}
	if cfg.RandomizationFactor != 0.5 {
		t.Fatalf("RandomizationFactor=%v, want 0.5", cfg.RandomizationFactor)
	}
}

func TestLoadManagerDefaultsParsesExplicitValues(t *testing.T) {
	path := writeTemp(t, `
path = "/ws"
reconnectionDelay = "250ms"
reconnectionDelayMax = "2s"
randomizationFactor = 0.2
reconnectionAttempts = 5
timeout = "10s"
`)
	cfg, err := LoadManagerDefaults(path)
	if err != nil {
		t.Fatalf("LoadManagerDefaults: %v", err)
	}
	if cfg.Path != "/ws" {
		t.Fatalf("Path=%q", cfg.Path)
	}
	if cfg.ReconnectionDelay.Duration() != 250*time.Millisecond {
		t.Fatalf("ReconnectionDelay=%v", cfg.ReconnectionDelay.Duration())
	}
	if cfg.ReconnectionAttempts != 5 {
		t.Fatalf("ReconnectionAttempts=%d", cfg.ReconnectionAttempts)
	}
	if cfg.Timeout == nil || cfg.Timeout.Duration() != 10*time.Second {
		t.Fatalf("Timeout=%v", cfg.Timeout)
	}
	opts := cfg.Options()
	if len(opts) != 6 {
		t.Fatalf("Options() len=%d, want 6 (including timeout)", len(opts))
	}
}

func TestLoadManagerDefaultsRejectsInvalidDelayOrdering(t *testing.T) {
	path := writeTemp(t, `
reconnectionDelay = "5s"
reconnectionDelayMax = "1s"
`)
	if _, err := LoadManagerDefaults(path); err == nil {
		t.Fatal("expected an error when reconnectionDelayMax < reconnectionDelay")
	}
}

func TestLoadManagerDefaultsRejectsMissingFile(t *testing.T) {
	if _, err := LoadManagerDefaults(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
