package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/soracane/agentwatch/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	if cfg.StaleAfter != 4*time.Hour {
		t.Fatalf("unexpected stale_after %v", cfg.StaleAfter)
	}
	if cfg.LivenessTTL != 30*time.Second {
		t.Fatalf("unexpected liveness_ttl %v", cfg.LivenessTTL)
	}
	if cfg.LockTimeout != 2*time.Second {
		t.Fatalf("unexpected lock_timeout %v", cfg.LockTimeout)
	}
	if len(cfg.NotifyInputMarkers) == 0 {
		t.Fatalf("expected default notify markers")
	}
	if cfg.RegistryPath == "" || cfg.HistoryPath == "" {
		t.Fatalf("expected paths set, got %+v", cfg)
	}
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StaleAfter != config.DefaultConfig().StaleAfter {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
stale_after: 1h
notify_input_markers:
  - needs your attention
log_level: debug
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StaleAfter != time.Hour {
		t.Fatalf("expected overlay stale_after, got %v", cfg.StaleAfter)
	}
	if len(cfg.NotifyInputMarkers) != 1 || cfg.NotifyInputMarkers[0] != "needs your attention" {
		t.Fatalf("expected overlay markers, got %+v", cfg.NotifyInputMarkers)
	}
	// Untouched keys keep their defaults.
	if cfg.LivenessTTL != 30*time.Second {
		t.Fatalf("expected default liveness_ttl, got %v", cfg.LivenessTTL)
	}
}

func TestLoadMalformedFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("stale_after: [broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
