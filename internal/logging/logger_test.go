package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestInitializeDefaultsEnabled(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(dir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	Store("hello %s", "world")

	entries, err := os.ReadDir(filepath.Join(dir, ".daemon", "logs"))
	if err != nil {
		t.Fatalf("logs dir missing: %v", err)
	}
	if len(entries) == 0 {
		t.Error("expected at least one log file")
	}
}

func TestCategoryDisable(t *testing.T) {
	dir := t.TempDir()
	daemonDir := filepath.Join(dir, ".daemon")
	if err := os.MkdirAll(daemonDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cfg := map[string]interface{}{
		"enabled":    true,
		"level":      "info",
		"categories": map[string]bool{"feed": false},
	}
	data, _ := json.Marshal(cfg)
	if err := os.WriteFile(filepath.Join(daemonDir, "logging.json"), data, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if err := Initialize(dir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	if IsCategoryEnabled(CategoryFeed) {
		t.Error("feed category should be disabled")
	}
	if !IsCategoryEnabled(CategoryStore) {
		t.Error("store category should default to enabled")
	}

	// No-op logger must not panic.
	Feed("suppressed")
}

func TestDisabledLoggingIsNoop(t *testing.T) {
	dir := t.TempDir()
	daemonDir := filepath.Join(dir, ".daemon")
	if err := os.MkdirAll(daemonDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(daemonDir, "logging.json"), []byte(`{"enabled":false}`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if err := Initialize(dir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	Boot("should not be written")

	if _, err := os.Stat(filepath.Join(daemonDir, "logs")); !os.IsNotExist(err) {
		t.Error("logs dir should not be created when logging disabled")
	}
}
