package main

import (
	"path/filepath"
	"testing"
)

func TestResolvePort(t *testing.T) {
	t.Setenv("SIGNET_PORT", "")
	port = 0
	if got := resolvePort(); got != 3850 {
		t.Errorf("default port = %d, want 3850", got)
	}

	t.Setenv("SIGNET_PORT", "4100")
	if got := resolvePort(); got != 4100 {
		t.Errorf("env port = %d, want 4100", got)
	}

	t.Setenv("SIGNET_PORT", "not-a-port")
	if got := resolvePort(); got != 3850 {
		t.Errorf("bad env port = %d, want fallback 3850", got)
	}

	port = 9000
	defer func() { port = 0 }()
	if got := resolvePort(); got != 9000 {
		t.Errorf("flag port = %d, want 9000", got)
	}
}

func TestResolveHost(t *testing.T) {
	t.Setenv("SIGNET_HOST", "")
	host = ""
	if got := resolveHost(); got != "localhost" {
		t.Errorf("default host = %q, want localhost", got)
	}

	t.Setenv("SIGNET_HOST", "0.0.0.0")
	if got := resolveHost(); got != "0.0.0.0" {
		t.Errorf("env host = %q, want 0.0.0.0", got)
	}
}

func TestResolveAgentsDir(t *testing.T) {
	dir := t.TempDir()

	agentsDir = ""
	t.Setenv("SIGNET_PATH", dir)
	got, err := resolveAgentsDir()
	if err != nil {
		t.Fatalf("resolveAgentsDir: %v", err)
	}
	if got != dir {
		t.Errorf("env dir = %q, want %q", got, dir)
	}

	agentsDir = filepath.Join(dir, "override")
	defer func() { agentsDir = "" }()
	got, err = resolveAgentsDir()
	if err != nil {
		t.Fatalf("resolveAgentsDir: %v", err)
	}
	if got != agentsDir {
		t.Errorf("flag dir = %q, want %q", got, agentsDir)
	}
}
