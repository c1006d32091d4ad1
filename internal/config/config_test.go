package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitWorkspaceCreatesLayout(t *testing.T) {
	root := t.TempDir()
	if err := InitWorkspace(root); err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}
	for _, dir := range []string{
		filepath.Join(root, SteadDir, "sessions", "claude"),
		filepath.Join(root, SteadDir, "sessions", "codex"),
		filepath.Join(root, SteadDir, "sessions", "opencode"),
		filepath.Join(root, SteadDir, "logs"),
	} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected dir %s to exist", dir)
		}
	}
	if _, err := os.Stat(filepath.Join(root, SteadDir, "stead.yaml")); err != nil {
		t.Errorf("expected stead.yaml to be written: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	root := t.TempDir()
	if err := InitWorkspace(root); err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}
	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r := cfg.EndpointRange()
	if r.Low != 8000 || r.High != 8999 {
		t.Errorf("expected default range [8000,8999], got [%d,%d]", r.Low, r.High)
	}
	if !cfg.ModuleEnabled("session-proxy") || !cfg.ModuleEnabled("context-generator") {
		t.Errorf("expected both modules on by default")
	}
}

func TestLoadRejectsInvalidRange(t *testing.T) {
	root := t.TempDir()
	if err := InitWorkspace(root); err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}
	path := filepath.Join(root, SteadDir, "stead.yaml")
	if err := os.WriteFile(path, []byte("version: 1\nendpoint_range: [9000, 8000]\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(root); err == nil {
		t.Errorf("expected error for inverted range")
	}
}

func TestEnvOverrides(t *testing.T) {
	root := t.TempDir()
	if err := InitWorkspace(root); err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}
	t.Setenv("STEAD_ENDPOINT_RANGE_LOW", "9000")
	t.Setenv("STEAD_ENDPOINT_RANGE_HIGH", "9100")
	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r := cfg.EndpointRange()
	if r.Low != 9000 || r.High != 9100 {
		t.Errorf("expected overridden range [9000,9100], got [%d,%d]", r.Low, r.High)
	}
}
