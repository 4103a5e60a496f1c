package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFlagsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speechd-up.yaml")
	data := []byte("device:\n  path: /dev/from-file\n  coding: iso-8859-2\nlog:\n  level: warn\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SPEECHD_UP_LOG_LEVEL", "error")

	cfg, err := loadConfig(flags{configPath: path, device: "/dev/from-flag", logLevel: "5", probe: true})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Device.Path != "/dev/from-flag" {
		t.Fatalf("flag should win over file, got %s", cfg.Device.Path)
	}
	if cfg.Device.Coding != "iso-8859-2" {
		t.Fatalf("file coding lost, got %s", cfg.Device.Coding)
	}
	if cfg.Log.Level != "5" {
		t.Fatalf("flag should win over env, got %s", cfg.Log.Level)
	}
	if !cfg.Device.Probe {
		t.Fatal("probe flag not applied")
	}
}

func TestLoadConfigProbeRelaxesBackend(t *testing.T) {
	t.Setenv("SPEECHD_UP_BACKEND_MODE", "unknown")
	if _, err := loadConfig(flags{}); err == nil {
		t.Fatal("expected invalid backend mode without probe")
	}
	if _, err := loadConfig(flags{probe: true}); err != nil {
		t.Fatalf("probe mode should not need a backend: %v", err)
	}
}
