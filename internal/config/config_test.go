package config

import (
	"path/filepath"
	"testing"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default("demo-workspace")
	cfg.MaxConcurrentPerOperator = map[string]int{"hpc.default": 4}

	if err := Save(dir, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.WorkspaceSlug != "demo-workspace" {
		t.Fatalf("unexpected workspace slug: %s", got.WorkspaceSlug)
	}
	if got.MaxConcurrentPerOperator["hpc.default"] != 4 {
		t.Fatalf("unexpected per-operator cap: %+v", got.MaxConcurrentPerOperator)
	}
}

func TestDefaultValues(t *testing.T) {
	cfg := Default("ws")
	if cfg.Mode != ModeManual {
		t.Fatalf("expected default mode MANUAL, got %s", cfg.Mode)
	}
	if cfg.MaxConcurrentGlobal != 50 {
		t.Fatalf("expected default global cap 50, got %d", cfg.MaxConcurrentGlobal)
	}
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "nope")); err == nil {
		t.Fatal("expected error loading from a directory with no config.json")
	}
}
