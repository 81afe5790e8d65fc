// Package config loads and saves the run-scoped config.json that sits
// at the root of every run directory: concurrency caps and the mode
// the run was initialized in.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const fileName = "config.json"

// Mode distinguishes how a run is allowed to make forward progress.
type Mode string

const (
	ModeManual Mode = "MANUAL" // advanced only by explicit `step`
	ModeLoop   Mode = "LOOP"   // advanced by a blocking `loop` on this run
	ModeDaemon Mode = "DAEMON" // advanced opportunistically by a shared daemon
)

// Config is the run-scoped configuration persisted at <run_root>/config.json.
type Config struct {
	Version            string         `json:"version"`
	WorkspaceSlug      string         `json:"workspace_slug"`
	Mode               Mode           `json:"mode"`
	MaxConcurrentGlobal int           `json:"max_concurrent_global"`
	MaxConcurrentPerOperator map[string]int `json:"max_concurrent_per_operator,omitempty"`
	TickIntervalSeconds int           `json:"tick_interval_seconds"`
	RemoteRoot         string         `json:"remote_root,omitempty"`
}

// Default returns a config with the conservative defaults a freshly
// initialized run should start with.
func Default(workspaceSlug string) Config {
	return Config{
		Version:             "1",
		WorkspaceSlug:       workspaceSlug,
		Mode:                ModeManual,
		MaxConcurrentGlobal: 50,
		TickIntervalSeconds: 5,
	}
}

// Load reads config.json from a run root.
func Load(runRoot string) (Config, error) {
	path := filepath.Join(runRoot, fileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes config.json into a run root, creating the directory if
// it does not already exist.
func Save(runRoot string, cfg Config) error {
	if err := os.MkdirAll(runRoot, 0o755); err != nil {
		return fmt.Errorf("config: create run root %s: %w", runRoot, err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	path := filepath.Join(runRoot, fileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
