package cli

import (
	"fmt"
	"os"
	"path/filepath"
)

const workspacesRootEnv = "MATTERSTACK_WORKSPACES_ROOT"

// workspacesRoot resolves the root directory under which every workspace's
// runs live, defaulting to ./workspaces in the current directory.
func workspacesRoot() (string, error) {
	if v := os.Getenv(workspacesRootEnv); v != "" {
		return v, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getwd: %w", err)
	}
	return filepath.Join(cwd, "workspaces"), nil
}

// findRunRoot locates a run's directory by scanning
// <workspaces_root>/<slug>/runs/<run_id> across every workspace slug,
// since the CLI's control surface addresses runs by id alone.
func findRunRoot(runID string) (string, error) {
	root, err := workspacesRoot()
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("read workspaces root %s: %w", root, err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(root, e.Name(), "runs", runID)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("run %s not found under %s", runID, root)
}

// runRootFor returns the run directory path for a newly initialized run;
// it does not create the directory.
func runRootFor(workspaceSlug, runID string) (string, error) {
	root, err := workspacesRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, workspaceSlug, "runs", runID), nil
}
