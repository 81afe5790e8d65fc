package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/matterstack/matterstack/internal/engine"
)

// workspaceRunSet implements engine.RunSet by scanning every workspace
// under the workspaces root for run directories. ActiveRunIDs does not
// filter by status: terminal runs are listed too, and StepRun returns
// their status without dispatching anything. Each call to EngineFor
// opens a fresh store and registry, mirroring how a standalone `step`
// invocation would, since a daemon process has no other way to know a
// run's wiring has changed between passes.
type workspaceRunSet struct {
	root string
}

func newWorkspaceRunSet() (*workspaceRunSet, error) {
	root, err := workspacesRoot()
	if err != nil {
		return nil, err
	}
	return &workspaceRunSet{root: root}, nil
}

func (w *workspaceRunSet) ActiveRunIDs() ([]string, error) {
	workspaces, err := os.ReadDir(w.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workspaces root %s: %w", w.root, err)
	}

	var runIDs []string
	for _, ws := range workspaces {
		if !ws.IsDir() {
			continue
		}
		runsDir := filepath.Join(w.root, ws.Name(), "runs")
		runs, err := os.ReadDir(runsDir)
		if err != nil {
			continue
		}
		for _, r := range runs {
			if !r.IsDir() {
				continue
			}
			runIDs = append(runIDs, r.Name())
		}
	}
	return runIDs, nil
}

func (w *workspaceRunSet) EngineFor(runID string) (*engine.Engine, func(), error) {
	rc, err := openRunContext(runID)
	if err != nil {
		return nil, nil, err
	}
	return rc.Engine, func() { rc.Close() }, nil
}
