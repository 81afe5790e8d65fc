package cli

import (
	"fmt"

	"github.com/matterstack/matterstack/internal/config"
	"github.com/matterstack/matterstack/internal/core/campaign"
	"github.com/matterstack/matterstack/internal/engine"
	"github.com/matterstack/matterstack/internal/models"
	"github.com/matterstack/matterstack/internal/store"
	"github.com/matterstack/matterstack/internal/wire"
	"github.com/matterstack/matterstack/internal/wiring"
)

// runContext bundles everything a control-surface command needs once a
// run's directory has been located: its store, its engine, and the run
// row itself.
type runContext struct {
	RunRoot string
	Store   *store.Store
	Engine  *engine.Engine
	Run     models.Run
}

// openRunContextOpts carries the CLI-tier wiring override a command may
// have been invoked with; a zero value resolves wiring purely from the
// run's persisted snapshot, workspace default, or env var.
type openRunContextOpts struct {
	OperatorsConfigPath string
	ForceWiringOverride bool
}

// openRunContext opens an existing run's store and builds an engine for
// it, resolving operator wiring for every operator key its tasks
// reference plus the canonical defaults.
func openRunContext(runID string) (*runContext, error) {
	return openRunContextWith(runID, openRunContextOpts{})
}

func openRunContextWith(runID string, opts openRunContextOpts) (*runContext, error) {
	runRoot, err := findRunRoot(runID)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(runRoot)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	run, err := st.GetRun(runID)
	if err != nil {
		st.Close()
		return nil, err
	}

	tasks, err := st.GetTasks(runID)
	if err != nil {
		st.Close()
		return nil, err
	}

	keys := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if t.OperatorKey != "" {
			keys = append(keys, t.OperatorKey)
		}
	}

	wsRoot, err := workspacesRoot()
	if err != nil {
		st.Close()
		return nil, err
	}

	specs, _, err := wire.ResolveWiring(st, runID, runRoot, wiring.Request{
		CLIConfigPath:       opts.OperatorsConfigPath,
		WorkspaceConfigPath: wire.WorkspaceConfigPath(wsRoot, run.WorkspaceSlug),
		Force:               opts.ForceWiringOverride,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("resolve operator wiring: %w", err)
	}

	reg, err := wire.BuildRegistry(runRoot, specs, keys)
	if err != nil {
		st.Close()
		return nil, err
	}

	cfg, err := config.Load(runRoot)
	if err != nil {
		st.Close()
		return nil, err
	}

	workflows, err := st.GetWorkflows(runID)
	if err != nil {
		st.Close()
		return nil, err
	}

	limits := engine.Limits{Global: cfg.MaxConcurrentGlobal, PerOperator: cfg.MaxConcurrentPerOperator}
	eng := wire.BuildEngine(st, reg, campaign.ResumeLinear(len(workflows) > 0), limits, runRoot)

	return &runContext{RunRoot: runRoot, Store: st, Engine: eng, Run: run}, nil
}

func (rc *runContext) Close() {
	rc.Store.Close()
}
