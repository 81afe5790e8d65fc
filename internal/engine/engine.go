// Package engine drives a run forward one tick at a time: polling active
// attempts, planning which tasks are ready, dispatching them to operators
// subject to concurrency caps, and analyzing a finished workflow to decide
// the next one. It is the only package that mutates run state outside of
// the store's own bookkeeping.
package engine

import (
	"context"
	"fmt"

	"github.com/matterstack/matterstack/internal/core/campaign"
	"github.com/matterstack/matterstack/internal/models"
	"github.com/matterstack/matterstack/internal/operator"
	"github.com/matterstack/matterstack/internal/store"
)

// DefaultMaxConcurrentGlobal is the global in-flight attempt cap applied
// when no run config overrides it.
const DefaultMaxConcurrentGlobal = 50

// Limits bounds how many attempts may be active at once, globally and per
// operator key.
type Limits struct {
	Global      int
	PerOperator map[string]int
}

func (l Limits) globalOrDefault() int {
	if l.Global > 0 {
		return l.Global
	}
	return DefaultMaxConcurrentGlobal
}

func (l Limits) forOperator(key string) int {
	if l.PerOperator != nil {
		if v, ok := l.PerOperator[key]; ok && v > 0 {
			return v
		}
	}
	return l.globalOrDefault()
}

// Engine bundles the dependencies a tick needs: the run's store, its
// operator registry, the campaign driving workflow generation, and the
// run root the campaign's state blob is persisted under.
type Engine struct {
	Store    *store.Store
	Registry *operator.Registry
	Campaign campaign.Campaign
	Limits   Limits
	RunRoot  string
}

// InitializeRun creates a run row, builds its first workflow from the
// campaign's initial plan, persists it, and transitions the run to
// RUNNING. It does not acquire the run lock; callers are expected to call
// this exactly once, before any StepRun.
func InitializeRun(ctx context.Context, st *store.Store, run models.Run, camp campaign.Campaign) error {
	if err := st.CreateRun(run); err != nil {
		return fmt.Errorf("engine: initialize run %s: %w", run.RunID, err)
	}

	wf, err := camp.Plan(nil)
	if err != nil {
		return fmt.Errorf("engine: initial plan for run %s: %w", run.RunID, err)
	}
	if wf != nil {
		wf.RunID = run.RunID
		if err := st.AddWorkflow(*wf); err != nil {
			return fmt.Errorf("engine: persist initial workflow for run %s: %w", run.RunID, err)
		}
	}

	if err := st.SetRunStatus(run.RunID, models.RunStatusRunning, ""); err != nil {
		return fmt.Errorf("engine: activate run %s: %w", run.RunID, err)
	}
	if err := st.RecordEvent(run.RunID, "", "", "run.initialized", "run created and first workflow planned"); err != nil {
		return fmt.Errorf("engine: record initialize event for run %s: %w", run.RunID, err)
	}
	return nil
}
