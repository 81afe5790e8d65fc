package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/matterstack/matterstack/internal/backend"
	"github.com/matterstack/matterstack/internal/core/campaign"
	"github.com/matterstack/matterstack/internal/errs"
	"github.com/matterstack/matterstack/internal/ids"
	"github.com/matterstack/matterstack/internal/models"
)

// pollConcurrency bounds how many attempts are checked against their
// backend concurrently during the POLL phase; this is the only phase that
// fans out, since check/collect calls are I/O-bound remote operations and
// all state-store mutations stay serialized under the run lock regardless.
const pollConcurrency = 8

// StepRun executes one tick of the run lifecycle: POLL, PLAN, EXECUTE,
// ANALYZE, in that order, all under the run's exclusive lock. It returns
// the run's status after the tick.
func (e *Engine) StepRun(ctx context.Context, runID string) (models.RunStatus, error) {
	var result models.RunStatus
	err := e.Store.WithLock(func() error {
		status, err := e.stepLocked(ctx, runID)
		result = status
		return err
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func (e *Engine) stepLocked(ctx context.Context, runID string) (models.RunStatus, error) {
	status, err := e.Store.GetRunStatus(runID)
	if err != nil {
		return "", err
	}

	if status == models.RunStatusPending {
		if err := e.Store.SetRunStatus(runID, models.RunStatusRunning, ""); err != nil {
			return "", err
		}
		status = models.RunStatusRunning
	}

	if status.Terminal() {
		if status == models.RunStatusCancelled {
			// A cancelled run dispatches nothing new, but in-flight
			// attempts are still polled until they are observed terminal.
			if err := e.poll(ctx, runID); err != nil {
				return "", fmt.Errorf("engine: poll phase for run %s: %w", runID, err)
			}
		}
		return status, nil
	}

	if err := e.poll(ctx, runID); err != nil {
		return "", fmt.Errorf("engine: poll phase for run %s: %w", runID, err)
	}

	if status == models.RunStatusPaused {
		return models.RunStatusPaused, nil
	}

	tasks, err := e.Store.GetTasks(runID)
	if err != nil {
		return "", err
	}

	readyTasks, hasActive, hasFailed, _, err := e.plan(runID, tasks)
	if err != nil {
		return "", err
	}

	if err := e.execute(ctx, runID, readyTasks); err != nil {
		return "", fmt.Errorf("engine: execute phase for run %s: %w", runID, err)
	}
	if len(readyTasks) > 0 {
		hasActive = true
	}

	if !hasActive && len(readyTasks) == 0 {
		if hasFailed {
			if err := e.Store.SetRunStatus(runID, models.RunStatusFailed, "workflow has unresolved failed tasks"); err != nil {
				return "", err
			}
			return models.RunStatusFailed, nil
		}
		return e.analyze(runID, tasks)
	}

	return models.RunStatusRunning, nil
}

// poll checks every active attempt against its operator and persists any
// status change it observes, fanning the backend calls out (bounded) but
// serializing every store write.
func (e *Engine) poll(ctx context.Context, runID string) error {
	attempts, err := e.Store.GetActiveAttempts(runID)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		return nil
	}

	type observation struct {
		attempt models.Attempt
		status  models.AttemptStatus
		err     error
		// deterministic marks an error that will never resolve itself on a
		// later tick (the operator key isn't registered at all), as opposed
		// to a transient backend glitch that should just be retried.
		deterministic bool
	}

	observations := make([]observation, len(attempts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pollConcurrency)

	for i, attempt := range attempts {
		i, attempt := i, attempt
		g.Go(func() error {
			op, err := e.Registry.Resolve(attempt.OperatorKey)
			if err != nil {
				observations[i] = observation{attempt: attempt, status: models.AttemptStatusFailed, err: err, deterministic: true}
				return nil
			}
			status, err := op.CheckStatus(gctx, attempt)
			observations[i] = observation{attempt: attempt, status: status, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, obs := range observations {
		if obs.err != nil {
			var notFound *errs.NotFoundError
			if !obs.deterministic && errors.As(obs.err, &notFound) {
				obs.deterministic = true
			}
			if !obs.deterministic && errors.Is(obs.err, backend.ErrJobLost) {
				// The operator has no way to recover this handle's outcome
				// (process restart lost the in-memory record, sentinel
				// missing, pid gone): this will never resolve on a later
				// poll, so fail it now instead of retrying forever.
				obs.deterministic = true
			}
			if !obs.deterministic {
				// A transient backend error (network glitch, scheduler
				// hiccup): leave the attempt's status untouched and retry
				// on the next tick rather than failing it outright.
				fmt.Fprintf(os.Stderr, "poll: %s: %v (will retry)\n", obs.attempt.AttemptID, obs.err)
				continue
			}
			if err := e.Store.UpdateAttemptStatus(obs.attempt.AttemptID, models.AttemptStatusFailed, obs.attempt.Handle, nil, obs.err.Error()); err != nil {
				return err
			}
			if err := e.Store.SetTaskStatus(obs.attempt.TaskID, models.TaskStatusFailed); err != nil {
				return err
			}
			continue
		}

		if obs.status == obs.attempt.Status {
			continue
		}

		finalStatus := obs.status
		var exitCode *int
		errMsg := ""
		if obs.status.Terminal() {
			op, err := e.Registry.Resolve(obs.attempt.OperatorKey)
			if err != nil {
				finalStatus = models.AttemptStatusFailed
				errMsg = err.Error()
			} else {
				task, err := e.Store.GetTask(obs.attempt.TaskID)
				if err != nil {
					return err
				}
				res, err := op.CollectResults(ctx, task, obs.attempt)
				if err != nil {
					// A job that finished but whose declared outputs never
					// showed up (or whose retrieval itself failed) is not a
					// success: the collect error overrides whatever status
					// was observed, rather than letting e.g. COMPLETED through
					// with nothing actually collected.
					finalStatus = models.AttemptStatusFailed
					errMsg = err.Error()
				} else {
					code := res.ExitCode
					exitCode = &code
					errMsg = res.ErrorMessage
				}
			}
		}

		if err := e.Store.UpdateAttemptStatus(obs.attempt.AttemptID, finalStatus, obs.attempt.Handle, exitCode, errMsg); err != nil {
			return err
		}

		taskStatus := attemptStatusToTaskStatus(finalStatus)
		if taskStatus != "" {
			if err := e.Store.SetTaskStatus(obs.attempt.TaskID, taskStatus); err != nil {
				return err
			}
		}
	}
	return nil
}

func attemptStatusToTaskStatus(s models.AttemptStatus) models.TaskStatus {
	switch s {
	case models.AttemptStatusCompleted:
		return models.TaskStatusCompleted
	case models.AttemptStatusFailed:
		return models.TaskStatusFailed
	case models.AttemptStatusCancelled:
		return models.TaskStatusCancelled
	case models.AttemptStatusRunning:
		return models.TaskStatusRunning
	case models.AttemptStatusSubmitted:
		return models.TaskStatusSubmitted
	case models.AttemptStatusWaitingExternal:
		return models.TaskStatusWaitingExternal
	default:
		return ""
	}
}

// plan computes which tasks are ready to dispatch: PENDING, with every
// dependency COMPLETED (or FAILED when the dependent tolerates it), and
// no attempt already active. The ready list is sorted by task_id alone,
// which keeps dispatch order deterministic across ticks; workflow
// declaration order is not consulted.
func (e *Engine) plan(runID string, tasks []models.Task) (ready []models.Task, hasActive, hasFailed bool, statusMap map[string]models.TaskStatus, err error) {
	statusMap = make(map[string]models.TaskStatus, len(tasks))
	for _, t := range tasks {
		statusMap[t.TaskID] = t.Status
	}

	// A task whose dependency hard-failed (or was itself skipped) and that
	// does not tolerate dependency failure can never become ready; mark it
	// SKIPPED so it stops blocking the run from reaching a terminal state.
	// This runs to a fixed point so a skip cascades through a chain of
	// dependents in a single plan() call.
	for changed := true; changed; {
		changed = false
		for i := range tasks {
			t := &tasks[i]
			if t.Status != models.TaskStatusPending || t.AllowDependencyFailure {
				continue
			}
			for _, dep := range t.Dependencies {
				depStatus, ok := statusMap[dep]
				if !ok {
					continue
				}
				if depStatus != models.TaskStatusFailed && depStatus != models.TaskStatusSkipped {
					continue
				}
				t.Status = models.TaskStatusSkipped
				statusMap[t.TaskID] = models.TaskStatusSkipped
				if err := e.Store.SetTaskStatus(t.TaskID, models.TaskStatusSkipped); err != nil {
					return nil, false, false, nil, err
				}
				changed = true
				break
			}
		}
	}

	for _, t := range tasks {
		switch {
		case t.Status.Terminal():
			if t.Status == models.TaskStatusFailed && !t.AllowFailure {
				hasFailed = true
			}
		case t.Status.Active():
			hasActive = true
		default:
			depsMet := true
			for _, dep := range t.Dependencies {
				depStatus, ok := statusMap[dep]
				if !ok {
					depsMet = false
					break
				}
				if depStatus == models.TaskStatusCompleted {
					continue
				}
				if depStatus == models.TaskStatusFailed && t.AllowDependencyFailure {
					continue
				}
				depsMet = false
				break
			}
			if depsMet {
				ready = append(ready, t)
			} else {
				hasActive = true
			}
		}
	}

	sort.Slice(ready, func(i, j int) bool { return ready[i].TaskID < ready[j].TaskID })
	return ready, hasActive, hasFailed, statusMap, nil
}

// execute dispatches ready tasks to their operators until global or
// per-operator concurrency slots are exhausted.
func (e *Engine) execute(ctx context.Context, runID string, ready []models.Task) error {
	if len(ready) == 0 {
		return nil
	}

	activeByOperator, err := e.Store.CountActiveAttemptsByOperator(runID)
	if err != nil {
		return err
	}
	totalActive := 0
	for _, n := range activeByOperator {
		totalActive += n
	}
	globalLimit := e.Limits.globalOrDefault()

	for _, task := range ready {
		opKey := resolveOperatorKey(task)
		limit := e.Limits.forOperator(opKey)
		active := activeByOperator[opKey]

		if totalActive >= globalLimit || active >= limit {
			continue
		}

		if err := e.dispatch(ctx, runID, task, opKey); err != nil {
			if derr := e.Store.SetTaskStatus(task.TaskID, models.TaskStatusFailed); derr != nil {
				return derr
			}
			if err := e.Store.RecordEvent(runID, task.TaskID, "", "attempt.failed_init", err.Error()); err != nil {
				return err
			}
			continue
		}

		activeByOperator[opKey] = active + 1
		totalActive++
	}
	return nil
}

// resolveOperatorKey applies the dispatch precedence: the Task's
// operator_key field wins, then env["MATTERSTACK_OPERATOR"], then the
// fixed key local.default (no per-workspace default is consulted), and
// resolved keys are canonicalized before use.
func resolveOperatorKey(task models.Task) string {
	if task.OperatorKey != "" {
		return canonicalizeKey(task.OperatorKey)
	}
	if v := task.Env["MATTERSTACK_OPERATOR"]; v != "" {
		return canonicalizeKey(v)
	}
	return "local.default"
}

func canonicalizeKey(key string) string {
	switch key {
	case "Human":
		return "human.default"
	case "Experiment":
		return "experiment.default"
	case "Local":
		return "local.default"
	case "HPC":
		return "hpc.default"
	default:
		return key
	}
}

func (e *Engine) dispatch(ctx context.Context, runID string, task models.Task, opKey string) error {
	op, err := e.Registry.Resolve(opKey)
	if err != nil {
		return fmt.Errorf("unknown operator key %q: %w", opKey, err)
	}

	idx, err := e.Store.NextAttemptIndex(task.TaskID)
	if err != nil {
		return err
	}

	attempt := models.Attempt{
		AttemptID:    ids.AttemptID(),
		TaskID:       task.TaskID,
		RunID:        runID,
		AttemptIndex: idx,
		OperatorKey:  opKey,
		Status:       models.AttemptStatusCreated,
	}
	if err := e.Store.CreateAttempt(attempt); err != nil {
		return err
	}

	handle, err := op.PrepareRun(ctx, task, attempt)
	if err != nil {
		if uerr := e.Store.UpdateAttemptStatus(attempt.AttemptID, models.AttemptStatusFailedInit, "", nil, err.Error()); uerr != nil {
			return uerr
		}
		return fmt.Errorf("prepare: %w", err)
	}

	jobHandle, err := op.Submit(ctx, task, attempt, handle)
	if err != nil {
		if uerr := e.Store.UpdateAttemptStatus(attempt.AttemptID, models.AttemptStatusFailedInit, handle, nil, err.Error()); uerr != nil {
			return uerr
		}
		return fmt.Errorf("submit: %w", err)
	}

	if err := e.Store.UpdateAttemptStatus(attempt.AttemptID, models.AttemptStatusSubmitted, jobHandle, nil, ""); err != nil {
		return err
	}
	if err := e.Store.SetTaskCurrentAttempt(task.TaskID, attempt.AttemptID); err != nil {
		return err
	}
	if err := e.Store.SetTaskStatus(task.TaskID, models.TaskStatusSubmitted); err != nil {
		return err
	}
	return e.Store.RecordEvent(runID, task.TaskID, attempt.AttemptID, "attempt.submitted", opKey)
}

// analyze runs once a workflow's tasks are all terminal with no
// unresolved failures: it builds each task's result, hands the campaign
// its persisted state plus those results, persists whatever state comes
// back, and asks for the next workflow, completing the run if there is
// none.
func (e *Engine) analyze(runID string, tasks []models.Task) (models.RunStatus, error) {
	results, err := e.buildResults(tasks)
	if err != nil {
		return "", fmt.Errorf("engine: build task results for run %s: %w", runID, err)
	}

	state, err := campaign.LoadState(e.RunRoot)
	if err != nil {
		return "", fmt.Errorf("engine: load campaign state for run %s: %w", runID, err)
	}

	newState, err := e.Campaign.Analyze(state, results)
	if err != nil {
		if err := e.Store.SetRunStatus(runID, models.RunStatusFailed, "campaign analyze failed: "+err.Error()); err != nil {
			return "", err
		}
		return models.RunStatusFailed, nil
	}
	if err := campaign.SaveState(e.RunRoot, newState); err != nil {
		return "", fmt.Errorf("engine: persist campaign state for run %s: %w", runID, err)
	}

	wf, err := e.Campaign.Plan(newState)
	if err != nil {
		if err := e.Store.SetRunStatus(runID, models.RunStatusFailed, "campaign plan failed: "+err.Error()); err != nil {
			return "", err
		}
		return models.RunStatusFailed, nil
	}

	if wf == nil {
		if err := e.Store.SetRunStatus(runID, models.RunStatusCompleted, ""); err != nil {
			return "", err
		}
		return models.RunStatusCompleted, nil
	}

	wf.RunID = runID
	if err := e.Store.AddWorkflow(*wf); err != nil {
		return "", err
	}
	return models.RunStatusRunning, nil
}

// buildResults assembles one campaign.TaskResult per task from the
// task's current attempt: status, attempt metadata, and where that
// attempt's evidence lives.
func (e *Engine) buildResults(tasks []models.Task) (campaign.Results, error) {
	results := make(campaign.Results, len(tasks))
	for _, t := range tasks {
		res := campaign.TaskResult{Status: t.Status}
		if t.CurrentAttemptID != "" {
			attempt, err := e.Store.GetAttempt(t.CurrentAttemptID)
			if err != nil {
				return nil, err
			}
			res.AttemptIndex = attempt.AttemptIndex
			res.OperatorKey = attempt.OperatorKey
			res.ExitCode = attempt.ExitCode
			res.ErrorMessage = attempt.ErrorMessage
			res.ArtifactPaths = []string{filepath.Join("tasks", t.TaskID, "attempts", attempt.AttemptID)}
		}
		results[t.TaskID] = res
	}
	return results, nil
}
