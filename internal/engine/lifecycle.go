package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/matterstack/matterstack/internal/models"
)

// RunUntilCompletion calls StepRun repeatedly, sleeping tickInterval
// between ticks, until the run reaches a terminal status or ctx is
// cancelled. PAUSED runs keep ticking (POLL still runs); CANCELLED runs
// return immediately.
func (e *Engine) RunUntilCompletion(ctx context.Context, runID string, tickInterval time.Duration) (models.RunStatus, error) {
	for {
		status, err := e.StepRun(ctx, runID)
		if err != nil {
			return "", err
		}
		if status.Terminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-time.After(tickInterval):
		}
	}
}

// Pause transitions a run to PAUSED. EXECUTE is skipped on every
// subsequent tick until Resume is called; POLL still runs.
func (e *Engine) Pause(runID string) error {
	return e.transition(runID, models.RunStatusPaused, "paused by operator", "run.paused")
}

// Resume transitions a PAUSED run back to RUNNING.
func (e *Engine) Resume(runID string) error {
	return e.transition(runID, models.RunStatusRunning, "resumed by operator", "run.resumed")
}

// Cancel transitions a run to CANCELLED with the given reason. Future
// EXECUTE is suppressed; POLL still runs so in-flight attempts are
// eventually observed terminal.
func (e *Engine) Cancel(runID, reason string) error {
	return e.transition(runID, models.RunStatusCancelled, reason, "run.cancelled")
}

// Revive resets a terminal run's status back to RUNNING, for operator
// recovery after a run ended in FAILED or CANCELLED by mistake or after a
// fix has been applied out of band.
func (e *Engine) Revive(runID string) error {
	return e.transition(runID, models.RunStatusRunning, "revived by operator", "run.revived")
}

func (e *Engine) transition(runID string, status models.RunStatus, reason, eventKind string) error {
	return e.Store.WithLock(func() error {
		if err := e.Store.SetRunStatus(runID, status, reason); err != nil {
			return err
		}
		return e.Store.RecordEvent(runID, "", "", eventKind, reason)
	})
}

// Rerun resets a task (and, if recursive, every task depending on it,
// transitively) to PENDING so the next tick creates a new attempt. The
// task's prior attempts are left untouched; rerun never deletes history.
func (e *Engine) Rerun(runID, taskID string, recursive bool) error {
	return e.Store.WithLock(func() error {
		tasks, err := e.Store.GetTasks(runID)
		if err != nil {
			return err
		}

		targets := map[string]bool{taskID: true}
		if recursive {
			collectDependents(tasks, taskID, targets)
		}

		found := false
		for _, t := range tasks {
			if !targets[t.TaskID] {
				continue
			}
			found = true
			if err := e.Store.SetTaskStatus(t.TaskID, models.TaskStatusPending); err != nil {
				return err
			}
		}
		if !found {
			return fmt.Errorf("engine: rerun: task %s not found in run %s", taskID, runID)
		}

		return e.Store.RecordEvent(runID, taskID, "", "task.rerun", fmt.Sprintf("recursive=%v", recursive))
	})
}

func collectDependents(tasks []models.Task, taskID string, targets map[string]bool) {
	changed := true
	for changed {
		changed = false
		for _, t := range tasks {
			if targets[t.TaskID] {
				continue
			}
			for _, dep := range t.Dependencies {
				if targets[dep] {
					targets[t.TaskID] = true
					changed = true
					break
				}
			}
		}
	}
}

// CancelAttempt records a non-terminal attempt, and its task, as
// CANCELLED. The operator is not asked to stop the underlying job; the
// engine simply stops polling the attempt once it is terminal.
func (e *Engine) CancelAttempt(ctx context.Context, runID, attemptID string) error {
	return e.Store.WithLock(func() error {
		attempt, err := e.Store.GetAttempt(attemptID)
		if err != nil {
			return err
		}
		if attempt.Status.Terminal() {
			return fmt.Errorf("engine: attempt %s is already terminal (%s)", attemptID, attempt.Status)
		}

		if err := e.Store.UpdateAttemptStatus(attemptID, models.AttemptStatusCancelled, attempt.Handle, nil, "cancelled by operator"); err != nil {
			return err
		}
		if err := e.Store.SetTaskStatus(attempt.TaskID, models.TaskStatusCancelled); err != nil {
			return err
		}
		return e.Store.RecordEvent(runID, attempt.TaskID, attemptID, "attempt.cancelled", "cancelled by operator")
	})
}
