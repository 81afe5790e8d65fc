// Package compute implements operator.Operator over any backend.Backend,
// serving both the local and HPC operator keys — they differ only in
// which backend.Backend they were constructed with.
package compute

import (
	"context"
	"fmt"

	"github.com/matterstack/matterstack/internal/backend"
	"github.com/matterstack/matterstack/internal/models"
	"github.com/matterstack/matterstack/internal/operator"
)

// Operator dispatches tasks to a backend.Backend and translates its
// backend-neutral job status into models.AttemptStatus.
type Operator struct {
	backend backend.Backend
	runRoot string
	name    string
}

// New returns a compute operator named name (used only for error messages
// and diagnostics) that stages work under runRoot and submits to b.
func New(b backend.Backend, runRoot, name string) *Operator {
	return &Operator{backend: b, runRoot: runRoot, name: name}
}

// PrepareRun stages the attempt's working directory on the backend.
func (o *Operator) PrepareRun(ctx context.Context, task models.Task, attempt models.Attempt) (string, error) {
	workDir, err := o.backend.Stage(ctx, o.runRoot, task, attempt)
	if err != nil {
		return "", fmt.Errorf("compute[%s]: prepare %s: %w", o.name, task.TaskID, err)
	}
	return workDir, nil
}

// Submit launches the task's command in the staged directory. The handle
// passed in is the working directory PrepareRun staged; Submit returns a
// new handle (pid, Slurm job id) that CheckStatus/CollectResults key off.
func (o *Operator) Submit(ctx context.Context, task models.Task, attempt models.Attempt, workDir string) (string, error) {
	jobHandle, err := o.backend.Submit(ctx, task, workDir)
	if err != nil {
		return "", fmt.Errorf("compute[%s]: submit %s: %w", o.name, task.TaskID, err)
	}
	return jobHandle, nil
}

// CheckStatus polls the backend and maps its job status to an attempt
// status.
func (o *Operator) CheckStatus(ctx context.Context, attempt models.Attempt) (models.AttemptStatus, error) {
	status, err := o.backend.Poll(ctx, attempt.Handle)
	if err != nil {
		return "", fmt.Errorf("compute[%s]: poll %s: %w", o.name, attempt.AttemptID, err)
	}
	switch status {
	case backend.JobStatusQueued:
		return models.AttemptStatusSubmitted, nil
	case backend.JobStatusRunning:
		return models.AttemptStatusRunning, nil
	case backend.JobStatusCompleted:
		return models.AttemptStatusCompleted, nil
	case backend.JobStatusCancelled:
		return models.AttemptStatusCancelled, nil
	default:
		return models.AttemptStatusFailed, nil
	}
}

// CollectResults reads the backend's recorded exit code for a terminal
// attempt, then pulls any files matching task.DownloadPatterns into the
// attempt's evidence directory. A job that exits zero but never produces
// its declared outputs is still a failure: the missing-output error from
// Collect takes over the returned error regardless of exit code.
func (o *Operator) CollectResults(ctx context.Context, task models.Task, attempt models.Attempt) (operator.Result, error) {
	code, err := o.backend.ExitCode(ctx, attempt.Handle)
	if err != nil {
		return operator.Result{}, fmt.Errorf("compute[%s]: collect %s: %w", o.name, attempt.AttemptID, err)
	}
	res := operator.Result{ExitCode: code}
	if code != 0 {
		res.ErrorMessage = fmt.Sprintf("task exited with code %d", code)
	}

	files, err := o.backend.Collect(ctx, o.runRoot, task, attempt, task.DownloadPatterns)
	if err != nil {
		return operator.Result{}, fmt.Errorf("compute[%s]: collect %s: %w", o.name, attempt.AttemptID, err)
	}
	res.OutputFiles = files
	return res, nil
}
