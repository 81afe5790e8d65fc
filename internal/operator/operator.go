// Package operator defines the lifecycle contract every execution backend
// implements, and the registry that resolves a task's operator key to a
// concrete Operator instance.
package operator

import (
	"context"

	"github.com/matterstack/matterstack/internal/models"
)

// Result is what an operator hands back from CollectResults once an
// attempt reaches a terminal state.
type Result struct {
	ExitCode     int
	ErrorMessage string
	OutputFiles  []string
}

// Operator is the contract every execution backend (local process, HPC
// batch job, human-in-the-loop exchange, scripted experiment) implements.
// An attempt's lifecycle always runs through these four calls in order,
// though PrepareRun and Submit may be merged into one dispatch by callers
// that don't need to stage anything between them.
type Operator interface {
	// PrepareRun stages whatever the task needs before submission: a
	// working directory, input files, a job script. It returns the
	// operator-defined handle that Submit and later calls key off of.
	PrepareRun(ctx context.Context, task models.Task, attempt models.Attempt) (handle string, err error)

	// Submit dispatches the prepared attempt for execution and returns the
	// handle CheckStatus and CollectResults should poll (this supersedes
	// the handle PrepareRun returned, which was only a staging location).
	Submit(ctx context.Context, task models.Task, attempt models.Attempt, handle string) (string, error)

	// CheckStatus polls the backend for the attempt's current status.
	CheckStatus(ctx context.Context, attempt models.Attempt) (models.AttemptStatus, error)

	// CollectResults is called once CheckStatus reports a terminal status,
	// and gathers the attempt's outcome for the store to record. task is
	// passed alongside attempt so implementations can consult its
	// DownloadPatterns when deciding what to retrieve.
	CollectResults(ctx context.Context, task models.Task, attempt models.Attempt) (Result, error)
}
