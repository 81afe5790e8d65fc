// Package backend defines the compute substrate a ComputeOperator submits
// work to, and provides the local and HPC (SSH + Slurm) implementations.
package backend

import (
	"context"
	"errors"

	"github.com/matterstack/matterstack/internal/models"
)

// ErrJobLost means a backend was asked about a handle it has no way to
// recover an outcome for (no in-memory record, no on-disk sentinel, and
// the underlying process or job is no longer alive). Callers should treat
// this as deterministic: the attempt is never going to resolve itself on
// a later poll, unlike a transient network or scheduler error.
var ErrJobLost = errors.New("backend: job handle cannot be recovered")

// JobStatus is a backend-neutral view of a submitted job's state, which
// the compute operator translates into models.AttemptStatus.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// Backend is the substrate a compute.Operator submits a task's command to.
// local.Backend runs it as a child process; hpc.Backend submits it as a
// Slurm batch job over SSH.
type Backend interface {
	// Stage prepares a working directory for the attempt and returns its
	// path. Implementations must route all paths through fssafety.
	Stage(ctx context.Context, runRoot string, task models.Task, attempt models.Attempt) (workDir string, err error)

	// Submit launches the task's command in the staged working directory
	// and returns a backend-defined job handle (pid, Slurm job id).
	Submit(ctx context.Context, task models.Task, workDir string) (handle string, err error)

	// Poll reports the current status of a previously submitted job.
	Poll(ctx context.Context, handle string) (JobStatus, error)

	// ExitCode returns the completed job's exit code, once Poll reports a
	// terminal status.
	ExitCode(ctx context.Context, handle string) (int, error)

	// Cancel requests termination of a running job.
	Cancel(ctx context.Context, handle string) error

	// Collect retrieves files matching patterns from the attempt's working
	// directory (wherever it actually lives: local disk or a remote host)
	// into the attempt's evidence directory under runRoot, and returns the
	// local paths it wrote. If patterns is non-empty and nothing matches,
	// it returns an *errs.MissingOutputsError so the caller can fail the
	// attempt instead of reporting success with nothing collected.
	Collect(ctx context.Context, runRoot string, task models.Task, attempt models.Attempt, patterns []string) ([]string, error)
}
