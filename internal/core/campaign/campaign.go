// Package campaign defines the interface the engine's ANALYZE and PLAN
// phases call into, and a Linear reference implementation that runs a
// fixed task list to completion without iterating.
package campaign

import "github.com/matterstack/matterstack/internal/models"

// TaskResult is one task's outcome as the engine hands it to a
// campaign's Analyze call: its terminal status, the attempt that
// produced it, and where that attempt's evidence lives on disk. A
// campaign that drives an optimizer or active-learning loop reads these
// to decide what to plan next.
type TaskResult struct {
	Status        models.TaskStatus
	AttemptIndex  int
	OperatorKey   string
	ExitCode      *int
	ErrorMessage  string
	ArtifactPaths []string
}

// Results maps task id to that task's TaskResult, covering every task in
// the generation that just finished.
type Results map[string]TaskResult

// Campaign generates successive workflow generations for a run, carrying
// its own state as an opaque blob the engine persists between calls
// rather than holds in memory: every invocation is a fresh CLI process,
// so nothing a campaign needs to remember can live only on the Go struct.
type Campaign interface {
	// Analyze is called once a generation's tasks are all terminal, with
	// the campaign's current state and the finished tasks' results, and
	// returns the state the next Plan call should see. A campaign with no
	// internal bookkeeping can return state unchanged.
	Analyze(state []byte, results Results) ([]byte, error)

	// Plan returns the next generation of tasks to run given the
	// campaign's current state, or nil if the campaign has no further
	// work and the run should complete.
	Plan(state []byte) (*models.Workflow, error)
}

// Linear is the simplest Campaign: it runs one fixed, pre-built workflow
// and never plans a second generation. Its state blob is unused — the
// served/unserved distinction is carried on the struct itself, since the
// engine already tracks it as "has this run persisted any workflow yet"
// and there would be nothing else to persist. Suitable for DAG-shaped
// runs with no iterative replanning, which is the common case for a
// one-shot batch of dependent tasks.
type Linear struct {
	workflow *models.Workflow
	served   bool
}

// NewLinear returns a Linear campaign that serves wf exactly once.
func NewLinear(wf models.Workflow) *Linear {
	return &Linear{workflow: &wf}
}

// ResumeLinear reconstructs a Linear campaign's served/unserved state for
// a process that did not call InitializeRun itself — a CLI invocation
// operating on a run some other process already initialized. A run with
// any persisted workflow has already been served its one generation.
func ResumeLinear(alreadyServed bool) *Linear {
	return &Linear{served: alreadyServed}
}

// Analyze is a no-op for Linear; there is no state to update between the
// one workflow it serves and the run ending.
func (l *Linear) Analyze(state []byte, results Results) ([]byte, error) {
	return state, nil
}

// Plan returns the held workflow on the first call and nil afterward.
func (l *Linear) Plan(state []byte) (*models.Workflow, error) {
	if l.served {
		return nil, nil
	}
	l.served = true
	return l.workflow, nil
}
