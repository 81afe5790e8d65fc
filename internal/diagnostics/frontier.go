// Package diagnostics computes the frontier of a run: every non-terminal
// task, classified by why it isn't done yet, with a human-actionable hint.
package diagnostics

import (
	"fmt"
	"strings"

	"github.com/matterstack/matterstack/internal/models"
)

// Classification names why a task has not reached a terminal status.
type Classification string

const (
	WaitingDependency Classification = "WAITING_DEPENDENCY"
	WaitingExternal   Classification = "WAITING_EXTERNAL"
	Running           Classification = "RUNNING"
	Ready             Classification = "READY"
)

// FrontierItem is one non-terminal task's diagnostic entry.
type FrontierItem struct {
	TaskID         string
	Classification Classification
	BlockingDeps   []string
	OperatorKey    string
	EvidencePath   string
	Hint           string
}

// Frontier returns the diagnostic entry for every non-terminal task in a
// run, given the run's tasks and their current attempts (keyed by
// task_id, may be absent for tasks with no attempt yet).
func Frontier(tasks []models.Task, currentAttempts map[string]models.Attempt) []FrontierItem {
	statusByID := make(map[string]models.TaskStatus, len(tasks))
	for _, t := range tasks {
		statusByID[t.TaskID] = t.Status
	}

	var items []FrontierItem
	for _, t := range tasks {
		if t.Status.Terminal() {
			continue
		}
		items = append(items, classify(t, statusByID, currentAttempts))
	}
	return items
}

func classify(t models.Task, statusByID map[string]models.TaskStatus, attempts map[string]models.Attempt) FrontierItem {
	if t.Status.Active() {
		attempt, hasAttempt := attempts[t.TaskID]
		if hasAttempt && attempt.Status == models.AttemptStatusWaitingExternal {
			return FrontierItem{
				TaskID:         t.TaskID,
				Classification: WaitingExternal,
				OperatorKey:    attempt.OperatorKey,
				EvidencePath:   attempt.Handle,
				Hint:           externalHint(attempt),
			}
		}
		return FrontierItem{TaskID: t.TaskID, Classification: Running, OperatorKey: t.OperatorKey}
	}

	var blocking []string
	for _, dep := range t.Dependencies {
		if statusByID[dep] != models.TaskStatusCompleted {
			blocking = append(blocking, dep)
		}
	}
	if len(blocking) > 0 {
		return FrontierItem{
			TaskID:         t.TaskID,
			Classification: WaitingDependency,
			BlockingDeps:   blocking,
			Hint:           fmt.Sprintf("waiting on: %s", strings.Join(blocking, ", ")),
		}
	}

	return FrontierItem{TaskID: t.TaskID, Classification: Ready, OperatorKey: t.OperatorKey}
}

func externalHint(attempt models.Attempt) string {
	switch attempt.OperatorKey {
	case "human.default", "Human":
		return fmt.Sprintf("create response.json at %s", attempt.Handle)
	case "experiment.default", "Experiment":
		return fmt.Sprintf("create experiment_result.json at %s", attempt.Handle)
	default:
		return fmt.Sprintf("waiting on external operator %s at %s", attempt.OperatorKey, attempt.Handle)
	}
}
