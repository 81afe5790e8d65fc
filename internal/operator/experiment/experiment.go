// Package experiment implements the operator for physical-experiment
// tasks: it writes an experiment_request.json describing the run for lab
// control software to consume, then waits for an experiment_result.json
// to appear before reporting the attempt terminal.
package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/matterstack/matterstack/internal/backend/fssafety"
	"github.com/matterstack/matterstack/internal/models"
	"github.com/matterstack/matterstack/internal/operator"
)

const (
	manifestFile = "manifest.json"
	requestFile  = "experiment_request.json"
	resultFile   = "experiment_result.json"
)

var systemFiles = map[string]bool{
	manifestFile: true,
	requestFile:  true,
	resultFile:   true,
}

type request struct {
	TaskID     string            `json:"task_id"`
	Parameters map[string]string `json:"parameters"`
	Files      []string          `json:"files"`
}

type result struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data"`
	Error  string         `json:"error,omitempty"`
}

// Operator implements the physical-experiment operator lifecycle.
type Operator struct {
	runRoot string
}

// New returns an experiment operator that stages exchange directories
// under runRoot.
func New(runRoot string) *Operator {
	return &Operator{runRoot: runRoot}
}

// PrepareRun writes the task manifest and an experiment_request.json,
// which lists the task's file paths, into the attempt's directory. The
// files themselves are not copied.
func (o *Operator) PrepareRun(ctx context.Context, task models.Task, attempt models.Attempt) (string, error) {
	dir, err := fssafety.OperatorRunDir(o.runRoot, task.TaskID, attempt.AttemptID)
	if err != nil {
		return "", fmt.Errorf("experiment: prepare %s: %w", task.TaskID, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("experiment: create %s: %w", dir, err)
	}

	manifest, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return "", fmt.Errorf("experiment: marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), manifest, 0o644); err != nil {
		return "", fmt.Errorf("experiment: write manifest: %w", err)
	}

	req := request{TaskID: task.TaskID, Parameters: task.Env, Files: task.Files}
	reqBytes, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "", fmt.Errorf("experiment: marshal request: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, requestFile), reqBytes, 0o644); err != nil {
		return "", fmt.Errorf("experiment: write request: %w", err)
	}

	return dir, nil
}

// Submit marks the attempt as waiting on external (lab) execution; there
// is nothing further to dispatch.
func (o *Operator) Submit(ctx context.Context, task models.Task, attempt models.Attempt, dir string) (string, error) {
	return dir, nil
}

// CheckStatus reports WAITING_EXTERNAL until experiment_result.json
// appears.
func (o *Operator) CheckStatus(ctx context.Context, attempt models.Attempt) (models.AttemptStatus, error) {
	res, ok, err := readResult(attempt.Handle)
	if err != nil {
		return models.AttemptStatusFailed, nil
	}
	if !ok {
		return models.AttemptStatusWaitingExternal, nil
	}
	switch res.Status {
	case "COMPLETED":
		return models.AttemptStatusCompleted, nil
	case "FAILED":
		return models.AttemptStatusFailed, nil
	default:
		return models.AttemptStatusWaitingExternal, nil
	}
}

// CollectResults gathers experiment_result.json's data payload along
// with any other files the lab software left in the exchange directory.
func (o *Operator) CollectResults(ctx context.Context, task models.Task, attempt models.Attempt) (operator.Result, error) {
	res, ok, err := readResult(attempt.Handle)
	if err != nil {
		return operator.Result{}, fmt.Errorf("experiment: collect %s: %w", attempt.AttemptID, err)
	}

	out := operator.Result{}
	if !ok || res.Status != "COMPLETED" {
		out.ExitCode = 1
		if ok {
			out.ErrorMessage = res.Error
		} else {
			out.ErrorMessage = "no experiment_result.json found"
		}
	}

	entries, err := os.ReadDir(attempt.Handle)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() && !systemFiles[e.Name()] {
				out.OutputFiles = append(out.OutputFiles, filepath.Join(attempt.Handle, e.Name()))
			}
		}
	}
	return out, nil
}

func readResult(dir string) (result, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, resultFile))
	if os.IsNotExist(err) {
		return result{}, false, nil
	}
	if err != nil {
		return result{}, false, err
	}
	var res result
	if err := json.Unmarshal(data, &res); err != nil {
		return result{}, true, fmt.Errorf("invalid experiment_result.json: %w", err)
	}
	return res, true, nil
}
