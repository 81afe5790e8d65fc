// Package human implements the human-in-the-loop operator: it writes
// instructions into the attempt's directory and waits for a person to
// drop a response.json file there, polling for it on every tick.
package human

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
	manifestFile     = "manifest.json"
	instructionsFile = "instructions.md"
	schemaFile       = "schema.json"
	responseFile     = "response.json"
)

// systemFiles are excluded when collecting a completed attempt's output
// files, since they describe the exchange protocol rather than the task's
// actual output.
var systemFiles = map[string]bool{
	manifestFile:     true,
	instructionsFile: true,
	schemaFile:       true,
	responseFile:     true,
}

// response is the shape a human collaborator drops into response.json to
// report completion.
type response struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data"`
	Error  string         `json:"error,omitempty"`
}

// Operator implements the human-in-the-loop operator lifecycle.
type Operator struct {
	runRoot string
}

// New returns a human operator that stages exchange directories under
// runRoot.
func New(runRoot string) *Operator {
	return &Operator{runRoot: runRoot}
}

// PrepareRun writes the task manifest, instructions, and a response
// schema into the attempt's directory, and returns that directory as the
// attempt's handle.
func (o *Operator) PrepareRun(ctx context.Context, task models.Task, attempt models.Attempt) (string, error) {
	dir, err := fssafety.OperatorRunDir(o.runRoot, task.TaskID, attempt.AttemptID)
	if err != nil {
		return "", fmt.Errorf("human: prepare %s: %w", task.TaskID, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("human: create %s: %w", dir, err)
	}

	manifest, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return "", fmt.Errorf("human: marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), manifest, 0o644); err != nil {
		return "", fmt.Errorf("human: write manifest: %w", err)
	}

	instructions := task.Env["INSTRUCTIONS"]
	if instructions == "" {
		instructions = "Please complete the task as described."
	}
	body := fmt.Sprintf(
		"# Human Task: %s\n\n%s\n\n## Completion\nCreate a file named `response.json` in this directory.\n"+
			"Format:\n```json\n{\n  \"status\": \"COMPLETED\",\n  \"data\": { ... }\n}\n```\n",
		task.TaskID, instructions,
	)
	if err := os.WriteFile(filepath.Join(dir, instructionsFile), []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("human: write instructions: %w", err)
	}

	schema := `{"type":"object","properties":{"status":{"type":"string","enum":["COMPLETED","FAILED"]},"data":{"type":"object"}},"required":["status"]}`
	if err := os.WriteFile(filepath.Join(dir, schemaFile), []byte(schema), 0o644); err != nil {
		return "", fmt.Errorf("human: write schema: %w", err)
	}

	return dir, nil
}

// Submit marks the attempt as waiting on external (human) input; there is
// nothing further to dispatch.
func (o *Operator) Submit(ctx context.Context, task models.Task, attempt models.Attempt, dir string) (string, error) {
	return dir, nil
}

// CheckStatus reports WAITING_EXTERNAL until response.json appears, then
// translates its status field into a terminal attempt status.
func (o *Operator) CheckStatus(ctx context.Context, attempt models.Attempt) (models.AttemptStatus, error) {
	resp, ok, err := readResponse(attempt.Handle)
	if err != nil {
		return models.AttemptStatusFailed, nil
	}
	if !ok {
		return models.AttemptStatusWaitingExternal, nil
	}
	switch resp.Status {
	case "COMPLETED":
		return models.AttemptStatusCompleted, nil
	case "FAILED":
		return models.AttemptStatusFailed, nil
	default:
		return models.AttemptStatusWaitingExternal, nil
	}
}

// CollectResults gathers response.json's data payload along with any
// other files the collaborator left in the exchange directory.
func (o *Operator) CollectResults(ctx context.Context, task models.Task, attempt models.Attempt) (operator.Result, error) {
	resp, ok, err := readResponse(attempt.Handle)
	if err != nil {
		return operator.Result{}, fmt.Errorf("human: collect %s: %w", attempt.AttemptID, err)
	}

	result := operator.Result{}
	if !ok || resp.Status != "COMPLETED" {
		result.ExitCode = 1
		if ok {
			result.ErrorMessage = resp.Error
		} else {
			result.ErrorMessage = "no response.json found"
		}
	}

	entries, err := os.ReadDir(attempt.Handle)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() && !systemFiles[e.Name()] {
				result.OutputFiles = append(result.OutputFiles, filepath.Join(attempt.Handle, e.Name()))
			}
		}
	}
	return result, nil
}

func readResponse(dir string) (response, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, responseFile))
	if os.IsNotExist(err) {
		return response{}, false, nil
	}
	if err != nil {
		return response{}, false, err
	}
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return response{}, true, fmt.Errorf("invalid response.json: %w", err)
	}
	return resp, true, nil
}
