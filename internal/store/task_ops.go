package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/matterstack/matterstack/internal/errs"
	"github.com/matterstack/matterstack/internal/models"
)

// AddTask inserts a task belonging to a workflow.
func (s *Store) AddTask(t models.Task) error {
	files, env, deps, patterns, err := marshalTaskFields(t)
	if err != nil {
		return err
	}

	_, err = s.conn.Exec(`
		INSERT INTO tasks (
			task_id, run_id, workflow_id, operator_key, status, image, command, files, env,
			dependencies, cores, memory_gb, gpus, time_limit_minutes,
			allow_dependency_failure, allow_failure, download_patterns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.RunID, t.WorkflowID, t.OperatorKey, string(t.Status), t.Image, t.Command,
		files, env, deps, t.Cores, t.MemoryGB, t.GPUs,
		t.TimeLimitMinutes, t.AllowDependencyFailure, t.AllowFailure, patterns,
	)
	if err != nil {
		return fmt.Errorf("store: add task %s: %w", t.TaskID, err)
	}
	return nil
}

func marshalTaskFields(t models.Task) (files, env, deps, patterns string, err error) {
	filesB, err := json.Marshal(t.Files)
	if err != nil {
		return "", "", "", "", fmt.Errorf("store: marshal task files: %w", err)
	}
	envB, err := json.Marshal(t.Env)
	if err != nil {
		return "", "", "", "", fmt.Errorf("store: marshal task env: %w", err)
	}
	depsB, err := json.Marshal(t.Dependencies)
	if err != nil {
		return "", "", "", "", fmt.Errorf("store: marshal task dependencies: %w", err)
	}
	patternsB, err := json.Marshal(t.DownloadPatterns)
	if err != nil {
		return "", "", "", "", fmt.Errorf("store: marshal task download patterns: %w", err)
	}
	return string(filesB), string(envB), string(depsB), string(patternsB), nil
}

// GetTasks returns every task belonging to a run, in creation order.
func (s *Store) GetTasks(runID string) ([]models.Task, error) {
	rows, err := s.conn.Query(`
		SELECT task_id, run_id, workflow_id, operator_key, status, image, command, files, env,
			dependencies, cores, memory_gb, gpus, time_limit_minutes,
			allow_dependency_failure, allow_failure, download_patterns,
			current_attempt_id, created_at, updated_at
		FROM tasks WHERE run_id = ? ORDER BY created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: get tasks for run %s: %w", runID, err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetTask fetches a single task by id.
func (s *Store) GetTask(taskID string) (models.Task, error) {
	row := s.conn.QueryRow(`
		SELECT task_id, run_id, workflow_id, operator_key, status, image, command, files, env,
			dependencies, cores, memory_gb, gpus, time_limit_minutes,
			allow_dependency_failure, allow_failure, download_patterns,
			current_attempt_id, created_at, updated_at
		FROM tasks WHERE task_id = ?`, taskID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return models.Task{}, &errs.NotFoundError{Kind: "task", ID: taskID}
	}
	return t, err
}

// GetTaskStatus is a narrow accessor used heavily during planning.
func (s *Store) GetTaskStatus(taskID string) (models.TaskStatus, error) {
	var status string
	err := s.conn.QueryRow(`SELECT status FROM tasks WHERE task_id = ?`, taskID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", &errs.NotFoundError{Kind: "task", ID: taskID}
	}
	if err != nil {
		return "", fmt.Errorf("store: get task status %s: %w", taskID, err)
	}
	return models.TaskStatus(status), nil
}

// SetTaskStatus updates a task's status and bumps updated_at.
func (s *Store) SetTaskStatus(taskID string, status models.TaskStatus) error {
	_, err := s.conn.Exec(
		`UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE task_id = ?`,
		string(status), taskID,
	)
	if err != nil {
		return fmt.Errorf("store: set task status %s: %w", taskID, err)
	}
	return nil
}

// SetTaskCurrentAttempt records which attempt a task's status currently
// tracks.
func (s *Store) SetTaskCurrentAttempt(taskID, attemptID string) error {
	_, err := s.conn.Exec(
		`UPDATE tasks SET current_attempt_id = ?, updated_at = CURRENT_TIMESTAMP WHERE task_id = ?`,
		attemptID, taskID,
	)
	if err != nil {
		return fmt.Errorf("store: set task %s current attempt: %w", taskID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (models.Task, error) {
	var t models.Task
	var status string
	var image, command sql.NullString
	var files, env, deps, patterns string
	var currentAttempt sql.NullString

	err := row.Scan(
		&t.TaskID, &t.RunID, &t.WorkflowID, &t.OperatorKey, &status, &image, &command, &files, &env,
		&deps, &t.Cores, &t.MemoryGB, &t.GPUs, &t.TimeLimitMinutes,
		&t.AllowDependencyFailure, &t.AllowFailure, &patterns,
		&currentAttempt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return models.Task{}, err
	}

	t.Status = models.TaskStatus(status)
	t.Image = image.String
	t.Command = command.String
	t.CurrentAttemptID = currentAttempt.String

	if err := json.Unmarshal([]byte(files), &t.Files); err != nil {
		return models.Task{}, fmt.Errorf("store: unmarshal task files: %w", err)
	}
	if err := json.Unmarshal([]byte(env), &t.Env); err != nil {
		return models.Task{}, fmt.Errorf("store: unmarshal task env: %w", err)
	}
	if err := json.Unmarshal([]byte(deps), &t.Dependencies); err != nil {
		return models.Task{}, fmt.Errorf("store: unmarshal task dependencies: %w", err)
	}
	if err := json.Unmarshal([]byte(patterns), &t.DownloadPatterns); err != nil {
		return models.Task{}, fmt.Errorf("store: unmarshal task download patterns: %w", err)
	}

	return t, nil
}
