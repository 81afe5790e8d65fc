package store

import (
	"database/sql"
	"fmt"

	"github.com/matterstack/matterstack/internal/models"
)

// AddWorkflow persists a new workflow generation and all of its tasks in a
// single transaction.
func (s *Store) AddWorkflow(wf models.Workflow) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin add workflow %s: %w", wf.WorkflowID, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO workflows (workflow_id, run_id, generation) VALUES (?, ?, ?)`,
		wf.WorkflowID, wf.RunID, wf.Generation,
	); err != nil {
		return fmt.Errorf("store: insert workflow %s: %w", wf.WorkflowID, err)
	}

	for _, t := range wf.Tasks {
		t.WorkflowID = wf.WorkflowID
		t.RunID = wf.RunID
		if err := addTaskTx(tx, t); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func addTaskTx(tx *sql.Tx, t models.Task) error {
	files, env, deps, patterns, err := marshalTaskFields(t)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
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
		return fmt.Errorf("store: insert task %s: %w", t.TaskID, err)
	}
	return nil
}

// GetWorkflows returns every workflow generation for a run, oldest first.
func (s *Store) GetWorkflows(runID string) ([]models.Workflow, error) {
	rows, err := s.conn.Query(
		`SELECT workflow_id, run_id, generation, created_at FROM workflows WHERE run_id = ? ORDER BY generation`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get workflows for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []models.Workflow
	for rows.Next() {
		var wf models.Workflow
		if err := rows.Scan(&wf.WorkflowID, &wf.RunID, &wf.Generation, &wf.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}
