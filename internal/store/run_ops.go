package store

import (
	"database/sql"
	"fmt"

	"github.com/matterstack/matterstack/internal/errs"
	"github.com/matterstack/matterstack/internal/models"
)

// CreateRun inserts a new run row in PENDING status.
func (s *Store) CreateRun(run models.Run) error {
	_, err := s.conn.Exec(
		`INSERT INTO runs (run_id, workspace_slug, root_path, status) VALUES (?, ?, ?, ?)`,
		run.RunID, run.WorkspaceSlug, run.RootPath, string(models.RunStatusPending),
	)
	if err != nil {
		return fmt.Errorf("store: create run %s: %w", run.RunID, err)
	}
	return nil
}

// GetRun fetches a run by id.
func (s *Store) GetRun(runID string) (models.Run, error) {
	var run models.Run
	var status string
	var reason sql.NullString
	err := s.conn.QueryRow(
		`SELECT run_id, workspace_slug, root_path, status, status_reason, created_at FROM runs WHERE run_id = ?`,
		runID,
	).Scan(&run.RunID, &run.WorkspaceSlug, &run.RootPath, &status, &reason, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return models.Run{}, &errs.NotFoundError{Kind: "run", ID: runID}
	}
	if err != nil {
		return models.Run{}, fmt.Errorf("store: get run %s: %w", runID, err)
	}
	run.Status = models.RunStatus(status)
	run.StatusReason = reason.String
	return run, nil
}

// GetRunStatus is a narrow accessor used on every tick before anything
// else happens.
func (s *Store) GetRunStatus(runID string) (models.RunStatus, error) {
	var status string
	err := s.conn.QueryRow(`SELECT status FROM runs WHERE run_id = ?`, runID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", &errs.NotFoundError{Kind: "run", ID: runID}
	}
	if err != nil {
		return "", fmt.Errorf("store: get run status %s: %w", runID, err)
	}
	return models.RunStatus(status), nil
}

// SetRunStatus updates a run's status and optional reason.
func (s *Store) SetRunStatus(runID string, status models.RunStatus, reason string) error {
	_, err := s.conn.Exec(
		`UPDATE runs SET status = ?, status_reason = ? WHERE run_id = ?`,
		string(status), reason, runID,
	)
	if err != nil {
		return fmt.Errorf("store: set run status %s: %w", runID, err)
	}
	return nil
}
