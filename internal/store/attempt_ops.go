package store

import (
	"database/sql"
	"fmt"

	"github.com/matterstack/matterstack/internal/errs"
	"github.com/matterstack/matterstack/internal/models"
)

// NextAttemptIndex returns the attempt_index to use for a new attempt on a
// task (1-based, matching the UNIQUE(task_id, attempt_index) constraint).
func (s *Store) NextAttemptIndex(taskID string) (int, error) {
	var max sql.NullInt64
	err := s.conn.QueryRow(`SELECT MAX(attempt_index) FROM task_attempts WHERE task_id = ?`, taskID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("store: next attempt index for %s: %w", taskID, err)
	}
	return int(max.Int64) + 1, nil
}

// CreateAttempt inserts a new attempt row.
func (s *Store) CreateAttempt(a models.Attempt) error {
	_, err := s.conn.Exec(`
		INSERT INTO task_attempts (attempt_id, task_id, run_id, attempt_index, operator_key, status, handle)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.AttemptID, a.TaskID, a.RunID, a.AttemptIndex, a.OperatorKey, string(a.Status), a.Handle,
	)
	if err != nil {
		return fmt.Errorf("store: create attempt %s: %w", a.AttemptID, err)
	}
	return nil
}

// GetAttempt fetches a single attempt by id.
func (s *Store) GetAttempt(attemptID string) (models.Attempt, error) {
	a, err := scanAttempt(s.conn.QueryRow(`
		SELECT attempt_id, task_id, run_id, attempt_index, operator_key, status, handle,
			exit_code, error_message, created_at, updated_at
		FROM task_attempts WHERE attempt_id = ?`, attemptID))
	if err == sql.ErrNoRows {
		return models.Attempt{}, &errs.NotFoundError{Kind: "attempt", ID: attemptID}
	}
	return a, err
}

// GetActiveAttempts returns every attempt for a run whose status is not
// yet terminal.
func (s *Store) GetActiveAttempts(runID string) ([]models.Attempt, error) {
	rows, err := s.conn.Query(`
		SELECT attempt_id, task_id, run_id, attempt_index, operator_key, status, handle,
			exit_code, error_message, created_at, updated_at
		FROM task_attempts
		WHERE run_id = ? AND status NOT IN ('COMPLETED','FAILED','FAILED_INIT','CANCELLED')`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: get active attempts for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []models.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountActiveAttemptsByOperator returns, per operator key, how many
// attempts in a run currently hold an execution slot.
func (s *Store) CountActiveAttemptsByOperator(runID string) (map[string]int, error) {
	rows, err := s.conn.Query(`
		SELECT operator_key, COUNT(*) FROM task_attempts
		WHERE run_id = ? AND status NOT IN ('COMPLETED','FAILED','FAILED_INIT','CANCELLED')
		GROUP BY operator_key`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: count active attempts by operator for run %s: %w", runID, err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		out[key] = count
	}
	return out, rows.Err()
}

// GetAttemptsForTask returns a task's attempts ordered by attempt_index.
func (s *Store) GetAttemptsForTask(taskID string) ([]models.Attempt, error) {
	rows, err := s.conn.Query(`
		SELECT attempt_id, task_id, run_id, attempt_index, operator_key, status, handle,
			exit_code, error_message, created_at, updated_at
		FROM task_attempts WHERE task_id = ? ORDER BY attempt_index`, taskID)
	if err != nil {
		return nil, fmt.Errorf("store: get attempts for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []models.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAttemptStatus updates an attempt's status, handle, exit code, and
// error message in one write. A terminal attempt is immutable except for
// a same-status write (a reason append on an already-terminal attempt,
// e.g. amending error_message): any attempt to move it to a different
// status is refused, both here and by the WHERE clause itself so a
// concurrent writer can't race past the status read above.
func (s *Store) UpdateAttemptStatus(attemptID string, status models.AttemptStatus, handle string, exitCode *int, errMsg string) error {
	var current string
	if err := s.conn.QueryRow(`SELECT status FROM task_attempts WHERE attempt_id = ?`, attemptID).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return &errs.NotFoundError{Kind: "attempt", ID: attemptID}
		}
		return fmt.Errorf("store: update attempt %s: read current status: %w", attemptID, err)
	}
	currentStatus := models.AttemptStatus(current)
	if currentStatus.Terminal() && currentStatus != status {
		return &errs.GuardError{Reason: fmt.Sprintf("attempt %s is terminal (%s); refusing to change status to %s", attemptID, currentStatus, status)}
	}

	result, err := s.conn.Exec(`
		UPDATE task_attempts
		SET status = ?, handle = ?, exit_code = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE attempt_id = ? AND (status NOT IN ('COMPLETED','FAILED','FAILED_INIT','CANCELLED') OR status = ?)`,
		string(status), handle, exitCode, errMsg, attemptID, string(status),
	)
	if err != nil {
		return fmt.Errorf("store: update attempt %s: %w", attemptID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update attempt %s: rows affected: %w", attemptID, err)
	}
	if n == 0 {
		return &errs.GuardError{Reason: fmt.Sprintf("attempt %s is terminal; refusing to change status to %s", attemptID, status)}
	}
	return nil
}

func scanAttempt(row rowScanner) (models.Attempt, error) {
	var a models.Attempt
	var status string
	var handle, errMsg sql.NullString
	var exitCode sql.NullInt64

	err := row.Scan(
		&a.AttemptID, &a.TaskID, &a.RunID, &a.AttemptIndex, &a.OperatorKey, &status, &handle,
		&exitCode, &errMsg, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return models.Attempt{}, err
	}

	a.Status = models.AttemptStatus(status)
	a.Handle = handle.String
	a.ErrorMessage = errMsg.String
	if exitCode.Valid {
		v := int(exitCode.Int64)
		a.ExitCode = &v
	}
	return a, nil
}
