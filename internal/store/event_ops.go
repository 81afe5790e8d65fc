package store

import (
	"fmt"

	"github.com/matterstack/matterstack/internal/ids"
	"github.com/matterstack/matterstack/internal/models"
)

// RecordEvent appends an audit row to run_events. The event id is minted
// here so callers never need to worry about collisions.
func (s *Store) RecordEvent(runID, taskID, attemptID, kind, detail string) error {
	_, err := s.conn.Exec(
		`INSERT INTO run_events (event_id, run_id, task_id, attempt_id, kind, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		ids.Generate("event"), runID, nullable(taskID), nullable(attemptID), kind, detail,
	)
	if err != nil {
		return fmt.Errorf("store: record event for run %s: %w", runID, err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetEvents returns a run's event log in chronological order.
func (s *Store) GetEvents(runID string) ([]models.RunEvent, error) {
	rows, err := s.conn.Query(`
		SELECT event_id, run_id, COALESCE(task_id, ''), COALESCE(attempt_id, ''), kind, COALESCE(detail, ''), created_at
		FROM run_events WHERE run_id = ? ORDER BY created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: get events for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []models.RunEvent
	for rows.Next() {
		var e models.RunEvent
		if err := rows.Scan(&e.EventID, &e.RunID, &e.TaskID, &e.AttemptID, &e.Kind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
