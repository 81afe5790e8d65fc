package store

import (
	"database/sql"
	"fmt"

	"github.com/matterstack/matterstack/internal/models"
)

// GetWiringSnapshot returns the previously resolved wiring for an
// operator key in this run, if any. This is a query convenience over the
// filesystem snapshot under <run_root>/operators_snapshot/, which is the
// only thing the engine or wiring.Resolve ever treats as authoritative.
func (s *Store) GetWiringSnapshot(runID, operatorKey string) (models.OperatorWiringSnapshot, bool, error) {
	var snap models.OperatorWiringSnapshot
	err := s.conn.QueryRow(`
		SELECT run_id, operator_key, backend_hash, source, raw_config, resolved_at
		FROM operator_wiring WHERE run_id = ? AND operator_key = ?`,
		runID, operatorKey,
	).Scan(&snap.RunID, &snap.OperatorKey, &snap.BackendHash, &snap.Source, &snap.RawConfig, &snap.ResolvedAt)
	if err == sql.ErrNoRows {
		return models.OperatorWiringSnapshot{}, false, nil
	}
	if err != nil {
		return models.OperatorWiringSnapshot{}, false, fmt.Errorf("store: get wiring snapshot %s/%s: %w", runID, operatorKey, err)
	}
	return snap, true, nil
}

// PutWiringSnapshot indexes a wiring resolution that has already been
// persisted to the run's operators_snapshot/ directory by wiring.Resolve.
// It is called after that filesystem write succeeds, purely so `status`
// and `explain` can query the current wiring hash without reading the
// filesystem; losing this row loses nothing, since operators_snapshot/
// is the record of truth and can always be re-read or rebuilt from it.
func (s *Store) PutWiringSnapshot(snap models.OperatorWiringSnapshot) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin put wiring snapshot: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO operator_wiring (run_id, operator_key, backend_hash, source, raw_config)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, operator_key) DO UPDATE SET
			backend_hash = excluded.backend_hash,
			source = excluded.source,
			raw_config = excluded.raw_config,
			resolved_at = CURRENT_TIMESTAMP`,
		snap.RunID, snap.OperatorKey, snap.BackendHash, snap.Source, snap.RawConfig,
	)
	if err != nil {
		return fmt.Errorf("store: upsert wiring snapshot: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO operator_wiring_history (run_id, operator_key, backend_hash, source)
		VALUES (?, ?, ?, ?)`,
		snap.RunID, snap.OperatorKey, snap.BackendHash, snap.Source,
	)
	if err != nil {
		return fmt.Errorf("store: append wiring history: %w", err)
	}

	return tx.Commit()
}

// GetWiringHistory returns every recorded wiring decision for an operator
// key in a run, oldest first.
func (s *Store) GetWiringHistory(runID, operatorKey string) ([]models.OperatorWiringSnapshot, error) {
	rows, err := s.conn.Query(`
		SELECT run_id, operator_key, backend_hash, source, '', recorded_at
		FROM operator_wiring_history WHERE run_id = ? AND operator_key = ? ORDER BY recorded_at`,
		runID, operatorKey,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get wiring history %s/%s: %w", runID, operatorKey, err)
	}
	defer rows.Close()

	var out []models.OperatorWiringSnapshot
	for rows.Next() {
		var snap models.OperatorWiringSnapshot
		if err := rows.Scan(&snap.RunID, &snap.OperatorKey, &snap.BackendHash, &snap.Source, &snap.RawConfig, &snap.ResolvedAt); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
