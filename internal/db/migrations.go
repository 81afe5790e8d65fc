package db

import (
	"database/sql"
	"fmt"

	"github.com/matterstack/matterstack/internal/errs"
)

// Migration is one forward-only schema change, applied inside a transaction
// and recorded in schema_version. SQLite cannot ALTER TABLE to add or
// change CHECK constraints, so migrations that touch a constrained column
// rebuild the table: create the new shape, copy data across, drop the old
// table, rename the new one into place.
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

var migrations = []Migration{
	{Version: 1, Name: "base_runs_tasks_external_runs", Up: migrationV1},
	{Version: 2, Name: "add_task_attempts", Up: migrationV2},
	{Version: 3, Name: "add_workflows_and_run_events", Up: migrationV3},
	{Version: 4, Name: "add_operator_wiring_snapshot", Up: migrationV4},
}

// CurrentSchemaVersion is the highest version this binary knows how to
// apply. It mirrors CURRENT_SCHEMA_VERSION in the original store.
const CurrentSchemaVersion = 4

// RunMigrations applies all migrations newer than the database's recorded
// schema_version, in order, each in its own transaction.
func RunMigrations(conn *sql.DB) error {
	if _, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	if err := conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("read current schema version: %w", err)
	}
	if currentVersion > CurrentSchemaVersion {
		return &errs.SchemaError{FoundVersion: currentVersion, KnownVersion: CurrentSchemaVersion}
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		if err := m.Up(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func migrationV1(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			workspace_slug TEXT NOT NULL,
			root_path TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('PENDING','RUNNING','PAUSED','CANCELLED','COMPLETED','FAILED')) DEFAULT 'PENDING',
			status_reason TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			workflow_id TEXT NOT NULL DEFAULT '',
			operator_key TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL CHECK(status IN (
				'PENDING','RUNNING','SUBMITTED','WAITING_EXTERNAL','COMPLETED','SKIPPED','FAILED','CANCELLED'
			)) DEFAULT 'PENDING',
			image TEXT,
			command TEXT NOT NULL DEFAULT '',
			files TEXT NOT NULL DEFAULT '[]',
			env TEXT NOT NULL DEFAULT '{}',
			dependencies TEXT NOT NULL DEFAULT '[]',
			cores INTEGER NOT NULL DEFAULT 1,
			memory_gb REAL NOT NULL DEFAULT 1.0,
			gpus INTEGER NOT NULL DEFAULT 0,
			time_limit_minutes INTEGER NOT NULL DEFAULT 60,
			allow_dependency_failure INTEGER NOT NULL DEFAULT 0,
			allow_failure INTEGER NOT NULL DEFAULT 0,
			download_patterns TEXT NOT NULL DEFAULT '[]',
			current_attempt_id TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS ix_tasks_run_id_status ON tasks(run_id, status)`,
		// legacy v1 external run tracking, kept for pre-attempt-model runs
		`CREATE TABLE IF NOT EXISTS external_runs (
			task_id TEXT PRIMARY KEY REFERENCES tasks(task_id),
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			handle TEXT,
			status TEXT NOT NULL DEFAULT 'CREATED',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
	}
	return nil
}

func migrationV2(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS task_attempts (
			attempt_id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(task_id),
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			attempt_index INTEGER NOT NULL,
			operator_key TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN (
				'CREATED','SUBMITTED','RUNNING','COMPLETED','FAILED','FAILED_INIT','CANCELLED','WAITING_EXTERNAL'
			)) DEFAULT 'CREATED',
			handle TEXT,
			exit_code INTEGER,
			error_message TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(task_id, attempt_index)
		)`,
		`CREATE INDEX IF NOT EXISTS ix_task_attempts_run_id_status ON task_attempts(run_id, status)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("migration v2: %w", err)
		}
	}
	return nil
}

func migrationV3(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			workflow_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			generation INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			task_id TEXT,
			attempt_id TEXT,
			kind TEXT NOT NULL,
			detail TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS ix_run_events_run_id ON run_events(run_id, created_at)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("migration v3: %w", err)
		}
	}
	return nil
}

func migrationV4(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS operator_wiring (
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			operator_key TEXT NOT NULL,
			backend_hash TEXT NOT NULL,
			source TEXT NOT NULL,
			raw_config TEXT NOT NULL,
			resolved_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, operator_key)
		)`,
		`CREATE TABLE IF NOT EXISTS operator_wiring_history (
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			operator_key TEXT NOT NULL,
			backend_hash TEXT NOT NULL,
			source TEXT NOT NULL,
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("migration v4: %w", err)
		}
	}
	return nil
}
