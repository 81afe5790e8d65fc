// Package db manages the per-run SQLite connection and schema migrations.
// Each run gets its own database file under its root path, so a run's
// state travels with its directory rather than living in a shared
// server-side database.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DBFileName is the name of the SQLite file created inside a run's root.
const DBFileName = "state.db"

// Open opens (creating if necessary) the state database for the run rooted
// at runRoot, enables foreign keys, and runs any pending migrations.
func Open(runRoot string) (*sql.DB, error) {
	if err := os.MkdirAll(runRoot, 0o755); err != nil {
		return nil, fmt.Errorf("db: create run root %s: %w", runRoot, err)
	}

	path := filepath.Join(runRoot, DBFileName)
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: enable foreign keys: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: enable WAL journal mode: %w", err)
	}

	if err := RunMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: migrate %s: %w", path, err)
	}

	return conn, nil
}

// Path returns the state database path for a given run root, without
// opening a connection.
func Path(runRoot string) string {
	return filepath.Join(runRoot, DBFileName)
}
