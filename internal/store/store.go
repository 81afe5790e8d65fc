// Package store is the state store for a single run: a thin SQLite-backed
// repository plus the OS-level advisory lock that guards every tick.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/matterstack/matterstack/internal/db"
	"github.com/matterstack/matterstack/internal/errs"
)

// LockFileName is the file flock'd to serialize ticks against a run.
const LockFileName = "run.lock"

// Store wraps the per-run SQLite connection and its companion lock file.
type Store struct {
	conn     *sql.DB
	runRoot  string
	lockPath string

	mu       sync.Mutex
	lockFile *os.File
}

// Open opens (and migrates) the state database for the run rooted at
// runRoot.
func Open(runRoot string) (*Store, error) {
	conn, err := db.Open(runRoot)
	if err != nil {
		return nil, err
	}
	return &Store{
		conn:     conn,
		runRoot:  runRoot,
		lockPath: filepath.Join(runRoot, LockFileName),
	}, nil
}

// Close releases the underlying database connection. It does not release
// the lock; callers must have already called Unlock.
func (s *Store) Close() error {
	return s.conn.Close()
}

// DB exposes the underlying connection for callers (migrations, exports)
// that need raw SQL access outside the repository methods below.
func (s *Store) DB() *sql.DB { return s.conn }

// Lock acquires a non-blocking exclusive OS-level lock on the run's lock
// file. It fails immediately, rather than waiting, if another process
// already holds it — a tick is short-lived and a contended lock means
// another tick (or daemon loop) is already in flight for this run.
func (s *Store) Lock() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lockFile != nil {
		return fmt.Errorf("store: lock already held by this instance")
	}

	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("store: open lock file %s: %w", s.lockPath, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK || err == unix.EAGAIN {
			return &errs.LockContentionError{Path: s.lockPath}
		}
		return fmt.Errorf("store: flock %s: %w", s.lockPath, err)
	}

	s.lockFile = f
	return nil
}

// Unlock releases the lock acquired by Lock.
func (s *Store) Unlock() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lockFile == nil {
		return nil
	}
	err := unix.Flock(int(s.lockFile.Fd()), unix.LOCK_UN)
	closeErr := s.lockFile.Close()
	s.lockFile = nil
	if err != nil {
		return fmt.Errorf("store: unlock %s: %w", s.lockPath, err)
	}
	return closeErr
}

// WithLock runs fn while holding the run's exclusive lock, always
// releasing it afterward regardless of fn's outcome.
func (s *Store) WithLock(fn func() error) error {
	if err := s.Lock(); err != nil {
		return err
	}
	defer s.Unlock()
	return fn()
}
