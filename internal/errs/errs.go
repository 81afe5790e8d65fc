// Package errs defines the typed error taxonomy used across the store,
// engine, and operator layers: small sentinel error types checked with
// errors.As rather than string matching.
package errs

import "fmt"

// NotFoundError indicates a lookup by id found nothing.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// LockContentionError indicates the run's state file lock is already held
// by another process. The caller should back off rather than block.
type LockContentionError struct {
	Path string
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("lock held on %s by another process", e.Path)
}

// PathSafetyError indicates a path escaped the sandbox it was checked
// against.
type PathSafetyError struct {
	Path string
	Root string
}

func (e *PathSafetyError) Error() string {
	return fmt.Sprintf("path %s escapes run root %s", e.Path, e.Root)
}

// WiringOverrideError indicates a caller attempted to change an
// already-resolved operator wiring without force=true.
type WiringOverrideError struct {
	OperatorKey string
	Existing    string
	Requested   string
}

func (e *WiringOverrideError) Error() string {
	return fmt.Sprintf("operator %s already wired to %s; refusing to override with %s without force",
		e.OperatorKey, e.Existing, e.Requested)
}

// GuardError indicates a state transition was rejected by a guard.
type GuardError struct {
	Reason string
}

func (e *GuardError) Error() string {
	return e.Reason
}

// MissingOutputsError indicates an attempt's declared download patterns
// matched nothing in the completed job's working directory.
type MissingOutputsError struct {
	TaskID   string
	Patterns []string
}

func (e *MissingOutputsError) Error() string {
	return fmt.Sprintf("task %s: no files matched expected output patterns %v", e.TaskID, e.Patterns)
}

// SchemaError indicates a run's database was created by a newer binary
// than the one currently reading it.
type SchemaError struct {
	FoundVersion   int
	KnownVersion int
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("database schema version %d is newer than this binary's known version %d", e.FoundVersion, e.KnownVersion)
}
