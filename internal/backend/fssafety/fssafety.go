// Package fssafety guards against operator-supplied paths escaping a run's
// root directory through a ".." segment or an absolute path smuggled in
// through task configuration. The check is lexical: symlinks are not
// resolved, so a symlink inside the run root that points elsewhere passes.
package fssafety

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/matterstack/matterstack/internal/errs"
)

// EnsureUnderRunRoot resolves path relative to runRoot (if not already
// absolute) and verifies the resolved path is contained within runRoot.
// It returns the resolved absolute path on success.
func EnsureUnderRunRoot(runRoot, path string) (string, error) {
	root, err := filepath.Abs(runRoot)
	if err != nil {
		return "", fmt.Errorf("fssafety: resolve run root %s: %w", runRoot, err)
	}

	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate, err = filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("fssafety: resolve path %s: %w", path, err)
	}

	rel, err := filepath.Rel(root, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &errs.PathSafetyError{Path: candidate, Root: root}
	}

	return candidate, nil
}

var unsafeHint = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// OperatorRunDir sanitizes a task id and attempt id and returns the
// per-attempt working directory under runRoot/tasks/<task_id>/attempts,
// re-checking the final path for safety before handing it back.
func OperatorRunDir(runRoot, taskID, attemptID string) (string, error) {
	cleanTask := sanitizeHint(taskID)
	if cleanTask == "" {
		return "", fmt.Errorf("fssafety: empty sanitized task id from %q", taskID)
	}
	cleanAttempt := sanitizeHint(attemptID)
	if cleanAttempt == "" {
		return "", fmt.Errorf("fssafety: empty sanitized attempt id from %q", attemptID)
	}
	return EnsureUnderRunRoot(runRoot, filepath.Join("tasks", cleanTask, "attempts", cleanAttempt))
}

// OperatorEvidenceDir returns the per-attempt evidence directory where
// collected output artifacts are written, nested under the attempt's
// working directory so evidence never lands outside runRoot either.
func OperatorEvidenceDir(runRoot, taskID, attemptID string) (string, error) {
	cleanTask := sanitizeHint(taskID)
	if cleanTask == "" {
		return "", fmt.Errorf("fssafety: empty sanitized task id from %q", taskID)
	}
	cleanAttempt := sanitizeHint(attemptID)
	if cleanAttempt == "" {
		return "", fmt.Errorf("fssafety: empty sanitized attempt id from %q", attemptID)
	}
	return EnsureUnderRunRoot(runRoot, filepath.Join("tasks", cleanTask, "attempts", cleanAttempt, "evidence"))
}

func sanitizeHint(hint string) string {
	clean := unsafeHint.ReplaceAllString(hint, "_")
	return strings.Trim(clean, "_")
}
