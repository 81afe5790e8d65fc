package backend

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/matterstack/matterstack/internal/errs"
	"github.com/matterstack/matterstack/internal/models"
)

// MatchDownloads globs patterns against sourceDir and copies every match
// into destDir, flattening matched paths to their base name. If patterns
// is non-empty and nothing matches, it returns a MissingOutputsError so
// the caller can fail the attempt rather than silently collecting
// nothing. With no patterns it is a no-op.
func MatchDownloads(task models.Task, sourceDir, destDir string, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return nil, nil
	}

	var matched []string
	for _, pattern := range patterns {
		hits, err := filepath.Glob(filepath.Join(sourceDir, pattern))
		if err != nil {
			return nil, fmt.Errorf("backend: bad download pattern %q: %w", pattern, err)
		}
		matched = append(matched, hits...)
	}
	if len(matched) == 0 {
		return nil, &errs.MissingOutputsError{TaskID: task.TaskID, Patterns: patterns}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("backend: create evidence dir %s: %w", destDir, err)
	}

	var collected []string
	for _, src := range matched {
		dst := filepath.Join(destDir, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return nil, fmt.Errorf("backend: collect %s: %w", src, err)
		}
		collected = append(collected, dst)
	}
	return collected, nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, download patterns must match files", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
