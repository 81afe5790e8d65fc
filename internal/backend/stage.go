package backend

import (
	"fmt"
	"path/filepath"

	"github.com/matterstack/matterstack/internal/backend/fssafety"
)

// StageFiles resolves each entry in files against runRoot, guards it
// against escaping the run root, and copies it into destDir under its
// original base name. The local backend's Stage uses it to place inputs
// next to the command; the HPC backend does not call it, and instead
// pushes each task file from the run root over SSH itself.
func StageFiles(runRoot string, files []string, destDir string) ([]string, error) {
	staged := make([]string, 0, len(files))
	for _, f := range files {
		src, err := fssafety.EnsureUnderRunRoot(runRoot, f)
		if err != nil {
			return nil, fmt.Errorf("backend: stage file %s: %w", f, err)
		}
		dst := filepath.Join(destDir, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return nil, fmt.Errorf("backend: stage file %s: %w", f, err)
		}
		staged = append(staged, dst)
	}
	return staged, nil
}
