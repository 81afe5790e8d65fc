// Package evidence assembles and exports an immutable bundle of
// everything that happened in a run, built solely by reading the State
// Store and the run's filesystem.
package evidence

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/matterstack/matterstack/internal/models"
	"github.com/matterstack/matterstack/internal/wiring"
)

// AttemptRecord is one attempt's evidence-bundle entry.
type AttemptRecord struct {
	AttemptID     string   `json:"attempt_id"`
	AttemptIndex  int      `json:"attempt_index"`
	OperatorKey   string   `json:"operator_key"`
	Status        string   `json:"status"`
	Handle        string   `json:"handle"`
	ConfigHash    string   `json:"config_hash,omitempty"`
	EvidencePaths []string `json:"evidence_paths,omitempty"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// TaskRecord groups a task with its full attempt history.
type TaskRecord struct {
	TaskID   string          `json:"task_id"`
	Status   string          `json:"status"`
	Attempts []AttemptRecord `json:"attempts"`
}

// Bundle is the in-memory evidence snapshot, ready to be written to disk.
type Bundle struct {
	RunID       string         `json:"run_id"`
	Status      string         `json:"status"`
	BuiltAt     time.Time      `json:"built_at"`
	TaskCounts  map[string]int `json:"task_counts"`
	Tasks       []TaskRecord   `json:"tasks"`
	WiringHash  string         `json:"wiring_hash,omitempty"`
	RunRootPath string         `json:"run_root_path"`
}

// AttemptLister is the subset of store.Store BuildBundle needs.
type AttemptLister interface {
	GetAttemptsForTask(taskID string) ([]models.Attempt, error)
}

// BuildBundle reads a run's tasks and their attempt histories and
// assembles an evidence bundle. The only filesystem touch is reading the
// run's persisted operator-wiring snapshot to stamp every attempt with
// the config_hash it ran under; everything else comes from the store.
func BuildBundle(run models.Run, tasks []models.Task, lister AttemptLister) (Bundle, error) {
	wiringHash, err := wiring.SnapshotSHA256(run.RootPath)
	if err != nil {
		return Bundle{}, fmt.Errorf("evidence: read wiring snapshot for run %s: %w", run.RunID, err)
	}

	b := Bundle{
		RunID:       run.RunID,
		Status:      string(run.Status),
		BuiltAt:     time.Now(),
		TaskCounts:  map[string]int{},
		RunRootPath: run.RootPath,
		WiringHash:  wiringHash,
	}

	for _, t := range tasks {
		b.TaskCounts[string(t.Status)]++

		attempts, err := lister.GetAttemptsForTask(t.TaskID)
		if err != nil {
			return Bundle{}, fmt.Errorf("evidence: list attempts for task %s: %w", t.TaskID, err)
		}

		record := TaskRecord{TaskID: t.TaskID, Status: string(t.Status)}
		for _, a := range attempts {
			record.Attempts = append(record.Attempts, AttemptRecord{
				AttemptID:     a.AttemptID,
				AttemptIndex:  a.AttemptIndex,
				OperatorKey:   a.OperatorKey,
				Status:        string(a.Status),
				Handle:        a.Handle,
				ConfigHash:    wiringHash,
				EvidencePaths: []string{filepath.Join("tasks", t.TaskID, "attempts", a.AttemptID)},
				CreatedAt:     a.CreatedAt.Format(time.RFC3339),
				UpdatedAt:     a.UpdatedAt.Format(time.RFC3339),
			})
		}
		b.Tasks = append(b.Tasks, record)
	}

	return b, nil
}

// ExportBundle writes the bundle as manifest.json under destDir, copies
// each attempt's working directory (stdout.log, stderr.log, evidence/)
// alongside it, and copies the run's operator-wiring snapshot so the
// export carries its own provenance without needing the live run root.
// Rebuilds are idempotent: destDir is recreated from scratch on each call.
func ExportBundle(b Bundle, runRoot, destDir string) error {
	if err := os.RemoveAll(destDir); err != nil {
		return fmt.Errorf("evidence: clear destination %s: %w", destDir, err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("evidence: create destination %s: %w", destDir, err)
	}

	manifestBytes, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("evidence: marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(destDir, "manifest.json"), manifestBytes, 0o644); err != nil {
		return fmt.Errorf("evidence: write manifest: %w", err)
	}

	snapshotSrc := filepath.Join(runRoot, "operators_snapshot")
	if _, err := os.Stat(snapshotSrc); err == nil {
		if err := copyDir(snapshotSrc, filepath.Join(destDir, "operators_snapshot")); err != nil {
			return fmt.Errorf("evidence: copy operator wiring snapshot: %w", err)
		}
	}

	for _, task := range b.Tasks {
		for _, attempt := range task.Attempts {
			src := filepath.Join(runRoot, "tasks", task.TaskID, "attempts", attempt.AttemptID)
			if _, err := os.Stat(src); err != nil {
				continue
			}
			dst := filepath.Join(destDir, "tasks", task.TaskID, "attempts", attempt.AttemptID)
			if err := copyDir(src, dst); err != nil {
				return fmt.Errorf("evidence: copy attempt %s: %w", attempt.AttemptID, err)
			}
		}
	}

	return nil
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
