package evidence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matterstack/matterstack/internal/models"
)

type fakeLister struct {
	byTask map[string][]models.Attempt
}

func (f fakeLister) GetAttemptsForTask(taskID string) ([]models.Attempt, error) {
	return f.byTask[taskID], nil
}

func TestBuildBundleCountsAndAttempts(t *testing.T) {
	runRoot := t.TempDir()
	writeFakeSnapshot(t, runRoot)

	run := models.Run{RunID: "run1", Status: models.RunStatusCompleted, RootPath: runRoot}
	tasks := []models.Task{
		{TaskID: "a", Status: models.TaskStatusCompleted},
		{TaskID: "b", Status: models.TaskStatusFailed},
	}
	lister := fakeLister{byTask: map[string][]models.Attempt{
		"a": {{AttemptID: "att1", TaskID: "a", AttemptIndex: 1, OperatorKey: "local.default", Status: models.AttemptStatusCompleted, Handle: "h1", CreatedAt: time.Now(), UpdatedAt: time.Now()}},
	}}

	b, err := BuildBundle(run, tasks, lister)
	if err != nil {
		t.Fatalf("BuildBundle: %v", err)
	}
	if b.TaskCounts["COMPLETED"] != 1 || b.TaskCounts["FAILED"] != 1 {
		t.Fatalf("unexpected counts: %+v", b.TaskCounts)
	}
	if len(b.Tasks) != 2 {
		t.Fatalf("expected 2 task records, got %d", len(b.Tasks))
	}
	if b.WiringHash == "" {
		t.Fatal("expected a populated wiring hash")
	}
	for _, tr := range b.Tasks {
		if tr.TaskID != "a" {
			continue
		}
		if len(tr.Attempts) != 1 {
			t.Fatalf("expected 1 attempt for task a, got %d", len(tr.Attempts))
		}
		att := tr.Attempts[0]
		if att.ConfigHash != b.WiringHash {
			t.Fatalf("expected attempt config_hash to match bundle wiring hash, got %s vs %s", att.ConfigHash, b.WiringHash)
		}
		if len(att.EvidencePaths) == 0 {
			t.Fatal("expected at least one evidence path")
		}
	}
}

func TestExportBundleWritesManifestAndCopiesAttemptFiles(t *testing.T) {
	runRoot := t.TempDir()
	writeFakeSnapshot(t, runRoot)

	attemptDir := filepath.Join(runRoot, "tasks", "a", "attempts", "att1")
	if err := os.MkdirAll(attemptDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(attemptDir, "stdout.log"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write stdout.log: %v", err)
	}

	b := Bundle{
		RunID:      "run1",
		Status:     "COMPLETED",
		WiringHash: "deadbeef",
		Tasks: []TaskRecord{
			{TaskID: "a", Status: "COMPLETED", Attempts: []AttemptRecord{{AttemptID: "att1"}}},
		},
	}

	dest := filepath.Join(t.TempDir(), "evidence-export")
	if err := ExportBundle(b, runRoot, dest); err != nil {
		t.Fatalf("ExportBundle: %v", err)
	}

	manifestBytes, err := os.ReadFile(filepath.Join(dest, "manifest.json"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var got Bundle
	if err := json.Unmarshal(manifestBytes, &got); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if got.RunID != "run1" {
		t.Fatalf("unexpected manifest run id: %s", got.RunID)
	}

	copied, err := os.ReadFile(filepath.Join(dest, "tasks", "a", "attempts", "att1", "stdout.log"))
	if err != nil {
		t.Fatalf("read copied stdout.log: %v", err)
	}
	if string(copied) != "hello" {
		t.Fatalf("unexpected copied content: %s", copied)
	}

	if _, err := os.Stat(filepath.Join(dest, "operators_snapshot", "operators.yaml")); err != nil {
		t.Fatalf("expected operator wiring snapshot to be copied into the export: %v", err)
	}
}

func writeFakeSnapshot(t *testing.T, runRoot string) {
	t.Helper()
	dir := filepath.Join(runRoot, "operators_snapshot")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir snapshot dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "operators.yaml"), []byte("operators:\n  local.default:\n    kind: local\n"), 0o644); err != nil {
		t.Fatalf("write operators.yaml: %v", err)
	}
}

func TestExportBundleIsIdempotent(t *testing.T) {
	runRoot := t.TempDir()
	b := Bundle{RunID: "run1", Status: "COMPLETED"}
	dest := filepath.Join(t.TempDir(), "evidence-export")

	if err := ExportBundle(b, runRoot, dest); err != nil {
		t.Fatalf("first export: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dest, "stale.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write stale file: %v", err)
	}
	if err := ExportBundle(b, runRoot, dest); err != nil {
		t.Fatalf("second export: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "stale.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected stale.txt removed on re-export")
	}
}
