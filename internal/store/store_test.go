package store

import (
	"testing"

	"github.com/matterstack/matterstack/internal/ids"
	"github.com/matterstack/matterstack/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetRun(t *testing.T) {
	s := openTestStore(t)
	run := models.Run{RunID: ids.RunID(), WorkspaceSlug: "demo", RootPath: "/tmp/demo"}

	if err := s.CreateRun(run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.GetRun(run.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != models.RunStatusPending {
		t.Fatalf("expected PENDING, got %s", got.Status)
	}
}

func TestSetRunStatus(t *testing.T) {
	s := openTestStore(t)
	run := models.Run{RunID: ids.RunID(), WorkspaceSlug: "demo", RootPath: "/tmp/demo"}
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := s.SetRunStatus(run.RunID, models.RunStatusRunning, ""); err != nil {
		t.Fatalf("SetRunStatus: %v", err)
	}

	status, err := s.GetRunStatus(run.RunID)
	if err != nil {
		t.Fatalf("GetRunStatus: %v", err)
	}
	if status != models.RunStatusRunning {
		t.Fatalf("expected RUNNING, got %s", status)
	}
}

func TestTaskLifecycle(t *testing.T) {
	s := openTestStore(t)
	run := models.Run{RunID: ids.RunID(), WorkspaceSlug: "demo", RootPath: "/tmp/demo"}
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	task := models.Task{
		TaskID:       ids.TaskID("build"),
		RunID:        run.RunID,
		Status:       models.TaskStatusPending,
		Files:        []string{"a.txt"},
		Env:          map[string]string{"FOO": "bar"},
		Dependencies: []string{},
		Cores:        2,
		MemoryGB:     4,
	}
	if err := s.AddTask(task); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	got, err := s.GetTask(task.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Env["FOO"] != "bar" || len(got.Files) != 1 || got.Cores != 2 {
		t.Fatalf("round-tripped task mismatch: %+v", got)
	}

	if err := s.SetTaskStatus(task.TaskID, models.TaskStatusRunning); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
	status, err := s.GetTaskStatus(task.TaskID)
	if err != nil {
		t.Fatalf("GetTaskStatus: %v", err)
	}
	if status != models.TaskStatusRunning {
		t.Fatalf("expected RUNNING, got %s", status)
	}
}

func TestAttemptLifecycle(t *testing.T) {
	s := openTestStore(t)
	run := models.Run{RunID: ids.RunID(), WorkspaceSlug: "demo", RootPath: "/tmp/demo"}
	task := models.Task{TaskID: ids.TaskID("build"), RunID: run.RunID, Status: models.TaskStatusPending}
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.AddTask(task); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	idx, err := s.NextAttemptIndex(task.TaskID)
	if err != nil {
		t.Fatalf("NextAttemptIndex: %v", err)
	}
	if idx != 1 {
		t.Fatalf("expected first attempt index 1, got %d", idx)
	}

	attempt := models.Attempt{
		AttemptID:    ids.AttemptID(),
		TaskID:       task.TaskID,
		RunID:        run.RunID,
		AttemptIndex: idx,
		OperatorKey:  "local.default",
		Status:       models.AttemptStatusCreated,
	}
	if err := s.CreateAttempt(attempt); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	active, err := s.CountActiveAttemptsByOperator(run.RunID)
	if err != nil {
		t.Fatalf("CountActiveAttemptsByOperator: %v", err)
	}
	if active["local.default"] != 1 {
		t.Fatalf("expected 1 active attempt, got %d", active["local.default"])
	}

	exit := 0
	if err := s.UpdateAttemptStatus(attempt.AttemptID, models.AttemptStatusCompleted, "pid:1", &exit, ""); err != nil {
		t.Fatalf("UpdateAttemptStatus: %v", err)
	}

	active, err = s.CountActiveAttemptsByOperator(run.RunID)
	if err != nil {
		t.Fatalf("CountActiveAttemptsByOperator: %v", err)
	}
	if active["local.default"] != 0 {
		t.Fatalf("expected 0 active attempts after completion, got %d", active["local.default"])
	}
}

func TestUpdateAttemptStatusRefusesChangeAfterTerminal(t *testing.T) {
	s := openTestStore(t)
	run := models.Run{RunID: ids.RunID(), WorkspaceSlug: "demo", RootPath: "/tmp/demo"}
	task := models.Task{TaskID: ids.TaskID("build"), RunID: run.RunID, Status: models.TaskStatusPending}
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.AddTask(task); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	attempt := models.Attempt{
		AttemptID:   ids.AttemptID(),
		TaskID:      task.TaskID,
		RunID:       run.RunID,
		OperatorKey: "local.default",
		Status:      models.AttemptStatusCreated,
	}
	if err := s.CreateAttempt(attempt); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	exit := 0
	if err := s.UpdateAttemptStatus(attempt.AttemptID, models.AttemptStatusCompleted, "pid:1", &exit, ""); err != nil {
		t.Fatalf("UpdateAttemptStatus to COMPLETED: %v", err)
	}

	if err := s.UpdateAttemptStatus(attempt.AttemptID, models.AttemptStatusFailed, "pid:1", &exit, "too late"); err == nil {
		t.Fatal("expected an error moving a COMPLETED attempt to FAILED")
	}

	got, err := s.GetAttempt(attempt.AttemptID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if got.Status != models.AttemptStatusCompleted {
		t.Fatalf("expected attempt to remain COMPLETED, got %s", got.Status)
	}

	// A same-status write (amending the reason on an already-terminal
	// attempt) is still allowed.
	if err := s.UpdateAttemptStatus(attempt.AttemptID, models.AttemptStatusCompleted, "pid:1", &exit, "amended reason"); err != nil {
		t.Fatalf("expected same-status reason append to succeed: %v", err)
	}
	got, err = s.GetAttempt(attempt.AttemptID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if got.ErrorMessage != "amended reason" {
		t.Fatalf("expected amended reason, got %q", got.ErrorMessage)
	}
}

func TestTaskCommandRoundTrip(t *testing.T) {
	s := openTestStore(t)
	run := models.Run{RunID: ids.RunID(), WorkspaceSlug: "demo", RootPath: "/tmp/demo"}
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	task := models.Task{
		TaskID:  ids.TaskID("build"),
		RunID:   run.RunID,
		Status:  models.TaskStatusPending,
		Image:   "ubuntu:22.04",
		Command: "make test",
	}
	if err := s.AddTask(task); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	got, err := s.GetTask(task.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Image != "ubuntu:22.04" || got.Command != "make test" {
		t.Fatalf("expected image and command to round trip separately, got image=%q command=%q", got.Image, got.Command)
	}
}

func TestLockContention(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir)
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	defer a.Close()
	b, err := Open(dir)
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}
	defer b.Close()

	if err := a.Lock(); err != nil {
		t.Fatalf("a.Lock: %v", err)
	}
	defer a.Unlock()

	if err := b.Lock(); err == nil {
		t.Fatal("expected lock contention error, got nil")
	}
}

func TestEventLog(t *testing.T) {
	s := openTestStore(t)
	run := models.Run{RunID: ids.RunID(), WorkspaceSlug: "demo", RootPath: "/tmp/demo"}
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := s.RecordEvent(run.RunID, "", "", "run.started", "initial tick"); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	events, err := s.GetEvents(run.RunID)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 1 || events[0].Kind != "run.started" {
		t.Fatalf("unexpected events: %+v", events)
	}
}
