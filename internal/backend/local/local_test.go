package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/matterstack/matterstack/internal/backend"
	"github.com/matterstack/matterstack/internal/errs"
	"github.com/matterstack/matterstack/internal/models"
)

func testTask(command string) models.Task {
	return models.Task{TaskID: "t1", Command: command}
}

func testAttempt() models.Attempt {
	return models.Attempt{AttemptID: "att1", TaskID: "t1"}
}

func waitForHandle(t *testing.T, b *Backend, handle string, want backend.JobStatus) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := b.Poll(ctx, handle)
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("handle %q never reached status %s", handle, want)
}

func TestSubmitAndPollSameProcess(t *testing.T) {
	b := New()
	runRoot := t.TempDir()
	task := testTask("exit 0")
	attempt := testAttempt()

	workDir, err := b.Stage(context.Background(), runRoot, task, attempt)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	handle, err := b.Submit(context.Background(), task, workDir)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitForHandle(t, b, handle, backend.JobStatusCompleted)

	code, err := b.ExitCode(context.Background(), handle)
	if err != nil {
		t.Fatalf("ExitCode: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

func TestSubmitNonZeroExit(t *testing.T) {
	b := New()
	runRoot := t.TempDir()
	task := testTask("exit 7")
	attempt := testAttempt()

	workDir, err := b.Stage(context.Background(), runRoot, task, attempt)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	handle, err := b.Submit(context.Background(), task, workDir)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitForHandle(t, b, handle, backend.JobStatusFailed)

	code, err := b.ExitCode(context.Background(), handle)
	if err != nil {
		t.Fatalf("ExitCode: %v", err)
	}
	if code != 7 {
		t.Fatalf("expected exit code 7, got %d", code)
	}
}

// TestPollRecoversFromSentinelAfterRestart simulates a process restart: a
// fresh Backend with an empty in-memory map polls a handle whose exit
// sentinel was already written to disk by whatever process actually ran
// the job.
func TestPollRecoversFromSentinelAfterRestart(t *testing.T) {
	workDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workDir, exitSentinelFile), []byte("0"), 0o644); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}

	fresh := New()
	handle := encodeHandle(os.Getpid(), workDir)

	status, err := fresh.Poll(context.Background(), handle)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if status != backend.JobStatusCompleted {
		t.Fatalf("expected COMPLETED from sentinel, got %s", status)
	}

	code, err := fresh.ExitCode(context.Background(), handle)
	if err != nil {
		t.Fatalf("ExitCode: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0 from sentinel, got %d", code)
	}
}

// TestPollFallsBackToLivenessProbeWhenNoSentinel covers the case where the
// job is still running, no sentinel has been written yet, but the pid
// genuinely belongs to this test process (a reliable stand-in for "still
// alive" that works cross-platform without actually spawning a job).
func TestPollFallsBackToLivenessProbeWhenNoSentinel(t *testing.T) {
	workDir := t.TempDir()
	fresh := New()
	handle := encodeHandle(os.Getpid(), workDir)

	status, err := fresh.Poll(context.Background(), handle)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if status != backend.JobStatusRunning {
		t.Fatalf("expected RUNNING from liveness probe, got %s", status)
	}
}

// TestPollReportsJobLostWhenPidIsGone covers the restart-and-process-died
// scenario the review called out: no sentinel, and the pid no longer
// belongs to any live process. Poll must return backend.ErrJobLost so the
// engine fails the attempt instead of retrying it forever.
func TestPollReportsJobLostWhenPidIsGone(t *testing.T) {
	workDir := t.TempDir()
	fresh := New()

	// A pid vanishingly unlikely to be alive, and definitely not a process
	// this test started.
	handle := encodeHandle(1<<30-1, workDir)

	_, err := fresh.Poll(context.Background(), handle)
	if err == nil {
		t.Fatal("expected an error for an untracked handle with a dead pid")
	}
	if !errors.Is(err, backend.ErrJobLost) {
		t.Fatalf("expected backend.ErrJobLost, got %v", err)
	}
}

func TestPollReportsJobLostOnMalformedHandle(t *testing.T) {
	fresh := New()
	_, err := fresh.Poll(context.Background(), "not-a-handle")
	if err == nil {
		t.Fatal("expected an error for a malformed handle")
	}
	if !errors.Is(err, backend.ErrJobLost) {
		t.Fatalf("expected backend.ErrJobLost, got %v", err)
	}
}

func TestCancelRefusesUntrackedHandle(t *testing.T) {
	fresh := New()
	handle := encodeHandle(os.Getpid(), t.TempDir())
	if err := fresh.Cancel(context.Background(), handle); err == nil {
		t.Fatal("expected Cancel to refuse a handle this process never submitted")
	}
}

func TestDecodeHandleRoundTrip(t *testing.T) {
	want := filepath.Join("a", "b", "c")
	handle := encodeHandle(4242, want)
	pid, dir, err := decodeHandle(handle)
	if err != nil {
		t.Fatalf("decodeHandle: %v", err)
	}
	if pid != 4242 || dir != want {
		t.Fatalf("round trip mismatch: pid=%d dir=%s", pid, dir)
	}
}

func TestExitSentinelRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeExitSentinel(dir, 3)
	code, ok, err := readExitSentinel(dir)
	if err != nil {
		t.Fatalf("readExitSentinel: %v", err)
	}
	if !ok {
		t.Fatal("expected sentinel to be found")
	}
	if code != 3 {
		t.Fatalf("expected code 3, got %d", code)
	}
}

func TestReadExitSentinelMissingIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := readExitSentinel(dir)
	if err != nil {
		t.Fatalf("readExitSentinel: %v", err)
	}
	if ok {
		t.Fatal("expected no sentinel to be found")
	}
}

func TestProcessAliveForCurrentProcess(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Fatal("expected the current process to report as alive")
	}
}

func TestStageCopiesTaskFiles(t *testing.T) {
	runRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(runRoot, "input.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("seed input file: %v", err)
	}

	b := New()
	task := models.Task{TaskID: "t1", Command: "true", Files: []string{"input.txt"}}
	workDir, err := b.Stage(context.Background(), runRoot, task, testAttempt())
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(workDir, "input.txt"))
	if err != nil {
		t.Fatalf("expected staged input.txt in work dir: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("expected staged file content %q, got %q", "hello", data)
	}
}

func TestCollectCopiesMatchingPatterns(t *testing.T) {
	runRoot := t.TempDir()
	b := New()
	task := models.Task{TaskID: "t1"}
	attempt := testAttempt()

	workDir, err := b.Stage(context.Background(), runRoot, task, attempt)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if err := os.WriteFile(filepath.Join(workDir, "result.csv"), []byte("1,2,3"), 0o644); err != nil {
		t.Fatalf("seed output file: %v", err)
	}

	collected, err := b.Collect(context.Background(), runRoot, task, attempt, []string{"*.csv"})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(collected) != 1 {
		t.Fatalf("expected 1 collected file, got %d: %v", len(collected), collected)
	}
	data, err := os.ReadFile(collected[0])
	if err != nil {
		t.Fatalf("read collected file: %v", err)
	}
	if string(data) != "1,2,3" {
		t.Fatalf("unexpected collected content: %q", data)
	}
}

func TestCollectFailsWhenPatternsMatchNothing(t *testing.T) {
	runRoot := t.TempDir()
	b := New()
	task := models.Task{TaskID: "t1"}
	attempt := testAttempt()

	if _, err := b.Stage(context.Background(), runRoot, task, attempt); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	_, err := b.Collect(context.Background(), runRoot, task, attempt, []string{"*.csv"})
	var missing *errs.MissingOutputsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingOutputsError, got %v", err)
	}
}

func TestEncodeHandleFormat(t *testing.T) {
	handle := encodeHandle(99, "/tmp/x")
	if handle != "99:/tmp/x" {
		t.Fatalf("unexpected handle format: %s", handle)
	}
	pid, _, err := decodeHandle(handle)
	if err != nil {
		t.Fatalf("decodeHandle: %v", err)
	}
	if strconv.Itoa(pid) != "99" {
		t.Fatalf("unexpected decoded pid: %d", pid)
	}
}
