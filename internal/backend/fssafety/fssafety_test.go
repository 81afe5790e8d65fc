package fssafety

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/matterstack/matterstack/internal/errs"
)

func TestEnsureUnderRunRootRelative(t *testing.T) {
	root := t.TempDir()
	got, err := EnsureUnderRunRoot(root, "attempts/attempt-1")
	if err != nil {
		t.Fatalf("EnsureUnderRunRoot: %v", err)
	}
	want := filepath.Join(root, "attempts", "attempt-1")
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestEnsureUnderRunRootEscape(t *testing.T) {
	root := t.TempDir()
	_, err := EnsureUnderRunRoot(root, "../escaped")
	var pathErr *errs.PathSafetyError
	if !errors.As(err, &pathErr) {
		t.Fatalf("expected PathSafetyError, got %v", err)
	}
}

func TestOperatorRunDirSanitizesHint(t *testing.T) {
	root := t.TempDir()
	got, err := OperatorRunDir(root, "task one", "weird hint!!")
	if err != nil {
		t.Fatalf("OperatorRunDir: %v", err)
	}
	if filepath.Base(got) != "weird_hint" {
		t.Fatalf("expected sanitized dir name weird_hint, got %s", filepath.Base(got))
	}
	want := filepath.Join(root, "tasks", "task_one", "attempts", "weird_hint")
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestOperatorRunDirRejectsEmptyHint(t *testing.T) {
	root := t.TempDir()
	if _, err := OperatorRunDir(root, "task-1", "!!!"); err == nil {
		t.Fatal("expected error for attempt hint that sanitizes to empty")
	}
	if _, err := OperatorRunDir(root, "!!!", "attempt-1"); err == nil {
		t.Fatal("expected error for task hint that sanitizes to empty")
	}
}
