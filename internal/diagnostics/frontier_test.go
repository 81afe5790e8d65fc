package diagnostics

import (
	"testing"

	"github.com/matterstack/matterstack/internal/models"
)

func TestFrontierWaitingDependency(t *testing.T) {
	tasks := []models.Task{
		{TaskID: "a", Status: models.TaskStatusPending},
		{TaskID: "b", Status: models.TaskStatusPending, Dependencies: []string{"a"}},
	}
	items := Frontier(tasks, nil)

	var b *FrontierItem
	for i := range items {
		if items[i].TaskID == "b" {
			b = &items[i]
		}
	}
	if b == nil {
		t.Fatal("expected frontier entry for task b")
	}
	if b.Classification != WaitingDependency {
		t.Fatalf("expected WAITING_DEPENDENCY, got %s", b.Classification)
	}
	if len(b.BlockingDeps) != 1 || b.BlockingDeps[0] != "a" {
		t.Fatalf("expected blocked on a, got %v", b.BlockingDeps)
	}
}

func TestFrontierReady(t *testing.T) {
	tasks := []models.Task{{TaskID: "a", Status: models.TaskStatusPending}}
	items := Frontier(tasks, nil)
	if len(items) != 1 || items[0].Classification != Ready {
		t.Fatalf("expected READY, got %+v", items)
	}
}

func TestFrontierWaitingExternal(t *testing.T) {
	tasks := []models.Task{{TaskID: "a", Status: models.TaskStatusWaitingExternal, OperatorKey: "human.default"}}
	attempts := map[string]models.Attempt{
		"a": {TaskID: "a", Status: models.AttemptStatusWaitingExternal, OperatorKey: "human.default", Handle: "/run/tasks/a/attempts/1"},
	}
	items := Frontier(tasks, attempts)
	if len(items) != 1 || items[0].Classification != WaitingExternal {
		t.Fatalf("expected WAITING_EXTERNAL, got %+v", items)
	}
	if items[0].Hint == "" {
		t.Fatal("expected a non-empty hint")
	}
}

func TestFrontierSkipsTerminalTasks(t *testing.T) {
	tasks := []models.Task{{TaskID: "a", Status: models.TaskStatusCompleted}}
	if items := Frontier(tasks, nil); len(items) != 0 {
		t.Fatalf("expected no frontier entries for terminal tasks, got %v", items)
	}
}
