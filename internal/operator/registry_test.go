package operator

import (
	"context"
	"testing"

	"github.com/matterstack/matterstack/internal/models"
)

type stubOperator struct{ name string }

func (s *stubOperator) PrepareRun(context.Context, models.Task, models.Attempt) (string, error) {
	return s.name, nil
}
func (s *stubOperator) Submit(context.Context, models.Task, models.Attempt, string) (string, error) {
	return s.name, nil
}
func (s *stubOperator) CheckStatus(context.Context, models.Attempt) (models.AttemptStatus, error) {
	return models.AttemptStatusCompleted, nil
}
func (s *stubOperator) CollectResults(context.Context, models.Task, models.Attempt) (Result, error) {
	return Result{}, nil
}

func TestRegistryResolvesCanonicalAndLegacyKeys(t *testing.T) {
	local := &stubOperator{name: "local"}
	reg := NewRegistry(map[string]Operator{"local.default": local})

	got, err := reg.Resolve("local.default")
	if err != nil || got != local {
		t.Fatalf("expected canonical resolve to return local, got %v err %v", got, err)
	}

	got, err = reg.Resolve("Local")
	if err != nil || got != local {
		t.Fatalf("expected legacy alias resolve to return local, got %v err %v", got, err)
	}
}

func TestRegistryUnknownKey(t *testing.T) {
	reg := NewRegistry(map[string]Operator{})
	if _, err := reg.Resolve("nonexistent"); err == nil {
		t.Fatal("expected error for unknown operator key")
	}
}

func TestCanonicalize(t *testing.T) {
	if got := Canonicalize("HPC"); got != "hpc.default" {
		t.Fatalf("expected hpc.default, got %s", got)
	}
	if got := Canonicalize("hpc.default"); got != "hpc.default" {
		t.Fatalf("expected passthrough, got %s", got)
	}
}

func TestRegistryKeysExcludesLegacy(t *testing.T) {
	reg := NewRegistry(map[string]Operator{"local.default": &stubOperator{}})
	keys := reg.Keys()
	if len(keys) != 1 || keys[0] != "local.default" {
		t.Fatalf("expected only canonical keys, got %v", keys)
	}
}
