package wire

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/matterstack/matterstack/internal/ids"
	"github.com/matterstack/matterstack/internal/models"
	"github.com/matterstack/matterstack/internal/store"
	"github.com/matterstack/matterstack/internal/wiring"
)

func TestWorkspaceConfigPathJoinsRootAndSlug(t *testing.T) {
	got := WorkspaceConfigPath("/workspaces", "acme")
	want := filepath.Join("/workspaces", "acme", "operators.yaml")
	if got != want {
		t.Fatalf("WorkspaceConfigPath: got %q, want %q", got, want)
	}
}

func TestWorkspaceConfigPathEmptyInputs(t *testing.T) {
	if got := WorkspaceConfigPath("", "acme"); got != "" {
		t.Fatalf("expected empty path for empty root, got %q", got)
	}
	if got := WorkspaceConfigPath("/workspaces", ""); got != "" {
		t.Fatalf("expected empty path for empty slug, got %q", got)
	}
}

func TestResolveWiringFallsBackToLegacyLocal(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(dir)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	runID := ids.RunID()
	if err := st.CreateRun(models.Run{RunID: runID, WorkspaceSlug: "demo", RootPath: dir}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	specs, resolved, err := ResolveWiring(st, runID, dir, wiring.Request{})
	if err != nil {
		t.Fatalf("ResolveWiring: %v", err)
	}
	if resolved.Source != wiring.SourceLegacy {
		t.Fatalf("expected legacy fallback source, got %s", resolved.Source)
	}
	if _, ok := specs["local.default"]; !ok {
		t.Fatalf("expected legacy fallback to define local.default, got %+v", specs)
	}

	snapshot, ok, err := st.GetWiringSnapshot(runID, "*")
	if err != nil {
		t.Fatalf("GetWiringSnapshot: %v", err)
	}
	if !ok {
		t.Fatal("expected a wiring snapshot row to be indexed")
	}
	if snapshot.BackendHash != resolved.Hash {
		t.Fatalf("store index hash %s does not match resolved hash %s", snapshot.BackendHash, resolved.Hash)
	}
}

func TestResolveWiringReadsWorkspaceDefault(t *testing.T) {
	dir := t.TempDir()
	wsConfig := filepath.Join(dir, "operators.yaml")
	content := "operators:\n  local.default:\n    kind: local\n  human.default:\n    kind: human\n"
	if err := os.WriteFile(wsConfig, []byte(content), 0o644); err != nil {
		t.Fatalf("write operators.yaml: %v", err)
	}

	runRoot := filepath.Join(dir, "run")
	specs, resolved, err := ResolveWiring(nil, ids.RunID(), runRoot, wiring.Request{WorkspaceConfigPath: wsConfig})
	if err != nil {
		t.Fatalf("ResolveWiring: %v", err)
	}
	if resolved.Source != wiring.SourceWorkspace {
		t.Fatalf("expected workspace source, got %s", resolved.Source)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 operator specs, got %d: %+v", len(specs), specs)
	}
	if spec, ok := specs["human.default"]; !ok || spec.Kind != "human" {
		t.Fatalf("expected human.default with kind human, got %+v", specs["human.default"])
	}
}

func TestBuildRegistryAlwaysIncludesLocalDefault(t *testing.T) {
	dir := t.TempDir()
	reg, err := BuildRegistry(dir, map[string]wiring.BackendSpec{}, nil)
	if err != nil {
		t.Fatalf("BuildRegistry: %v", err)
	}
	if _, err := reg.Resolve("local.default"); err != nil {
		t.Fatalf("expected local.default to resolve: %v", err)
	}
}

func TestBuildRegistryErrorsOnUnresolvedKey(t *testing.T) {
	dir := t.TempDir()
	_, err := BuildRegistry(dir, map[string]wiring.BackendSpec{}, []string{"hpc.cluster"})
	if err == nil {
		t.Fatal("expected an error for an operator key absent from the resolved config")
	}
}

func TestBuildRegistryRejectsHPCWithoutSlurmBackend(t *testing.T) {
	dir := t.TempDir()
	specs := map[string]wiring.BackendSpec{
		"hpc.cluster": {Kind: "hpc"},
	}
	_, err := BuildRegistry(dir, specs, []string{"hpc.cluster"})
	if err == nil {
		t.Fatal("expected an error for an hpc operator with no backend.type: slurm")
	}
}
