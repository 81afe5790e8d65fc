package wiring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolvePrecedenceCLIWins(t *testing.T) {
	dir := t.TempDir()
	cliPath := writeFile(t, dir, "cli.yaml", "operators:\n  hpc.default:\n    kind: hpc\n    backend:\n      type: slurm\n      host: cli-host\n")
	wsPath := writeFile(t, dir, "workspace.yaml", "operators:\n  hpc.default:\n    kind: hpc\n    backend:\n      type: slurm\n      host: workspace-host\n")

	runRoot := filepath.Join(dir, "run")
	res, err := Resolve(Request{RunRoot: runRoot, CLIConfigPath: cliPath, WorkspaceConfigPath: wsPath})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Source != SourceCLI {
		t.Fatalf("expected cli source, got %s", res.Source)
	}
}

func TestResolveFallsBackToLegacy(t *testing.T) {
	runRoot := filepath.Join(t.TempDir(), "run")
	res, err := Resolve(Request{RunRoot: runRoot})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Source != SourceLegacy {
		t.Fatalf("expected legacy source, got %s", res.Source)
	}
}

func TestResolvePersistsSnapshotToDisk(t *testing.T) {
	dir := t.TempDir()
	wsPath := writeFile(t, dir, "workspace.yaml", "operators:\n  local.default:\n    kind: local\n")
	runRoot := filepath.Join(dir, "run")

	res, err := Resolve(Request{RunRoot: runRoot, WorkspaceConfigPath: wsPath})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	snapPath := filepath.Join(runRoot, "operators_snapshot", "operators.yaml")
	data, err := os.ReadFile(snapPath)
	if err != nil {
		t.Fatalf("expected %s to exist: %v", snapPath, err)
	}
	if string(data) != res.RawConfig {
		t.Fatalf("snapshot bytes don't match resolved config")
	}

	metaPath := filepath.Join(runRoot, "operators_snapshot", "metadata.json")
	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("expected metadata.json to exist: %v", err)
	}
	var meta metadataDoc
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		t.Fatalf("unmarshal metadata.json: %v", err)
	}
	if meta.Source != SourceWorkspace {
		t.Fatalf("expected metadata source %s, got %s", SourceWorkspace, meta.Source)
	}
	if meta.SHA256 != hashConfig([]byte(res.RawConfig)) {
		t.Fatal("metadata sha256 doesn't match snapshot bytes")
	}

	histPath := filepath.Join(runRoot, "operators_snapshot", "history.jsonl")
	if _, err := os.Stat(histPath); err != nil {
		t.Fatalf("expected history.jsonl to exist: %v", err)
	}
}

func TestResolveReusesExistingSnapshot(t *testing.T) {
	dir := t.TempDir()
	wsPath := writeFile(t, dir, "workspace.yaml", "operators:\n  local.default:\n    kind: local\n")
	runRoot := filepath.Join(dir, "run")

	first, err := Resolve(Request{RunRoot: runRoot, WorkspaceConfigPath: wsPath})
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}

	second, err := Resolve(Request{RunRoot: runRoot})
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if second.Hash != first.Hash {
		t.Fatalf("expected persisted snapshot to win: %+v vs %+v", second, first)
	}
	if second.Source != SourceRun {
		t.Fatalf("expected run-persisted source on reuse, got %s", second.Source)
	}
}

func TestResolveRejectsCLIOverrideWithoutForce(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "first.yaml", "operators:\n  local.default:\n    kind: local\n")
	second := writeFile(t, dir, "second.yaml", "operators:\n  local.default:\n    kind: local\n    backend:\n      type: local\n")
	runRoot := filepath.Join(dir, "run")

	if _, err := Resolve(Request{RunRoot: runRoot, CLIConfigPath: first}); err != nil {
		t.Fatalf("initial Resolve: %v", err)
	}

	_, err := Resolve(Request{RunRoot: runRoot, CLIConfigPath: second})
	if err == nil {
		t.Fatal("expected override rejection without force")
	}

	histPath := filepath.Join(runRoot, "operators_snapshot", "history.jsonl")
	data, err := os.ReadFile(histPath)
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	if !strings.Contains(string(data), "WIRING_OVERRIDE_REFUSED") {
		t.Fatal("expected a refusal entry in history.jsonl")
	}
}

func TestResolveAllowsForcedOverride(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "first.yaml", "operators:\n  local.default:\n    kind: local\n")
	second := writeFile(t, dir, "second.yaml", "operators:\n  local.default:\n    kind: local\n    backend:\n      type: local\n")
	runRoot := filepath.Join(dir, "run")

	if _, err := Resolve(Request{RunRoot: runRoot, CLIConfigPath: first}); err != nil {
		t.Fatalf("initial Resolve: %v", err)
	}

	res, err := Resolve(Request{RunRoot: runRoot, CLIConfigPath: second, Force: true})
	if err != nil {
		t.Fatalf("forced Resolve: %v", err)
	}
	wantHash, err := SnapshotSHA256(runRoot)
	if err != nil {
		t.Fatalf("SnapshotSHA256: %v", err)
	}
	if res.Hash != wantHash {
		t.Fatal("resolved hash doesn't match on-disk snapshot after forced override")
	}
}

func TestParseOperatorsConfig(t *testing.T) {
	raw := "operators:\n" +
		"  hpc.default:\n" +
		"    kind: hpc\n" +
		"    backend:\n" +
		"      type: slurm\n" +
		"      host: login.example.edu\n" +
		"      partition: gpu\n" +
		"  local.default:\n" +
		"    kind: local\n"

	specs, err := ParseOperatorsConfig(raw)
	if err != nil {
		t.Fatalf("ParseOperatorsConfig: %v", err)
	}
	hpc, ok := specs["hpc.default"]
	if !ok || hpc.Backend == nil || hpc.Backend.Type != "slurm" || hpc.Backend.Host != "login.example.edu" || hpc.Backend.Partition != "gpu" {
		t.Fatalf("unexpected hpc spec: %+v", hpc)
	}
	if specs["local.default"].Kind != "local" {
		t.Fatalf("unexpected local spec: %+v", specs["local.default"])
	}
}

func TestParseOperatorsConfigRejectsUnknownFields(t *testing.T) {
	raw := "operators:\n  local.default:\n    kind: local\n    bogus_field: 1\n"
	if _, err := ParseOperatorsConfig(raw); err == nil {
		t.Fatal("expected an error for an unknown field")
	}
}

func TestParseOperatorsConfigRejectsKindKeyMismatch(t *testing.T) {
	raw := "operators:\n  hpc.default:\n    kind: local\n"
	if _, err := ParseOperatorsConfig(raw); err == nil {
		t.Fatal("expected an error when kind field disagrees with key kind")
	}
}

func TestParseOperatorsConfigRejectsUnknownKind(t *testing.T) {
	raw := "operators:\n  ghost.default:\n    kind: ghost\n"
	if _, err := ParseOperatorsConfig(raw); err == nil {
		t.Fatal("expected an error for an unknown kind")
	}
}

func TestParseOperatorsConfigRejectsMalformedKey(t *testing.T) {
	cases := []string{
		"operators:\n  Hpc.default:\n    kind: hpc\n",
		"operators:\n  hpc..default:\n    kind: hpc\n",
		"operators:\n  hpconly:\n    kind: hpc\n",
	}
	for _, raw := range cases {
		if _, err := ParseOperatorsConfig(raw); err == nil {
			t.Fatalf("expected an error for malformed key in %q", raw)
		}
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
