// Package wiring resolves the canonical operator-backend configuration a
// run is wired to, following a fixed precedence chain, and persists the
// winning document as an immutable filesystem snapshot under the run
// root (operators_snapshot/) so later ticks and later CLI invocations
// stay consistent unless explicitly overridden.
package wiring

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/matterstack/matterstack/internal/errs"
)

// EnvOperatorsConfig is the environment variable carrying a path to an
// operators.yaml document, the precedence tier below the workspace
// default and above the legacy single-backend fallback.
const EnvOperatorsConfig = "MATTERSTACK_OPERATORS_CONFIG"

// Source names the precedence tier a wiring decision came from.
const (
	SourceCLI       = "cli"
	SourceRun       = "run"
	SourceWorkspace = "workspace"
	SourceEnv       = "env"
	SourceLegacy    = "legacy"
)

// legacyOperatorsConfig is synthesized when no explicit configuration is
// available anywhere in the precedence chain: a single local operator,
// matching the pre-v0.2.7 implicit default.
const legacyOperatorsConfig = "operators:\n  local.default:\n    kind: local\n"

// Request carries every candidate source for a run's operator wiring,
// most of which are normally empty.
type Request struct {
	RunRoot             string
	CLIConfigPath       string // --operators-config flag value
	WorkspaceConfigPath string // workspaces/<slug>/operators.yaml
	Force               bool
}

// Resolved is the outcome of resolving a Request: the winning document's
// bytes, which tier it came from, its hash, and where it now lives.
type Resolved struct {
	RawConfig    string
	Source       string
	Hash         string
	SnapshotPath string
}

type snapshotPaths struct {
	dir, yaml, metadata, history string
}

func paths(runRoot string) snapshotPaths {
	dir := filepath.Join(runRoot, "operators_snapshot")
	return snapshotPaths{
		dir:      dir,
		yaml:     filepath.Join(dir, "operators.yaml"),
		metadata: filepath.Join(dir, "metadata.json"),
		history:  filepath.Join(dir, "history.jsonl"),
	}
}

type metadataDoc struct {
	SchemaVersion int       `json:"schema_version"`
	Source        string    `json:"source"`
	ResolvedPath  string    `json:"resolved_path"`
	SHA256        string    `json:"sha256"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type historyEntry struct {
	At           time.Time `json:"at"`
	Event        string    `json:"event"`
	Source       string    `json:"source"`
	SHA256       string    `json:"sha256"`
	ResolvedPath string    `json:"resolved_path,omitempty"`
	Detail       string    `json:"detail,omitempty"`
}

// Resolve walks the precedence chain (CLI > run-persisted snapshot >
// workspace default > env var > legacy fallback) and ensures the winning
// configuration is persisted as this run's immutable operators_snapshot.
// Once a run has a persisted snapshot, only a CLI override with
// req.Force=true can change it; any other override attempt fails with a
// WiringOverrideError and leaves the snapshot untouched.
func Resolve(req Request) (Resolved, error) {
	p := paths(req.RunRoot)

	existing, hasExisting, err := readSnapshot(p.yaml)
	if err != nil {
		return Resolved{}, err
	}

	if req.CLIConfigPath != "" {
		data, err := os.ReadFile(req.CLIConfigPath)
		if err != nil {
			return Resolved{}, fmt.Errorf("wiring: read CLI operators config %s: %w", req.CLIConfigPath, err)
		}
		hash := hashConfig(data)

		if hasExisting {
			existingHash := hashConfig(existing)
			if hash == existingHash {
				return Resolved{RawConfig: string(existing), Source: SourceRun, Hash: hash, SnapshotPath: p.yaml}, nil
			}
			if !req.Force {
				if err := appendHistory(p.history, historyEntry{Event: "WIRING_OVERRIDE_REFUSED", Source: SourceCLI, SHA256: hash, ResolvedPath: req.CLIConfigPath}); err != nil {
					return Resolved{}, err
				}
				return Resolved{}, &errs.WiringOverrideError{OperatorKey: "*", Existing: existingHash, Requested: hash}
			}
			if err := persist(p, data, SourceCLI, req.CLIConfigPath, "WIRING_OVERRIDE_FORCED"); err != nil {
				return Resolved{}, err
			}
			return Resolved{RawConfig: string(data), Source: SourceCLI, Hash: hash, SnapshotPath: p.yaml}, nil
		}

		if err := persist(p, data, SourceCLI, req.CLIConfigPath, "WIRING_PERSISTED"); err != nil {
			return Resolved{}, err
		}
		return Resolved{RawConfig: string(data), Source: SourceCLI, Hash: hash, SnapshotPath: p.yaml}, nil
	}

	if hasExisting {
		hash := hashConfig(existing)
		if err := ensureProvenance(p, hash); err != nil {
			return Resolved{}, err
		}
		return Resolved{RawConfig: string(existing), Source: SourceRun, Hash: hash, SnapshotPath: p.yaml}, nil
	}

	if req.WorkspaceConfigPath != "" {
		data, err := os.ReadFile(req.WorkspaceConfigPath)
		switch {
		case err == nil:
			hash := hashConfig(data)
			if err := persist(p, data, SourceWorkspace, req.WorkspaceConfigPath, "WIRING_PERSISTED"); err != nil {
				return Resolved{}, err
			}
			return Resolved{RawConfig: string(data), Source: SourceWorkspace, Hash: hash, SnapshotPath: p.yaml}, nil
		case !os.IsNotExist(err):
			return Resolved{}, fmt.Errorf("wiring: read workspace operators config %s: %w", req.WorkspaceConfigPath, err)
		}
	}

	if envPath := os.Getenv(EnvOperatorsConfig); envPath != "" {
		data, err := os.ReadFile(envPath)
		if err != nil {
			return Resolved{}, fmt.Errorf("wiring: read %s=%s: %w", EnvOperatorsConfig, envPath, err)
		}
		hash := hashConfig(data)
		if err := persist(p, data, SourceEnv, envPath, "WIRING_PERSISTED"); err != nil {
			return Resolved{}, err
		}
		return Resolved{RawConfig: string(data), Source: SourceEnv, Hash: hash, SnapshotPath: p.yaml}, nil
	}

	data := []byte(legacyOperatorsConfig)
	hash := hashConfig(data)
	if err := persist(p, data, SourceLegacy, "", "WIRING_PERSISTED"); err != nil {
		return Resolved{}, err
	}
	return Resolved{RawConfig: string(data), Source: SourceLegacy, Hash: hash, SnapshotPath: p.yaml}, nil
}

func readSnapshot(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("wiring: read snapshot %s: %w", path, err)
	}
	return data, true, nil
}

func persist(p snapshotPaths, data []byte, source, resolvedPath, event string) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("wiring: create snapshot dir %s: %w", p.dir, err)
	}
	if err := os.WriteFile(p.yaml, data, 0o644); err != nil {
		return fmt.Errorf("wiring: write snapshot %s: %w", p.yaml, err)
	}

	hash := hashConfig(data)
	now := time.Now()
	meta := metadataDoc{SchemaVersion: 1, Source: source, ResolvedPath: resolvedPath, SHA256: hash, CreatedAt: now, UpdatedAt: now}
	if prior, err := readMetadata(p.metadata); err == nil {
		meta.CreatedAt = prior.CreatedAt
	}
	if err := writeMetadata(p.metadata, meta); err != nil {
		return err
	}
	return appendHistory(p.history, historyEntry{At: now, Event: event, Source: source, SHA256: hash, ResolvedPath: resolvedPath})
}

// ensureProvenance reconstructs metadata.json/history.jsonl for a
// snapshot that already exists on disk but predates either file, so
// older runs stay explainable.
func ensureProvenance(p snapshotPaths, hash string) error {
	if _, err := os.Stat(p.metadata); err == nil {
		return nil
	}
	now := time.Now()
	meta := metadataDoc{SchemaVersion: 1, Source: SourceRun, ResolvedPath: p.yaml, SHA256: hash, CreatedAt: now, UpdatedAt: now}
	if err := writeMetadata(p.metadata, meta); err != nil {
		return err
	}
	return appendHistory(p.history, historyEntry{At: now, Event: "WIRING_PERSISTED", Source: SourceRun, SHA256: hash, Detail: "reconstructed metadata for existing snapshot"})
}

func readMetadata(path string) (metadataDoc, error) {
	var meta metadataDoc
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

func writeMetadata(path string, meta metadataDoc) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("wiring: marshal metadata: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("wiring: write metadata %s: %w", path, err)
	}
	return nil
}

func appendHistory(path string, entry historyEntry) error {
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("wiring: marshal history entry: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("wiring: open history %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("wiring: append history %s: %w", path, err)
	}
	return nil
}

func hashConfig(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SnapshotSHA256 returns the sha256 of the bytes currently on disk at
// <run_root>/operators_snapshot/operators.yaml, so callers can check a
// persisted snapshot's recorded hash still matches its bytes.
func SnapshotSHA256(runRoot string) (string, error) {
	data, hasExisting, err := readSnapshot(paths(runRoot).yaml)
	if err != nil {
		return "", err
	}
	if !hasExisting {
		return "", fmt.Errorf("wiring: no snapshot at %s", paths(runRoot).yaml)
	}
	return hashConfig(data), nil
}

var (
	kindPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)
)

var supportedKinds = map[string]bool{"hpc": true, "local": true, "human": true, "experiment": true}

var supportedBackendTypes = map[string]bool{"local": true, "slurm": true, "profile": true, "legacy": true}

// ComputeBackend discriminates how a compute operator (hpc or local
// kind) reaches its backend.Backend implementation.
type ComputeBackend struct {
	Type      string            `yaml:"type"`
	Host      string            `yaml:"host"`
	User      string            `yaml:"user"`
	Partition string            `yaml:"partition"`
	Account   string            `yaml:"account"`
	Profile   string            `yaml:"profile"`
	Extra     map[string]string `yaml:"extra"`
}

// BackendSpec is one operator key's parsed backend configuration.
type BackendSpec struct {
	Kind    string          `yaml:"kind"`
	Backend *ComputeBackend `yaml:"backend"`
}

// ParseOperatorsConfig decodes a resolved wiring snapshot's raw document
// (`operators: {<kind>.<name>: {...}}`) into one validated BackendSpec
// per key. It rejects malformed keys, a kind field that disagrees with
// the key's own kind segment, an unsupported kind or backend.type, and
// any field the schema does not recognize.
func ParseOperatorsConfig(raw string) (map[string]BackendSpec, error) {
	var doc struct {
		Operators map[string]yaml.Node `yaml:"operators"`
	}
	dec := yaml.NewDecoder(strings.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("wiring: parse operators config: %w", err)
	}

	specs := make(map[string]BackendSpec, len(doc.Operators))
	for key, node := range doc.Operators {
		kind, err := validateKey(key)
		if err != nil {
			return nil, err
		}

		var spec BackendSpec
		if err := decodeKnownFields(&node, &spec); err != nil {
			return nil, fmt.Errorf("wiring: operator %s: %w", key, err)
		}
		if spec.Kind == "" {
			spec.Kind = kind
		}
		if spec.Kind != kind {
			return nil, fmt.Errorf("wiring: operator %s: kind field %q does not match key kind %q", key, spec.Kind, kind)
		}
		if !supportedKinds[spec.Kind] {
			return nil, fmt.Errorf("wiring: operator %s: unknown kind %q", key, spec.Kind)
		}
		if spec.Backend != nil && !supportedBackendTypes[spec.Backend.Type] {
			return nil, fmt.Errorf("wiring: operator %s: unknown backend.type %q", key, spec.Backend.Type)
		}
		specs[key] = spec
	}
	return specs, nil
}

// validateKey checks an operator key matches "<kind>.<name>" with
// kind ~ [a-z][a-z0-9_]* and name ~ [a-z0-9][a-z0-9_.-]*, split on the
// first dot, and returns the kind segment.
func validateKey(key string) (string, error) {
	idx := strings.IndexByte(key, '.')
	if idx <= 0 || idx == len(key)-1 {
		return "", fmt.Errorf("wiring: operator key %q must be of the form <kind>.<name>", key)
	}
	kind, name := key[:idx], key[idx+1:]
	if !kindPattern.MatchString(kind) {
		return "", fmt.Errorf("wiring: operator key %q has an invalid kind segment %q", key, kind)
	}
	if !namePattern.MatchString(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("wiring: operator key %q has an invalid name segment %q", key, name)
	}
	return kind, nil
}

func decodeKnownFields(node *yaml.Node, out interface{}) error {
	data, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}
