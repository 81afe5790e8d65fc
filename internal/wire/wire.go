// Package wire assembles the engine, registry, and backends a CLI
// invocation needs for one run: it resolves operator wiring, builds the
// concrete backends each wiring decision names, and hands back a ready
// engine.Engine. Each CLI process builds its own graph; there is no
// long-lived singleton because a run's wiring can change between ticks.
package wire

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/matterstack/matterstack/internal/backend/hpc"
	"github.com/matterstack/matterstack/internal/backend/local"
	"github.com/matterstack/matterstack/internal/core/campaign"
	"github.com/matterstack/matterstack/internal/engine"
	"github.com/matterstack/matterstack/internal/errs"
	"github.com/matterstack/matterstack/internal/models"
	"github.com/matterstack/matterstack/internal/operator"
	opcompute "github.com/matterstack/matterstack/internal/operator/compute"
	opexperiment "github.com/matterstack/matterstack/internal/operator/experiment"
	ophuman "github.com/matterstack/matterstack/internal/operator/human"
	"github.com/matterstack/matterstack/internal/store"
	"github.com/matterstack/matterstack/internal/wiring"
)

// WorkspaceConfigPath returns the canonical workspace-level operators.yaml
// path for a workspace slug, used as the workspace-default tier in
// wiring.Resolve.
func WorkspaceConfigPath(workspacesRoot, workspaceSlug string) string {
	if workspacesRoot == "" || workspaceSlug == "" {
		return ""
	}
	return filepath.Join(workspacesRoot, workspaceSlug, "operators.yaml")
}

// ResolveWiring resolves and persists this run's operator wiring
// snapshot under <run_root>/operators_snapshot/ (the filesystem object
// the engine and CLI both treat as the source of truth) and parses it
// into one BackendSpec per operator key. It also indexes the resolution
// in the state store, purely as a query convenience: the on-disk
// snapshot is authoritative, the store row is secondary.
func ResolveWiring(st *store.Store, runID, runRoot string, req wiring.Request) (map[string]wiring.BackendSpec, wiring.Resolved, error) {
	req.RunRoot = runRoot
	resolved, err := wiring.Resolve(req)
	if err != nil {
		return nil, wiring.Resolved{}, err
	}

	specs, err := wiring.ParseOperatorsConfig(resolved.RawConfig)
	if err != nil {
		return nil, wiring.Resolved{}, err
	}

	if st != nil {
		if err := st.PutWiringSnapshot(models.OperatorWiringSnapshot{
			RunID:       runID,
			OperatorKey: "*",
			BackendHash: resolved.Hash,
			Source:      resolved.Source,
			RawConfig:   resolved.RawConfig,
			ResolvedAt:  time.Now(),
		}); err != nil {
			return nil, wiring.Resolved{}, fmt.Errorf("wire: index wiring snapshot: %w", err)
		}
	}

	return specs, resolved, nil
}

// BuildRegistry constructs one Operator per key a workflow's tasks
// reference, using the resolved backend specs, plus the canonical
// local.default fallback so dispatch never finds an empty registry. A
// referenced key absent from the resolved config is a hard error: there
// is nothing to fall back to for an operator the run explicitly wires.
func BuildRegistry(runRoot string, specs map[string]wiring.BackendSpec, keys []string) (*operator.Registry, error) {
	canonical := map[string]operator.Operator{}
	for _, key := range dedupe(keys) {
		spec, ok := specs[key]
		if !ok {
			return nil, &errs.NotFoundError{Kind: "operator config", ID: key}
		}
		op, err := buildOperator(spec, runRoot, key)
		if err != nil {
			return nil, fmt.Errorf("wire: build operator %s: %w", key, err)
		}
		canonical[key] = op
	}

	if _, ok := canonical["local.default"]; !ok {
		spec := specs["local.default"]
		if spec.Kind == "" {
			spec.Kind = "local"
		}
		op, err := buildOperator(spec, runRoot, "local.default")
		if err != nil {
			return nil, fmt.Errorf("wire: build local.default: %w", err)
		}
		canonical["local.default"] = op
	}

	return operator.NewRegistry(canonical), nil
}

func buildOperator(spec wiring.BackendSpec, runRoot, operatorKey string) (operator.Operator, error) {
	switch spec.Kind {
	case "", "local":
		return opcompute.New(local.New(), runRoot, operatorKey), nil

	case "hpc":
		if spec.Backend == nil || spec.Backend.Type != "slurm" {
			return nil, fmt.Errorf("wire: hpc operator %s requires backend.type: slurm", operatorKey)
		}
		signer, err := hpcSigner(*spec.Backend)
		if err != nil {
			return nil, err
		}
		b := hpc.New(hpc.Config{
			Host:       spec.Backend.Host,
			User:       spec.Backend.User,
			Signer:     signer,
			RemoteRoot: spec.Backend.Extra["remote_root"],
			Partition:  spec.Backend.Partition,
			Account:    spec.Backend.Account,
		})
		return opcompute.New(b, runRoot, operatorKey), nil

	case "human":
		return ophuman.New(runRoot), nil

	case "experiment":
		return opexperiment.New(runRoot), nil

	default:
		return nil, fmt.Errorf("wire: unknown kind %q for operator %s", spec.Kind, operatorKey)
	}
}

func hpcSigner(b wiring.ComputeBackend) (ssh.Signer, error) {
	keyPath := b.Extra["ssh_key"]
	if keyPath == "" {
		return nil, fmt.Errorf("wire: hpc operator requires backend.extra.ssh_key")
	}
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("wire: read ssh key %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("wire: parse ssh key %s: %w", keyPath, err)
	}
	return signer, nil
}

func dedupe(keys []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// BuildEngine wires a store, registry, and campaign into an engine.Engine
// ready to step a run.
func BuildEngine(st *store.Store, reg *operator.Registry, camp campaign.Campaign, limits engine.Limits, runRoot string) *engine.Engine {
	return &engine.Engine{Store: st, Registry: reg, Campaign: camp, Limits: limits, RunRoot: runRoot}
}
