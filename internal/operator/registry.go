package operator

import "github.com/matterstack/matterstack/internal/errs"

// legacyAliases maps the pre-v0.2.6 capitalized operator keys to their
// canonical dotted-default counterparts, so older run configs and task
// definitions keep resolving without a migration step.
var legacyAliases = map[string]string{
	"Human":      "human.default",
	"Experiment": "experiment.default",
	"Local":      "local.default",
	"HPC":        "hpc.default",
}

// Registry resolves an operator key (legacy or canonical) to an Operator
// instance. It is built once per CLI invocation (and per daemon pass for
// each run) and is not modified afterward.
type Registry struct {
	operators map[string]Operator
}

// NewRegistry builds a Registry from a set of canonical-key operators,
// registering each one under its canonical key and, where one exists, its
// legacy alias too.
func NewRegistry(canonical map[string]Operator) *Registry {
	r := &Registry{operators: make(map[string]Operator, len(canonical)*2)}
	for key, op := range canonical {
		r.operators[key] = op
	}
	for legacy, canonicalKey := range legacyAliases {
		if op, ok := canonical[canonicalKey]; ok {
			r.operators[legacy] = op
		}
	}
	return r
}

// Canonicalize resolves a legacy key to its canonical form, or returns the
// key unchanged if it is already canonical (or unknown).
func Canonicalize(key string) string {
	if canonical, ok := legacyAliases[key]; ok {
		return canonical
	}
	return key
}

// Resolve looks up the operator for a key, accepting either its legacy or
// canonical spelling.
func (r *Registry) Resolve(key string) (Operator, error) {
	if op, ok := r.operators[key]; ok {
		return op, nil
	}
	return nil, &errs.NotFoundError{Kind: "operator", ID: key}
}

// Keys returns every canonical key registered, for diagnostics and CLI
// listings.
func (r *Registry) Keys() []string {
	seen := map[string]bool{}
	var out []string
	for key := range r.operators {
		if _, isLegacy := legacyAliases[key]; isLegacy {
			continue
		}
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}
