package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/matterstack/matterstack/internal/errs"
)

// RunSet builds the Engine for a given run id, opening whatever store and
// registry that run needs. A daemon services many runs, each with its own
// store/registry/campaign, so it asks this factory for each run rather
// than holding one Engine for everything.
type RunSet interface {
	ActiveRunIDs() ([]string, error)
	EngineFor(runID string) (*Engine, func(), error)
}

// ServiceDaemon iterates a RunSet's active runs in randomized round-robin
// order, stepping each one once per pass and skipping any run whose lock
// is already held by another process. This gives every run a fair shot
// at forward progress without any cross-process coordination beyond the
// per-run advisory lock.
func ServiceDaemon(ctx context.Context, runs RunSet, passInterval time.Duration) error {
	for {
		if err := servicePass(ctx, runs); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(passInterval):
		}
	}
}

func servicePass(ctx context.Context, runs RunSet) error {
	ids, err := runs.ActiveRunIDs()
	if err != nil {
		return fmt.Errorf("daemon: list active runs: %w", err)
	}

	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	for _, runID := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		eng, release, err := runs.EngineFor(runID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "daemon: skip run %s: %v\n", runID, err)
			continue
		}

		_, err = eng.StepRun(ctx, runID)
		release()

		var contention *errs.LockContentionError
		if errors.As(err, &contention) {
			continue
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "daemon: run %s tick failed: %v\n", runID, err)
		}
	}
	return nil
}
