package campaign

import (
	"os"
	"path/filepath"
)

const stateFileName = "campaign_state.json"

// LoadState reads a run's persisted campaign state blob, returning nil
// if the run has never had one written (the campaign's initial state).
func LoadState(runRoot string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(runRoot, stateFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// SaveState persists a campaign's opaque state blob to
// <run_root>/campaign_state.json, creating the run root if needed.
func SaveState(runRoot string, state []byte) error {
	if state == nil {
		return nil
	}
	if err := os.MkdirAll(runRoot, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(runRoot, stateFileName), state, 0o644)
}
