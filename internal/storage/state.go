package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"dcapilot/internal/portfolio"
)

// SaveState writes the ledger state to path atomically: a temp file in the
// same directory is written, synced and renamed over the target, so a crash
// mid-write leaves the previous state intact.
func SaveState(path string, state portfolio.State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("storage: create state dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp state: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: close temp state: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: replace state: %w", err)
	}
	return nil
}

// LoadState reads a persisted ledger state. A missing file is reported with
// os.ErrNotExist wrapped so callers can start fresh.
func LoadState(path string) (portfolio.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return portfolio.State{}, fmt.Errorf("storage: read state: %w", err)
	}
	var state portfolio.State
	if err := json.Unmarshal(data, &state); err != nil {
		return portfolio.State{}, fmt.Errorf("storage: decode state %s: %w", path, err)
	}
	return state, nil
}
