package hierarchy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LoadExpansionFile restores state from path. A missing file leaves the
// state untouched and is not an error.
func LoadExpansionFile(state *ExpansionState, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read expansion state: %w", err)
	}
	return state.Restore(data)
}

// SaveExpansionFile writes a snapshot of state to path, replacing any
// previous file in one rename.
func SaveExpansionFile(state *ExpansionState, path string) error {
	data, err := state.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to encode expansion state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create expansion state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".expansion-*")
	if err != nil {
		return fmt.Errorf("failed to create expansion state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write expansion state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write expansion state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace expansion state: %w", err)
	}
	return nil
}
