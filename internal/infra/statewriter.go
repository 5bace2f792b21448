package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"lmout/internal/domain"
)

// StateWriter implements domain.StatePublisher on a JSON file. Writes
// are atomic (temp file + rename) and skipped when nothing besides the
// timestamp changed since the last publish.
type StateWriter struct {
	path    string
	logger  *zap.Logger
	lastKey string
}

// NewStateWriter creates a publisher backed by path.
func NewStateWriter(path string, logger *zap.Logger) *StateWriter {
	return &StateWriter{path: path, logger: logger}
}

// Publish writes the daemon state for external readers. Redundant
// writes (same pid and same active-session snapshot) are skipped.
func (w *StateWriter) Publish(state domain.DaemonState) error {
	keyState := state
	keyState.LastUpdate = ""
	key, err := json.Marshal(keyState)
	if err != nil {
		return err
	}
	if string(key) == w.lastKey {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "    ")
	if err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", w.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	w.lastKey = string(key)
	return nil
}

// Clear removes the state file (daemon shutdown).
func (w *StateWriter) Clear() error {
	w.lastKey = ""
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadState loads a published state file. Used by the status command;
// the daemon itself never reads it back.
func ReadState(path string) (*domain.DaemonState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var state domain.DaemonState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("malformed state file: %w", err)
	}
	return &state, nil
}

var _ domain.StatePublisher = (*StateWriter)(nil)
