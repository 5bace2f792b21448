package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"lmout/internal/domain"
)

// DefaultCommandMaxAge is how long an unconsumed command file stays
// valid before the next reader discards it as abandoned.
const DefaultCommandMaxAge = 30 * time.Second

// FileInbox implements domain.CommandInbox on a single JSON file
// written by the CLI. Consumption is exactly-once: the file is removed
// before the payload is acted on, so a malformed command can never be
// reprocessed.
type FileInbox struct {
	path   string
	maxAge time.Duration
	logger *zap.Logger
}

// NewFileInbox creates an inbox backed by path.
func NewFileInbox(path string, maxAge time.Duration, logger *zap.Logger) *FileInbox {
	return &FileInbox{path: path, maxAge: maxAge, logger: logger}
}

// TryReceive returns the pending command, if any. The command file is
// always deleted once read; parse failures surface as an error with a
// nil command. Commands older than maxAge are discarded unread.
func (in *FileInbox) TryReceive() (*domain.Command, error) {
	info, err := os.Stat(in.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	if in.maxAge > 0 && time.Since(info.ModTime()) > in.maxAge {
		in.logger.Warn("discarding stale command file",
			zap.Duration("age", time.Since(info.ModTime())))
		_ = os.Remove(in.path)
		return nil, nil
	}

	data, err := os.ReadFile(in.path)
	if err != nil {
		return nil, err
	}

	// Consume before acting: the file must never be read twice.
	if err := os.Remove(in.path); err != nil {
		return nil, fmt.Errorf("consume command file: %w", err)
	}

	var cmd domain.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("malformed command payload: %w", err)
	}

	switch cmd.Kind {
	case domain.CommandStartInstant, domain.CommandStopLockout:
		return &cmd, nil
	default:
		return nil, fmt.Errorf("unknown command %q", cmd.Kind)
	}
}

// Submit writes a command for the daemon to pick up, atomically
// replacing any not-yet-consumed previous command.
func (in *FileInbox) Submit(cmd domain.Command) error {
	if err := os.MkdirAll(filepath.Dir(in.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	data, err := json.MarshalIndent(cmd, "", "    ")
	if err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", in.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, in.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

var _ domain.CommandInbox = (*FileInbox)(nil)
