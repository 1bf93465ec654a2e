// Package ledger persists the per-project map of file processing state.
//
// The ledger is a single status.json document per project directory. Every
// update re-reads the document, applies one transition and atomically swaps
// the whole file, under an in-process mutex and a cross-process file lock.
// A corrupt or unreadable document is treated as empty: the ledger is derived
// state, not a source of truth.
package ledger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dshills/logsift/internal/filelock"
	"github.com/dshills/logsift/internal/fsutil"
	"github.com/dshills/logsift/internal/logging"
	"github.com/dshills/logsift/pkg/types"
)

// FileName is the ledger document inside a project directory
const FileName = "status.json"

// Ledger reads and updates status.json documents
type Ledger struct {
	lockOpts filelock.Options
	keyed    filelock.KeyedMutex
	log      *zap.SugaredLogger
	now      func() time.Time
}

// New creates a Ledger
func New(lockOpts filelock.Options, logger *zap.SugaredLogger) *Ledger {
	return &Ledger{
		lockOpts: lockOpts,
		log:      logging.Component(logger, "ledger"),
		now:      time.Now,
	}
}

// Path returns the ledger path for a project directory
func Path(projectDir string) string {
	return filepath.Join(projectDir, FileName)
}

// Read returns the current ledger of a project. A missing or corrupt ledger
// yields an empty map.
func (l *Ledger) Read(projectDir string) (map[string]types.FileState, error) {
	path := Path(projectDir)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]types.FileState{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read ledger %s", path)
	}

	status := map[string]types.FileState{}
	if err := json.Unmarshal(data, &status); err != nil {
		l.log.Warnw("Corrupt ledger, starting fresh", logging.FieldPath, path, logging.FieldError, err)
		return map[string]types.FileState{}, nil
	}
	return status, nil
}

// Get returns one file's entry
func (l *Ledger) Get(projectDir, filename string) (types.FileState, bool, error) {
	status, err := l.Read(projectDir)
	if err != nil {
		return types.FileState{}, false, err
	}
	fs, ok := status[filename]
	return fs, ok, nil
}

// Update moves filename to state, recording message. Transitions not allowed
// by types.CanTransition are rejected with types.ErrInvalidTransition.
func (l *Ledger) Update(ctx context.Context, projectDir, filename string, state types.State, message string) error {
	return l.update(ctx, projectDir, filename, state, message, "")
}

// Enqueue moves filename to queued and records the upload path it is parsed from
func (l *Ledger) Enqueue(ctx context.Context, projectDir, filename, uploadPath string) error {
	return l.update(ctx, projectDir, filename, types.StateQueued, "", uploadPath)
}

func (l *Ledger) update(ctx context.Context, projectDir, filename string, state types.State, message, uploadPath string) error {
	if !state.Valid() {
		return errors.Wrapf(types.ErrInvalidState, "%d", int(state))
	}

	path := Path(projectDir)
	unlock := l.keyed.Lock(path)
	defer unlock()

	return filelock.WithLock(ctx, path, l.lockOpts, func() error {
		status, err := l.Read(projectDir)
		if err != nil {
			return err
		}

		current, exists := status[filename]
		var from types.State
		if exists {
			from = current.State
		}
		if !types.CanTransition(from, state) {
			return errors.Wrapf(types.ErrInvalidTransition, "%s: %s -> %s", filename, labelOf(from), state)
		}

		now := l.now()
		next := types.FileState{
			State:     state,
			Timestamp: now,
			Message:   message,
			QueuedAt:  current.QueuedAt,
			Path:      current.Path,
		}
		if uploadPath != "" {
			next.Path = uploadPath
		}
		if state == types.StateQueued {
			next.QueuedAt = &now
		}
		status[filename] = next

		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to encode ledger")
		}
		if err := fsutil.WriteFile(path, data, 0o644); err != nil {
			return errors.Wrapf(err, "failed to write ledger %s", path)
		}

		l.log.Debugw("File state updated",
			logging.FieldFile, filename,
			logging.FieldState, state.String(),
		)
		return nil
	})
}

func labelOf(s types.State) string {
	if s == 0 {
		return "absent"
	}
	return s.String()
}
