// Package state persists each component's record as one JSON object per file.
// Writes are atomic (temp file + rename) and serialised by an advisory file lock
// so only one writer touches a record at a time; readers never lock.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/miradorstack/mirador-autoheal/internal/utils"
)

// File names of the persisted records.
const (
	HealthFile         = "health_summary.json"
	AlertFile          = "alert_state.json"
	AutoHealFile       = "autoheal_state.json"
	MaintenanceFile    = "maintenance.flag"
	CorrelationFile    = "correlation.json"
	AutonomyStatusFile = "autonomy_status.json"
	AutonomyStateFile  = "autonomy_state.json"
	EventsFile         = "events.jsonl"
)

// ErrNotFound is returned when a record has never been written.
var ErrNotFound = errors.New("state not found")

// Store reads and atomically replaces state files inside one directory.
type Store struct {
	dir         string
	lockTimeout time.Duration
}

// NewStore creates the directory if needed and returns a Store rooted there.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, utils.NewAppError("state.open", "state directory is required", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, utils.NewAppError("state.open", "create state directory", err)
	}
	return &Store{dir: dir, lockTimeout: 5 * time.Second}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the absolute location of a named record.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

// ReadFile returns the raw bytes of a record, ErrNotFound when it is absent.
func (s *Store) ReadFile(name string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, utils.NewAppError("state.read", name, err)
	}
	return data, nil
}

// LoadJSON decodes a record into out.
func (s *Store) LoadJSON(name string, out any) error {
	data, err := s.ReadFile(name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return utils.NewAppError("state.decode", "corrupt "+name, err)
	}
	return nil
}

// SaveJSON encodes v and atomically replaces the record.
func (s *Store) SaveJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return utils.NewAppError("state.encode", name, err)
	}
	return s.WriteAtomic(name, append(data, '\n'))
}

// WriteAtomic replaces a record so readers never observe a partial write.
func (s *Store) WriteAtomic(name string, data []byte) error {
	return s.withLock(name, func() error {
		tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
		if err != nil {
			return utils.NewAppError("state.write", "create temp file", err)
		}
		tmpPath := tmp.Name()
		defer func() { _ = os.Remove(tmpPath) }()

		if _, err := tmp.Write(data); err != nil {
			_ = tmp.Close()
			return utils.NewAppError("state.write", name, err)
		}
		if err := tmp.Sync(); err != nil {
			_ = tmp.Close()
			return utils.NewAppError("state.write", "sync "+name, err)
		}
		if err := tmp.Close(); err != nil {
			return utils.NewAppError("state.write", "close "+name, err)
		}
		if err := os.Rename(tmpPath, s.Path(name)); err != nil {
			return utils.NewAppError("state.write", "commit "+name, err)
		}
		return nil
	})
}

// Append adds data to the end of a record under the writer lock.
func (s *Store) Append(name string, data []byte) error {
	return s.withLock(name, func() error {
		f, err := os.OpenFile(s.Path(name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return utils.NewAppError("state.append", name, err)
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			return utils.NewAppError("state.append", name, err)
		}
		return f.Close()
	})
}

// Remove deletes a record; removing a missing record is not an error.
func (s *Store) Remove(name string) error {
	return s.withLock(name, func() error {
		if err := os.Remove(s.Path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return utils.NewAppError("state.remove", name, err)
		}
		return nil
	})
}

func (s *Store) withLock(name string, fn func() error) error {
	lock := flock.New(s.Path(name) + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 20*time.Millisecond)
	if err != nil {
		return utils.NewAppError("state.lock", name, err)
	}
	if !locked {
		return utils.NewAppError("state.lock", name, fmt.Errorf("lock not acquired"))
	}
	defer func() { _ = lock.Unlock() }()

	return fn()
}

// Load decodes a record into a fresh T. A missing record yields the zero T and a
// nil error; a corrupt one yields the zero T and the decode error so the caller
// can log it and carry on with defaults.
func Load[T any](s *Store, name string) (T, error) {
	var out T
	if err := s.LoadJSON(name, &out); err != nil {
		var zero T
		if errors.Is(err, ErrNotFound) {
			return zero, nil
		}
		return zero, err
	}
	return out, nil
}
