// Package audit keeps the small append-only event log that the alert evaluator and
// the actuator write and the correlation engine reads as evidence.
package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-autoheal/internal/models"
	"github.com/miradorstack/mirador-autoheal/internal/state"
)

const (
	defaultRetention  = 24 * time.Hour
	defaultMaxEntries = 2000
)

// Recorder is the write side of the log.
type Recorder interface {
	Record(ev models.Event) error
}

// Log is a JSON-lines event log stored in the state directory.
type Log struct {
	store      *state.Store
	logger     *slog.Logger
	retention  time.Duration
	maxEntries int
}

// NewLog returns a Log writing to events.jsonl inside store.
func NewLog(store *state.Store, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		store:      store,
		logger:     logger,
		retention:  defaultRetention,
		maxEntries: defaultMaxEntries,
	}
}

// Record appends one event.
func (l *Log) Record(ev models.Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return l.store.Append(state.EventsFile, append(line, '\n'))
}

// Since returns the events newer than now-window in write order. Lines that fail to
// decode are skipped.
func (l *Log) Since(now time.Time, window time.Duration) ([]models.Event, error) {
	events, err := l.readAll()
	if err != nil {
		return nil, err
	}
	cutoff := now.Add(-window)
	recent := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if ev.At.After(cutoff) {
			recent = append(recent, ev)
		}
	}
	return recent, nil
}

// Compact drops events older than the retention window and caps the entry count.
func (l *Log) Compact(now time.Time) error {
	events, err := l.readAll()
	if err != nil {
		return err
	}
	cutoff := now.Add(-l.retention)
	kept := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if ev.At.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	if len(kept) > l.maxEntries {
		kept = kept[len(kept)-l.maxEntries:]
	}
	if len(kept) == len(events) {
		return nil
	}

	var buf bytes.Buffer
	for _, ev := range kept {
		line, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	l.logger.Debug("compacted event log", slog.Int("dropped", len(events)-len(kept)))
	return l.store.WriteAtomic(state.EventsFile, buf.Bytes())
}

func (l *Log) readAll() ([]models.Event, error) {
	data, err := l.store.ReadFile(state.EventsFile)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	events := make([]models.Event, 0)
	skipped := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev models.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			skipped++
			continue
		}
		events = append(events, ev)
	}
	if skipped > 0 {
		l.logger.Warn("skipped malformed event lines", slog.Int("count", skipped))
	}
	return events, scanner.Err()
}
