// Package alerts applies static thresholds to the health summary and delivers
// rate-limited notifications, one cooldown per alert kind.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-autoheal/internal/audit"
	"github.com/miradorstack/mirador-autoheal/internal/metrics"
	"github.com/miradorstack/mirador-autoheal/internal/models"
	"github.com/miradorstack/mirador-autoheal/internal/notify"
	"github.com/miradorstack/mirador-autoheal/internal/state"
)

// Thresholds configures when alerts fire and how often they repeat.
type Thresholds struct {
	MinSuccess   float64
	MaxLatencyMs float64
	Cooldown     time.Duration
}

// DefaultThresholds fire below 95% success or above 2s latency, at most every 15 minutes.
func DefaultThresholds() Thresholds {
	return Thresholds{MinSuccess: 95, MaxLatencyMs: 2000, Cooldown: 15 * time.Minute}
}

// Evaluator owns alert_state.json.
type Evaluator struct {
	store    *state.Store
	notifier notify.Notifier
	recorder audit.Recorder
	th       Thresholds
	logger   *slog.Logger
	now      func() time.Time
}

// NewEvaluator wires an evaluator. recorder may be nil.
func NewEvaluator(store *state.Store, notifier notify.Notifier, recorder audit.Recorder, th Thresholds, logger *slog.Logger) *Evaluator {
	def := DefaultThresholds()
	if th.MinSuccess <= 0 {
		th.MinSuccess = def.MinSuccess
	}
	if th.MaxLatencyMs <= 0 {
		th.MaxLatencyMs = def.MaxLatencyMs
	}
	if th.Cooldown <= 0 {
		th.Cooldown = def.Cooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{store: store, notifier: notifier, recorder: recorder, th: th, logger: logger, now: time.Now}
}

// SetClock replaces the evaluator's time source.
func (e *Evaluator) SetClock(now func() time.Time) { e.now = now }

// Check returns the alerts the summary would fire, ignoring cooldowns.
func (e *Evaluator) Check(summary *models.HealthSummary) []models.AlertEvent {
	if summary == nil || summary.SampleCount == 0 {
		return nil
	}
	var out []models.AlertEvent
	if summary.RecentSuccessRate < e.th.MinSuccess {
		out = append(out, models.AlertEvent{
			Kind:      models.AlertLowSuccess,
			Reason:    fmt.Sprintf("recent success rate %.1f%% below %.1f%%", summary.RecentSuccessRate, e.th.MinSuccess),
			Value:     summary.RecentSuccessRate,
			Threshold: e.th.MinSuccess,
		})
	}
	if summary.RecentAvgLatencyMs > e.th.MaxLatencyMs {
		out = append(out, models.AlertEvent{
			Kind:      models.AlertHighLatency,
			Reason:    fmt.Sprintf("recent average latency %.0fms above %.0fms", summary.RecentAvgLatencyMs, e.th.MaxLatencyMs),
			Value:     summary.RecentAvgLatencyMs,
			Threshold: e.th.MaxLatencyMs,
		})
	}
	return out
}

// Evaluate fires, suppresses or fails each alert and persists the cooldown
// state. Only delivered alerts advance LastSentAt.
func (e *Evaluator) Evaluate(ctx context.Context, summary *models.HealthSummary) []models.AlertEvent {
	events := e.Check(summary)
	if len(events) == 0 {
		return nil
	}

	now := e.now().UTC()
	alertState := e.loadState()
	changed := false

	for i := range events {
		ev := &events[i]
		ev.At = now
		rec := alertState[ev.Kind]

		if !rec.LastSentAt.IsZero() && now.Sub(rec.LastSentAt) < e.th.Cooldown {
			ev.Outcome = models.AlertSuppressed
			e.logger.Info("alert suppressed by cooldown",
				slog.String("kind", string(ev.Kind)),
				slog.Time("last_sent_at", rec.LastSentAt),
				slog.Duration("cooldown", e.th.Cooldown),
			)
			metrics.ObserveAlert(string(ev.Kind), string(ev.Outcome))
			continue
		}

		if notify.Send(ctx, e.notifier, e.logger, formatAlert(*ev, summary)) {
			ev.Outcome = models.AlertDelivered
			snapshot := *summary
			alertState[ev.Kind] = models.AlertRecord{
				LastSentAt:  now,
				LastReasons: []string{ev.Reason},
				LastSummary: &snapshot,
			}
			changed = true
		} else {
			ev.Outcome = models.AlertFailed
		}
		metrics.ObserveAlert(string(ev.Kind), string(ev.Outcome))
		e.record(*ev)
	}

	if changed {
		if err := e.store.SaveJSON(state.AlertFile, alertState); err != nil {
			e.logger.Error("persist alert state", slog.Any("error", err))
		}
	}
	return events
}

// State returns the persisted cooldown records.
func (e *Evaluator) State() models.AlertState {
	return e.loadState()
}

func (e *Evaluator) loadState() models.AlertState {
	st, err := state.Load[models.AlertState](e.store, state.AlertFile)
	if err != nil {
		e.logger.Warn("resetting unreadable alert state", slog.Any("error", err))
	}
	if st == nil {
		st = models.AlertState{}
	}
	return st
}

func (e *Evaluator) record(ev models.AlertEvent) {
	if e.recorder == nil {
		return
	}
	err := e.recorder.Record(models.Event{
		At:        ev.At,
		Kind:      models.EventAlert,
		AlertKind: ev.Kind,
		OK:        ev.Outcome == models.AlertDelivered,
		Detail:    ev.Reason,
	})
	if err != nil {
		e.logger.Warn("record alert event", slog.Any("error", err))
	}
}

func formatAlert(ev models.AlertEvent, summary *models.HealthSummary) string {
	return fmt.Sprintf("[autoheal] ALERT %s: %s (samples=%d, uptime=%.2fh)",
		ev.Kind, ev.Reason, summary.SampleCount, summary.UptimeHours)
}
