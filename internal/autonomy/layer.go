// Package autonomy decides whether to act on risk and correlation findings and,
// depending on the configured mode, stays silent, advises a human or dispatches
// a remediation intent to the actuator.
package autonomy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/go-uuid"

	"github.com/miradorstack/mirador-autoheal/internal/metrics"
	"github.com/miradorstack/mirador-autoheal/internal/models"
	"github.com/miradorstack/mirador-autoheal/internal/notify"
	"github.com/miradorstack/mirador-autoheal/internal/queue"
	"github.com/miradorstack/mirador-autoheal/internal/signals"
	"github.com/miradorstack/mirador-autoheal/internal/state"
	"github.com/miradorstack/mirador-autoheal/internal/utils"
)

// Layer owns autonomy_status.json and autonomy_state.json.
type Layer struct {
	store    *state.Store
	risk     signals.RiskSource
	queue    queue.Queue
	notifier notify.Notifier
	policy   Policy
	logger   *slog.Logger
	now      func() time.Time
	newID    func() (string, error)
}

// NewLayer wires a decision layer. risk may be nil (no predictive signal).
func NewLayer(store *state.Store, risk signals.RiskSource, q queue.Queue, notifier notify.Notifier, policy Policy, logger *slog.Logger) *Layer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Layer{
		store:    store,
		risk:     risk,
		queue:    q,
		notifier: notifier,
		policy:   policy.normalize(),
		logger:   logger,
		now:      time.Now,
		newID:    uuid.GenerateUUID,
	}
}

// SetClock replaces the layer's time source.
func (l *Layer) SetClock(now func() time.Time) { l.now = now }

// Policy returns the effective policy.
func (l *Layer) Policy() Policy { return l.policy }

// Run decides on the latest findings and acts according to the mode.
func (l *Layer) Run(ctx context.Context, findings []models.CorrelationFinding) (models.AutonomyStatus, error) {
	now := l.now().UTC()
	risk := l.readRisk(ctx)

	st, err := state.Load[models.AutonomyState](l.store, state.AutonomyStateFile)
	if err != nil {
		l.logger.Warn("resetting unreadable autonomy state", slog.Any("error", err))
	}
	st.History = utils.PruneUnix(st.History, now, historyWindow)
	if st.Cooldown == nil {
		st.Cooldown = map[string]int64{}
	}

	d := Decide(Input{Now: now, Risk: risk, Findings: findings}, st, l.policy)
	status := models.AutonomyStatus{
		At:            now,
		Mode:          l.policy.Mode,
		RiskScore:     d.RiskScore,
		RiskLevel:     d.RiskLevel,
		MaxConfidence: d.MaxConfidence,
		WantAction:    d.WantAction,
		Target:        d.Target,
		CooldownOK:    d.CooldownOK,
		RateOK:        d.RateOK,
		Reasons:       d.Reasons,
		Outcome:       models.OutcomeNoAction,
	}
	if d.Top != nil {
		status.TopCause = d.Top.Cause
	}

	switch l.policy.Mode {
	case models.ModeOff:
		if d.WantAction {
			status.Outcome = models.OutcomeObserved
		}
	case models.ModeAuto:
		l.runAuto(ctx, d, &st, &status, now)
	default:
		l.runAdvice(ctx, d, &status)
	}

	metrics.ObserveDecision(string(status.Mode), string(status.Outcome))
	l.logger.Info("autonomy decision",
		slog.String("mode", string(status.Mode)),
		slog.String("outcome", string(status.Outcome)),
		slog.Bool("want_action", d.WantAction),
		slog.String("target", d.Target),
		slog.Bool("cooldown_ok", d.CooldownOK),
		slog.Bool("rate_ok", d.RateOK),
	)

	if err := l.store.SaveJSON(state.AutonomyStatusFile, status); err != nil {
		return status, fmt.Errorf("persist autonomy status: %w", err)
	}
	return status, nil
}

// Status reads the last persisted decision.
func (l *Layer) Status() (models.AutonomyStatus, error) {
	var status models.AutonomyStatus
	err := l.store.LoadJSON(state.AutonomyStatusFile, &status)
	return status, err
}

// Advice ignores the gates: they throttle actions, not suggestions.
func (l *Layer) runAdvice(ctx context.Context, d Decision, status *models.AutonomyStatus) {
	if !d.WantAction {
		if l.policy.NotifyNoAction {
			notify.Send(ctx, l.notifier, l.logger, fmt.Sprintf("[autonomy] no action: risk %.2f, confidence %.2f", d.RiskScore, d.MaxConfidence))
		}
		return
	}
	status.Outcome = models.OutcomeAdvised
	notify.Send(ctx, l.notifier, l.logger, fmt.Sprintf("[autonomy] suggestion: restart %s (%s)%s",
		d.Target, strings.Join(d.Reasons, "; "), remedySuffix(d)))
}

func (l *Layer) runAuto(ctx context.Context, d Decision, st *models.AutonomyState, status *models.AutonomyStatus, now time.Time) {
	if !d.WantAction {
		return
	}
	if !d.GatesOK() {
		status.Outcome = models.OutcomeSkipped
		l.logger.Info("autonomy gate blocked action",
			slog.String("target", d.Target),
			slog.Bool("cooldown_ok", d.CooldownOK),
			slog.Bool("rate_ok", d.RateOK),
		)
		notify.Send(ctx, l.notifier, l.logger, fmt.Sprintf("[autonomy] skipped restart of %s: %s",
			d.Target, strings.Join(failedGates(d), ", ")))
		return
	}

	intent, err := l.buildIntent(d, now)
	if err == nil {
		err = l.queue.Publish(ctx, intent)
	}
	if err != nil {
		status.Outcome = models.OutcomeFailed
		l.logger.Error("dispatch remediation intent", slog.String("target", d.Target), slog.Any("error", err))
		notify.Send(ctx, l.notifier, l.logger, fmt.Sprintf("[autonomy] failed to dispatch restart of %s: %v", d.Target, err))
		return
	}

	st.History = append(st.History, now.Unix())
	st.Cooldown[d.Target] = now.Unix()
	if err := l.store.SaveJSON(state.AutonomyStateFile, st); err != nil {
		l.logger.Error("persist autonomy state", slog.Any("error", err))
	}

	status.Outcome = models.OutcomeExecuted
	status.IntentID = intent.ID
	notify.Send(ctx, l.notifier, l.logger, fmt.Sprintf("[autonomy] executed: restart %s dispatched (intent %s; %s)",
		d.Target, intent.ID, strings.Join(d.Reasons, "; ")))
}

func (l *Layer) buildIntent(d Decision, now time.Time) (models.RemediationIntent, error) {
	if l.queue == nil {
		return models.RemediationIntent{}, fmt.Errorf("no intent queue configured")
	}
	id, err := l.newID()
	if err != nil {
		return models.RemediationIntent{}, fmt.Errorf("generate intent id: %w", err)
	}
	return models.RemediationIntent{
		ID:        id,
		Kind:      models.IntentRestart,
		Target:    d.Target,
		Reason:    strings.Join(d.Reasons, "; "),
		Source:    models.IntentSourceAutonomy,
		Timestamp: now,
	}, nil
}

func (l *Layer) readRisk(ctx context.Context) signals.Risk {
	if l.risk == nil {
		return signals.Risk{}
	}
	r, err := l.risk.Risk(ctx)
	if err != nil {
		l.logger.Warn("read risk signal", slog.Any("error", err))
		return signals.Risk{}
	}
	return r
}

func failedGates(d Decision) []string {
	var out []string
	if !d.CooldownOK {
		out = append(out, "per-service cooldown")
	}
	if !d.RateOK {
		out = append(out, "hourly rate cap")
	}
	return out
}

func remedySuffix(d Decision) string {
	if d.Top == nil || d.Top.SuggestedRemedy == "" {
		return ""
	}
	return "; remedy: " + d.Top.SuggestedRemedy
}
