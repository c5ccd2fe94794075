// Package autoheal restarts allowlisted services when fleet health stays bad,
// bounded by a debounce streak, a cooldown and a rolling action budget that
// trips the maintenance circuit breaker.
package autoheal

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/miradorstack/mirador-autoheal/internal/audit"
	"github.com/miradorstack/mirador-autoheal/internal/metrics"
	"github.com/miradorstack/mirador-autoheal/internal/models"
	"github.com/miradorstack/mirador-autoheal/internal/notify"
	"github.com/miradorstack/mirador-autoheal/internal/state"
	"github.com/miradorstack/mirador-autoheal/internal/utils"
)

// MaintenanceReason is written to maintenance.flag when the budget is exhausted.
const MaintenanceReason = "autohealed-too-often"

const actionWindow = 30 * time.Minute

// Step names where an evaluation stopped.
type Step string

const (
	StepHealthy     Step = "healthy"
	StepDebounce    Step = "debounce"
	StepMaintenance Step = "maintenance"
	StepCooldown    Step = "cooldown"
	StepRestarted   Step = "restarted"
	StepNotAllowed  Step = "not_allowed"
	StepNoop        Step = "noop"
)

// Options configures the actuator. Zero values fall back to defaults.
type Options struct {
	Services       []string
	FailConsec     int
	Cooldown       time.Duration
	MaxAttempts30m int
	MinSuccess     float64
	MaxLatencyMs   float64
	Workers        int
	RestartTimeout time.Duration
}

// DefaultOptions mirrors the documented thresholds.
func DefaultOptions() Options {
	return Options{
		Services:       []string{"bridge", "clc_listener"},
		FailConsec:     3,
		Cooldown:       600 * time.Second,
		MaxAttempts30m: 3,
		MinSuccess:     95,
		MaxLatencyMs:   2000,
		Workers:        4,
		RestartTimeout: 60 * time.Second,
	}
}

func (o Options) normalize() Options {
	def := DefaultOptions()
	if len(o.Services) == 0 {
		o.Services = def.Services
	}
	if o.FailConsec <= 0 {
		o.FailConsec = def.FailConsec
	}
	if o.Cooldown <= 0 {
		o.Cooldown = def.Cooldown
	}
	if o.MaxAttempts30m <= 0 {
		o.MaxAttempts30m = def.MaxAttempts30m
	}
	if o.MinSuccess <= 0 {
		o.MinSuccess = def.MinSuccess
	}
	if o.MaxLatencyMs <= 0 {
		o.MaxLatencyMs = def.MaxLatencyMs
	}
	if o.Workers <= 0 {
		o.Workers = def.Workers
	}
	if o.RestartTimeout <= 0 {
		o.RestartTimeout = def.RestartTimeout
	}
	return o
}

// RestartOutcome is the result of one restart attempt.
type RestartOutcome struct {
	Service string `json:"service"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// Result describes what one evaluation or intent execution did.
type Result struct {
	Step               Step             `json:"step"`
	Bad                bool             `json:"bad"`
	BadStreak          int              `json:"bad_streak"`
	Restarts           []RestartOutcome `json:"restarts,omitempty"`
	Escalated          bool             `json:"escalated"`
	MaintenanceCleared bool             `json:"maintenance_cleared"`
}

// Actuator owns autoheal_state.json and maintenance.flag.
type Actuator struct {
	store     *state.Store
	restarter Restarter
	notifier  notify.Notifier
	recorder  audit.Recorder
	opts      Options
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

// NewActuator wires an actuator. recorder may be nil.
func NewActuator(store *state.Store, restarter Restarter, notifier notify.Notifier, recorder audit.Recorder, opts Options, logger *slog.Logger) *Actuator {
	if logger == nil {
		logger = slog.Default()
	}
	if restarter == nil {
		restarter = NewDryRunRestarter(logger)
	}
	return &Actuator{
		store:     store,
		restarter: restarter,
		notifier:  notifier,
		recorder:  recorder,
		opts:      opts.normalize(),
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock replaces the actuator's time source.
func (a *Actuator) SetClock(now func() time.Time) { a.now = now }

// Services returns the restart allowlist.
func (a *Actuator) Services() []string { return append([]string(nil), a.opts.Services...) }

// IsBad reports whether the summary counts as degraded. A missing summary is bad.
func (a *Actuator) IsBad(summary *models.HealthSummary) bool {
	if summary == nil {
		return true
	}
	return summary.RecentSuccessRate < a.opts.MinSuccess || summary.RecentAvgLatencyMs > a.opts.MaxLatencyMs
}

// Evaluate advances the streak state machine by one tick.
func (a *Actuator) Evaluate(ctx context.Context, summary *models.HealthSummary) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	st := a.loadState(now)
	flag := a.loadMaintenance()

	res := Result{Bad: a.IsBad(summary)}
	if !res.Bad {
		if flag.Active {
			res.MaintenanceCleared = a.clearMaintenance(ctx, now)
		}
		st.BadStreak = 0
		res.Step = StepHealthy
		return res, a.saveState(st)
	}

	st.BadStreak++
	res.BadStreak = st.BadStreak
	if st.BadStreak < a.opts.FailConsec {
		res.Step = StepDebounce
		a.logger.Info("autoheal gate: debounce",
			slog.Int("bad_streak", st.BadStreak), slog.Int("fail_consec", a.opts.FailConsec))
		return res, a.saveState(st)
	}
	if step, blocked := a.gate(now, st, flag); blocked {
		res.Step = step
		return res, a.saveState(st)
	}

	reason := describe(summary, st.BadStreak)
	res.Restarts = a.restartAll(ctx, a.opts.Services, reason)
	res.Step = StepRestarted
	res.Escalated = a.recordAction(ctx, &st, now, flag, res.Restarts, reason)
	return res, a.saveState(st)
}

// Execute consumes a remediation intent. It restarts the single target under
// the same cooldown, budget and circuit breaker as streak-driven actions and
// leaves the streak untouched.
func (a *Actuator) Execute(ctx context.Context, intent models.RemediationIntent) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if intent.Kind != models.IntentRestart || intent.Target == "" {
		return Result{Step: StepNoop}, nil
	}
	if !slices.Contains(a.opts.Services, intent.Target) {
		a.logger.Warn("autoheal gate: target not allowlisted",
			slog.String("intent_id", intent.ID), slog.String("target", intent.Target))
		return Result{Step: StepNotAllowed}, nil
	}

	now := a.now()
	st := a.loadState(now)
	flag := a.loadMaintenance()
	res := Result{BadStreak: st.BadStreak}

	if step, blocked := a.gate(now, st, flag); blocked {
		res.Step = step
		notify.Send(ctx, a.notifier, a.logger,
			fmt.Sprintf("[autoheal] intent %s for %s refused: %s", intent.ID, intent.Target, step))
		return res, nil
	}

	reason := fmt.Sprintf("%s intent %s: %s", intent.Source, intent.ID, intent.Reason)
	res.Restarts = a.restartAll(ctx, []string{intent.Target}, reason)
	res.Step = StepRestarted
	res.Escalated = a.recordAction(ctx, &st, now, flag, res.Restarts, reason)
	return res, a.saveState(st)
}

// State returns the persisted actuator state.
func (a *Actuator) State() models.AutoHealState {
	return a.loadState(a.now())
}

// Maintenance returns the circuit breaker flag.
func (a *Actuator) Maintenance() models.MaintenanceFlag {
	return a.loadMaintenance()
}

func (a *Actuator) gate(now time.Time, st models.AutoHealState, flag models.MaintenanceFlag) (Step, bool) {
	if flag.Active {
		a.logger.Info("autoheal gate: maintenance", slog.String("reason", flag.Reason))
		return StepMaintenance, true
	}
	if elapsed, ok := utils.Elapsed(now, st.LastActionAt); ok && elapsed < a.opts.Cooldown {
		a.logger.Info("autoheal gate: cooldown",
			slog.Time("last_action_at", st.LastAction()),
			slog.Duration("since_last_action", elapsed), slog.Duration("cooldown", a.opts.Cooldown))
		return StepCooldown, true
	}
	return "", false
}

// restartAll attempts every service even when some fail.
func (a *Actuator) restartAll(ctx context.Context, services []string, reason string) []RestartOutcome {
	outcomes := make([]RestartOutcome, len(services))
	workers := a.opts.Workers
	if workers > len(services) {
		workers = len(services)
	}
	wp := workerpool.New(workers)
	for i, svc := range services {
		wp.Submit(func() {
			outcomes[i] = a.restartOne(ctx, svc, reason)
		})
	}
	wp.StopWait()
	return outcomes
}

func (a *Actuator) restartOne(ctx context.Context, service, reason string) (out RestartOutcome) {
	out.Service = service
	defer func() {
		if r := recover(); r != nil {
			out.OK = false
			out.Error = fmt.Sprintf("restarter panicked: %v", r)
		}
		metrics.ObserveRestart(service, out.OK)
		a.record(models.Event{Kind: models.EventAutohealRestart, Service: service, OK: out.OK, Detail: firstNonEmpty(out.Error, reason)})
	}()

	rctx, cancel := context.WithTimeout(ctx, a.opts.RestartTimeout)
	defer cancel()
	if err := a.restarter.Restart(rctx, service); err != nil {
		out.Error = err.Error()
		a.logger.Error("restart failed", slog.String("service", service), slog.Any("error", err))
		return out
	}
	out.OK = true
	a.logger.Info("service restarted", slog.String("service", service))
	return out
}

// recordAction books one action against the cooldown and the rolling budget
// and trips the circuit breaker when the budget is spent. It reports whether
// the breaker was set.
func (a *Actuator) recordAction(ctx context.Context, st *models.AutoHealState, now time.Time, flag models.MaintenanceFlag, outcomes []RestartOutcome, reason string) bool {
	st.LastActionAt = now.Unix()
	st.Actions = append(utils.PruneUnix(st.Actions, now, actionWindow), now.Unix())

	notify.Send(ctx, a.notifier, a.logger, formatAction(outcomes, reason, len(st.Actions)))

	if len(st.Actions) < a.opts.MaxAttempts30m || flag.Active {
		return false
	}
	if err := state.SetMaintenance(a.store, MaintenanceReason, now); err != nil {
		a.logger.Error("set maintenance flag", slog.Any("error", err))
		return false
	}
	metrics.SetMaintenance(true)
	a.record(models.Event{At: now, Kind: models.EventMaintenanceEnable, OK: true, Detail: MaintenanceReason})
	a.logger.Warn("maintenance enabled", slog.Int("actions_30m", len(st.Actions)))
	notify.Send(ctx, a.notifier, a.logger, fmt.Sprintf(
		"[autoheal] MAINTENANCE enabled: %d restarts in 30m (%s). Automated restarts halted until health recovers.",
		len(st.Actions), MaintenanceReason))
	return true
}

func (a *Actuator) clearMaintenance(ctx context.Context, now time.Time) bool {
	if err := state.ClearMaintenance(a.store); err != nil {
		a.logger.Error("clear maintenance flag", slog.Any("error", err))
		return false
	}
	metrics.SetMaintenance(false)
	a.record(models.Event{At: now, Kind: models.EventMaintenanceDisable, OK: true, Detail: "health recovered"})
	a.logger.Info("maintenance cleared")
	notify.Send(ctx, a.notifier, a.logger, "[autoheal] maintenance cleared: health recovered")
	return true
}

func (a *Actuator) loadState(now time.Time) models.AutoHealState {
	st, err := state.Load[models.AutoHealState](a.store, state.AutoHealFile)
	if err != nil {
		a.logger.Warn("resetting unreadable autoheal state", slog.Any("error", err))
	}
	if st.BadStreak < 0 {
		st.BadStreak = 0
	}
	st.Actions = utils.PruneUnix(st.Actions, now, actionWindow)
	return st
}

// loadMaintenance treats an unreadable flag as set.
func (a *Actuator) loadMaintenance() models.MaintenanceFlag {
	flag, err := state.LoadMaintenance(a.store)
	if err != nil {
		a.logger.Error("read maintenance flag, assuming active", slog.Any("error", err))
		flag = models.MaintenanceFlag{Active: true, Reason: "unreadable"}
	}
	metrics.SetMaintenance(flag.Active)
	return flag
}

func (a *Actuator) saveState(st models.AutoHealState) error {
	if st.Actions == nil {
		st.Actions = []int64{}
	}
	if err := a.store.SaveJSON(state.AutoHealFile, st); err != nil {
		return fmt.Errorf("persist autoheal state: %w", err)
	}
	return nil
}

func (a *Actuator) record(ev models.Event) {
	if a.recorder == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = a.now()
	}
	if err := a.recorder.Record(ev); err != nil {
		a.logger.Warn("record autoheal event", slog.Any("error", err))
	}
}

func describe(summary *models.HealthSummary, streak int) string {
	if summary == nil {
		return fmt.Sprintf("health summary unavailable for %d ticks", streak)
	}
	return fmt.Sprintf("success %.1f%%, latency %.0fms for %d ticks",
		summary.RecentSuccessRate, summary.RecentAvgLatencyMs, streak)
}

func formatAction(outcomes []RestartOutcome, reason string, actions int) string {
	parts := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if o.OK {
			parts = append(parts, o.Service+" ok")
		} else {
			parts = append(parts, o.Service+" failed")
		}
	}
	return fmt.Sprintf("[autoheal] restarted %s (%s; %d actions in 30m)", strings.Join(parts, ", "), reason, actions)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
