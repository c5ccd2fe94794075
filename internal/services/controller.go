// Package services drives the remediation loop: one tick runs every stage in
// order and the scheduler repeats ticks on a fixed interval.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/miradorstack/mirador-autoheal/internal/autoheal"
	"github.com/miradorstack/mirador-autoheal/internal/metrics"
	"github.com/miradorstack/mirador-autoheal/internal/models"
	"github.com/miradorstack/mirador-autoheal/internal/queue"
	"github.com/miradorstack/mirador-autoheal/internal/utils"
)

// Stage names used in logs and in the stage failure metric.
const (
	StageHealth    = "health"
	StageAlerts    = "alerts"
	StageAutoHeal  = "autoheal"
	StageCorrelate = "correlate"
	StageAutonomy  = "autonomy"
	StageIntents   = "intents"
	StageAudit     = "audit"
)

const maxIntentsPerTick = 16

// HealthStage probes the fleet and returns the rolling summary.
type HealthStage interface {
	RunTick(ctx context.Context) (models.HealthSummary, error)
}

// AlertStage fires threshold alerts for a summary.
type AlertStage interface {
	Evaluate(ctx context.Context, summary *models.HealthSummary) []models.AlertEvent
}

// HealStage restarts services, either on its own evaluation or on an intent.
type HealStage interface {
	Evaluate(ctx context.Context, summary *models.HealthSummary) (autoheal.Result, error)
	Execute(ctx context.Context, intent models.RemediationIntent) (autoheal.Result, error)
}

// CorrelationStage produces ranked findings.
type CorrelationStage interface {
	Run(ctx context.Context, summary *models.HealthSummary) (models.CorrelationReport, error)
}

// AutonomyStage decides whether to act on findings.
type AutonomyStage interface {
	Run(ctx context.Context, findings []models.CorrelationFinding) (models.AutonomyStatus, error)
}

// Compactor trims the audit log.
type Compactor interface {
	Compact(now time.Time) error
}

// Stages groups the loop components. Nil stages are skipped.
type Stages struct {
	Health     HealthStage
	Alerts     AlertStage
	AutoHeal   HealStage
	Correlator CorrelationStage
	Autonomy   AutonomyStage
	Intents    queue.Queue
	Audit      Compactor
}

// StageFailure records a stage that returned an error or panicked.
type StageFailure struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// TickReport is everything one tick produced.
type TickReport struct {
	At       time.Time                   `json:"at"`
	Duration time.Duration               `json:"duration"`
	Summary  *models.HealthSummary       `json:"summary"`
	Alerts   []models.AlertEvent         `json:"alerts,omitempty"`
	AutoHeal autoheal.Result             `json:"autoheal"`
	Findings []models.CorrelationFinding `json:"findings"`
	Autonomy models.AutonomyStatus       `json:"autonomy"`
	Intents  []autoheal.Result           `json:"intents,omitempty"`
	Failures []StageFailure              `json:"failures,omitempty"`
}

// OK reports whether every stage succeeded.
func (r TickReport) OK() bool { return len(r.Failures) == 0 }

// Controller runs the stages in their fixed order. Ticks never overlap.
type Controller struct {
	stages    Stages
	logger    *slog.Logger
	latencies *utils.LatencyTracker
	now       func() time.Time

	tickMu sync.Mutex

	mu        sync.RWMutex
	last      *TickReport
	listeners []func(TickReport)
}

// NewController wires the loop.
func NewController(stages Stages, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		stages:    stages,
		logger:    logger,
		latencies: utils.NewLatencyTracker(512),
		now:       time.Now,
	}
}

// SetClock replaces the controller's time source.
func (c *Controller) SetClock(now func() time.Time) { c.now = now }

// OnTick registers fn to receive every completed tick report.
func (c *Controller) OnTick(fn func(TickReport)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Last returns the most recent tick report.
func (c *Controller) Last() (TickReport, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return TickReport{}, false
	}
	return *c.last, true
}

// Tick runs one pass: health, alerts, autoheal, correlation, autonomy, then
// queued intents. A failing stage is logged and counted; later stages still run.
func (c *Controller) Tick(ctx context.Context) TickReport {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	start := time.Now()
	report := TickReport{At: c.now().UTC(), Findings: []models.CorrelationFinding{}}

	if c.stages.Health != nil {
		c.run(&report, StageHealth, func() error {
			summary, err := c.stages.Health.RunTick(ctx)
			if summary.SampleCount > 0 {
				report.Summary = &summary
			}
			return err
		})
	}
	if c.stages.Alerts != nil {
		c.run(&report, StageAlerts, func() error {
			report.Alerts = c.stages.Alerts.Evaluate(ctx, report.Summary)
			return nil
		})
	}
	if c.stages.AutoHeal != nil {
		c.run(&report, StageAutoHeal, func() error {
			res, err := c.stages.AutoHeal.Evaluate(ctx, report.Summary)
			report.AutoHeal = res
			return err
		})
	}
	if c.stages.Correlator != nil {
		c.run(&report, StageCorrelate, func() error {
			rep, err := c.stages.Correlator.Run(ctx, report.Summary)
			if rep.Findings != nil {
				report.Findings = rep.Findings
			}
			return err
		})
	}
	if c.stages.Autonomy != nil {
		c.run(&report, StageAutonomy, func() error {
			status, err := c.stages.Autonomy.Run(ctx, report.Findings)
			report.Autonomy = status
			return err
		})
	}
	if c.stages.Intents != nil && c.stages.AutoHeal != nil {
		c.run(&report, StageIntents, func() error {
			return c.drainIntents(ctx, &report)
		})
	}
	if c.stages.Audit != nil {
		c.run(&report, StageAudit, func() error {
			return c.stages.Audit.Compact(c.now())
		})
	}

	report.Duration = time.Since(start)
	c.finish(report)
	return report
}

// Run ticks immediately and then every interval until ctx is cancelled.
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	if interval < time.Second {
		return fmt.Errorf("tick interval %s is below one second", interval)
	}

	logger := cronLogger{c.logger}
	sched := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := sched.AddFunc("@every "+interval.String(), func() { c.Tick(ctx) }); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}

	c.logger.Info("controller started", slog.Duration("interval", interval))
	c.Tick(ctx)
	sched.Start()

	<-ctx.Done()
	<-sched.Stop().Done()
	c.logger.Info("controller stopped")
	return nil
}

func (c *Controller) drainIntents(ctx context.Context, report *TickReport) error {
	intents, err := c.stages.Intents.Drain(ctx, maxIntentsPerTick)
	if err != nil {
		return fmt.Errorf("drain intents: %w", err)
	}
	var firstErr error
	for _, intent := range intents {
		res, err := c.stages.AutoHeal.Execute(ctx, intent)
		report.Intents = append(report.Intents, res)
		c.logger.Info("intent executed",
			slog.String("intent_id", intent.ID),
			slog.String("target", intent.Target),
			slog.String("step", string(res.Step)),
		)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("execute intent %s: %w", intent.ID, err)
		}
	}
	return firstErr
}

func (c *Controller) run(report *TickReport, stage string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			c.fail(report, stage, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := fn(); err != nil {
		c.fail(report, stage, err)
	}
}

func (c *Controller) fail(report *TickReport, stage string, err error) {
	report.Failures = append(report.Failures, StageFailure{Stage: stage, Error: err.Error()})
	metrics.StageFailed(stage)
	attrs := []any{slog.String("stage", stage), slog.Any("error", err)}
	if op := utils.Op(err); op != "" {
		attrs = append(attrs, slog.String("op", op))
	}
	c.logger.Error("stage failed", attrs...)
}

func (c *Controller) finish(report TickReport) {
	outcome := metrics.OutcomeSuccess
	if !report.OK() {
		outcome = metrics.OutcomeError
	}
	metrics.ObserveTick(report.Duration, outcome)

	c.latencies.Observe(report.Duration)
	if count := c.latencies.Count(); count >= 20 && count%20 == 0 {
		lat := c.latencies.Summary()
		c.logger.Info("tick latency",
			slog.Duration("p50", lat.P50),
			slog.Duration("p95", lat.P95),
			slog.Duration("max", lat.Max),
			slog.Int("samples", lat.Count),
		)
	}

	c.mu.Lock()
	c.last = &report
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(report)
	}
}

// Latency summarises recent tick durations.
func (c *Controller) Latency() utils.LatencySummary {
	return c.latencies.Summary()
}

// cronLogger routes scheduler chatter to slog at debug level.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append([]interface{}{slog.Any("error", err)}, keysAndValues...)...)
}
