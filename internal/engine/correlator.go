// Package engine turns health and audit evidence into ranked root-cause
// findings and persists the latest report.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-autoheal/internal/models"
	"github.com/miradorstack/mirador-autoheal/internal/state"
)

// EventSource returns audit events newer than now-window.
type EventSource interface {
	Since(now time.Time, window time.Duration) ([]models.Event, error)
}

// VerifierSource reports whether the latest external verification run failed.
type VerifierSource interface {
	LastRunFailed(ctx context.Context) (bool, error)
}

// Correlator owns correlation.json.
type Correlator struct {
	store    *state.Store
	events   EventSource
	verifier VerifierSource
	opts     Options
	windows  Windows
	logger   *slog.Logger
	now      func() time.Time
}

// NewCorrelator wires a correlator. events and verifier may be nil.
func NewCorrelator(store *state.Store, events EventSource, verifier VerifierSource, opts Options, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		store:    store,
		events:   events,
		verifier: verifier,
		opts:     opts,
		windows:  DefaultWindows(),
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the correlator's time source.
func (c *Correlator) SetClock(now func() time.Time) { c.now = now }

// Run gathers evidence, correlates and writes the report. Unreadable sources
// degrade to "no evidence" instead of failing the run.
func (c *Correlator) Run(ctx context.Context, summary *models.HealthSummary) (models.CorrelationReport, error) {
	now := c.now().UTC()

	var events []models.Event
	if c.events != nil {
		lookback := c.windows.Autoheal
		if c.windows.Alerts > lookback {
			lookback = c.windows.Alerts
		}
		var err error
		if events, err = c.events.Since(now, lookback); err != nil {
			c.logger.Warn("read audit events", slog.Any("error", err))
			events = nil
		}
	}

	verifierFailed := false
	if c.verifier != nil {
		failed, err := c.verifier.LastRunFailed(ctx)
		if err != nil {
			c.logger.Warn("read verifier signal", slog.Any("error", err))
		}
		verifierFailed = err == nil && failed
	}

	evidence := BuildEvidence(summary, events, verifierFailed, now, c.windows)
	findings := Correlate(evidence, c.opts)

	report := models.CorrelationReport{
		GeneratedAt: now,
		Window: models.CorrelationWindow{
			AlertsMin:   int(c.windows.Alerts / time.Minute),
			AutohealMin: int(c.windows.Autoheal / time.Minute),
		},
		Health:   summary,
		Findings: findings,
	}
	if top, ok := models.TopFinding(findings); ok {
		c.logger.Info("correlation finding",
			slog.String("cause", string(top.Cause)),
			slog.String("service", top.Service),
			slog.Float64("confidence", top.Confidence),
			slog.Int("findings", len(findings)),
		)
	}

	if err := c.store.SaveJSON(state.CorrelationFile, report); err != nil {
		return report, fmt.Errorf("persist correlation report: %w", err)
	}
	return report, nil
}

// Latest reads the last persisted report.
func (c *Correlator) Latest() (models.CorrelationReport, error) {
	var report models.CorrelationReport
	err := c.store.LoadJSON(state.CorrelationFile, &report)
	return report, err
}
