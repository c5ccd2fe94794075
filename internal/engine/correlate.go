package engine

import (
	"fmt"
	"time"

	"github.com/miradorstack/mirador-autoheal/internal/models"
)

// FleetService names findings that are not attributable to a single service.
const FleetService = "fleet"

// Confidence assigned by each rule.
const (
	ConfidenceLatencySpike        = 0.70
	ConfidenceServiceInstability  = 0.75
	ConfidenceNightlyVerifierFail = 0.80
	ConfidenceMaintenanceStuck    = 0.60
)

// Windows are the evidence lookback windows.
type Windows struct {
	Alerts   time.Duration
	Autoheal time.Duration
}

// DefaultWindows looks back 10 minutes for alerts and 30 for restarts and
// maintenance markers.
func DefaultWindows() Windows {
	return Windows{Alerts: 10 * time.Minute, Autoheal: 30 * time.Minute}
}

// ServiceRestarts counts restarts of one service.
type ServiceRestarts struct {
	Service string
	Count   int
}

// Evidence is everything the rules look at.
type Evidence struct {
	Now               time.Time
	Summary           *models.HealthSummary
	RecentAlerts      int
	Restarts          []ServiceRestarts
	MaintenanceActive bool
	VerifierFailed    bool
}

// BuildEvidence reduces the audit events to rule inputs. Restarts keep the
// order in which each service was first seen.
func BuildEvidence(summary *models.HealthSummary, events []models.Event, verifierFailed bool, now time.Time, w Windows) Evidence {
	if w.Alerts <= 0 || w.Autoheal <= 0 {
		w = DefaultWindows()
	}
	ev := Evidence{Now: now, Summary: summary, VerifierFailed: verifierFailed}

	alertCutoff := now.Add(-w.Alerts)
	healCutoff := now.Add(-w.Autoheal)
	index := make(map[string]int)
	enables, disables := 0, 0

	for _, e := range events {
		switch e.Kind {
		case models.EventAlert:
			if e.At.After(alertCutoff) {
				ev.RecentAlerts++
			}
		case models.EventAutohealRestart:
			if !e.At.After(healCutoff) || e.Service == "" {
				continue
			}
			i, ok := index[e.Service]
			if !ok {
				i = len(ev.Restarts)
				index[e.Service] = i
				ev.Restarts = append(ev.Restarts, ServiceRestarts{Service: e.Service})
			}
			ev.Restarts[i].Count++
		case models.EventMaintenanceEnable:
			if e.At.After(healCutoff) {
				enables++
			}
		case models.EventMaintenanceDisable:
			if e.At.After(healCutoff) {
				disables++
			}
		}
	}
	ev.MaintenanceActive = enables > disables
	return ev
}

// MostRestarted returns the service with the highest restart count; ties go
// to the service seen first.
func (e Evidence) MostRestarted() (ServiceRestarts, bool) {
	var best ServiceRestarts
	found := false
	for _, r := range e.Restarts {
		if !found || r.Count > best.Count {
			best = r
			found = true
		}
	}
	return best, found
}

// Options holds rule thresholds and the optional remedy overrides.
type Options struct {
	MaxLatencyMs       float64
	MinAlerts          int
	InstabilitySuccess float64
	MinRestarts        int
	StuckSuccess       float64
	Remedies           *RemedyBook
}

// DefaultOptions returns the documented rule thresholds.
func DefaultOptions() Options {
	return Options{
		MaxLatencyMs:       2000,
		MinAlerts:          2,
		InstabilitySuccess: 98,
		MinRestarts:        2,
		StuckSuccess:       95,
	}
}

func (o Options) normalize() Options {
	def := DefaultOptions()
	if o.MaxLatencyMs <= 0 {
		o.MaxLatencyMs = def.MaxLatencyMs
	}
	if o.MinAlerts <= 0 {
		o.MinAlerts = def.MinAlerts
	}
	if o.InstabilitySuccess <= 0 {
		o.InstabilitySuccess = def.InstabilitySuccess
	}
	if o.MinRestarts <= 0 {
		o.MinRestarts = def.MinRestarts
	}
	if o.StuckSuccess <= 0 {
		o.StuckSuccess = def.StuckSuccess
	}
	return o
}

// Correlate evaluates every rule against the evidence. All matching rules
// fire; the result is ranked by confidence, highest first.
func Correlate(ev Evidence, opts Options) []models.CorrelationFinding {
	opts = opts.normalize()
	findings := make([]models.CorrelationFinding, 0, 4)
	s := ev.Summary

	if s != nil && s.RecentAvgLatencyMs > opts.MaxLatencyMs && ev.RecentAlerts >= opts.MinAlerts && !ev.MaintenanceActive {
		findings = append(findings, models.CorrelationFinding{
			Service:         FleetService,
			Cause:           models.CauseLatencySpike,
			SuggestedRemedy: "restart the slowest service and inspect traffic volume for a surge",
			Confidence:      ConfidenceLatencySpike,
			Evidence: []string{
				fmt.Sprintf("recent_avg_latency_ms=%.0f > %.0f", s.RecentAvgLatencyMs, opts.MaxLatencyMs),
				fmt.Sprintf("alerts_last_10m=%d", ev.RecentAlerts),
				"maintenance=inactive",
			},
		})
	}

	if top, ok := ev.MostRestarted(); ok && s != nil && s.RecentSuccessRate < opts.InstabilitySuccess && top.Count >= opts.MinRestarts {
		findings = append(findings, models.CorrelationFinding{
			Service:         top.Service,
			Cause:           models.CauseServiceInstability,
			SuggestedRemedy: fmt.Sprintf("lock maintenance and inspect %s logs before restarting again", top.Service),
			Confidence:      ConfidenceServiceInstability,
			Evidence: []string{
				fmt.Sprintf("recent_success_rate=%.1f < %.1f", s.RecentSuccessRate, opts.InstabilitySuccess),
				fmt.Sprintf("restarts_last_30m[%s]=%d", top.Service, top.Count),
			},
		})
	}

	if ev.VerifierFailed {
		findings = append(findings, models.CorrelationFinding{
			Service:         FleetService,
			Cause:           models.CauseNightlyVerifierFail,
			SuggestedRemedy: "roll back to the last verified release",
			Confidence:      ConfidenceNightlyVerifierFail,
			Evidence:        []string{"verifier_last_run=failed"},
		})
	}

	if s != nil && ev.MaintenanceActive && s.RecentSuccessRate < opts.StuckSuccess {
		findings = append(findings, models.CorrelationFinding{
			Service:         FleetService,
			Cause:           models.CauseMaintenanceStuck,
			SuggestedRemedy: "escalate to on-call and disable auto-heal until the fleet is stable",
			Confidence:      ConfidenceMaintenanceStuck,
			Evidence: []string{
				"maintenance=active",
				fmt.Sprintf("recent_success_rate=%.1f < %.1f", s.RecentSuccessRate, opts.StuckSuccess),
			},
		})
	}

	for i := range findings {
		findings[i].GeneratedAt = ev.Now
	}
	opts.Remedies.Apply(findings)
	models.RankFindings(findings)
	return findings
}
