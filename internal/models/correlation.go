package models

import (
	"sort"
	"time"
)

// Cause enumerates the root-cause hypotheses the correlation engine can emit.
type Cause string

const (
	CauseLatencySpike        Cause = "latency_spike"
	CauseServiceInstability  Cause = "service_instability"
	CauseNightlyVerifierFail Cause = "nightly_verifier_fail"
	CauseMaintenanceStuck    Cause = "maintenance_stuck"
)

// CorrelationFinding is a single hypothesis about why the fleet is degraded.
type CorrelationFinding struct {
	Service         string    `json:"service"`
	Cause           Cause     `json:"cause"`
	SuggestedRemedy string    `json:"suggested_remedy"`
	Confidence      float64   `json:"confidence"`
	Evidence        []string  `json:"evidence"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// CorrelationWindow records the lookback windows used for a correlation run, in minutes.
type CorrelationWindow struct {
	AlertsMin   int `json:"alerts_min"`
	AutohealMin int `json:"autoheal_min"`
}

// CorrelationReport is the persisted shape of correlation.json.
type CorrelationReport struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Window      CorrelationWindow    `json:"window"`
	Health      *HealthSummary       `json:"health"`
	Findings    []CorrelationFinding `json:"findings"`
}

// RankFindings orders findings by confidence, highest first. Equal confidences keep
// their rule order.
func RankFindings(findings []CorrelationFinding) {
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Confidence > findings[j].Confidence
	})
}

// TopFinding returns the highest-confidence finding, or false when there are none.
func TopFinding(findings []CorrelationFinding) (CorrelationFinding, bool) {
	if len(findings) == 0 {
		return CorrelationFinding{}, false
	}
	best := findings[0]
	for _, f := range findings[1:] {
		if f.Confidence > best.Confidence {
			best = f
		}
	}
	return best, true
}
