package models

import "time"

// AutoHealState is the actuator's persisted debounce and budget state.
type AutoHealState struct {
	BadStreak    int     `json:"badStreak"`
	LastActionAt int64   `json:"lastActionAt"`
	Actions      []int64 `json:"actions"`
}

// LastAction returns LastActionAt as a time, zero when no action was ever taken.
func (s AutoHealState) LastAction() time.Time {
	if s.LastActionAt <= 0 {
		return time.Time{}
	}
	return time.Unix(s.LastActionAt, 0).UTC()
}

// MaintenanceFlag is the circuit breaker that halts automated remediation.
type MaintenanceFlag struct {
	Active bool      `json:"active"`
	Reason string    `json:"reason,omitempty"`
	SetAt  time.Time `json:"set_at,omitempty"`
}

// AutonomyState bounds the decision layer's action rate and per-service spacing.
type AutonomyState struct {
	History  []int64          `json:"history"`
	Cooldown map[string]int64 `json:"cooldown"`
}

// AutonomyMode selects how the decision layer acts on a decision.
type AutonomyMode string

const (
	ModeOff    AutonomyMode = "off"
	ModeAdvice AutonomyMode = "advice"
	ModeAuto   AutonomyMode = "auto"
)

// DecisionOutcome describes what the decision layer did this tick.
type DecisionOutcome string

const (
	OutcomeNoAction DecisionOutcome = "no_action"
	OutcomeObserved DecisionOutcome = "observed"
	OutcomeAdvised  DecisionOutcome = "advised"
	OutcomeExecuted DecisionOutcome = "executed"
	OutcomeSkipped  DecisionOutcome = "skipped"
	OutcomeFailed   DecisionOutcome = "failed"
)

// AutonomyStatus is the persisted snapshot of the latest decision.
type AutonomyStatus struct {
	At            time.Time       `json:"at"`
	Mode          AutonomyMode    `json:"mode"`
	RiskScore     float64         `json:"risk_score"`
	RiskLevel     string          `json:"risk_level,omitempty"`
	MaxConfidence float64         `json:"max_confidence"`
	TopCause      Cause           `json:"top_cause,omitempty"`
	WantAction    bool            `json:"want_action"`
	Target        string          `json:"target,omitempty"`
	CooldownOK    bool            `json:"cooldown_ok"`
	RateOK        bool            `json:"rate_ok"`
	Outcome       DecisionOutcome `json:"outcome"`
	Reasons       []string        `json:"reasons,omitempty"`
	IntentID      string          `json:"intent_id,omitempty"`
}

// IntentKind is the action requested by a remediation intent.
type IntentKind string

const (
	IntentRestart IntentKind = "restart"
	IntentNone    IntentKind = "none"
)

// IntentSourceAutonomy marks intents produced by the decision layer.
const IntentSourceAutonomy = "autonomy"

// RemediationIntent is a transient, consume-once instruction for the actuator.
type RemediationIntent struct {
	ID        string     `json:"id"`
	Kind      IntentKind `json:"kind"`
	Target    string     `json:"target,omitempty"`
	Reason    string     `json:"reason"`
	Source    string     `json:"source"`
	Timestamp time.Time  `json:"timestamp"`
}
