package models

import "time"

// EventKind tags audit events written by the alert evaluator and the actuator.
type EventKind string

const (
	EventAlert              EventKind = "alert"
	EventAutohealRestart    EventKind = "autoheal_restart"
	EventMaintenanceEnable  EventKind = "maintenance_enable"
	EventMaintenanceDisable EventKind = "maintenance_disable"
)

// Event is a structured audit record. The correlation engine matches on Kind and
// Service rather than scraping free text.
type Event struct {
	At        time.Time `json:"at"`
	Kind      EventKind `json:"kind"`
	Service   string    `json:"service,omitempty"`
	AlertKind AlertKind `json:"alert_kind,omitempty"`
	OK        bool      `json:"ok"`
	Detail    string    `json:"detail,omitempty"`
}

// AlertKind identifies a threshold alert.
type AlertKind string

const (
	AlertLowSuccess  AlertKind = "low_success"
	AlertHighLatency AlertKind = "high_latency"
)

// AlertOutcome records what happened to a firing alert.
type AlertOutcome string

const (
	AlertDelivered  AlertOutcome = "delivered"
	AlertSuppressed AlertOutcome = "suppressed"
	AlertFailed     AlertOutcome = "failed"
)

// AlertEvent is a firing alert together with its delivery outcome.
type AlertEvent struct {
	Kind      AlertKind    `json:"kind"`
	Reason    string       `json:"reason"`
	Value     float64      `json:"value"`
	Threshold float64      `json:"threshold"`
	At        time.Time    `json:"at"`
	Outcome   AlertOutcome `json:"outcome"`
}

// AlertRecord is the cooldown bookkeeping for one alert kind.
type AlertRecord struct {
	LastSentAt  time.Time      `json:"lastSentAt"`
	LastReasons []string       `json:"lastReasons"`
	LastSummary *HealthSummary `json:"lastSummary,omitempty"`
}

// AlertState maps each alert kind to its cooldown record.
type AlertState map[AlertKind]AlertRecord
