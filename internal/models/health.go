package models

import "time"

// EndpointResult is the outcome of probing one endpoint during a tick.
type EndpointResult struct {
	Name       string  `json:"name"`
	URL        string  `json:"url"`
	OK         bool    `json:"ok"`
	LatencyMs  float64 `json:"latency_ms"`
	StatusCode int     `json:"status_code,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// HealthSample is one timestamped aggregation of all endpoint probes. Samples are
// never modified after they are appended to the ring.
type HealthSample struct {
	Timestamp    time.Time        `json:"ts"`
	SuccessRate  float64          `json:"success_rate"`
	AvgLatencyMs float64          `json:"avg_latency_ms"`
	Endpoints    []EndpointResult `json:"endpoints"`
}

// FullySuccessful reports whether every endpoint succeeded in this sample.
func (s HealthSample) FullySuccessful() bool {
	return s.SuccessRate >= 100
}

// HealthSummary is the recent-window rollup consumed by the downstream components.
type HealthSummary struct {
	LastCheck          time.Time `json:"last_check"`
	TotalChecks        int       `json:"total_checks"`
	RecentSuccessRate  float64   `json:"recent_success_rate"`
	RecentAvgLatencyMs float64   `json:"recent_avg_latency_ms"`
	SampleCount        int       `json:"sample_count"`
	UptimeHours        float64   `json:"uptime_hours"`
}

// HealthDocument is the persisted shape of health_summary.json.
type HealthDocument struct {
	Checks  []HealthSample `json:"checks"`
	Summary HealthSummary  `json:"summary"`
}
