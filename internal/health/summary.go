package health

import (
	"math"
	"time"

	"github.com/miradorstack/mirador-autoheal/internal/models"
)

// BuildSample folds one tick of endpoint results into a sample. The sample's
// latency is the mean over successful probes only.
func BuildSample(at time.Time, results []models.EndpointResult) models.HealthSample {
	sample := models.HealthSample{Timestamp: at.UTC(), Endpoints: results}
	if len(results) == 0 {
		return sample
	}

	ok := 0
	var latency float64
	for _, r := range results {
		if r.OK {
			ok++
			latency += r.LatencyMs
		}
	}
	sample.SuccessRate = 100 * float64(ok) / float64(len(results))
	if ok > 0 {
		sample.AvgLatencyMs = latency / float64(ok)
	}
	return sample
}

// Summarize computes the recent-window rollup over the last window samples.
// RecentSuccessRate is the share of fully successful samples, not an average of
// per-tick rates.
func Summarize(samples []models.HealthSample, window, totalChecks int) models.HealthSummary {
	summary := models.HealthSummary{TotalChecks: totalChecks}
	if len(samples) == 0 {
		return summary
	}
	if window <= 0 || window > len(samples) {
		window = len(samples)
	}

	latest := samples[len(samples)-1]
	summary.LastCheck = latest.Timestamp
	summary.SampleCount = window

	recent := samples[len(samples)-window:]
	full := 0
	var latency float64
	for _, s := range recent {
		if s.FullySuccessful() {
			full++
			latency += s.AvgLatencyMs
		}
	}
	summary.RecentSuccessRate = 100 * float64(full) / float64(window)
	if full > 0 {
		summary.RecentAvgLatencyMs = latency / float64(full)
	}
	summary.UptimeHours = uptimeHours(samples)
	return summary
}

func uptimeHours(samples []models.HealthSample) float64 {
	latest := samples[len(samples)-1]
	if !latest.FullySuccessful() {
		return 0
	}
	since := samples[0].Timestamp
	for i := len(samples) - 1; i >= 0; i-- {
		if !samples[i].FullySuccessful() {
			since = samples[i].Timestamp
			break
		}
	}
	hours := latest.Timestamp.Sub(since).Hours()
	if hours < 0 {
		return 0
	}
	return math.Round(hours*100) / 100
}
