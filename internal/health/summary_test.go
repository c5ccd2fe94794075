package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/miradorstack/mirador-autoheal/internal/models"
)

func sample(at time.Time, rate, latency float64) models.HealthSample {
	return models.HealthSample{Timestamp: at, SuccessRate: rate, AvgLatencyMs: latency}
}

func TestBuildSampleAveragesSuccessfulLatency(t *testing.T) {
	s := BuildSample(time.Unix(0, 0), []models.EndpointResult{
		{Name: "a", OK: true, LatencyMs: 100},
		{Name: "b", OK: true, LatencyMs: 300},
		{Name: "c", OK: false, LatencyMs: 8000},
	})
	assert.InDelta(t, 66.666, s.SuccessRate, 0.01)
	assert.Equal(t, 200.0, s.AvgLatencyMs)

	empty := BuildSample(time.Unix(0, 0), nil)
	assert.Equal(t, 0.0, empty.SuccessRate)
}

func TestSummarizeUsesFullySuccessfulTicks(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	samples := []models.HealthSample{
		sample(base, 100, 9999),
		sample(base.Add(5*time.Minute), 100, 100),
		sample(base.Add(10*time.Minute), 50, 700),
		sample(base.Add(15*time.Minute), 100, 300),
		sample(base.Add(20*time.Minute), 100, 200),
	}

	s := Summarize(samples, 4, 10)
	assert.Equal(t, 4, s.SampleCount)
	assert.Equal(t, 75.0, s.RecentSuccessRate)
	assert.Equal(t, 200.0, s.RecentAvgLatencyMs)
	assert.Equal(t, 10, s.TotalChecks)
	assert.Equal(t, base.Add(20*time.Minute), s.LastCheck)
	assert.Equal(t, 0.17, s.UptimeHours)
}

func TestSummarizeUptime(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	allGood := []models.HealthSample{sample(base, 100, 1), sample(base.Add(2*time.Hour), 100, 1)}
	assert.Equal(t, 2.0, Summarize(allGood, 24, 2).UptimeHours)

	latestBad := []models.HealthSample{sample(base, 100, 1), sample(base.Add(time.Hour), 0, 0)}
	assert.Equal(t, 0.0, Summarize(latestBad, 24, 2).UptimeHours)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, 24, 0)
	assert.Zero(t, s.SampleCount)
	assert.Zero(t, s.RecentSuccessRate)
	assert.True(t, s.LastCheck.IsZero())
}

func TestSummarizeNoSuccessfulTicks(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Summarize([]models.HealthSample{sample(base, 0, 0), sample(base.Add(time.Minute), 50, 1200)}, 24, 2)
	assert.Equal(t, 0.0, s.RecentSuccessRate)
	assert.Equal(t, 0.0, s.RecentAvgLatencyMs)
}
