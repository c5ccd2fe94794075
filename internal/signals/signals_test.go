package signals

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-autoheal/internal/models"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signal.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestFileRiskSource(t *testing.T) {
	ctx := context.Background()

	r, err := NewFileRiskSource(writeFile(t, `{"risk_score": 0.82}`)).Risk(ctx)
	require.NoError(t, err)
	assert.True(t, r.HasScore)
	assert.Equal(t, 0.82, r.Score)

	r, err = NewFileRiskSource(writeFile(t, `{"level": "High"}`)).Risk(ctx)
	require.NoError(t, err)
	assert.False(t, r.HasScore)
	assert.Equal(t, "high", r.Level)

	r, err = NewFileRiskSource(filepath.Join(t.TempDir(), "missing.json")).Risk(ctx)
	require.NoError(t, err)
	assert.Equal(t, Risk{}, r)

	_, err = NewFileRiskSource(writeFile(t, `nope`)).Risk(ctx)
	assert.Error(t, err)
}

func TestFileVerifierSource(t *testing.T) {
	ctx := context.Background()
	cases := map[string]bool{
		`{"failed": true}`:                    true,
		`{"failed": false}`:                   false,
		`{"status": "FAIL"}`:                  true,
		`{"status": "pass"}`:                  false,
		`{"failed": false, "status": "fail"}`: false,
	}
	for body, want := range cases {
		got, err := NewFileVerifierSource(writeFile(t, body)).LastRunFailed(ctx)
		require.NoError(t, err, body)
		assert.Equal(t, want, got, body)
	}

	got, err := NewFileVerifierSource("").LastRunFailed(ctx)
	require.NoError(t, err)
	assert.False(t, got)
}

type staticHealth struct {
	samples []models.HealthSample
	summary *models.HealthSummary
}

func (s staticHealth) Samples() []models.HealthSample { return s.samples }
func (s staticHealth) Summary() *models.HealthSummary { return s.summary }

func ring(latencies ...float64) []models.HealthSample {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.HealthSample, 0, len(latencies))
	for i, l := range latencies {
		out = append(out, models.HealthSample{Timestamp: base.Add(time.Duration(i) * 5 * time.Minute), SuccessRate: 100, AvgLatencyMs: l})
	}
	return out
}

// withSummary attaches a summary averaged over the whole ring.
func withSummary(samples []models.HealthSample) staticHealth {
	sum := &models.HealthSummary{SampleCount: len(samples)}
	for _, s := range samples {
		sum.RecentSuccessRate += s.SuccessRate
		sum.RecentAvgLatencyMs += s.AvgLatencyMs
	}
	if n := float64(len(samples)); n > 0 {
		sum.RecentSuccessRate /= n
		sum.RecentAvgLatencyMs /= n
	}
	return staticHealth{samples: samples, summary: sum}
}

func dead(samples []models.HealthSample, last int) []models.HealthSample {
	for i := len(samples) - last; i < len(samples); i++ {
		samples[i].SuccessRate = 0
		samples[i].AvgLatencyMs = 0
	}
	return samples
}

func TestTrendRiskSourceIgnoresJitterOnHealthyFleet(t *testing.T) {
	src := NewTrendRiskSource(withSummary(ring(10.1, 10.3, 9.9, 10.2, 10.0, 10.1, 10.8)), TrendOptions{})

	r, err := src.Risk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "low", r.Level)
	assert.Equal(t, "trend", r.Source)
}

func TestTrendRiskSourceHealthySpikeStaysLow(t *testing.T) {
	// One slow tick under the latency threshold is not a degraded fleet.
	src := NewTrendRiskSource(withSummary(ring(100, 105, 95, 100, 102, 98, 1900)), TrendOptions{})

	r, err := src.Risk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "low", r.Level)
}

func TestTrendRiskSourceWaitsForConsecutiveFailures(t *testing.T) {
	ctx := context.Background()

	for failed := 1; failed < 3; failed++ {
		r, err := NewTrendRiskSource(withSummary(dead(ring(100, 100, 100, 100, 100, 100), failed)), TrendOptions{}).Risk(ctx)
		require.NoError(t, err)
		assert.Equal(t, "low", r.Level, "failed ticks: %d", failed)
	}

	r, err := NewTrendRiskSource(withSummary(dead(ring(100, 100, 100, 100, 100, 100), 3)), TrendOptions{}).Risk(ctx)
	require.NoError(t, err)
	assert.Equal(t, "high", r.Level)

	r, err = NewTrendRiskSource(withSummary(dead(ring(100, 100, 100, 100, 100, 100), 2)), TrendOptions{Consecutive: 2}).Risk(ctx)
	require.NoError(t, err)
	assert.Equal(t, "high", r.Level)
}

func TestTrendRiskSourceSlowFleet(t *testing.T) {
	ctx := context.Background()

	r, err := NewTrendRiskSource(withSummary(ring(2500, 2600, 2400, 2500, 2550, 2450, 2500)), TrendOptions{}).Risk(ctx)
	require.NoError(t, err)
	assert.Equal(t, "medium", r.Level, "degraded but steady")

	r, err = NewTrendRiskSource(withSummary(ring(2500, 2600, 2400, 2500, 2550, 2450, 9000)), TrendOptions{}).Risk(ctx)
	require.NoError(t, err)
	assert.Equal(t, "high", r.Level)
}

func TestTrendRiskSourceNeedsDegradedSummary(t *testing.T) {
	samples := dead(ring(100, 100, 100, 100, 100, 100), 3)
	src := NewTrendRiskSource(staticHealth{samples: samples, summary: &models.HealthSummary{SampleCount: 6, RecentSuccessRate: 99}}, TrendOptions{})

	r, err := src.Risk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "low", r.Level)

	r, err = NewTrendRiskSource(staticHealth{}, TrendOptions{}).Risk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Risk{}, r)
}

func TestFallback(t *testing.T) {
	ctx := context.Background()
	missing := NewFileRiskSource(filepath.Join(t.TempDir(), "none.json"))
	trend := NewTrendRiskSource(withSummary(dead(ring(1, 1, 1, 1, 1, 1), 3)), TrendOptions{})

	r, err := Fallback{Primary: missing, Secondary: trend}.Risk(ctx)
	require.NoError(t, err)
	assert.Equal(t, "trend", r.Source)
	assert.Equal(t, "high", r.Level)

	file := NewFileRiskSource(writeFile(t, `{"risk_score": 0.1}`))
	r, err = Fallback{Primary: file, Secondary: trend}.Risk(ctx)
	require.NoError(t, err)
	assert.True(t, r.HasScore)

	r, err = Fallback{Primary: missing}.Risk(ctx)
	require.NoError(t, err)
	assert.Equal(t, Risk{}, r)
}
