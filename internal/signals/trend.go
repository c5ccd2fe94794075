package signals

import (
	"context"

	"github.com/miradorstack/mirador-autoheal/internal/extractors"
	"github.com/miradorstack/mirador-autoheal/internal/models"
)

// HealthSource exposes the health ring and its rolling summary.
type HealthSource interface {
	Samples() []models.HealthSample
	Summary() *models.HealthSummary
}

// TrendOptions gates the trend level on the same thresholds and debounce the
// actuator applies. Zero values fall back to DefaultTrendOptions.
type TrendOptions struct {
	MinSuccess   float64
	MaxLatencyMs float64
	Consecutive  int
	MinStdDevMs  float64
	Baseline     int
}

// DefaultTrendOptions matches the actuator defaults. A 50ms deviation floor keeps
// ordinary jitter on a fast fleet well below one deviation.
func DefaultTrendOptions() TrendOptions {
	return TrendOptions{MinSuccess: 95, MaxLatencyMs: 2000, Consecutive: 3, MinStdDevMs: 50, Baseline: 6}
}

func (o TrendOptions) normalize() TrendOptions {
	def := DefaultTrendOptions()
	if o.MinSuccess <= 0 {
		o.MinSuccess = def.MinSuccess
	}
	if o.MaxLatencyMs <= 0 {
		o.MaxLatencyMs = def.MaxLatencyMs
	}
	if o.Consecutive <= 0 {
		o.Consecutive = def.Consecutive
	}
	if o.MinStdDevMs <= 0 {
		o.MinStdDevMs = def.MinStdDevMs
	}
	if o.Baseline <= 0 {
		o.Baseline = def.Baseline
	}
	return o
}

// TrendRiskSource derives a categorical risk level from the health ring when no
// external predictor is configured. It reports "low" unless the rolling summary
// is degraded and the last Consecutive samples each breached a threshold. A
// degraded fleet is "medium", raised to "high" when the latest tick failed
// every probe or its latency z-score reaches 3.
type TrendRiskSource struct {
	health    HealthSource
	extractor *extractors.MetricExtractor
	opts      TrendOptions
}

// NewTrendRiskSource wires a trend source over the aggregator.
func NewTrendRiskSource(health HealthSource, opts TrendOptions) *TrendRiskSource {
	opts = opts.normalize()
	return &TrendRiskSource{health: health, extractor: extractors.NewMetricExtractor(opts.MinStdDevMs), opts: opts}
}

// Risk implements RiskSource.
func (t *TrendRiskSource) Risk(_ context.Context) (Risk, error) {
	samples := t.health.Samples()
	if len(samples) == 0 {
		return Risk{}, nil
	}
	low := Risk{Level: "low", Source: "trend"}
	if !t.summaryBad(t.health.Summary()) || t.badStreak(samples) < t.opts.Consecutive {
		return low, nil
	}

	if samples[len(samples)-1].SuccessRate <= 0 {
		return Risk{Level: "high", Source: "trend"}, nil
	}
	level := "medium"
	if score, ok := t.extractor.LatestScore(extractors.LatencySeries(samples), t.opts.Baseline); ok && score >= 3 {
		level = "high"
	}
	return Risk{Level: level, Source: "trend"}, nil
}

func (t *TrendRiskSource) summaryBad(s *models.HealthSummary) bool {
	if s == nil || s.SampleCount == 0 {
		return false
	}
	return s.RecentSuccessRate < t.opts.MinSuccess || s.RecentAvgLatencyMs > t.opts.MaxLatencyMs
}

// badStreak counts the trailing samples that breached a threshold.
func (t *TrendRiskSource) badStreak(samples []models.HealthSample) int {
	n := 0
	for i := len(samples) - 1; i >= 0; i-- {
		s := samples[i]
		if s.SuccessRate >= t.opts.MinSuccess && s.AvgLatencyMs <= t.opts.MaxLatencyMs {
			break
		}
		n++
	}
	return n
}

// Fallback returns primary's risk when it carries a signal and secondary's
// otherwise.
type Fallback struct {
	Primary   RiskSource
	Secondary RiskSource
}

// Risk implements RiskSource.
func (f Fallback) Risk(ctx context.Context) (Risk, error) {
	if f.Primary != nil {
		r, err := f.Primary.Risk(ctx)
		if err != nil {
			return r, err
		}
		if r.HasScore || r.Level != "" {
			return r, nil
		}
	}
	if f.Secondary == nil {
		return Risk{}, nil
	}
	return f.Secondary.Risk(ctx)
}
