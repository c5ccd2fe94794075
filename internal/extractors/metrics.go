// Package extractors detects anomalies in numeric series derived from the
// health ring.
package extractors

import (
	"math"
	"time"

	"github.com/miradorstack/mirador-autoheal/internal/models"
)

// Point is one value of a series.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// DefaultMinStdDev keeps a near-constant baseline from turning jitter into a
// large z-score. It is in the series' own unit.
const DefaultMinStdDev = 0.01

// MetricExtractor scores points with a z-score against a trailing baseline.
type MetricExtractor struct {
	minStdDev float64
}

// NewMetricExtractor creates a scorer whose baseline deviation never drops below
// minStdDev.
func NewMetricExtractor(minStdDev float64) *MetricExtractor {
	if minStdDev <= 0 {
		minStdDev = DefaultMinStdDev
	}
	return &MetricExtractor{minStdDev: minStdDev}
}

// LatestScore returns the z-score of the newest point against the points before
// it. It needs at least minBaseline earlier points.
func (e *MetricExtractor) LatestScore(series []Point, minBaseline int) (float64, bool) {
	if minBaseline < 2 {
		minBaseline = 2
	}
	if len(series) < minBaseline+1 {
		return 0, false
	}
	baseline := series[:len(series)-1]
	mean, stdDev := meanStdDev(baseline)
	stdDev = max(stdDev, e.minStdDev)
	return (series[len(series)-1].Value - mean) / stdDev, true
}

// LatencySeries projects the samples that had at least one successful probe
// onto their mean latency.
func LatencySeries(samples []models.HealthSample) []Point {
	out := make([]Point, 0, len(samples))
	for _, s := range samples {
		if s.SuccessRate <= 0 {
			continue
		}
		out = append(out, Point{Timestamp: s.Timestamp, Value: s.AvgLatencyMs})
	}
	return out
}

func meanStdDev(series []Point) (float64, float64) {
	mean := 0.0
	for _, point := range series {
		mean += point.Value
	}
	mean /= float64(len(series))

	variance := 0.0
	for _, point := range series {
		variance += math.Pow(point.Value-mean, 2)
	}
	variance /= float64(len(series))
	return mean, math.Sqrt(variance)
}
