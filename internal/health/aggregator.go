// Package health probes the fleet's endpoints, keeps a bounded ring of samples
// and derives the recent-window summary every other component consumes.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-autoheal/internal/metrics"
	"github.com/miradorstack/mirador-autoheal/internal/models"
	"github.com/miradorstack/mirador-autoheal/internal/state"
)

// ErrNoEndpoints is returned when the aggregator has nothing to probe.
var ErrNoEndpoints = errors.New("no health endpoints configured")

const (
	DefaultProbeTimeout = 8 * time.Second
	DefaultCapacity     = 288
	DefaultWindow       = 24
)

// Options tunes the aggregator. Zero values fall back to the defaults above.
type Options struct {
	Endpoints    []Endpoint
	ProbeTimeout time.Duration
	Capacity     int
	Window       int
	Now          func() time.Time
}

// Aggregator owns health_summary.json.
type Aggregator struct {
	store  *state.Store
	prober Prober
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	doc    models.HealthDocument
	loaded bool
}

// NewAggregator validates the options and returns an aggregator.
func NewAggregator(store *state.Store, prober Prober, opts Options, logger *slog.Logger) (*Aggregator, error) {
	if len(opts.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if prober == nil {
		prober = NewHTTPProber()
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: store, prober: prober, opts: opts, logger: logger}, nil
}

// RunTick probes every endpoint, appends the sample and persists the ring. The
// returned summary is valid even when persisting fails.
func (a *Aggregator) RunTick(ctx context.Context) (models.HealthSummary, error) {
	a.ensureLoaded()

	results := a.probeAll(ctx)
	sample := BuildSample(a.opts.Now(), results)

	a.mu.Lock()
	a.doc.Checks = append(a.doc.Checks, sample)
	if over := len(a.doc.Checks) - a.opts.Capacity; over > 0 {
		a.doc.Checks = append([]models.HealthSample(nil), a.doc.Checks[over:]...)
	}
	a.doc.Summary = Summarize(a.doc.Checks, a.opts.Window, a.doc.Summary.TotalChecks+1)
	doc := a.snapshotLocked()
	a.mu.Unlock()

	summary := doc.Summary
	metrics.SetFleetHealth(summary.RecentSuccessRate, summary.RecentAvgLatencyMs)
	a.logger.Debug("health tick",
		slog.Float64("success_rate", sample.SuccessRate),
		slog.Float64("recent_success_rate", summary.RecentSuccessRate),
		slog.Float64("recent_avg_latency_ms", summary.RecentAvgLatencyMs),
	)

	if err := a.store.SaveJSON(state.HealthFile, doc); err != nil {
		return summary, fmt.Errorf("persist health summary: %w", err)
	}
	return summary, nil
}

// Summary returns the latest summary, or nil before the first sample.
func (a *Aggregator) Summary() *models.HealthSummary {
	a.ensureLoaded()
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.doc.Checks) == 0 {
		return nil
	}
	s := a.doc.Summary
	return &s
}

// Samples returns a copy of the retained ring, oldest first.
func (a *Aggregator) Samples() []models.HealthSample {
	a.ensureLoaded()
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]models.HealthSample(nil), a.doc.Checks...)
}

func (a *Aggregator) ensureLoaded() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loaded {
		return
	}
	a.loaded = true

	doc, err := state.Load[models.HealthDocument](a.store, state.HealthFile)
	if err != nil {
		a.logger.Warn("discarding unreadable health history", slog.Any("error", err))
		return
	}
	if over := len(doc.Checks) - a.opts.Capacity; over > 0 {
		doc.Checks = doc.Checks[over:]
	}
	if doc.Summary.TotalChecks < len(doc.Checks) {
		doc.Summary.TotalChecks = len(doc.Checks)
	}
	a.doc = doc
}

func (a *Aggregator) snapshotLocked() models.HealthDocument {
	return models.HealthDocument{
		Checks:  append([]models.HealthSample(nil), a.doc.Checks...),
		Summary: a.doc.Summary,
	}
}

// probeAll runs one goroutine per endpoint. Each probe gets its own deadline and
// is abandoned when it expires, so a prober that ignores ctx cannot stall the tick.
func (a *Aggregator) probeAll(ctx context.Context) []models.EndpointResult {
	results := make([]models.EndpointResult, len(a.opts.Endpoints))
	var g errgroup.Group
	for i, ep := range a.opts.Endpoints {
		i, ep := i, ep
		g.Go(func() error {
			results[i] = a.probeOne(ctx, ep)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (a *Aggregator) probeOne(ctx context.Context, ep Endpoint) models.EndpointResult {
	pctx, cancel := context.WithTimeout(ctx, a.opts.ProbeTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan ProbeResult, 1)
	go func() {
		done <- a.prober.Probe(pctx, ep)
	}()

	var res ProbeResult
	select {
	case res = <-done:
	case <-pctx.Done():
		res = ProbeResult{Latency: time.Since(start), Err: fmt.Errorf("probe %s: %w", ep.Name, pctx.Err())}
	}

	out := models.EndpointResult{
		Name:       ep.Name,
		URL:        ep.URL,
		OK:         res.OK && res.Err == nil,
		LatencyMs:  float64(res.Latency) / float64(time.Millisecond),
		StatusCode: res.StatusCode,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
		a.logger.Warn("probe failed", slog.String("endpoint", ep.Name), slog.Any("error", res.Err))
	}
	metrics.ObserveProbe(ep.Name, out.OK, res.Latency)
	return out
}
