package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-autoheal/internal/autoheal"
	"github.com/miradorstack/mirador-autoheal/internal/models"
	"github.com/miradorstack/mirador-autoheal/internal/queue"
	"github.com/miradorstack/mirador-autoheal/internal/utils"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeHealth struct {
	rec     *recorder
	summary models.HealthSummary
	err     error
}

func (f *fakeHealth) RunTick(context.Context) (models.HealthSummary, error) {
	f.rec.add(StageHealth)
	return f.summary, f.err
}

type fakeAlerts struct {
	rec  *recorder
	seen *models.HealthSummary
}

func (f *fakeAlerts) Evaluate(_ context.Context, s *models.HealthSummary) []models.AlertEvent {
	f.rec.add(StageAlerts)
	f.seen = s
	return nil
}

type fakeHeal struct {
	rec      *recorder
	seen     *models.HealthSummary
	executed []models.RemediationIntent
	panics   bool
}

func (f *fakeHeal) Evaluate(_ context.Context, s *models.HealthSummary) (autoheal.Result, error) {
	f.rec.add(StageAutoHeal)
	f.seen = s
	if f.panics {
		panic("restart table corrupted")
	}
	return autoheal.Result{Step: autoheal.StepHealthy}, nil
}

func (f *fakeHeal) Execute(_ context.Context, intent models.RemediationIntent) (autoheal.Result, error) {
	f.rec.add(StageIntents)
	f.executed = append(f.executed, intent)
	return autoheal.Result{Step: autoheal.StepRestarted}, nil
}

type fakeCorrelator struct {
	rec      *recorder
	findings []models.CorrelationFinding
	err      error
}

func (f *fakeCorrelator) Run(context.Context, *models.HealthSummary) (models.CorrelationReport, error) {
	f.rec.add(StageCorrelate)
	return models.CorrelationReport{Findings: f.findings}, f.err
}

type fakeAutonomy struct {
	rec  *recorder
	seen []models.CorrelationFinding
	q    queue.Queue
}

func (f *fakeAutonomy) Run(ctx context.Context, findings []models.CorrelationFinding) (models.AutonomyStatus, error) {
	f.rec.add(StageAutonomy)
	f.seen = findings
	if f.q != nil {
		_ = f.q.Publish(ctx, models.RemediationIntent{ID: "i-1", Kind: models.IntentRestart, Target: "bridge"})
	}
	return models.AutonomyStatus{Mode: models.ModeAuto, Outcome: models.OutcomeExecuted}, nil
}

type fakeCompactor struct{ rec *recorder }

func (f *fakeCompactor) Compact(time.Time) error {
	f.rec.add(StageAudit)
	return nil
}

func newFakes() (*recorder, *fakeHealth, *fakeAlerts, *fakeHeal, *fakeCorrelator, *fakeAutonomy, *fakeCompactor) {
	rec := &recorder{}
	return rec,
		&fakeHealth{rec: rec, summary: models.HealthSummary{SampleCount: 1, RecentSuccessRate: 100}},
		&fakeAlerts{rec: rec},
		&fakeHeal{rec: rec},
		&fakeCorrelator{rec: rec},
		&fakeAutonomy{rec: rec},
		&fakeCompactor{rec: rec}
}

func TestTickRunsStagesInOrder(t *testing.T) {
	rec, h, a, heal, corr, auto, audit := newFakes()
	q := queue.NewChannelQueue(4)
	auto.q = q
	corr.findings = []models.CorrelationFinding{{Service: "bridge", Cause: models.CauseServiceInstability, Confidence: 0.75}}

	c := NewController(Stages{
		Health: h, Alerts: a, AutoHeal: heal, Correlator: corr,
		Autonomy: auto, Intents: q, Audit: audit,
	}, utils.DiscardLogger())

	report := c.Tick(context.Background())

	require.True(t, report.OK(), "failures: %+v", report.Failures)
	assert.Equal(t, []string{StageHealth, StageAlerts, StageAutoHeal, StageCorrelate, StageAutonomy, StageIntents, StageAudit}, rec.list())
	require.NotNil(t, report.Summary)
	assert.Same(t, report.Summary, a.seen)
	assert.Equal(t, corr.findings, auto.seen)
	require.Len(t, heal.executed, 1)
	assert.Equal(t, "i-1", heal.executed[0].ID)
	require.Len(t, report.Intents, 1)
	assert.Equal(t, autoheal.StepRestarted, report.Intents[0].Step)
	assert.Equal(t, 0, q.Len())

	last, ok := c.Last()
	require.True(t, ok)
	assert.Equal(t, report.At, last.At)
}

func TestTickPassesNilSummaryWhenHealthHasNoSamples(t *testing.T) {
	_, h, a, heal, corr, auto, _ := newFakes()
	h.summary = models.HealthSummary{}
	h.err = errors.New("probe fan-out failed")

	c := NewController(Stages{Health: h, Alerts: a, AutoHeal: heal, Correlator: corr, Autonomy: auto}, utils.DiscardLogger())
	report := c.Tick(context.Background())

	assert.Nil(t, report.Summary)
	assert.Nil(t, a.seen)
	assert.Nil(t, heal.seen)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, StageHealth, report.Failures[0].Stage)
}

func TestTickKeepsSummaryWhenPersistFails(t *testing.T) {
	_, h, a, _, _, _, _ := newFakes()
	h.err = errors.New("disk full")

	c := NewController(Stages{Health: h, Alerts: a}, utils.DiscardLogger())
	report := c.Tick(context.Background())

	require.NotNil(t, report.Summary)
	assert.NotNil(t, a.seen)
	assert.False(t, report.OK())
}

func TestStageFailuresDoNotAbortLaterStages(t *testing.T) {
	rec, h, a, heal, corr, auto, audit := newFakes()
	heal.panics = true
	corr.err = errors.New("write correlation.json: permission denied")
	corr.findings = []models.CorrelationFinding{{Service: "fleet", Cause: models.CauseLatencySpike, Confidence: 0.7}}

	c := NewController(Stages{Health: h, Alerts: a, AutoHeal: heal, Correlator: corr, Autonomy: auto, Audit: audit}, utils.DiscardLogger())
	report := c.Tick(context.Background())

	assert.Equal(t, []string{StageHealth, StageAlerts, StageAutoHeal, StageCorrelate, StageAutonomy, StageAudit}, rec.list())
	require.Len(t, report.Failures, 2)
	assert.Equal(t, StageAutoHeal, report.Failures[0].Stage)
	assert.Contains(t, report.Failures[0].Error, "panic")
	assert.Equal(t, StageCorrelate, report.Failures[1].Stage)
	assert.Equal(t, corr.findings, auto.seen, "findings computed before the persist error still reach autonomy")
}

func TestTickNotifiesListeners(t *testing.T) {
	_, h, _, _, _, _, _ := newFakes()
	c := NewController(Stages{Health: h}, utils.DiscardLogger())

	var got []TickReport
	c.OnTick(func(r TickReport) { got = append(got, r) })
	c.Tick(context.Background())
	c.Tick(context.Background())

	assert.Len(t, got, 2)
	lat := c.Latency()
	assert.Equal(t, 2, lat.Count)
	assert.GreaterOrEqual(t, lat.Max, lat.P50)
}

func TestRunTicksImmediatelyAndStopsOnCancel(t *testing.T) {
	_, h, _, _, _, _, _ := newFakes()
	c := NewController(Stages{Health: h}, utils.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	ticked := make(chan struct{}, 1)
	c.OnTick(func(TickReport) {
		select {
		case ticked <- struct{}{}:
		default:
		}
	})

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, time.Hour) }()

	select {
	case <-ticked:
	case <-time.After(5 * time.Second):
		t.Fatal("first tick did not run immediately")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunRejectsShortInterval(t *testing.T) {
	c := NewController(Stages{}, utils.DiscardLogger())
	err := c.Run(context.Background(), 10*time.Millisecond)
	assert.Error(t, err)
}
