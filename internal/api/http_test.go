package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-autoheal/internal/models"
	"github.com/miradorstack/mirador-autoheal/internal/services"
	"github.com/miradorstack/mirador-autoheal/internal/state"
	"github.com/miradorstack/mirador-autoheal/internal/utils"
)

type stubHealth struct {
	summary *models.HealthSummary
	samples []models.HealthSample
}

func (s stubHealth) Summary() *models.HealthSummary { return s.summary }
func (s stubHealth) Samples() []models.HealthSample { return s.samples }

type stubFindings struct {
	report models.CorrelationReport
	err    error
}

func (s stubFindings) Latest() (models.CorrelationReport, error) { return s.report, s.err }

type stubAutonomy struct {
	status models.AutonomyStatus
	err    error
}

func (s stubAutonomy) Status() (models.AutonomyStatus, error) { return s.status, s.err }

type stubAutoHeal struct {
	st   models.AutoHealState
	flag models.MaintenanceFlag
}

func (s stubAutoHeal) State() models.AutoHealState         { return s.st }
func (s stubAutoHeal) Maintenance() models.MaintenanceFlag { return s.flag }

type stubTicks struct {
	report  services.TickReport
	ok      bool
	latency utils.LatencySummary
}

func (s stubTicks) Last() (services.TickReport, bool) { return s.report, s.ok }
func (s stubTicks) Latency() utils.LatencySummary     { return s.latency }

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	h := NewRouter(Sources{}, prometheus.NewRegistry(), utils.DiscardLogger())
	rec := serve(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealthEndpoint(t *testing.T) {
	at := time.Date(2024, 4, 1, 3, 0, 0, 0, time.UTC)
	src := Sources{Health: stubHealth{
		summary: &models.HealthSummary{RecentSuccessRate: 87.5, SampleCount: 8},
		samples: []models.HealthSample{{Timestamp: at, SuccessRate: 100}},
	}}
	h := NewRouter(src, prometheus.NewRegistry(), utils.DiscardLogger())

	rec := serve(t, h, "/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Summary)
	assert.Equal(t, 87.5, resp.Summary.RecentSuccessRate)
	assert.Empty(t, resp.Checks)

	rec = serve(t, h, "/v1/health/?checks=true")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Checks, 1)
}

func TestFindingsEndpoint(t *testing.T) {
	report := models.CorrelationReport{Findings: []models.CorrelationFinding{{Service: "fleet", Cause: models.CauseLatencySpike, Confidence: 0.7}}}
	h := NewRouter(Sources{Findings: stubFindings{report: report}}, prometheus.NewRegistry(), utils.DiscardLogger())

	rec := serve(t, h, "/v1/findings")
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.CorrelationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Findings, 1)
	assert.Equal(t, models.CauseLatencySpike, got.Findings[0].Cause)
}

func TestStateErrorsMapToStatusCodes(t *testing.T) {
	missing := NewRouter(Sources{Autonomy: stubAutonomy{err: state.ErrNotFound}}, prometheus.NewRegistry(), utils.DiscardLogger())
	rec := serve(t, missing, "/v1/autonomy")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	broken := NewRouter(Sources{Findings: stubFindings{err: errors.New("corrupt correlation.json")}}, prometheus.NewRegistry(), utils.DiscardLogger())
	rec = serve(t, broken, "/v1/findings")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "state_error")
}

func TestMaintenanceEndpoint(t *testing.T) {
	src := Sources{AutoHeal: stubAutoHeal{
		st:   models.AutoHealState{BadStreak: 4, Actions: []int64{1, 2, 3}},
		flag: models.MaintenanceFlag{Active: true, Reason: "autohealed-too-often"},
	}}
	h := NewRouter(src, prometheus.NewRegistry(), utils.DiscardLogger())

	rec := serve(t, h, "/v1/maintenance")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp maintenanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Maintenance.Active)
	assert.Equal(t, 4, resp.AutoHeal.BadStreak)
}

func TestTickEndpoint(t *testing.T) {
	h := NewRouter(Sources{Ticks: stubTicks{}}, prometheus.NewRegistry(), utils.DiscardLogger())
	assert.Equal(t, http.StatusNotFound, serve(t, h, "/v1/tick").Code)

	ticks := stubTicks{
		ok:      true,
		report:  services.TickReport{Failures: []services.StageFailure{{Stage: "alerts", Error: "boom"}}},
		latency: utils.LatencySummary{Count: 20, P50: 40 * time.Millisecond, P95: 250 * time.Millisecond, Max: time.Second},
	}
	h = NewRouter(Sources{Ticks: ticks}, prometheus.NewRegistry(), utils.DiscardLogger())
	rec := serve(t, h, "/v1/tick")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stage":"alerts"`)

	var resp tickResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 20, resp.Latency.Count)
	assert.Equal(t, 250.0, resp.Latency.P95Ms)
	assert.Equal(t, 1000.0, resp.Latency.MaxMs)
	require.Len(t, resp.Failures, 1)
}

func TestUnconfiguredSourcesAndUnknownPaths(t *testing.T) {
	h := NewRouter(Sources{}, prometheus.NewRegistry(), utils.DiscardLogger())
	for _, path := range []string{"/v1/health", "/v1/findings", "/v1/autonomy", "/v1/maintenance", "/v1/tick", "/nope"} {
		assert.Equal(t, http.StatusNotFound, serve(t, h, path).Code, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "autoheal_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	h := NewRouter(Sources{}, reg, utils.DiscardLogger())
	rec := serve(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "autoheal_test_total 1"))
}
