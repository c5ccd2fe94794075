package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-autoheal/internal/models"
	"github.com/miradorstack/mirador-autoheal/internal/services"
	"github.com/miradorstack/mirador-autoheal/internal/state"
	"github.com/miradorstack/mirador-autoheal/internal/utils"
)

// HealthReader exposes the aggregator's rolling window.
type HealthReader interface {
	Summary() *models.HealthSummary
	Samples() []models.HealthSample
}

// FindingsReader returns the latest correlation report.
type FindingsReader interface {
	Latest() (models.CorrelationReport, error)
}

// AutonomyReader returns the latest autonomy decision.
type AutonomyReader interface {
	Status() (models.AutonomyStatus, error)
}

// AutoHealReader exposes the actuator's state and circuit breaker.
type AutoHealReader interface {
	State() models.AutoHealState
	Maintenance() models.MaintenanceFlag
}

// TickReader returns the last completed tick and the tick duration spread.
type TickReader interface {
	Last() (services.TickReport, bool)
	Latency() utils.LatencySummary
}

// Sources groups the read models served over HTTP. Nil sources answer 404.
type Sources struct {
	Health   HealthReader
	Findings FindingsReader
	Autonomy AutonomyReader
	AutoHeal AutoHealReader
	Ticks    TickReader
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type healthResponse struct {
	Summary *models.HealthSummary `json:"summary"`
	Checks  []models.HealthSample `json:"checks,omitempty"`
}

type tickResponse struct {
	services.TickReport
	Latency tickLatency `json:"latency"`
}

type tickLatency struct {
	Count int     `json:"count"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	MaxMs float64 `json:"max_ms"`
}

func toMillis(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

type maintenanceResponse struct {
	Maintenance models.MaintenanceFlag `json:"maintenance"`
	AutoHeal    models.AutoHealState   `json:"autoheal"`
}

// NewRouter builds the status API.
func NewRouter(src Sources, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h := &handlers{src: src, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(requestLogger(logger))

	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/findings", h.findings)
		r.Get("/autonomy", h.autonomy)
		r.Get("/maintenance", h.maintenance)
		r.Get("/tick", h.tick)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "the requested endpoint was not found")
	})
	return r
}

type handlers struct {
	src    Sources
	logger *slog.Logger
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if h.src.Health == nil {
		writeError(w, http.StatusNotFound, "not_configured", "health aggregator not configured")
		return
	}
	resp := healthResponse{Summary: h.src.Health.Summary()}
	if r.URL.Query().Get("checks") == "true" {
		resp.Checks = h.src.Health.Samples()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) findings(w http.ResponseWriter, _ *http.Request) {
	if h.src.Findings == nil {
		writeError(w, http.StatusNotFound, "not_configured", "correlation engine not configured")
		return
	}
	report, err := h.src.Findings.Latest()
	if h.stateError(w, "correlation report", err) {
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) autonomy(w http.ResponseWriter, _ *http.Request) {
	if h.src.Autonomy == nil {
		writeError(w, http.StatusNotFound, "not_configured", "autonomy layer not configured")
		return
	}
	status, err := h.src.Autonomy.Status()
	if h.stateError(w, "autonomy status", err) {
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handlers) maintenance(w http.ResponseWriter, _ *http.Request) {
	if h.src.AutoHeal == nil {
		writeError(w, http.StatusNotFound, "not_configured", "actuator not configured")
		return
	}
	writeJSON(w, http.StatusOK, maintenanceResponse{
		Maintenance: h.src.AutoHeal.Maintenance(),
		AutoHeal:    h.src.AutoHeal.State(),
	})
}

func (h *handlers) tick(w http.ResponseWriter, _ *http.Request) {
	if h.src.Ticks == nil {
		writeError(w, http.StatusNotFound, "not_configured", "controller not configured")
		return
	}
	report, ok := h.src.Ticks.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no tick has completed yet")
		return
	}
	lat := h.src.Ticks.Latency()
	writeJSON(w, http.StatusOK, tickResponse{
		TickReport: report,
		Latency: tickLatency{
			Count: lat.Count,
			P50Ms: toMillis(lat.P50),
			P95Ms: toMillis(lat.P95),
			MaxMs: toMillis(lat.Max),
		},
	})
}

// stateError writes the response for a failed state read and reports whether it did.
func (h *handlers) stateError(w http.ResponseWriter, what string, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, state.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no "+what+" yet")
	default:
		h.logger.Error("read state failed", slog.String("record", what), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "state_error", "failed to read "+what)
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encoding_error", "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	body, _ := json.Marshal(errorResponse{Error: code, Message: message})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// HTTPServer serves the status API and /metrics.
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
}

// NewHTTPServer binds addr and prepares the server.
func NewHTTPServer(addr string, handler http.Handler) (*HTTPServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &HTTPServer{
		server: &http.Server{
			Handler:      handler,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		listener: lis,
	}, nil
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *HTTPServer) Start() error {
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx ends.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Address exposes the bound listener address.
func (s *HTTPServer) Address() string {
	return s.listener.Addr().String()
}
