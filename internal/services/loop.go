package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-autoheal/internal/alerts"
	"github.com/miradorstack/mirador-autoheal/internal/audit"
	"github.com/miradorstack/mirador-autoheal/internal/autoheal"
	"github.com/miradorstack/mirador-autoheal/internal/autonomy"
	"github.com/miradorstack/mirador-autoheal/internal/config"
	"github.com/miradorstack/mirador-autoheal/internal/engine"
	"github.com/miradorstack/mirador-autoheal/internal/health"
	"github.com/miradorstack/mirador-autoheal/internal/models"
	"github.com/miradorstack/mirador-autoheal/internal/notify"
	"github.com/miradorstack/mirador-autoheal/internal/queue"
	"github.com/miradorstack/mirador-autoheal/internal/signals"
	"github.com/miradorstack/mirador-autoheal/internal/state"
)

// Loop is the remediation loop wired from configuration.
type Loop struct {
	Controller *Controller
	Store      *state.Store
	Health     *health.Aggregator
	Alerts     *alerts.Evaluator
	Actuator   *autoheal.Actuator
	Correlator *engine.Correlator
	Autonomy   *autonomy.Layer
	Audit      *audit.Log
	Queue      queue.Queue
}

// Build constructs every component from cfg. A configured Redis queue is pinged
// so a bad address fails at startup rather than on the first dispatch.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Loop, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := state.NewStore(cfg.State.Dir)
	if err != nil {
		return nil, err
	}

	endpoints := make([]health.Endpoint, 0, len(cfg.Health.Endpoints))
	for _, ep := range cfg.Health.Endpoints {
		endpoints = append(endpoints, health.Endpoint{Name: ep.Name, URL: ep.URL})
	}
	aggregator, err := health.NewAggregator(store, health.NewHTTPProber(), health.Options{
		Endpoints:    endpoints,
		ProbeTimeout: cfg.Health.ProbeTimeout,
		Capacity:     cfg.Health.Capacity,
		Window:       cfg.Health.Window,
	}, logger.With(slog.String("component", StageHealth)))
	if err != nil {
		return nil, fmt.Errorf("build health aggregator: %w", err)
	}

	notifier := buildNotifier(cfg.Notify, logger)
	events := audit.NewLog(store, logger.With(slog.String("component", StageAudit)))

	evaluator := alerts.NewEvaluator(store, notifier, events, alerts.Thresholds{
		MinSuccess:   cfg.Alerts.MinSuccess,
		MaxLatencyMs: cfg.Alerts.MaxLatencyMs,
		Cooldown:     cfg.Alerts.Cooldown,
	}, logger.With(slog.String("component", StageAlerts)))

	restarter, err := buildRestarter(cfg.AutoHeal, logger)
	if err != nil {
		return nil, err
	}
	actuator := autoheal.NewActuator(store, restarter, notifier, events, autoheal.Options{
		Services:       cfg.AutoHeal.Services,
		FailConsec:     cfg.AutoHeal.FailConsec,
		Cooldown:       cfg.AutoHeal.Cooldown,
		MaxAttempts30m: cfg.AutoHeal.MaxAttempts30m,
		MinSuccess:     cfg.Alerts.MinSuccess,
		MaxLatencyMs:   cfg.Alerts.MaxLatencyMs,
		Workers:        cfg.AutoHeal.Workers,
		RestartTimeout: cfg.AutoHeal.RestartTimeout,
	}, logger.With(slog.String("component", StageAutoHeal)))

	remedies, err := engine.LoadRemedyBook(cfg.Rules.RemediesPath, logger)
	if err != nil {
		return nil, fmt.Errorf("load remedy pack: %w", err)
	}
	corrOpts := engine.DefaultOptions()
	corrOpts.MaxLatencyMs = cfg.Alerts.MaxLatencyMs
	corrOpts.Remedies = remedies
	correlator := engine.NewCorrelator(store, events, signals.NewFileVerifierSource(cfg.Signals.VerifierPath), corrOpts,
		logger.With(slog.String("component", StageCorrelate)))

	intents, err := buildQueue(ctx, cfg.Queue)
	if err != nil {
		return nil, err
	}

	var risk signals.RiskSource = signals.NewFileRiskSource(cfg.Signals.RiskPath)
	if cfg.Signals.TrendFallback {
		trend := signals.NewTrendRiskSource(aggregator, signals.TrendOptions{
			MinSuccess:   cfg.Alerts.MinSuccess,
			MaxLatencyMs: cfg.Alerts.MaxLatencyMs,
			Consecutive:  cfg.AutoHeal.FailConsec,
		})
		risk = signals.Fallback{Primary: risk, Secondary: trend}
	}
	layer := autonomy.NewLayer(store, risk, intents, notifier, autonomy.Policy{
		Mode:               models.AutonomyMode(cfg.Autonomy.Mode),
		RiskMin:            cfg.Autonomy.RiskMin,
		ConfMin:            cfg.Autonomy.ConfMin,
		PerServiceCooldown: cfg.Autonomy.PerServiceCooldown,
		MaxPerHour:         cfg.Autonomy.MaxPerHour,
		Allowlist:          cfg.Autonomy.Allowlist,
		DefaultService:     cfg.Autonomy.DefaultService,
		NotifyNoAction:     cfg.Autonomy.NotifyNoAction,
	}, logger.With(slog.String("component", StageAutonomy)))

	controller := NewController(Stages{
		Health:     aggregator,
		Alerts:     evaluator,
		AutoHeal:   actuator,
		Correlator: correlator,
		Autonomy:   layer,
		Intents:    intents,
		Audit:      events,
	}, logger)

	return &Loop{
		Controller: controller,
		Store:      store,
		Health:     aggregator,
		Alerts:     evaluator,
		Actuator:   actuator,
		Correlator: correlator,
		Autonomy:   layer,
		Audit:      events,
		Queue:      intents,
	}, nil
}

// Close releases the intent transport.
func (l *Loop) Close() error {
	if l.Queue == nil {
		return nil
	}
	return l.Queue.Close()
}

func buildNotifier(cfg config.NotifyConfig, logger *slog.Logger) notify.Notifier {
	var out notify.Multi
	if cfg.Log {
		out = append(out, notify.NewLogNotifier(logger.With(slog.String("component", "notify"))))
	}
	if cfg.WebhookURL != "" {
		policy := notify.DefaultRetryPolicy()
		policy.MaxRetries = cfg.MaxRetries
		out = append(out, notify.NewWebhookNotifier(cfg.WebhookURL, cfg.Timeout, policy))
	}
	return out
}

func buildRestarter(cfg config.AutoHealConfig, logger *slog.Logger) (autoheal.Restarter, error) {
	if cfg.DryRun {
		return autoheal.NewDryRunRestarter(logger), nil
	}
	r, err := autoheal.NewCommandRestarter(cfg.RestartCommand, cfg.RestartTimeout)
	if err != nil {
		return nil, fmt.Errorf("build restarter: %w", err)
	}
	return r, nil
}

func buildQueue(ctx context.Context, cfg config.QueueConfig) (queue.Queue, error) {
	if cfg.Backend != "redis" {
		return queue.NewChannelQueue(cfg.Size), nil
	}
	q, err := queue.NewRedisQueue(queue.RedisConfig{
		Addr:         cfg.Redis.Addr,
		Username:     cfg.Redis.Username,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		MaxRetries:   cfg.Redis.MaxRetries,
		TLS:          cfg.Redis.TLS,
		Key:          cfg.Redis.Key,
		MaxLen:       cfg.Redis.MaxLen,
	})
	if err != nil {
		return nil, fmt.Errorf("build redis queue: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := q.Ping(pingCtx); err != nil {
		_ = q.Close()
		return nil, fmt.Errorf("redis queue unreachable at %s: %w", cfg.Redis.Addr, err)
	}
	return q, nil
}
