package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels ticks where every stage completed.
	OutcomeSuccess = "success"
	// OutcomeError labels ticks where at least one stage failed.
	OutcomeError = "error"
)

var (
	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_autoheal",
			Name:      "ticks_total",
			Help:      "Total number of control loop ticks, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	tickDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_autoheal",
			Name:      "tick_seconds",
			Help:      "Control loop tick latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 10, 15, 30},
		},
	)

	stageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_autoheal",
			Name:      "stage_failures_total",
			Help:      "Pipeline stage failures by stage name.",
		},
		[]string{"stage"},
	)

	probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_autoheal",
			Name:      "probes_total",
			Help:      "Endpoint probes by endpoint and result.",
		},
		[]string{"endpoint", "result"},
	)

	probeLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_autoheal",
			Name:      "probe_seconds",
			Help:      "Endpoint probe latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		},
		[]string{"endpoint"},
	)

	fleetSuccessRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mirador_autoheal",
		Name:      "fleet_recent_success_rate",
		Help:      "Percentage of fully successful ticks in the recent window.",
	})

	fleetLatencyMs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mirador_autoheal",
		Name:      "fleet_recent_latency_ms",
		Help:      "Mean latency of fully successful ticks in the recent window.",
	})

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_autoheal",
			Name:      "alerts_total",
			Help:      "Threshold alerts by kind and delivery outcome.",
		},
		[]string{"kind", "outcome"},
	)

	restartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_autoheal",
			Name:      "restarts_total",
			Help:      "Service restart attempts by service and result.",
		},
		[]string{"service", "result"},
	)

	maintenanceActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mirador_autoheal",
		Name:      "maintenance_active",
		Help:      "1 while the maintenance circuit breaker is set.",
	})

	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_autoheal",
			Name:      "autonomy_decisions_total",
			Help:      "Autonomy decisions by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)
)

// Register attaches mirador-autoheal collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		ticksTotal,
		tickDurationSeconds,
		stageFailuresTotal,
		probesTotal,
		probeLatencySeconds,
		fleetSuccessRate,
		fleetLatencyMs,
		alertsTotal,
		restartsTotal,
		maintenanceActive,
		decisionsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveTick records a tick duration and outcome label.
func ObserveTick(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	ticksTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	tickDurationSeconds.Observe(duration.Seconds())
}

// StageFailed counts a failed pipeline stage.
func StageFailed(stage string) {
	stageFailuresTotal.WithLabelValues(stage).Inc()
}

// ObserveProbe records one endpoint probe.
func ObserveProbe(endpoint string, ok bool, latency time.Duration) {
	probesTotal.WithLabelValues(endpoint, result(ok)).Inc()
	if latency < 0 {
		latency = 0
	}
	probeLatencySeconds.WithLabelValues(endpoint).Observe(latency.Seconds())
}

// SetFleetHealth publishes the latest recent-window summary.
func SetFleetHealth(successRate, latencyMs float64) {
	fleetSuccessRate.Set(successRate)
	fleetLatencyMs.Set(latencyMs)
}

// ObserveAlert counts a firing alert by its delivery outcome.
func ObserveAlert(kind, outcome string) {
	alertsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveRestart counts a restart attempt.
func ObserveRestart(service string, ok bool) {
	restartsTotal.WithLabelValues(service, result(ok)).Inc()
}

// SetMaintenance mirrors the maintenance flag.
func SetMaintenance(active bool) {
	if active {
		maintenanceActive.Set(1)
		return
	}
	maintenanceActive.Set(0)
}

// ObserveDecision counts an autonomy decision.
func ObserveDecision(mode, outcome string) {
	decisionsTotal.WithLabelValues(mode, outcome).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}
