package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTOHEAL_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Schedule.Interval)
	assert.Equal(t, 288, cfg.Health.Capacity)
	assert.Equal(t, 24, cfg.Health.Window)
	assert.Equal(t, 8*time.Second, cfg.Health.ProbeTimeout)
	assert.Equal(t, 95.0, cfg.Alerts.MinSuccess)
	assert.Equal(t, 2000.0, cfg.Alerts.MaxLatencyMs)
	assert.Equal(t, 15*time.Minute, cfg.Alerts.Cooldown)
	assert.Equal(t, 3, cfg.AutoHeal.FailConsec)
	assert.Equal(t, 600*time.Second, cfg.AutoHeal.Cooldown)
	assert.Equal(t, 3, cfg.AutoHeal.MaxAttempts30m)
	assert.Equal(t, "advice", cfg.Autonomy.Mode)
	assert.Equal(t, 0.75, cfg.Autonomy.RiskMin)
	assert.Equal(t, 0.80, cfg.Autonomy.ConfMin)
	assert.Equal(t, []string{"bridge", "clc_listener"}, cfg.Autonomy.Allowlist)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.False(t, cfg.Signals.TrendFallback)
}

func TestLoadFileAndNormalize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autoheal.yaml")
	body := `
state:
  dir: /tmp/autoheal
health:
  endpoints:
    - name: api
      url: http://10.0.0.5:8080/health
  window: 12
alerts:
  minSuccess: 90
  cooldown: 0s
autoheal:
  services: [api]
autonomy:
  mode: AUTO
  allowlist: [api]
  defaultService: ""
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/autoheal", cfg.State.Dir)
	require.Len(t, cfg.Health.Endpoints, 1)
	assert.Equal(t, "api", cfg.Health.Endpoints[0].Name)
	assert.Equal(t, 12, cfg.Health.Window)
	assert.Equal(t, 90.0, cfg.Alerts.MinSuccess)
	assert.Equal(t, 15*time.Minute, cfg.Alerts.Cooldown, "zero cooldown falls back to default")
	assert.Equal(t, "auto", cfg.Autonomy.Mode)
	assert.Equal(t, "api", cfg.Autonomy.DefaultService)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AUTOHEAL_CONFIG", "")
	t.Setenv("AUTOHEAL_ENDPOINTS", "core=http://core:8080/health, http://edge:9000/health")
	t.Setenv("AUTOHEAL_SERVICES", "core, edge")
	t.Setenv("AUTOHEAL_COOLDOWN", "120")
	t.Setenv("AUTOHEAL_ALERT_COOLDOWN", "5")
	t.Setenv("AUTOHEAL_PER_SERVICE_COOLDOWN", "90s")
	t.Setenv("AUTOHEAL_MODE", "off")
	t.Setenv("AUTOHEAL_RISK_MIN", "0.5")
	t.Setenv("AUTOHEAL_ALLOWLIST", "core")
	t.Setenv("AUTOHEAL_DEFAULT_SERVICE", "core")
	t.Setenv("AUTOHEAL_DRY_RUN", "yes")
	t.Setenv("AUTOHEAL_RESTART_COMMAND", "docker restart {service}")
	t.Setenv("AUTOHEAL_REDIS_ADDR", "localhost:6379")
	t.Setenv("AUTOHEAL_TREND_FALLBACK", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Len(t, cfg.Health.Endpoints, 2)
	assert.Equal(t, "core", cfg.Health.Endpoints[0].Name)
	assert.Equal(t, "edge:9000", cfg.Health.Endpoints[1].Name)
	assert.Equal(t, []string{"core", "edge"}, cfg.AutoHeal.Services)
	assert.Equal(t, 120*time.Second, cfg.AutoHeal.Cooldown)
	assert.Equal(t, 5*time.Minute, cfg.Alerts.Cooldown)
	assert.Equal(t, 90*time.Second, cfg.Autonomy.PerServiceCooldown)
	assert.Equal(t, "off", cfg.Autonomy.Mode)
	assert.Equal(t, 0.5, cfg.Autonomy.RiskMin)
	assert.True(t, cfg.AutoHeal.DryRun)
	assert.Equal(t, []string{"docker", "restart", "{service}"}, cfg.AutoHeal.RestartCommand)
	assert.Equal(t, "redis", cfg.Queue.Backend)
	assert.Equal(t, "localhost:6379", cfg.Queue.Redis.Addr)
	assert.True(t, cfg.Signals.TrendFallback)
}

func TestValidateAutonomyTargetsNamesService(t *testing.T) {
	cfg := defaultConfig()
	cfg.AutoHeal.Services = []string{"bridge"}

	err := Validate(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Allowlist")
	assert.Contains(t, err.Error(), "subset_of_autoheal_services")

	cfg.Autonomy.Allowlist = []string{"bridge"}
	assert.NoError(t, Validate(&cfg))
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"mode":      func(c *Config) { c.Autonomy.Mode = "yolo" },
		"risk":      func(c *Config) { c.Autonomy.RiskMin = 1.5 },
		"url":       func(c *Config) { c.Health.Endpoints = []EndpointConfig{{Name: "x", URL: "not a url"}} },
		"window":    func(c *Config) { c.Health.Window = c.Health.Capacity + 1 },
		"webhook":   func(c *Config) { c.Notify.WebhookURL = "::::" },
		"redis":     func(c *Config) { c.Queue.Backend = "redis"; c.Queue.Redis.Addr = "" },
		"interval":  func(c *Config) { c.Schedule.Interval = 10 * time.Millisecond },
		"allowlist": func(c *Config) { c.Autonomy.Allowlist = []string{"bridge", "payments"} },
		"default":   func(c *Config) { c.Autonomy.DefaultService = "payments" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := defaultConfig()
			mutate(&cfg)
			err := Validate(&cfg)
			require.Error(t, err)
			assert.True(t, strings.HasPrefix(err.Error(), "invalid config"))
		})
	}

	cfg := defaultConfig()
	assert.NoError(t, Validate(&cfg))
}
