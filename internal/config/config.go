package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config captures every setting of the control loop.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	State    StateConfig    `yaml:"state"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Health   HealthConfig   `yaml:"health"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	AutoHeal AutoHealConfig `yaml:"autoheal"`
	Autonomy AutonomyConfig `yaml:"autonomy"`
	Signals  SignalsConfig  `yaml:"signals"`
	Notify   NotifyConfig   `yaml:"notify"`
	Queue    QueueConfig    `yaml:"queue"`
	Logging  LoggingConfig  `yaml:"logging"`
	Rules    RulesConfig    `yaml:"rules"`
}

// ServerConfig controls the status listeners. Empty addresses disable a listener.
type ServerConfig struct {
	GRPCAddress     string        `yaml:"grpcAddress"`
	HTTPAddress     string        `yaml:"httpAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// StateConfig locates the persisted records.
type StateConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

// ScheduleConfig sets the tick cadence.
type ScheduleConfig struct {
	Interval time.Duration `yaml:"interval" validate:"gte=1s"`
}

// EndpointConfig is one probed health URL.
type EndpointConfig struct {
	Name string `yaml:"name" validate:"required"`
	URL  string `yaml:"url" validate:"required,url"`
}

// HealthConfig configures the aggregator.
type HealthConfig struct {
	Endpoints    []EndpointConfig `yaml:"endpoints" validate:"min=1,dive"`
	ProbeTimeout time.Duration    `yaml:"probeTimeout"`
	Capacity     int              `yaml:"capacity"`
	Window       int              `yaml:"window" validate:"ltefield=Capacity"`
}

// AlertsConfig holds the alert thresholds.
type AlertsConfig struct {
	MinSuccess   float64       `yaml:"minSuccess" validate:"gte=0,lte=100"`
	MaxLatencyMs float64       `yaml:"maxLatencyMs" validate:"gt=0"`
	Cooldown     time.Duration `yaml:"cooldown"`
}

// AutoHealConfig configures the actuator.
type AutoHealConfig struct {
	Services       []string      `yaml:"services" validate:"min=1,dive,required"`
	FailConsec     int           `yaml:"failConsec"`
	Cooldown       time.Duration `yaml:"cooldown"`
	MaxAttempts30m int           `yaml:"maxAttempts30m"`
	Workers        int           `yaml:"workers"`
	RestartCommand []string      `yaml:"restartCommand"`
	RestartTimeout time.Duration `yaml:"restartTimeout"`
	DryRun         bool          `yaml:"dryRun"`
}

// AutonomyConfig configures the decision layer.
type AutonomyConfig struct {
	Mode               string        `yaml:"mode" validate:"oneof=off advice auto"`
	RiskMin            float64       `yaml:"riskMin" validate:"gte=0,lte=1"`
	ConfMin            float64       `yaml:"confMin" validate:"gte=0,lte=1"`
	PerServiceCooldown time.Duration `yaml:"perServiceCooldown"`
	MaxPerHour         int           `yaml:"maxPerHour"`
	Allowlist          []string      `yaml:"allowlist" validate:"min=1,dive,required"`
	DefaultService     string        `yaml:"defaultService" validate:"required"`
	NotifyNoAction     bool          `yaml:"notifyNoAction"`
}

// SignalsConfig locates the external predictive and verification signals.
type SignalsConfig struct {
	RiskPath      string `yaml:"riskPath"`
	VerifierPath  string `yaml:"verifierPath"`
	TrendFallback bool   `yaml:"trendFallback"`
}

// NotifyConfig configures notification delivery.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhookURL" validate:"omitempty,url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries" validate:"gte=0"`
	Log        bool          `yaml:"log"`
}

// QueueConfig selects the intent transport.
type QueueConfig struct {
	Backend string      `yaml:"backend" validate:"oneof=memory redis"`
	Size    int         `yaml:"size"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis-backed intent queue.
type RedisConfig struct {
	Addr         string        `yaml:"addr" validate:"required_if=Enabled true"`
	Enabled      bool          `yaml:"-"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	Key          string        `yaml:"key"`
	MaxLen       int64         `yaml:"maxLen"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig points at the optional remedy pack.
type RulesConfig struct {
	RemediesPath string `yaml:"remediesPath"`
}

// Load initialises Config from a YAML file and optional environment overrides,
// then fills unset values with defaults and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("AUTOHEAL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the constraints that defaults cannot repair.
func Validate(cfg *Config) error {
	cfg.Queue.Redis.Enabled = cfg.Queue.Backend == "redis"
	v := validator.New()
	v.RegisterStructValidation(validateAutonomyTargets, Config{})
	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// validateAutonomyTargets keeps autonomy inside the actuator's restart set. An
// intent for any other service is always refused, yet would still spend the
// hourly budget.
func validateAutonomyTargets(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)
	for _, svc := range cfg.Autonomy.Allowlist {
		if !slices.Contains(cfg.AutoHeal.Services, svc) {
			sl.ReportError(cfg.Autonomy.Allowlist, "Autonomy.Allowlist", "Allowlist", "subset_of_autoheal_services", svc)
		}
	}
	if svc := cfg.Autonomy.DefaultService; svc != "" && !slices.Contains(cfg.AutoHeal.Services, svc) {
		sl.ReportError(svc, "Autonomy.DefaultService", "DefaultService", "in_autoheal_services", "")
	}
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			GRPCAddress:     ":50052",
			HTTPAddress:     ":2113",
			GracefulTimeout: 10 * time.Second,
		},
		State:    StateConfig{Dir: "var/autoheal"},
		Schedule: ScheduleConfig{Interval: 5 * time.Minute},
		Health: HealthConfig{
			Endpoints: []EndpointConfig{
				{Name: "bridge", URL: "http://127.0.0.1:9400/bridge/health"},
				{Name: "clc_listener", URL: "http://127.0.0.1:9400/clc_listener/health"},
			},
			ProbeTimeout: 8 * time.Second,
			Capacity:     288,
			Window:       24,
		},
		Alerts: AlertsConfig{MinSuccess: 95, MaxLatencyMs: 2000, Cooldown: 15 * time.Minute},
		AutoHeal: AutoHealConfig{
			Services:       []string{"bridge", "clc_listener"},
			FailConsec:     3,
			Cooldown:       600 * time.Second,
			MaxAttempts30m: 3,
			Workers:        4,
			RestartCommand: []string{"systemctl", "restart", "{service}"},
			RestartTimeout: 60 * time.Second,
		},
		Autonomy: AutonomyConfig{
			Mode:               "advice",
			RiskMin:            0.75,
			ConfMin:            0.80,
			PerServiceCooldown: 15 * time.Minute,
			MaxPerHour:         3,
			Allowlist:          []string{"bridge", "clc_listener"},
			DefaultService:     "bridge",
		},
		Notify: NotifyConfig{Timeout: 5 * time.Second, MaxRetries: 2, Log: true},
		Queue: QueueConfig{
			Backend: "memory",
			Size:    16,
			Redis: RedisConfig{
				DialTimeout:  2 * time.Second,
				ReadTimeout:  500 * time.Millisecond,
				WriteTimeout: 500 * time.Millisecond,
				MaxRetries:   2,
				Key:          "autoheal:intents",
				MaxLen:       100,
			},
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

// normalize puts documented defaults back where a file or the environment
// supplied a zero or negative value.
func normalize(cfg *Config) {
	def := defaultConfig()
	if cfg.State.Dir == "" {
		cfg.State.Dir = def.State.Dir
	}
	if cfg.Schedule.Interval <= 0 {
		cfg.Schedule.Interval = def.Schedule.Interval
	}
	if cfg.Server.GracefulTimeout <= 0 {
		cfg.Server.GracefulTimeout = def.Server.GracefulTimeout
	}
	if len(cfg.Health.Endpoints) == 0 {
		cfg.Health.Endpoints = def.Health.Endpoints
	}
	if cfg.Health.ProbeTimeout <= 0 {
		cfg.Health.ProbeTimeout = def.Health.ProbeTimeout
	}
	if cfg.Health.Capacity <= 0 {
		cfg.Health.Capacity = def.Health.Capacity
	}
	if cfg.Health.Window <= 0 {
		cfg.Health.Window = def.Health.Window
	}
	if cfg.Alerts.MinSuccess <= 0 {
		cfg.Alerts.MinSuccess = def.Alerts.MinSuccess
	}
	if cfg.Alerts.MaxLatencyMs <= 0 {
		cfg.Alerts.MaxLatencyMs = def.Alerts.MaxLatencyMs
	}
	if cfg.Alerts.Cooldown <= 0 {
		cfg.Alerts.Cooldown = def.Alerts.Cooldown
	}
	if len(cfg.AutoHeal.Services) == 0 {
		cfg.AutoHeal.Services = def.AutoHeal.Services
	}
	if cfg.AutoHeal.FailConsec <= 0 {
		cfg.AutoHeal.FailConsec = def.AutoHeal.FailConsec
	}
	if cfg.AutoHeal.Cooldown <= 0 {
		cfg.AutoHeal.Cooldown = def.AutoHeal.Cooldown
	}
	if cfg.AutoHeal.MaxAttempts30m <= 0 {
		cfg.AutoHeal.MaxAttempts30m = def.AutoHeal.MaxAttempts30m
	}
	if cfg.AutoHeal.Workers <= 0 {
		cfg.AutoHeal.Workers = def.AutoHeal.Workers
	}
	if len(cfg.AutoHeal.RestartCommand) == 0 {
		cfg.AutoHeal.RestartCommand = def.AutoHeal.RestartCommand
	}
	if cfg.AutoHeal.RestartTimeout <= 0 {
		cfg.AutoHeal.RestartTimeout = def.AutoHeal.RestartTimeout
	}
	cfg.Autonomy.Mode = strings.ToLower(strings.TrimSpace(cfg.Autonomy.Mode))
	if cfg.Autonomy.Mode == "" {
		cfg.Autonomy.Mode = def.Autonomy.Mode
	}
	if cfg.Autonomy.RiskMin <= 0 {
		cfg.Autonomy.RiskMin = def.Autonomy.RiskMin
	}
	if cfg.Autonomy.ConfMin <= 0 {
		cfg.Autonomy.ConfMin = def.Autonomy.ConfMin
	}
	if cfg.Autonomy.PerServiceCooldown <= 0 {
		cfg.Autonomy.PerServiceCooldown = def.Autonomy.PerServiceCooldown
	}
	if cfg.Autonomy.MaxPerHour <= 0 {
		cfg.Autonomy.MaxPerHour = def.Autonomy.MaxPerHour
	}
	if len(cfg.Autonomy.Allowlist) == 0 {
		cfg.Autonomy.Allowlist = def.Autonomy.Allowlist
	}
	if cfg.Autonomy.DefaultService == "" {
		cfg.Autonomy.DefaultService = cfg.Autonomy.Allowlist[0]
	}
	if cfg.Notify.Timeout <= 0 {
		cfg.Notify.Timeout = def.Notify.Timeout
	}
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = def.Queue.Backend
	}
	if cfg.Queue.Size <= 0 {
		cfg.Queue.Size = def.Queue.Size
	}
	if cfg.Queue.Redis.Key == "" {
		cfg.Queue.Redis.Key = def.Queue.Redis.Key
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AUTOHEAL_GRPC_ADDRESS"); v != "" {
		cfg.Server.GRPCAddress = v
	}
	if v := os.Getenv("AUTOHEAL_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("AUTOHEAL_STATE_DIR"); v != "" {
		cfg.State.Dir = v
	}
	if v := os.Getenv("AUTOHEAL_INTERVAL"); v != "" {
		if d, ok := parseDuration(v, time.Second); ok {
			cfg.Schedule.Interval = d
		}
	}
	if v := os.Getenv("AUTOHEAL_ENDPOINTS"); v != "" {
		if eps := parseEndpoints(v); len(eps) > 0 {
			cfg.Health.Endpoints = eps
		}
	}
	if v := os.Getenv("AUTOHEAL_PROBE_TIMEOUT"); v != "" {
		if d, ok := parseDuration(v, time.Second); ok {
			cfg.Health.ProbeTimeout = d
		}
	}
	if v := os.Getenv("AUTOHEAL_ALERT_MIN_SUCCESS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Alerts.MinSuccess = f
		}
	}
	if v := os.Getenv("AUTOHEAL_ALERT_MAX_LATENCY_MS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Alerts.MaxLatencyMs = f
		}
	}
	if v := os.Getenv("AUTOHEAL_ALERT_COOLDOWN"); v != "" {
		if d, ok := parseDuration(v, time.Minute); ok {
			cfg.Alerts.Cooldown = d
		}
	}
	if v := os.Getenv("AUTOHEAL_SERVICES"); v != "" {
		cfg.AutoHeal.Services = splitList(v)
	}
	if v := os.Getenv("AUTOHEAL_FAIL_CONSEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AutoHeal.FailConsec = n
		}
	}
	if v := os.Getenv("AUTOHEAL_COOLDOWN"); v != "" {
		if d, ok := parseDuration(v, time.Second); ok {
			cfg.AutoHeal.Cooldown = d
		}
	}
	if v := os.Getenv("AUTOHEAL_MAX_ATTEMPTS_30M"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AutoHeal.MaxAttempts30m = n
		}
	}
	if v := os.Getenv("AUTOHEAL_RESTART_COMMAND"); v != "" {
		cfg.AutoHeal.RestartCommand = strings.Fields(v)
	}
	if v := os.Getenv("AUTOHEAL_DRY_RUN"); v != "" {
		cfg.AutoHeal.DryRun = parseBool(v)
	}
	if v := os.Getenv("AUTOHEAL_MODE"); v != "" {
		cfg.Autonomy.Mode = v
	}
	if v := os.Getenv("AUTOHEAL_RISK_MIN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Autonomy.RiskMin = f
		}
	}
	if v := os.Getenv("AUTOHEAL_CONF_MIN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Autonomy.ConfMin = f
		}
	}
	if v := os.Getenv("AUTOHEAL_PER_SERVICE_COOLDOWN"); v != "" {
		if d, ok := parseDuration(v, time.Minute); ok {
			cfg.Autonomy.PerServiceCooldown = d
		}
	}
	if v := os.Getenv("AUTOHEAL_MAX_PER_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Autonomy.MaxPerHour = n
		}
	}
	if v := os.Getenv("AUTOHEAL_ALLOWLIST"); v != "" {
		cfg.Autonomy.Allowlist = splitList(v)
	}
	if v := os.Getenv("AUTOHEAL_DEFAULT_SERVICE"); v != "" {
		cfg.Autonomy.DefaultService = v
	}
	if v := os.Getenv("AUTOHEAL_NOTIFY_NO_ACTION"); v != "" {
		cfg.Autonomy.NotifyNoAction = parseBool(v)
	}
	if v := os.Getenv("AUTOHEAL_RISK_PATH"); v != "" {
		cfg.Signals.RiskPath = v
	}
	if v := os.Getenv("AUTOHEAL_TREND_FALLBACK"); v != "" {
		cfg.Signals.TrendFallback = parseBool(v)
	}
	if v := os.Getenv("AUTOHEAL_VERIFIER_PATH"); v != "" {
		cfg.Signals.VerifierPath = v
	}
	if v := os.Getenv("AUTOHEAL_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("AUTOHEAL_REDIS_ADDR"); v != "" {
		cfg.Queue.Backend = "redis"
		cfg.Queue.Redis.Addr = v
	}
	if v := os.Getenv("AUTOHEAL_REDIS_PASSWORD"); v != "" {
		cfg.Queue.Redis.Password = v
	}
	if v := os.Getenv("AUTOHEAL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AUTOHEAL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("AUTOHEAL_REMEDIES_PATH"); v != "" {
		cfg.Rules.RemediesPath = v
	}
}

// parseDuration accepts Go durations ("90s") or a bare number in unit.
func parseDuration(v string, unit time.Duration) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(unit)), true
	}
	return 0, false
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseEndpoints reads "name=url,name=url". A bare URL is named after its host.
func parseEndpoints(v string) []EndpointConfig {
	var out []EndpointConfig
	for _, item := range splitList(v) {
		name, raw, ok := strings.Cut(item, "=")
		if !ok {
			raw = item
			name = ""
			if u, err := url.Parse(raw); err == nil {
				name = u.Host
			}
		}
		out = append(out, EndpointConfig{Name: strings.TrimSpace(name), URL: strings.TrimSpace(raw)})
	}
	return out
}
