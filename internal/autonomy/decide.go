package autonomy

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/miradorstack/mirador-autoheal/internal/models"
	"github.com/miradorstack/mirador-autoheal/internal/signals"
	"github.com/miradorstack/mirador-autoheal/internal/utils"
)

const historyWindow = time.Hour

// riskLevels maps categorical predictor output onto a score.
var riskLevels = map[string]float64{
	"high":   0.85,
	"medium": 0.60,
	"watch":  0.35,
	"low":    0.10,
}

// RiskScore returns the numeric score, clamped to [0,1], or the mapped level.
// Unknown levels score 0.
func RiskScore(r signals.Risk) float64 {
	if r.HasScore {
		switch {
		case r.Score < 0:
			return 0
		case r.Score > 1:
			return 1
		}
		return r.Score
	}
	return riskLevels[strings.ToLower(strings.TrimSpace(r.Level))]
}

// Policy configures the decision layer.
type Policy struct {
	Mode               models.AutonomyMode
	RiskMin            float64
	ConfMin            float64
	PerServiceCooldown time.Duration
	MaxPerHour         int
	Allowlist          []string
	DefaultService     string
	NotifyNoAction     bool
}

// DefaultPolicy advises only.
func DefaultPolicy() Policy {
	return Policy{
		Mode:               models.ModeAdvice,
		RiskMin:            0.75,
		ConfMin:            0.80,
		PerServiceCooldown: 15 * time.Minute,
		MaxPerHour:         3,
		Allowlist:          []string{"bridge", "clc_listener"},
		DefaultService:     "bridge",
	}
}

func (p Policy) normalize() Policy {
	def := DefaultPolicy()
	if p.Mode == "" {
		p.Mode = def.Mode
	}
	if p.RiskMin <= 0 {
		p.RiskMin = def.RiskMin
	}
	if p.ConfMin <= 0 {
		p.ConfMin = def.ConfMin
	}
	if p.PerServiceCooldown <= 0 {
		p.PerServiceCooldown = def.PerServiceCooldown
	}
	if p.MaxPerHour <= 0 {
		p.MaxPerHour = def.MaxPerHour
	}
	if len(p.Allowlist) == 0 {
		p.Allowlist = def.Allowlist
	}
	if p.DefaultService == "" {
		p.DefaultService = def.DefaultService
	}
	return p
}

// Input is what a decision looks at.
type Input struct {
	Now      time.Time
	Risk     signals.Risk
	Findings []models.CorrelationFinding
}

// Decision is the pure outcome of Decide. Gates are evaluated even when no
// action is wanted so the status always shows them.
type Decision struct {
	RiskScore     float64
	RiskLevel     string
	MaxConfidence float64
	Top           *models.CorrelationFinding
	WantAction    bool
	Target        string
	CooldownOK    bool
	RateOK        bool
	Reasons       []string
}

// GatesOK reports whether both the per-service cooldown and the hourly cap allow an action.
func (d Decision) GatesOK() bool { return d.CooldownOK && d.RateOK }

// Decide combines risk and correlation into a gated decision.
func Decide(in Input, st models.AutonomyState, p Policy) Decision {
	p = p.normalize()
	d := Decision{RiskScore: RiskScore(in.Risk), RiskLevel: in.Risk.Level}

	if top, ok := models.TopFinding(in.Findings); ok {
		d.Top = &top
		d.MaxConfidence = top.Confidence
	}

	if d.RiskScore >= p.RiskMin {
		d.WantAction = true
		d.Reasons = append(d.Reasons, fmt.Sprintf("risk %.2f >= %.2f", d.RiskScore, p.RiskMin))
	}
	if d.Top != nil && d.MaxConfidence >= p.ConfMin {
		d.WantAction = true
		d.Reasons = append(d.Reasons, fmt.Sprintf("%s on %s with confidence %.2f >= %.2f",
			d.Top.Cause, d.Top.Service, d.MaxConfidence, p.ConfMin))
	}

	d.Target = p.DefaultService
	if d.Top != nil && slices.Contains(p.Allowlist, d.Top.Service) {
		d.Target = d.Top.Service
	}

	d.CooldownOK = true
	if last, ok := st.Cooldown[d.Target]; ok {
		if elapsed, seen := utils.Elapsed(in.Now, last); seen && elapsed < p.PerServiceCooldown {
			d.CooldownOK = false
			d.Reasons = append(d.Reasons, fmt.Sprintf("cooldown: %s acted %s ago (< %s)",
				d.Target, elapsed.Truncate(time.Second), p.PerServiceCooldown))
		}
	}

	recent := len(utils.PruneUnix(st.History, in.Now, historyWindow))
	d.RateOK = recent < p.MaxPerHour
	if !d.RateOK {
		d.Reasons = append(d.Reasons, fmt.Sprintf("rate: %d actions in the last hour (max %d)", recent, p.MaxPerHour))
	}
	return d
}
