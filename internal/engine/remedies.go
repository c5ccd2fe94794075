package engine

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-autoheal/internal/models"
)

// RemedyBook overrides the suggested remedy text per cause, optionally per service.
type RemedyBook struct {
	rules  []RemedyRule
	logger *slog.Logger
}

// RemedyRule replaces the remedy of findings it matches.
type RemedyRule struct {
	ID            string      `yaml:"id"`
	Match         RemedyMatch `yaml:"match"`
	Remedy        string      `yaml:"remedy"`
	ExtraEvidence []string    `yaml:"evidence"`
}

// RemedyMatch restricts a rule. Empty fields match anything.
type RemedyMatch struct {
	Cause            string   `yaml:"cause"`
	Service          string   `yaml:"service"`
	EvidenceContains []string `yaml:"evidence_contains"`
}

// RemedyFile is the YAML root structure.
type RemedyFile struct {
	Remedies []RemedyRule `yaml:"remedies"`
}

// LoadRemedyBook reads a remedy pack. An empty path or a missing file yields a
// nil book, which leaves the built-in remedies untouched.
func LoadRemedyBook(path string, logger *slog.Logger) (*RemedyBook, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var file RemedyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("remedy pack loaded", slog.String("path", path), slog.Int("rules", len(file.Remedies)))
	return &RemedyBook{rules: file.Remedies, logger: logger}, nil
}

// Apply rewrites matching findings in place. The first matching rule wins.
func (b *RemedyBook) Apply(findings []models.CorrelationFinding) {
	if b == nil {
		return
	}
	for i := range findings {
		for _, rule := range b.rules {
			if !rule.matches(findings[i]) {
				continue
			}
			if rule.Remedy != "" {
				findings[i].SuggestedRemedy = rule.Remedy
			}
			b.logger.Debug("remedy override", slog.String("rule", rule.ID), slog.String("cause", string(findings[i].Cause)))
			findings[i].Evidence = appendUnique(findings[i].Evidence, rule.ExtraEvidence...)
			break
		}
	}
}

func (r RemedyRule) matches(f models.CorrelationFinding) bool {
	if r.Match.Cause != "" && !strings.EqualFold(r.Match.Cause, string(f.Cause)) {
		return false
	}
	if r.Match.Service != "" && !strings.EqualFold(r.Match.Service, f.Service) {
		return false
	}
	return evidenceContains(r.Match.EvidenceContains, f.Evidence)
}

func evidenceContains(keywords []string, evidence []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, line := range evidence {
		lower := strings.ToLower(line)
		for _, kw := range keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, item := range existing {
		seen[item] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
