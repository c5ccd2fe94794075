// Package signals adapts external predictive and verification signals for the
// correlation engine and the autonomy layer.
package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// Risk is either a numeric score or a categorical level. HasScore tells which.
type Risk struct {
	Score    float64 `json:"risk_score"`
	HasScore bool    `json:"-"`
	Level    string  `json:"level,omitempty"`
	Source   string  `json:"source,omitempty"`
}

// RiskSource yields the current predicted risk.
type RiskSource interface {
	Risk(ctx context.Context) (Risk, error)
}

// FileRiskSource reads {"risk_score": 0.8} or {"level": "high"} from a file
// written by an external predictor. A missing file means no signal.
type FileRiskSource struct {
	path string
}

// NewFileRiskSource returns a source reading path.
func NewFileRiskSource(path string) *FileRiskSource {
	return &FileRiskSource{path: path}
}

// Risk implements RiskSource.
func (s *FileRiskSource) Risk(_ context.Context) (Risk, error) {
	if s == nil || s.path == "" {
		return Risk{}, nil
	}
	var raw struct {
		Score *float64 `json:"risk_score"`
		Level string   `json:"level"`
		Risk  string   `json:"risk"`
	}
	found, err := readJSON(s.path, &raw)
	if err != nil || !found {
		return Risk{}, err
	}

	r := Risk{Source: s.path, Level: strings.ToLower(strings.TrimSpace(raw.Level))}
	if r.Level == "" {
		r.Level = strings.ToLower(strings.TrimSpace(raw.Risk))
	}
	if raw.Score != nil {
		r.Score = *raw.Score
		r.HasScore = true
	}
	return r, nil
}

// FileVerifierSource reads the latest verification artifact. It accepts
// {"failed": true} or {"status": "fail"}. A missing file means "not failed".
type FileVerifierSource struct {
	path string
}

// NewFileVerifierSource returns a source reading path.
func NewFileVerifierSource(path string) *FileVerifierSource {
	return &FileVerifierSource{path: path}
}

// LastRunFailed reports whether the last verification run failed.
func (s *FileVerifierSource) LastRunFailed(_ context.Context) (bool, error) {
	if s == nil || s.path == "" {
		return false, nil
	}
	var raw struct {
		Failed *bool  `json:"failed"`
		Status string `json:"status"`
	}
	found, err := readJSON(s.path, &raw)
	if err != nil || !found {
		return false, err
	}
	if raw.Failed != nil {
		return *raw.Failed, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw.Status)) {
	case "fail", "failed", "failure", "error":
		return true, nil
	}
	return false, nil
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read signal %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode signal %s: %w", path, err)
	}
	return true, nil
}
