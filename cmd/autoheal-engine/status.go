package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-autoheal/internal/models"
	"github.com/miradorstack/mirador-autoheal/internal/state"
)

type statusOutput struct {
	Health      *models.HealthSummary     `json:"health"`
	Alerts      models.AlertState         `json:"alerts"`
	AutoHeal    models.AutoHealState      `json:"autoheal"`
	Maintenance models.MaintenanceFlag    `json:"maintenance"`
	Correlation *models.CorrelationReport `json:"correlation"`
	Autonomy    *models.AutonomyStatus    `json:"autonomy"`
	Errors      map[string]string         `json:"errors,omitempty"`
}

func newStatusCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the persisted state as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			store, err := state.NewStore(cfg.State.Dir)
			if err != nil {
				return err
			}

			out := readStatus(store)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

// readStatus collects every record. Missing records stay empty; unreadable
// ones are reported under errors.
func readStatus(store *state.Store) statusOutput {
	out := statusOutput{Errors: map[string]string{}}
	note := func(name string, err error) bool {
		if err == nil {
			return true
		}
		if !errors.Is(err, state.ErrNotFound) {
			out.Errors[name] = err.Error()
		}
		return false
	}

	var doc models.HealthDocument
	if note(state.HealthFile, store.LoadJSON(state.HealthFile, &doc)) && len(doc.Checks) > 0 {
		out.Health = &doc.Summary
	}
	_ = note(state.AlertFile, store.LoadJSON(state.AlertFile, &out.Alerts))
	_ = note(state.AutoHealFile, store.LoadJSON(state.AutoHealFile, &out.AutoHeal))

	flag, err := state.LoadMaintenance(store)
	if note(state.MaintenanceFile, err) {
		out.Maintenance = flag
	}

	var report models.CorrelationReport
	if note(state.CorrelationFile, store.LoadJSON(state.CorrelationFile, &report)) {
		out.Correlation = &report
	}
	var status models.AutonomyStatus
	if note(state.AutonomyStatusFile, store.LoadJSON(state.AutonomyStatusFile, &status)) {
		out.Autonomy = &status
	}
	if len(out.Errors) == 0 {
		out.Errors = nil
	}
	return out
}
