package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-autoheal/internal/services"
)

func newTickCmd(load loader) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one pass of the loop and print the report",
		Long: `Run every stage once: probe, alert, autoheal, correlate, decide, and
execute queued intents. Suited to an external scheduler such as cron or a
systemd timer. Exits non-zero when any stage failed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			loop, err := services.Build(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("failed to build loop", slog.Any("error", err))
				return err
			}
			defer loop.Close()

			report := loop.Controller.Tick(cmd.Context())
			if !quiet {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			}
			if !report.OK() {
				return fmt.Errorf("%d stage(s) failed", len(report.Failures))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the tick report")
	return cmd
}
