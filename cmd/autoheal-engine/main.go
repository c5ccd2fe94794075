package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-autoheal/internal/config"
	"github.com/miradorstack/mirador-autoheal/internal/utils"
)

var version = "dev" // Set at build time using -ldflags

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "autoheal-engine <command>",
		Short:        "Autonomous remediation loop for a small service fleet.",
		SilenceUsage: true,
		Version:      version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (defaults to $AUTOHEAL_CONFIG)")

	load := func() (*config.Config, *slog.Logger, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON), nil
	}

	root.AddCommand(newRunCmd(load))
	root.AddCommand(newTickCmd(load))
	root.AddCommand(newStatusCmd(load))
	return root
}

type loader func() (*config.Config, *slog.Logger, error)
