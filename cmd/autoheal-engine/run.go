package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-autoheal/internal/api"
	"github.com/miradorstack/mirador-autoheal/internal/metrics"
	"github.com/miradorstack/mirador-autoheal/internal/services"
)

func newRunCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the loop on its interval and serve the status API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			logger.Info("starting mirador-autoheal",
				slog.String("mode", cfg.Autonomy.Mode),
				slog.Duration("interval", cfg.Schedule.Interval),
				slog.String("state_dir", cfg.State.Dir),
			)

			if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
				logger.Error("failed to register metrics", slog.Any("error", err))
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			loop, err := services.Build(ctx, cfg, logger)
			if err != nil {
				logger.Error("failed to build loop", slog.Any("error", err))
				return err
			}
			defer loop.Close()

			var grpcServer *api.Server
			if cfg.Server.GRPCAddress != "" {
				grpcServer, err = api.NewServer(cfg.Server, loop.Actuator, logger)
				if err != nil {
					logger.Error("failed to create gRPC server", slog.Any("error", err))
					return err
				}
				loop.Controller.OnTick(grpcServer.ObserveTick)
				go func() {
					logger.Info("gRPC health server listening", slog.String("address", grpcServer.Address()))
					if serveErr := grpcServer.Start(); serveErr != nil {
						logger.Error("gRPC server exited", slog.Any("error", serveErr))
						stop()
					}
				}()
			}

			var httpServer *api.HTTPServer
			if cfg.Server.HTTPAddress != "" {
				router := api.NewRouter(api.Sources{
					Health:   loop.Health,
					Findings: loop.Correlator,
					Autonomy: loop.Autonomy,
					AutoHeal: loop.Actuator,
					Ticks:    loop.Controller,
				}, prometheus.DefaultGatherer, logger)
				httpServer, err = api.NewHTTPServer(cfg.Server.HTTPAddress, router)
				if err != nil {
					logger.Error("failed to create HTTP server", slog.Any("error", err))
					return err
				}
				go func() {
					logger.Info("status API listening", slog.String("address", httpServer.Address()))
					if serveErr := httpServer.Start(); serveErr != nil {
						logger.Error("status API exited", slog.Any("error", serveErr))
						stop()
					}
				}()
			}

			runErr := loop.Controller.Run(ctx, cfg.Schedule.Interval)
			logger.Info("shutdown signal received")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
			defer cancel()
			if grpcServer != nil {
				grpcServer.Shutdown(shutdownCtx)
			}
			if httpServer != nil {
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					logger.Warn("status API shutdown", slog.Any("error", err))
				}
			}

			// Give remaining goroutines time to finish logging
			time.Sleep(100 * time.Millisecond)
			logger.Info("mirador-autoheal stopped")
			return runErr
		},
	}
}
