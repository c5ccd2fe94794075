package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/miradorstack/mirador-autoheal/internal/config"
	"github.com/miradorstack/mirador-autoheal/internal/services"
)

// Health service names reported alongside the overall "" status.
const (
	ServiceFleet    = "fleet"
	ServiceAutoHeal = "autoheal"
)

// Server exposes the loop's state through the standard gRPC health protocol.
type Server struct {
	cfg        config.ServerConfig
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	autoheal   AutoHealReader
	logger     *slog.Logger
}

// NewServer constructs a gRPC server bound to the configured address. autoheal
// may be nil, in which case the autoheal service always reports SERVING.
func NewServer(cfg config.ServerConfig, autoheal AutoHealReader, logger *slog.Logger, opts ...grpc.ServerOption) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	lis, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.GRPCAddress, err)
	}

	grpc_prometheus.EnableHandlingTimeHistogram()
	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	}
	serverOpts = append(serverOpts, opts...)
	grpcServer := grpc.NewServer(serverOpts...)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	// Unknown until the first tick completes.
	healthSrv.SetServingStatus(ServiceFleet, healthpb.HealthCheckResponse_UNKNOWN)
	healthSrv.SetServingStatus(ServiceAutoHeal, healthpb.HealthCheckResponse_UNKNOWN)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	grpc_prometheus.Register(grpcServer)
	reflection.Register(grpcServer)

	return &Server{
		cfg:        cfg,
		grpcServer: grpcServer,
		health:     healthSrv,
		listener:   lis,
		autoheal:   autoheal,
		logger:     logger,
	}, nil
}

// ObserveTick updates the per-service statuses from a completed tick. The fleet
// serves while a summary exists and no alert fired. Autoheal serves until the
// maintenance circuit breaker trips.
func (s *Server) ObserveTick(report services.TickReport) {
	fleet := healthpb.HealthCheckResponse_SERVING
	if report.Summary == nil || len(report.Alerts) > 0 {
		fleet = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceFleet, fleet)

	heal := healthpb.HealthCheckResponse_SERVING
	if s.autoheal != nil && s.autoheal.Maintenance().Active {
		heal = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceAutoHeal, heal)

	s.logger.Debug("grpc health updated",
		slog.String(ServiceFleet, fleet.String()),
		slog.String(ServiceAutoHeal, heal.String()),
	)
}

// Start serves incoming gRPC requests until Stop/Shutdown is invoked.
func (s *Server) Start() error {
	if s.grpcServer == nil || s.listener == nil {
		return fmt.Errorf("server not initialised")
	}
	return s.grpcServer.Serve(s.listener)
}

// Shutdown attempts a graceful shutdown, falling back to Stop when ctx ends or
// the configured graceful timeout elapses, whichever comes first.
func (s *Server) Shutdown(ctx context.Context) {
	if s.grpcServer == nil {
		return
	}
	s.health.Shutdown()

	if s.cfg.GracefulTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.GracefulTimeout)
		defer cancel()
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		s.grpcServer.Stop()
	case <-stopped:
	}
}

// Address exposes the bound listener address (useful for tests).
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
