package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name for the engine.
const ServiceName = "jobrunner.Engine"

// GRPCServer serves the standard gRPC health protocol, mirroring the
// monitor's report. Critical maps to NOT_SERVING; degraded still serves.
type GRPCServer struct {
	monitor  *Monitor
	health   *grpchealth.Server
	server   *grpc.Server
	addr     string
	interval time.Duration
	logger   *slog.Logger
}

// NewGRPCServer creates the server; nothing listens until Start.
func NewGRPCServer(monitor *Monitor, addr string, interval time.Duration, logger *slog.Logger) *GRPCServer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	hs := grpchealth.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &GRPCServer{
		monitor:  monitor,
		health:   hs,
		server:   srv,
		addr:     addr,
		interval: interval,
		logger:   logger,
	}
}

// Sync pushes the current report into the health service.
func (g *GRPCServer) Sync(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	report := g.monitor.CheckHealth(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if report.SystemStatus == StatusCritical {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
	return status
}

// Start listens and serves until ctx is cancelled or Stop is called.
func (g *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.addr, err)
	}
	g.Sync(ctx)

	go func() {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.Sync(ctx)
			}
		}
	}()

	g.logger.Info("grpc health server listening", "addr", lis.Addr().String())
	return g.server.Serve(lis)
}

// Stop marks every service NOT_SERVING and stops the server.
func (g *GRPCServer) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}
