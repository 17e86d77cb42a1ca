package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/v1"
)

// ServiceName is the gRPC health service name reported for the pipeline.
const ServiceName = "mediadownloader.Pipeline"

// GRPCServer exposes the monitor through the standard gRPC health protocol.
type GRPCServer struct {
	monitor  *Monitor
	health   *grpchealth.Server
	server   *grpc.Server
	addr     string
	interval time.Duration
	log      *slog.Logger
}

// NewGRPCServer creates a gRPC server with only the health service registered.
func NewGRPCServer(monitor *Monitor, port int, interval time.Duration) *GRPCServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	hs := grpchealth.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &GRPCServer{
		monitor:  monitor,
		health:   hs,
		server:   srv,
		addr:     fmt.Sprintf(":%d", port),
		interval: interval,
		log:      slog.Default().With("component", "grpc-health"),
	}
}

// Health returns the underlying health service.
func (g *GRPCServer) Health() *grpchealth.Server {
	return g.health
}

// Start listens and serves until Stop. It blocks.
func (g *GRPCServer) Start() error {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.addr, err)
	}
	return g.server.Serve(lis)
}

// Sync copies the monitor status into the health service until ctx is done.
func (g *GRPCServer) Sync(ctx context.Context) {
	g.refresh(ctx)
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.refresh(ctx)
		}
	}
}

func (g *GRPCServer) refresh(ctx context.Context) {
	report := g.monitor.CheckHealth(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if report.SystemStatus == StatusCritical {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
}

// Stop marks the service as not serving and drains connections.
func (g *GRPCServer) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
	g.log.Info("gRPC health server stopped")
}
