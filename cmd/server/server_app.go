package main

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const defaultAddress = "localhost:50051"

// GRPCServer encapsulates the gRPC server instance, its health service and listener.
type GRPCServer struct {
	lis    net.Listener
	s      *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewGRPCServer listens on addr and registers the standard health service,
// initially reporting NOT_SERVING for every service.
func NewGRPCServer(addr string, logger *zap.Logger) (*GRPCServer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	s := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	return &GRPCServer{lis: lis, s: s, health: hs, logger: logger}, nil
}

// SetServing flips the overall health status and that of the given services.
func (g *GRPCServer) SetServing(serving bool, services ...string) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	for _, svc := range append([]string{""}, services...) {
		g.health.SetServingStatus(svc, status)
	}
	g.logger.Info("health status changed", zap.Stringer("status", status), zap.Strings("services", services))
}

// Serve starts serving gRPC on the configured listener.
func (g *GRPCServer) Serve() error {
	return g.s.Serve(g.lis)
}

// Addr returns the network address the server is bound to.
func (g *GRPCServer) Addr() net.Addr { return g.lis.Addr() }

// Stop gracefully stops the gRPC server.
func (g *GRPCServer) Stop() {
	g.health.Shutdown()
	g.s.GracefulStop()
}
