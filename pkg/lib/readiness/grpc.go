package readiness

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealthProber is ready once the standard gRPC health service reports
// SERVING for Service. An empty Service asks about the server as a whole.
// TCP.Address defaults to Address.
type GRPCHealthProber struct {
	Address string
	Service string
	TCP     TCPProber
}

func (p GRPCHealthProber) Probe(ctx context.Context) error {
	// Fail fast with a plain dial before paying for a gRPC handshake.
	tcp := p.TCP
	if tcp.Address == "" {
		tcp.Address = p.Address
	}
	if err := tcp.Probe(ctx); err != nil {
		return err
	}

	conn, err := grpc.NewClient(p.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	attemptCtx := ctx
	if tcp.DialTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, tcp.DialTimeout)
		defer cancel()
	}

	resp, err := healthpb.NewHealthClient(conn).Check(attemptCtx, &healthpb.HealthCheckRequest{Service: p.Service})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("health status %s", resp.GetStatus())
	}
	return nil
}
