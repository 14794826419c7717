package hsm

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCConfig captures the parameters for the gRPC MPC-signer transport,
// the production-grade sibling to the mTLS HTTP Client above for
// deployments whose signer exposes a streaming gRPC interface instead
// of a single-shot HTTP sign endpoint. Grounded on the teacher's
// consensus/client gRPC dial pattern (TLS-or-insecure dial options,
// otelgrpc stats handler for trace propagation).
type GRPCConfig struct {
	Target        string
	TLS           *tls.Config
	AllowInsecure bool
	Timeout       time.Duration
}

// GRPCClient wraps a gRPC connection to the signer. It does not sign: it
// has no Sign method and does not implement Signer, and signing goes
// through Client's mTLS HTTP path. What this type owns is the connection
// lifecycle and the standard gRPC health probe, which sardisd attaches
// to the stablecoin adapter as its ready check and also polls on an
// interval.
type GRPCClient struct {
	conn    *grpc.ClientConn
	health  grpc_health_v1.HealthClient
	timeout time.Duration
}

// NewGRPCClient dials cfg.Target and wraps it with OpenTelemetry gRPC
// instrumentation, matching every other outbound call in this process.
func NewGRPCClient(cfg GRPCConfig) (*GRPCClient, error) {
	if strings.TrimSpace(cfg.Target) == "" {
		return nil, fmt.Errorf("hsm: grpc target required")
	}
	var creds credentials.TransportCredentials
	switch {
	case cfg.TLS != nil:
		creds = credentials.NewTLS(cfg.TLS)
	case cfg.AllowInsecure:
		creds = insecure.NewCredentials()
	default:
		return nil, fmt.Errorf("hsm: grpc transport requires tls config or explicit allow_insecure")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	conn, err := grpc.NewClient(cfg.Target,
		grpc.WithTransportCredentials(creds),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("hsm: dial signer: %w", err)
	}
	return &GRPCClient{conn: conn, health: grpc_health_v1.NewHealthClient(conn), timeout: timeout}, nil
}

// HealthCheck reports whether the signer's gRPC endpoint is serving: it
// returns an error when the health RPC fails or the signer reports any
// status other than SERVING.
func (c *GRPCClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("hsm: grpc health check: %w", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("hsm: grpc signer reports status %s", resp.GetStatus())
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}
