// Package rpc exposes the planner's gRPC surface: the standard health
// service on the server side and a probe client for it.
package rpc

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/weflora/planning-core/internal/logging"
)

// Service names reported through the health service. The empty name is the
// overall server status.
const (
	ServiceEngine    = "planner.engine"
	ServicePCIV      = "planner.pciv"
	ServiceReadiness = "planner.readiness"
)

// #region server
// Server wraps a grpc.Server with the health service registered.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// NewServer registers health for the given services, all reported serving.
func NewServer(logger *slog.Logger, services ...string) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		logger: logging.OrDefault(logger),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, name := range services {
		s.health.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}
	return s
}

// GRPC returns the underlying server for Serve and further registration.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// SetServing flips one service between serving and not serving.
func (s *Server) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
	s.logger.Info("health status", "service", service, "serving", serving)
}

// Stop marks every service not serving and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// #endregion server

// #region client
// Client probes a planner's health service.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// Dial connects to addr without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, health: healthpb.NewHealthClient(conn)}, nil
}

// NewClientWithService wraps an existing health client. Used in tests.
func NewClientWithService(hc healthpb.HealthClient) *Client {
	return &Client{health: hc}
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Check returns the serving status of service, e.g. "SERVING".
func (c *Client) Check(ctx context.Context, service string) (string, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return "", fmt.Errorf("health rpc %q: %w", service, err)
	}
	return resp.GetStatus().String(), nil
}

// CheckAll checks each service in order and stops at the first rpc error.
func (c *Client) CheckAll(ctx context.Context, services ...string) (map[string]string, error) {
	out := make(map[string]string, len(services))
	for _, name := range services {
		st, err := c.Check(ctx, name)
		if err != nil {
			return out, err
		}
		out[name] = st
	}
	return out, nil
}

// #endregion client
