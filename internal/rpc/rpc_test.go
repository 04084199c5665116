package rpc

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/weflora/planning-core/internal/logging"
)

// #region mock
type mockHealth struct {
	healthpb.HealthClient

	resp *healthpb.HealthCheckResponse
	err  error
}

func (m *mockHealth) Check(_ context.Context, _ *healthpb.HealthCheckRequest, _ ...grpc.CallOption) (*healthpb.HealthCheckResponse, error) {
	return m.resp, m.err
}

// #endregion mock

func TestCheckWrapsRPCError(t *testing.T) {
	mock := &mockHealth{err: errors.New("rpc failed")}
	c := NewClientWithService(mock)

	_, err := c.Check(context.Background(), ServiceEngine)
	require.Error(t, err)
	assert.ErrorIs(t, err, mock.err)
	assert.NoError(t, c.Close())
}

func TestCheckStatus(t *testing.T) {
	c := NewClientWithService(&mockHealth{resp: &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}})
	st, err := c.Check(context.Background(), ServicePCIV)
	require.NoError(t, err)
	assert.Equal(t, "NOT_SERVING", st)
}

func TestServerOverBufconn(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(logging.Discard(), ServiceEngine, ServicePCIV)
	go func() { _ = srv.GRPC().Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	got, err := c.CheckAll(ctx, "", ServiceEngine, ServicePCIV)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"": "SERVING", ServiceEngine: "SERVING", ServicePCIV: "SERVING"}, got)

	srv.SetServing(ServicePCIV, false)
	st, err := c.Check(ctx, ServicePCIV)
	require.NoError(t, err)
	assert.Equal(t, "NOT_SERVING", st)

	_, err = c.Check(ctx, ServiceReadiness)
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(errors.Unwrap(err)))
}
