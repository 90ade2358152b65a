package grpc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/turtacn/RetinaGuard/internal/config"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
)

type fakeProbe struct {
	name string
	fail atomic.Bool
}

func (p *fakeProbe) Name() string { return p.name }

func (p *fakeProbe) Check(context.Context) error {
	if p.fail.Load() {
		return errors.New("down")
	}
	return nil
}

func startServer(t *testing.T, opts ...Option) (*Server, healthpb.HealthClient) {
	t.Helper()
	s, err := NewServer(config.GRPCConfig{Port: 0}, logging.NewNopLogger(), opts...)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Start() }()
	t.Cleanup(func() {
		require.NoError(t, s.Stop(context.Background()))
		assert.NoError(t, <-done)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := grpc.DialContext(ctx, s.Addr(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return s, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.Status
}

func TestServer_ServingWithoutProbes(t *testing.T) {
	_, c := startServer(t)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ""))
}

func TestServer_ProbesDriveStatus(t *testing.T) {
	db := &fakeProbe{name: "postgres"}
	cache := &fakeProbe{name: "redis"}
	cache.fail.Store(true)

	s, c := startServer(t, WithProbes(time.Hour, db, cache))

	require.Eventually(t, func() bool {
		return check(t, c, ServicePrefix+"redis") == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ServicePrefix+"postgres"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, ""))

	cache.fail.Store(false)
	s.RunProbes(context.Background())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ServicePrefix+"redis"))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ""))
}

func TestServer_StartTwice(t *testing.T) {
	s, _ := startServer(t)
	assert.Error(t, s.Start())
}

func TestNewServer_InvalidPort(t *testing.T) {
	_, err := NewServer(config.GRPCConfig{Port: -1}, logging.NewNopLogger())
	assert.Error(t, err)
}

func TestServer_StopBeforeStart(t *testing.T) {
	s, err := NewServer(config.GRPCConfig{}, logging.NewNopLogger(), WithGracefulTimeout(time.Second))
	require.NoError(t, err)
	assert.NoError(t, s.Stop(context.Background()))
}
