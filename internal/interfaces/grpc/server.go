// Package grpc exposes the standard gRPC health service so that mesh and
// orchestrator probes can watch RetinaGuard's dependencies. Component
// statuses are refreshed by periodic probes.
package grpc

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/turtacn/RetinaGuard/internal/config"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/RetinaGuard/pkg/errors"
)

// ServicePrefix prefixes per-component health service names, e.g.
// "retinaguard.postgres".
const ServicePrefix = "retinaguard."

const (
	defaultGracefulTimeout = 10 * time.Second
	defaultProbeInterval   = 15 * time.Second
	defaultProbeTimeout    = 3 * time.Second
)

var defaultKeepaliveParams = keepalive.ServerParameters{
	MaxConnectionIdle:     15 * time.Minute,
	MaxConnectionAge:      30 * time.Minute,
	MaxConnectionAgeGrace: 5 * time.Second,
	Time:                  5 * time.Minute,
	Timeout:               time.Second,
}

// Probe checks one dependency.
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

type Option func(*Server)

func WithGracefulTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.gracefulTimeout = d
		}
	}
}

// WithProbes registers dependency probes run every interval.
func WithProbes(interval time.Duration, probes ...Probe) Option {
	return func(s *Server) {
		if interval > 0 {
			s.probeInterval = interval
		}
		s.probes = append(s.probes, probes...)
	}
}

func WithMetrics(m *prometheus.AppMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithReflection registers the reflection service, for grpcurl in
// development.
func WithReflection() Option {
	return func(s *Server) { s.reflection = true }
}

// Server serves grpc.health.v1.Health.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	health     *health.Server
	logger     logging.Logger
	metrics    *prometheus.AppMetrics

	probes          []Probe
	probeInterval   time.Duration
	gracefulTimeout time.Duration
	reflection      bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer binds cfg.Port. Port 0 picks a free port, see Addr.
func NewServer(cfg config.GRPCConfig, logger logging.Logger, opts ...Option) (*Server, error) {
	if cfg.Port < 0 {
		return nil, errors.New(errors.ErrCodeValidation, "grpc port must not be negative")
	}
	s := &Server{
		logger:          logger.Named("grpc_server"),
		probeInterval:   defaultProbeInterval,
		gracefulTimeout: defaultGracefulTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to bind grpc listener")
	}
	s.listener = lis

	s.grpcServer = grpc.NewServer(
		grpc.KeepaliveParams(defaultKeepaliveParams),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
		grpc.ChainUnaryInterceptor(recoveryUnaryInterceptor(s.logger), loggingUnaryInterceptor(s.logger)),
		grpc.ChainStreamInterceptor(recoveryStreamInterceptor(s.logger)),
	)

	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, p := range s.probes {
		s.health.SetServingStatus(ServicePrefix+p.Name(), healthpb.HealthCheckResponse_UNKNOWN)
	}
	if s.reflection {
		reflection.Register(s.grpcServer)
	}
	return s, nil
}

// Start runs one probe round, then serves until Stop.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New(errors.ErrCodeConflict, "grpc server already started")
	}
	s.started = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	if len(s.probes) > 0 {
		s.RunProbes(ctx)
		s.wg.Add(1)
		go s.probeLoop(ctx)
	}

	s.logger.Info("grpc health server listening", logging.String("addr", s.Addr()))
	if err := s.grpcServer.Serve(s.listener); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

func (s *Server) probeLoop(ctx context.Context) {
	defer s.wg.Done()
	t := time.NewTicker(s.probeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.RunProbes(ctx)
		}
	}
}

// RunProbes checks every dependency once and publishes the result. The
// overall status is SERVING only when all probes pass.
func (s *Server) RunProbes(ctx context.Context) {
	allUp := true
	for _, p := range s.probes {
		pctx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
		err := p.Check(pctx)
		cancel()

		st := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			allUp = false
			st = healthpb.HealthCheckResponse_NOT_SERVING
			s.logger.Warn("dependency probe failed", logging.String("component", p.Name()), logging.Err(err))
		}
		s.health.SetServingStatus(ServicePrefix+p.Name(), st)
		prometheus.SetHealth(s.metrics, p.Name(), err == nil)
	}
	if allUp {
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	} else {
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// Stop marks every service NOT_SERVING, then stops gracefully, forcing the
// stop after the graceful timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return s.listener.Close()
	}

	s.health.Shutdown()
	s.cancel()
	s.wg.Wait()

	gctx, cancel := context.WithTimeout(ctx, s.gracefulTimeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		s.logger.Info("grpc server stopped gracefully")
	case <-gctx.Done():
		s.logger.Warn("grpc graceful stop timed out, forcing stop")
		s.grpcServer.Stop()
	}
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func recoveryUnaryInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc panic recovered",
					logging.String("method", info.FullMethod),
					logging.String("panic", fmt.Sprint(r)),
					logging.String("stack", string(debug.Stack())))
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

func recoveryStreamInterceptor(logger logging.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc stream panic recovered",
					logging.String("method", info.FullMethod),
					logging.String("panic", fmt.Sprint(r)),
					logging.String("stack", string(debug.Stack())))
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(srv, ss)
	}
}

func isHealthCheck(method string) bool {
	return strings.HasPrefix(method, "/grpc.health.v1.Health/")
}

// loggingUnaryInterceptor logs non-health calls at debug.
func loggingUnaryInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if isHealthCheck(info.FullMethod) {
			return handler(ctx, req)
		}
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc request",
			logging.String("method", info.FullMethod),
			logging.Int64("duration_ms", time.Since(start).Milliseconds()),
			logging.String("code", status.Code(err).String()))
		return resp, err
	}
}
