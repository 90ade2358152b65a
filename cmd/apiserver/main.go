// Command apiserver serves the RetinaGuard alert and risk-trend REST API and
// the gRPC health service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/turtacn/RetinaGuard/internal/app"
	"github.com/turtacn/RetinaGuard/internal/config"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	grpcserver "github.com/turtacn/RetinaGuard/internal/interfaces/grpc"
	httpserver "github.com/turtacn/RetinaGuard/internal/interfaces/http"
	"github.com/turtacn/RetinaGuard/internal/interfaces/http/handlers"
	"github.com/turtacn/RetinaGuard/internal/interfaces/http/middleware"
)

// Injected via ldflags.
var version = "dev"

const probeInterval = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: environment only)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadOptional(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger, err := app.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String("component", "apiserver"))

	logger.Info("starting RetinaGuard API server",
		logging.String("version", version),
		logging.Int("http_port", cfg.Server.Port),
		logging.Int("grpc_port", cfg.GRPC.Port))

	infra, err := app.NewInfrastructure(cfg, logger)
	if err != nil {
		return err
	}
	defer infra.Close()

	if cfg.Database.MigrateOnStart {
		if err := infra.Migrate(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	sink, err := app.NewSink(infra)
	if err != nil {
		return err
	}
	svc := app.NewServices(infra, sink)

	probes := infra.Probes()
	checkers := make([]handlers.HealthChecker, 0, len(probes))
	grpcProbes := make([]grpcserver.Probe, 0, len(probes))
	for _, p := range probes {
		checkers = append(checkers, p)
		grpcProbes = append(grpcProbes, p)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit)
	go limiter.Run(ctx)
	if configPath != "" {
		config.Watch(configPath, func(next *config.Config) {
			limiter.Update(next.Server.RateLimit)
			logger.Info("rate limit reloaded",
				logging.Bool("enabled", limiter.Enabled()),
				logging.Int("burst", next.Server.RateLimit.Burst))
		})
	}

	routerCfg := httpserver.RouterConfig{
		AlertHandler:   handlers.NewAlertHandler(svc.Queries, svc.Evaluator, logger),
		TrendHandler:   handlers.NewTrendHandler(svc.Analyzer, svc.Scanner),
		HealthHandler:  handlers.NewHealthHandler(version, checkers...),
		Validator:      middleware.NewJWTValidator(cfg.Auth),
		AuthEnabled:    cfg.Auth.Enabled,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logging:        middleware.DefaultLoggingConfig(),
		RateLimiter:    limiter,
		Logger:         logger,
		Metrics:        infra.Metrics,
	}
	if infra.Collector != nil {
		routerCfg.MetricsHandler = infra.Collector.Handler()
		routerCfg.MetricsPath = cfg.Metrics.Path
	}

	httpserver.SetMode(cfg.Server.Mode)
	httpSrv := httpserver.NewServer(cfg.Server, httpserver.NewRouter(routerCfg), logger)

	grpcSrv, err := grpcserver.NewServer(cfg.GRPC, logger,
		grpcserver.WithGracefulTimeout(cfg.Server.ShutdownTimeout),
		grpcserver.WithProbes(probeInterval, grpcProbes...),
		grpcserver.WithMetrics(infra.Metrics))
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() { errCh <- httpSrv.Start() }()
	go func() { errCh <- grpcSrv.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", logging.String("signal", sig.String()))
	case runErr = <-errCh:
		if runErr != nil {
			logger.Error("server failed", logging.Err(runErr))
		}
	}

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpSrv.Stop(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", logging.Err(err))
	}
	if err := grpcSrv.Stop(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", logging.Err(err))
	}
	logger.Info("servers stopped")
	return runErr
}
