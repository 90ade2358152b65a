// Command worker consumes analysis.completed events to raise high-risk alerts
// and runs the scheduled abnormal-trend scans.
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
	"github.com/turtacn/RetinaGuard/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/storage/minio"
	httpserver "github.com/turtacn/RetinaGuard/internal/interfaces/http"
	"github.com/turtacn/RetinaGuard/internal/interfaces/http/handlers"
	"github.com/turtacn/RetinaGuard/internal/interfaces/http/middleware"
	"github.com/turtacn/RetinaGuard/internal/interfaces/worker"
)

// Injected via ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: environment only)")
	handlerTimeout := flag.Duration("handler-timeout", 30*time.Second, "per-event evaluation timeout")
	noConsumer := flag.Bool("no-consumer", false, "run only the scheduled scans")
	flag.Parse()

	if err := run(*configPath, *handlerTimeout, !*noConsumer); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, handlerTimeout time.Duration, consume bool) error {
	cfg, err := config.LoadOptional(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger, err := app.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String("component", "worker"))
	logger.Info("starting RetinaGuard worker",
		logging.String("version", version),
		logging.Bool("consumer", consume),
		logging.String("scan_schedule", cfg.Worker.ScanSchedule))

	infra, err := app.NewInfrastructure(cfg, logger)
	if err != nil {
		return err
	}
	defer infra.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Kafka.AutoCreateTopics {
		if err := ensureTopics(ctx, cfg, logger); err != nil {
			return err
		}
	}

	producer, err := infra.Producer()
	if err != nil {
		return err
	}
	sink, err := app.NewSink(infra)
	if err != nil {
		return err
	}
	svc := app.NewServices(infra, sink)

	var consumer *kafka.Consumer
	if consume {
		h := worker.NewAnalysisEventHandler(svc.Evaluator, handlerTimeout, logger)
		consumer, err = kafka.NewConsumer(cfg.Kafka, []string{h.Topic()}, logger,
			kafka.WithDeadLetter(producer),
			kafka.WithConsumerMetrics(infra.Metrics))
		if err != nil {
			return err
		}
		consumer.Subscribe(h.Topic(), h.Handle)
	}

	opts := []worker.SchedulerOption{
		worker.WithLocks(infra.Locks),
		worker.WithFindingsPublisher(kafka.NewFindingsPublisher(producer)),
	}
	if cfg.Worker.ArchiveFindings {
		store, err := infra.ObjectStore(ctx)
		if err != nil {
			return err
		}
		opts = append(opts, worker.WithReportArchive(minio.NewScanArchive(store, logger)))
	}
	scheduler, err := worker.NewScanScheduler(svc.Scanner, worker.SchedulerConfig{
		Schedule:     cfg.Worker.ScanSchedule,
		Clinics:      cfg.Worker.ScanClinics,
		LookbackDays: cfg.Trend.Scanner.LookbackDays,
		LockTTL:      cfg.Worker.ScanLockTTL,
	}, logger, opts...)
	if err != nil {
		return err
	}

	health := newHealthServer(cfg, infra, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- health.Start() }()

	if consumer != nil {
		if err := consumer.Start(ctx); err != nil {
			return err
		}
	}
	scheduler.Start(ctx)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err = <-errCh:
		if err != nil {
			logger.Error("health server failed", logging.Err(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	scheduler.Stop(shutdownCtx)
	if consumer != nil {
		if cErr := consumer.Close(); cErr != nil {
			logger.Error("consumer close error", logging.Err(cErr))
		}
	}
	if hErr := health.Stop(shutdownCtx); hErr != nil {
		logger.Error("health server shutdown error", logging.Err(hErr))
	}
	logger.Info("worker stopped")
	return err
}

func ensureTopics(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	tm, err := kafka.NewTopicManager(cfg.Kafka.Brokers, logger)
	if err != nil {
		return err
	}
	defer tm.Close()
	return tm.EnsureTopics(ctx, kafka.DefaultTopics(cfg.Kafka.NumPartitions, cfg.Kafka.ReplicationFactor))
}

// newHealthServer exposes probes and metrics on worker.health_port.
func newHealthServer(cfg *config.Config, infra *app.Infrastructure, logger logging.Logger) *httpserver.Server {
	probes := infra.Probes()
	checkers := make([]handlers.HealthChecker, 0, len(probes))
	for _, p := range probes {
		checkers = append(checkers, p)
	}

	routerCfg := httpserver.RouterConfig{
		HealthHandler: handlers.NewHealthHandler(version, checkers...),
		Logging:       middleware.DefaultLoggingConfig(),
		Logger:        logger,
		Metrics:       infra.Metrics,
	}
	if infra.Collector != nil {
		routerCfg.MetricsHandler = infra.Collector.Handler()
		routerCfg.MetricsPath = cfg.Metrics.Path
	}

	serverCfg := cfg.Server
	serverCfg.Port = cfg.Worker.HealthPort
	httpserver.SetMode(cfg.Server.Mode)
	return httpserver.NewServer(serverCfg, httpserver.NewRouter(routerCfg), logger)
}
