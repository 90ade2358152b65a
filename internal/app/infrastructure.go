// Package app assembles RetinaGuard's infrastructure and services from
// configuration. The API server, the worker and the CLI share it.
package app

import (
	"context"
	"fmt"

	"github.com/turtacn/RetinaGuard/internal/config"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/database/postgres"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/database/redis"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/storage/minio"
)

// NewLogger builds the service logger from cfg.Log.
func NewLogger(cfg config.LogConfig) (logging.Logger, error) {
	lc := logging.LogConfig{Level: cfg.Level, Format: cfg.Format}
	if cfg.Output != "" {
		lc.OutputPaths = []string{cfg.Output}
	}
	return logging.NewLogger(lc)
}

// Probe is a named dependency check. It satisfies both the HTTP readiness
// and the gRPC health probe interfaces.
type Probe struct {
	Component string
	Fn        func(ctx context.Context) error
}

func (p Probe) Name() string                    { return p.Component }
func (p Probe) Check(ctx context.Context) error { return p.Fn(ctx) }

// Infrastructure owns the shared connections. Close releases them in reverse
// order of creation.
type Infrastructure struct {
	Config    *config.Config
	Logger    logging.Logger
	Collector prometheus.MetricsCollector
	Metrics   *prometheus.AppMetrics

	DB    *postgres.Connection
	Redis *redis.Client
	Cache redis.Cache
	Locks redis.LockFactory

	producer *kafka.Producer
	minio    *minio.Client
	closers  []func() error
}

// NewInfrastructure connects to PostgreSQL and Redis and registers metrics.
// Kafka and MinIO connect lazily on first use.
func NewInfrastructure(cfg *config.Config, logger logging.Logger) (*Infrastructure, error) {
	infra := &Infrastructure{Config: cfg, Logger: logger}

	if cfg.Metrics.Enabled {
		collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace:            cfg.Metrics.Namespace,
			EnableProcessMetrics: true,
			EnableGoMetrics:      true,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		infra.Collector = collector
		infra.Metrics = prometheus.NewAppMetrics(collector)
	}

	db, err := postgres.NewConnection(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	infra.DB = db
	infra.closers = append(infra.closers, db.Close)

	rc, err := redis.NewClient(cfg.Redis, logger)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	infra.Redis = rc
	infra.closers = append(infra.closers, rc.Close)
	infra.Cache = redis.NewRedisCache(rc, logger)
	infra.Locks = redis.NewLockFactory(rc, logger)

	logger.Info("infrastructure initialized")
	return infra, nil
}

// Migrate applies pending schema migrations.
func (i *Infrastructure) Migrate() error {
	m, err := postgres.NewMigrator(i.DB, i.Logger)
	if err != nil {
		return err
	}
	return m.Up()
}

// Producer returns the shared Kafka producer, creating it on first call.
func (i *Infrastructure) Producer() (*kafka.Producer, error) {
	if i.producer != nil {
		return i.producer, nil
	}
	p, err := kafka.NewProducer(i.Config.Kafka, i.Logger, i.Metrics)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	i.producer = p
	i.closers = append(i.closers, p.Close)
	return p, nil
}

// ObjectStore returns the MinIO client, creating the bucket on first call.
func (i *Infrastructure) ObjectStore(ctx context.Context) (*minio.Client, error) {
	if i.minio != nil {
		return i.minio, nil
	}
	c, err := minio.NewClient(ctx, i.Config.MinIO, i.Logger)
	if err != nil {
		return nil, fmt.Errorf("minio: %w", err)
	}
	i.minio = c
	i.closers = append(i.closers, c.Close)
	return c, nil
}

// Probes returns the readiness checks for the connected dependencies.
func (i *Infrastructure) Probes() []Probe {
	probes := []Probe{
		{Component: "postgres", Fn: i.DB.HealthCheck},
		{Component: "redis", Fn: i.Redis.Ping},
	}
	if i.minio != nil {
		probes = append(probes, Probe{Component: "minio", Fn: i.minio.HealthCheck})
	}
	return probes
}

// Close releases every connection, logging failures.
func (i *Infrastructure) Close() {
	for n := len(i.closers) - 1; n >= 0; n-- {
		if err := i.closers[n](); err != nil {
			i.Logger.Warn("failed to close dependency", logging.Err(err))
		}
	}
	i.closers = nil
}
