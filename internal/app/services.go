package app

import (
	"fmt"

	"github.com/turtacn/RetinaGuard/internal/application/alerting"
	"github.com/turtacn/RetinaGuard/internal/application/trend"
	"github.com/turtacn/RetinaGuard/internal/domain/alert"
	"github.com/turtacn/RetinaGuard/internal/domain/notification"
	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/messaging/nats"
)

// Services is the application layer wired to PostgreSQL and Redis.
type Services struct {
	Snapshots risk.SnapshotProvider
	Alerts    alert.Store
	Evaluator alerting.Evaluator
	Queries   alerting.QueryService
	Analyzer  trend.Analyzer
	Scanner   trend.Scanner
}

// NewServices wires the application services. sink may be nil.
func NewServices(infra *Infrastructure, sink notification.Sink) *Services {
	cfg := infra.Config
	log := infra.Logger

	snapshots := repositories.NewAnalysisRepo(infra.DB, log, infra.Metrics)
	store := repositories.NewAlertRepo(infra.DB, log, infra.Metrics)

	evaluator := alerting.NewEvaluator(snapshots, store, sink, log,
		alerting.EvaluatorConfig{NotifyTimeout: cfg.Alerting.NotifyTimeout},
		alerting.WithEvaluatorMetrics(infra.Metrics),
		alerting.WithSummaryInvalidation(infra.Cache))
	queries := alerting.NewQueryService(store, log,
		alerting.QueryConfig{SummaryTTL: cfg.Alerting.SummaryTTL},
		alerting.WithSummaryCache(infra.Cache),
		alerting.WithQueryMetrics(infra.Metrics))
	analyzer := trend.NewAnalyzer(snapshots, log, trend.WithAnalyzerMetrics(infra.Metrics))
	scanner := trend.NewScanner(snapshots, analyzer, log,
		trend.ScannerConfig{Concurrency: cfg.Trend.Scanner.Concurrency},
		trend.WithScannerMetrics(infra.Metrics))

	return &Services{
		Snapshots: snapshots,
		Alerts:    store,
		Evaluator: evaluator,
		Queries:   queries,
		Analyzer:  analyzer,
		Scanner:   scanner,
	}
}

// NewSink builds the notification transport selected by
// notification.sink.
func NewSink(infra *Infrastructure) (notification.Sink, error) {
	cfg := infra.Config
	switch cfg.Notification.Sink {
	case "kafka":
		p, err := infra.Producer()
		if err != nil {
			return nil, err
		}
		return kafka.NewNotificationSink(p), nil
	case "nats":
		conn, err := nats.Connect(cfg.NATS, infra.Logger)
		if err != nil {
			return nil, err
		}
		infra.closers = append(infra.closers, func() error { conn.Close(); return nil })
		return nats.NewNotificationSink(conn, cfg.NATS, infra.Logger), nil
	case "log":
		return notification.NewLogSink(infra.Logger), nil
	default:
		return nil, fmt.Errorf("unknown notification sink %q", cfg.Notification.Sink)
	}
}
