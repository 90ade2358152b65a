// Package trend computes per-patient risk trends and scans a clinic for
// abnormal risk trajectories.
package trend

import (
	"context"
	"time"

	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/prometheus"
)

const (
	DefaultTrendLookbackDays = 90
	DefaultScanLookbackDays  = 30
	DefaultScanConcurrency   = 8
)

// Analyzer builds a patient's risk trend.
type Analyzer interface {
	// GetPatientRiskTrend returns nil when the patient has no completed
	// analysis in the window or the read failed. The error is non-nil only
	// when ctx is done.
	GetPatientRiskTrend(ctx context.Context, patientID string, lookbackDays int) (*risk.PatientRiskTrend, error)
}

type analyzerImpl struct {
	snapshots risk.SnapshotProvider
	clock     risk.Clock
	metrics   *prometheus.AppMetrics
	logger    logging.Logger
}

type AnalyzerOption func(*analyzerImpl)

func WithAnalyzerClock(c risk.Clock) AnalyzerOption {
	return func(a *analyzerImpl) { a.clock = c }
}

func WithAnalyzerMetrics(m *prometheus.AppMetrics) AnalyzerOption {
	return func(a *analyzerImpl) { a.metrics = m }
}

func NewAnalyzer(snapshots risk.SnapshotProvider, logger logging.Logger, opts ...AnalyzerOption) Analyzer {
	a := &analyzerImpl{
		snapshots: snapshots,
		clock:     risk.SystemClock{},
		logger:    logger.Named("trend_analyzer"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *analyzerImpl) GetPatientRiskTrend(ctx context.Context, patientID string, lookbackDays int) (*risk.PatientRiskTrend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lookbackDays <= 0 {
		lookbackDays = DefaultTrendLookbackDays
	}
	now := a.clock.Now()

	snaps, err := a.snapshots.GetCompletedAnalyses(ctx, patientID, since(now, lookbackDays), now)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		a.logger.Error("failed to read completed analyses",
			logging.String("patient_id", patientID), logging.Int("lookback_days", lookbackDays), logging.Err(err))
		return nil, nil
	}

	points := make([]risk.RiskTrendPoint, 0, len(snaps))
	for _, s := range snaps {
		points = append(points, s.TrendPoint())
	}
	prometheus.RecordTrendPoints(a.metrics, len(points))
	return risk.BuildTrend(patientID, points, now), nil
}

func since(now time.Time, lookbackDays int) time.Time {
	return now.AddDate(0, 0, -lookbackDays)
}
