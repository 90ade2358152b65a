package trend

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/prometheus"
)

// Scanner finds patients of a clinic whose recent analyses form an abnormal
// trajectory.
type Scanner interface {
	// DetectAbnormalTrends returns at most one finding per patient, newest
	// detection first. A failed read yields an empty result and nil error;
	// the error is non-nil only when ctx is done.
	DetectAbnormalTrends(ctx context.Context, clinicID string, lookbackDays int) ([]risk.AbnormalTrendFinding, error)
}

// ScannerConfig bounds the per-scan parallelism.
type ScannerConfig struct {
	Concurrency int
}

type ScannerOption func(*scannerImpl)

func WithScannerClock(c risk.Clock) ScannerOption {
	return func(s *scannerImpl) { s.clock = c }
}

func WithScannerMetrics(m *prometheus.AppMetrics) ScannerOption {
	return func(s *scannerImpl) { s.metrics = m }
}

type scannerImpl struct {
	snapshots risk.SnapshotProvider
	analyzer  Analyzer
	clock     risk.Clock
	metrics   *prometheus.AppMetrics
	logger    logging.Logger
	cfg       ScannerConfig
}

func NewScanner(snapshots risk.SnapshotProvider, analyzer Analyzer, logger logging.Logger, cfg ScannerConfig, opts ...ScannerOption) Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultScanConcurrency
	}
	s := &scannerImpl{
		snapshots: snapshots,
		analyzer:  analyzer,
		clock:     risk.SystemClock{},
		logger:    logger.Named("trend_scanner"),
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *scannerImpl) DetectAbnormalTrends(ctx context.Context, clinicID string, lookbackDays int) ([]risk.AbnormalTrendFinding, error) {
	if lookbackDays <= 0 {
		lookbackDays = DefaultScanLookbackDays
	}
	start := time.Now()
	// One instant per scan: every finding shares it, so the patient id
	// decides the order.
	now := s.clock.Now()
	log := s.logger.With(logging.String("clinic_id", clinicID), logging.Int("lookback_days", lookbackDays))

	patients, err := s.eligiblePatients(ctx, clinicID, lookbackDays, now)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			prometheus.RecordTrendScan(s.metrics, ctxErr, time.Since(start), nil)
			return nil, ctxErr
		}
		log.Error("failed to read clinic analyses", logging.Err(err))
		prometheus.RecordTrendScan(s.metrics, err, time.Since(start), nil)
		return []risk.AbnormalTrendFinding{}, nil
	}

	var (
		mu       sync.Mutex
		findings = make([]risk.AbnormalTrendFinding, 0)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, pid := range patients {
		pid := pid
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, ok, err := s.scanPatient(gctx, pid, lookbackDays, now)
			if err != nil || !ok {
				return err
			}
			mu.Lock()
			findings = append(findings, f)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn("clinic scan interrupted", logging.Err(err))
		prometheus.RecordTrendScan(s.metrics, err, time.Since(start), nil)
		return nil, err
	}

	SortFindings(findings)

	types := make([]string, len(findings))
	for i, f := range findings {
		types[i] = string(f.TrendType)
	}
	prometheus.RecordTrendScan(s.metrics, nil, time.Since(start), types)
	log.Info("clinic scan complete",
		logging.Int("patients", len(patients)),
		logging.Int("findings", len(findings)),
		logging.Duration("elapsed", time.Since(start)))
	return findings, nil
}

// eligiblePatients lists patients with at least two completed analyses in
// the window, in a stable order.
func (s *scannerImpl) eligiblePatients(ctx context.Context, clinicID string, lookbackDays int, now time.Time) ([]string, error) {
	snaps, err := s.snapshots.GetCompletedAnalysesForClinic(ctx, clinicID, since(now, lookbackDays), now)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, snap := range snaps {
		counts[snap.PatientID]++
	}
	out := make([]string, 0, len(counts))
	for pid, n := range counts {
		if n >= 2 {
			out = append(out, pid)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *scannerImpl) scanPatient(ctx context.Context, patientID string, lookbackDays int, detectedAt time.Time) (risk.AbnormalTrendFinding, bool, error) {
	t, err := s.analyzer.GetPatientRiskTrend(ctx, patientID, lookbackDays)
	if err != nil {
		return risk.AbnormalTrendFinding{}, false, err
	}
	if t == nil || len(t.Points) < 2 {
		return risk.AbnormalTrendFinding{}, false, nil
	}
	tt, ok := risk.ClassifyAbnormal(t.Points)
	if !ok {
		return risk.AbnormalTrendFinding{}, false, nil
	}
	return risk.NewFinding(t, tt, detectedAt), true, nil
}

// SortFindings orders by detection time descending, then patient id.
func SortFindings(fs []risk.AbnormalTrendFinding) {
	sort.SliceStable(fs, func(i, j int) bool {
		if !fs[i].DetectedAt.Equal(fs[j].DetectedAt) {
			return fs[i].DetectedAt.After(fs[j].DetectedAt)
		}
		return fs[i].PatientID < fs[j].PatientID
	})
}
