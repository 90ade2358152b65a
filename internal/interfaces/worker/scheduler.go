package worker

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/turtacn/RetinaGuard/internal/application/trend"
	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/database/redis"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/storage/minio"
	"github.com/turtacn/RetinaGuard/pkg/errors"
)

// FindingsPublisher is satisfied by kafka.FindingsPublisher.
type FindingsPublisher interface {
	PublishFindings(ctx context.Context, clinicID string, findings []risk.AbnormalTrendFinding) (int, error)
}

// ReportArchive is satisfied by minio.ScanArchive.
type ReportArchive interface {
	Archive(ctx context.Context, report *minio.ScanReport) (*minio.ArchivedReport, error)
}

// SchedulerConfig configures the periodic clinic scans.
type SchedulerConfig struct {
	Schedule     string
	Clinics      []string
	LookbackDays int
	LockTTL      time.Duration
}

// ScanResult describes one clinic scan.
type ScanResult struct {
	ClinicID   string
	Skipped    bool
	Findings   int
	Published  int
	ArchiveKey string
	Err        error
}

// ScanScheduler scans the configured clinics on a cron schedule. Each clinic
// scan holds the Redis mutex "trend-scan:<clinic>", so replicas sharing a
// schedule scan a clinic once per tick.
type ScanScheduler struct {
	cron      *cron.Cron
	scanner   trend.Scanner
	locks     redis.LockFactory
	publisher FindingsPublisher
	archive   ReportArchive
	clock     risk.Clock
	cfg       SchedulerConfig
	logger    logging.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

type SchedulerOption func(*ScanScheduler)

// WithLocks enables per-clinic distributed locking.
func WithLocks(f redis.LockFactory) SchedulerOption {
	return func(s *ScanScheduler) { s.locks = f }
}

func WithFindingsPublisher(p FindingsPublisher) SchedulerOption {
	return func(s *ScanScheduler) { s.publisher = p }
}

func WithReportArchive(a ReportArchive) SchedulerOption {
	return func(s *ScanScheduler) { s.archive = a }
}

func WithSchedulerClock(c risk.Clock) SchedulerOption {
	return func(s *ScanScheduler) { s.clock = c }
}

func NewScanScheduler(scanner trend.Scanner, cfg SchedulerConfig, logger logging.Logger, opts ...SchedulerOption) (*ScanScheduler, error) {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	s := &ScanScheduler{
		scanner: scanner,
		clock:   risk.SystemClock{},
		cfg:     cfg,
		logger:  logger.Named("scan_scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if cfg.Schedule != "" {
		if _, err := s.cron.AddFunc(cfg.Schedule, s.tick); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeValidation, "invalid scan schedule").WithDetail(cfg.Schedule)
		}
	}
	return s, nil
}

// Start begins firing the schedule. Jobs run with a context derived from ctx.
func (s *ScanScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scan scheduler started",
		logging.String("schedule", s.cfg.Schedule),
		logging.Strings("clinics", s.cfg.Clinics))
}

// Stop cancels running scans and waits for them until ctx expires.
func (s *ScanScheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("scan scheduler stop timed out")
	}
}

func (s *ScanScheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	s.RunOnce(ctx)
}

// RunOnce scans every configured clinic in order.
func (s *ScanScheduler) RunOnce(ctx context.Context) []ScanResult {
	results := make([]ScanResult, 0, len(s.cfg.Clinics))
	for _, clinicID := range s.cfg.Clinics {
		if ctx.Err() != nil {
			break
		}
		results = append(results, s.ScanClinic(ctx, clinicID))
	}
	return results
}

// ScanClinic scans one clinic, then publishes and archives the findings.
// A clinic already being scanned elsewhere is skipped.
func (s *ScanScheduler) ScanClinic(ctx context.Context, clinicID string) ScanResult {
	res := ScanResult{ClinicID: clinicID}
	log := s.logger.With(logging.String("clinic_id", clinicID))

	if s.locks != nil {
		lock := s.locks.NewMutex("trend-scan:"+clinicID, redis.WithLockTTL(s.cfg.LockTTL), redis.WithWatchdog(true))
		ok, err := lock.TryLock(ctx)
		if err != nil {
			log.Error("failed to acquire scan lock", logging.Err(err))
			res.Err = err
			return res
		}
		if !ok {
			log.Info("clinic scan already running elsewhere")
			res.Skipped = true
			return res
		}
		defer func() {
			uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Unlock(uctx); err != nil {
				log.Warn("failed to release scan lock", logging.Err(err))
			}
		}()
	}

	findings, err := s.scanner.DetectAbnormalTrends(ctx, clinicID, s.cfg.LookbackDays)
	if err != nil {
		log.Error("clinic scan failed", logging.Err(err))
		res.Err = errors.Wrap(err, errors.ErrCodeTrendScanFailed, "clinic scan failed").WithDetail(clinicID)
		return res
	}
	res.Findings = len(findings)

	if s.publisher != nil && len(findings) > 0 {
		n, err := s.publisher.PublishFindings(ctx, clinicID, findings)
		res.Published = n
		if err != nil {
			log.Error("failed to publish findings", logging.Int("published", n), logging.Err(err))
			res.Err = err
		}
	}

	if s.archive != nil {
		archived, err := s.archive.Archive(ctx, &minio.ScanReport{
			ClinicID:     clinicID,
			LookbackDays: s.cfg.LookbackDays,
			GeneratedAt:  s.clock.Now(),
			Findings:     findings,
		})
		if err != nil {
			log.Error("failed to archive scan report", logging.Err(err))
			if res.Err == nil {
				res.Err = err
			}
		} else {
			res.ArchiveKey = archived.Key
		}
	}

	log.Info("clinic scan finished",
		logging.Int("findings", res.Findings),
		logging.Int("published", res.Published))
	return res
}

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct{ l logging.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(kvFields(keysAndValues), logging.Err(err))...)
}

func kvFields(kv []interface{}) []logging.Field {
	fields := make([]logging.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, logging.Any(key, kv[i+1]))
	}
	return fields
}
