package alerting

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/turtacn/RetinaGuard/internal/domain/alert"
	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/prometheus"
)

const (
	DefaultListLimit    = 50
	MaxListLimit        = 500
	DefaultRecentAlerts = 5
	MaxRecentAlerts     = 50
	DefaultSummaryTTL   = 2 * time.Minute

	summaryCacheName = "alert_summary"
	summaryKeyPrefix = "alert_summary:"
)

// SummaryCache is the subset of the Redis cache used for clinic summaries.
type SummaryCache interface {
	GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, loader func(ctx context.Context) (interface{}, error)) error
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

// QueryService serves the alert dashboards. Every read degrades to an empty
// result when the store fails so that dashboards stay up during outages.
type QueryService interface {
	GetClinicAlerts(ctx context.Context, clinicID string, unacknowledgedOnly bool, limit int) []alert.View
	GetDoctorAlerts(ctx context.Context, doctorID string, unacknowledgedOnly bool, limit int) []alert.View
	GetClinicAlertSummary(ctx context.Context, clinicID string, recent int) *alert.ClinicSummary

	// AcknowledgeAlert returns false when the alert is missing, was already
	// acknowledged, or the store failed.
	AcknowledgeAlert(ctx context.Context, alertID, userID string) bool

	GetHighRiskPatients(ctx context.Context, clinicID string, level *risk.RiskLevel) []alert.HighRiskPatient
}

// QueryConfig tunes caching.
type QueryConfig struct {
	SummaryTTL time.Duration
}

type QueryOption func(*queryServiceImpl)

func WithSummaryCache(c SummaryCache) QueryOption {
	return func(q *queryServiceImpl) { q.cache = c }
}

func WithQueryMetrics(m *prometheus.AppMetrics) QueryOption {
	return func(q *queryServiceImpl) { q.metrics = m }
}

func WithQueryClock(c risk.Clock) QueryOption {
	return func(q *queryServiceImpl) { q.clock = c }
}

type queryServiceImpl struct {
	store   alert.Store
	cache   SummaryCache
	clock   risk.Clock
	metrics *prometheus.AppMetrics
	logger  logging.Logger
	cfg     QueryConfig
}

func NewQueryService(store alert.Store, logger logging.Logger, cfg QueryConfig, opts ...QueryOption) QueryService {
	if cfg.SummaryTTL <= 0 {
		cfg.SummaryTTL = DefaultSummaryTTL
	}
	q := &queryServiceImpl{
		store:  store,
		clock:  risk.SystemClock{},
		logger: logger.Named("alert_query"),
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *queryServiceImpl) GetClinicAlerts(ctx context.Context, clinicID string, unacknowledgedOnly bool, limit int) []alert.View {
	views, err := q.store.ListForClinic(ctx, clinicID, alert.Filter{
		UnacknowledgedOnly: unacknowledgedOnly,
		Limit:              ClampLimit(limit),
	})
	if err != nil {
		q.logger.Error("failed to list clinic alerts", logging.String("clinic_id", clinicID), logging.Err(err))
		return []alert.View{}
	}
	return nonNilViews(views)
}

func (q *queryServiceImpl) GetDoctorAlerts(ctx context.Context, doctorID string, unacknowledgedOnly bool, limit int) []alert.View {
	views, err := q.store.ListForDoctor(ctx, doctorID, alert.Filter{
		UnacknowledgedOnly: unacknowledgedOnly,
		Limit:              ClampLimit(limit),
	})
	if err != nil {
		q.logger.Error("failed to list doctor alerts", logging.String("doctor_id", doctorID), logging.Err(err))
		return []alert.View{}
	}
	return nonNilViews(views)
}

func (q *queryServiceImpl) GetClinicAlertSummary(ctx context.Context, clinicID string, recent int) *alert.ClinicSummary {
	recent = clampRecent(recent)
	if q.cache == nil {
		return q.loadSummary(ctx, clinicID, recent)
	}

	var (
		out      alert.ClinicSummary
		loaded   bool
		storeErr error
	)
	gen := summaryGenerations.current(clinicID)
	err := q.cache.GetOrSet(ctx, summaryKey(clinicID, recent), &out, q.cfg.SummaryTTL,
		func(ctx context.Context) (interface{}, error) {
			loaded = true
			s, err := q.store.Summary(ctx, clinicID, recent)
			if err != nil {
				storeErr = err
				return nil, err
			}
			s = normalizeSummary(s, clinicID)
			if summaryGenerations.current(clinicID) != gen {
				return nil, &staleSummaryError{summary: s}
			}
			return s, nil
		})
	var stale *staleSummaryError
	switch {
	case err == nil:
		prometheus.RecordCacheAccess(q.metrics, summaryCacheName, !loaded)
		return normalizeSummary(&out, clinicID)
	case stderrors.As(err, &stale):
		q.logger.Debug("summary invalidated while loading, not cached", logging.String("clinic_id", clinicID))
		return stale.summary
	case storeErr != nil:
		q.logger.Error("failed to load clinic alert summary", logging.String("clinic_id", clinicID), logging.Err(storeErr))
		return alert.EmptySummary(clinicID)
	default:
		q.logger.Warn("summary cache unavailable, reading store", logging.String("clinic_id", clinicID), logging.Err(err))
		return q.loadSummary(ctx, clinicID, recent)
	}
}

func (q *queryServiceImpl) loadSummary(ctx context.Context, clinicID string, recent int) *alert.ClinicSummary {
	s, err := q.store.Summary(ctx, clinicID, recent)
	if err != nil {
		q.logger.Error("failed to load clinic alert summary", logging.String("clinic_id", clinicID), logging.Err(err))
		return alert.EmptySummary(clinicID)
	}
	return normalizeSummary(s, clinicID)
}

func (q *queryServiceImpl) AcknowledgeAlert(ctx context.Context, alertID, userID string) bool {
	if alertID == "" || userID == "" {
		return false
	}
	ok, err := q.store.Acknowledge(ctx, alertID, userID, q.clock.Now())
	if err != nil {
		q.logger.Error("failed to acknowledge alert", logging.String("alert_id", alertID), logging.Err(err))
		prometheus.RecordAcknowledgement(q.metrics, false)
		return false
	}
	prometheus.RecordAcknowledgement(q.metrics, ok)
	if !ok {
		q.logger.Info("alert not acknowledged: missing or already acknowledged", logging.String("alert_id", alertID))
		return false
	}
	// The alert's clinic is not known here, so every cached summary goes.
	invalidateSummary(ctx, q.cache, "", q.logger)
	q.logger.Info("alert acknowledged", logging.String("alert_id", alertID), logging.String("user_id", userID))
	return true
}

func (q *queryServiceImpl) GetHighRiskPatients(ctx context.Context, clinicID string, level *risk.RiskLevel) []alert.HighRiskPatient {
	if level != nil && !level.IsHighRisk() {
		return []alert.HighRiskPatient{}
	}
	patients, err := q.store.LatestPerPatient(ctx, clinicID, level)
	if err != nil {
		q.logger.Error("failed to list high-risk patients", logging.String("clinic_id", clinicID), logging.Err(err))
		return []alert.HighRiskPatient{}
	}
	if patients == nil {
		return []alert.HighRiskPatient{}
	}
	return patients
}

// ClampLimit applies the default and maximum list sizes.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func clampRecent(n int) int {
	if n <= 0 {
		return DefaultRecentAlerts
	}
	if n > MaxRecentAlerts {
		return MaxRecentAlerts
	}
	return n
}

func summaryKey(clinicID string, recent int) string {
	return fmt.Sprintf("%s%s:%d", summaryKeyPrefix, clinicID, recent)
}

// invalidateSummary drops the cached summaries of clinicID, or of every
// clinic when clinicID is empty.
func invalidateSummary(ctx context.Context, c SummaryCache, clinicID string, log logging.Logger) {
	if c == nil {
		return
	}
	summaryGenerations.bump(clinicID)
	prefix := summaryKeyPrefix
	if clinicID != "" {
		prefix += clinicID + ":"
	}
	if _, err := c.DeleteByPrefix(ctx, prefix); err != nil {
		log.Warn("failed to invalidate summary cache", logging.String("prefix", prefix), logging.Err(err))
	}
}

func normalizeSummary(s *alert.ClinicSummary, clinicID string) *alert.ClinicSummary {
	if s == nil {
		return alert.EmptySummary(clinicID)
	}
	if s.ClinicID == "" {
		s.ClinicID = clinicID
	}
	if s.RecentAlerts == nil {
		s.RecentAlerts = []alert.View{}
	}
	return s
}

func nonNilViews(v []alert.View) []alert.View {
	if v == nil {
		return []alert.View{}
	}
	return v
}

// staleSummaryError carries a summary that was read before an invalidation
// landed. It is returned to the caller but kept out of the cache.
type staleSummaryError struct {
	summary *alert.ClinicSummary
}

func (e *staleSummaryError) Error() string { return "summary invalidated while loading" }

// generations counts summary invalidations per clinic within this process.
// The empty clinic id counts invalidations that cover every clinic.
type generations struct {
	mu  sync.Mutex
	gen map[string]uint64
}

var summaryGenerations = &generations{gen: make(map[string]uint64)}

func (g *generations) bump(clinicID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen[clinicID]++
}

// current folds the clinic's own counter with the all-clinics counter.
func (g *generations) current(clinicID string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if clinicID == "" {
		return g.gen[""]
	}
	return g.gen[clinicID] + g.gen[""]
}
