// Package alerting decides when a completed analysis warrants a high-risk
// alert, persists it once per analysis, notifies clinical staff and serves the
// alert dashboards.
package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/RetinaGuard/internal/domain/alert"
	"github.com/turtacn/RetinaGuard/internal/domain/notification"
	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/RetinaGuard/pkg/errors"
)

// Evaluator raises high-risk alerts.
type Evaluator interface {
	// CheckAndGenerateAlert returns true only when a new alert was persisted.
	// Missing analyses, non-qualifying risk, duplicates and read failures all
	// yield (false, nil). The only error returned is a persist failure, which
	// satisfies errors.IsAlertPersistFailure.
	CheckAndGenerateAlert(ctx context.Context, analysisID, patientID string, clinicID *string) (bool, error)
}

// Notification channel names used in logs and metrics.
const (
	ChannelClinic = "clinic"
	ChannelDoctor = "doctor"
)

// EvaluatorConfig tunes the evaluator.
type EvaluatorConfig struct {
	// NotifyTimeout bounds each notification delivery. Zero means the
	// caller's context alone applies.
	NotifyTimeout time.Duration
}

type EvaluatorOption func(*evaluatorImpl)

func WithClock(c risk.Clock) EvaluatorOption {
	return func(e *evaluatorImpl) { e.clock = c }
}

func WithIDGenerator(gen func() string) EvaluatorOption {
	return func(e *evaluatorImpl) { e.newID = gen }
}

func WithEvaluatorMetrics(m *prometheus.AppMetrics) EvaluatorOption {
	return func(e *evaluatorImpl) { e.metrics = m }
}

// WithSummaryInvalidation drops the cached clinic summary after a new alert.
func WithSummaryInvalidation(c SummaryCache) EvaluatorOption {
	return func(e *evaluatorImpl) { e.cache = c }
}

type evaluatorImpl struct {
	snapshots risk.SnapshotProvider
	store     alert.Store
	sink      notification.Sink
	cache     SummaryCache
	clock     risk.Clock
	newID     func() string
	metrics   *prometheus.AppMetrics
	logger    logging.Logger
	cfg       EvaluatorConfig
}

// NewEvaluator wires an Evaluator. sink may be nil, in which case alerts are
// persisted without notifications.
func NewEvaluator(
	snapshots risk.SnapshotProvider,
	store alert.Store,
	sink notification.Sink,
	logger logging.Logger,
	cfg EvaluatorConfig,
	opts ...EvaluatorOption,
) Evaluator {
	e := &evaluatorImpl{
		snapshots: snapshots,
		store:     store,
		sink:      sink,
		clock:     risk.SystemClock{},
		newID:     func() string { return uuid.New().String() },
		logger:    logger.Named("alert_evaluator"),
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *evaluatorImpl) CheckAndGenerateAlert(ctx context.Context, analysisID, patientID string, clinicID *string) (bool, error) {
	log := e.logger.With(logging.String("analysis_id", analysisID), logging.String("patient_id", patientID))

	snap, err := e.snapshots.GetAnalysisSnapshot(ctx, analysisID)
	if err != nil {
		if errors.IsNotFound(err) {
			log.Info("analysis not found, nothing to alert on")
			prometheus.RecordAlertEvaluation(e.metrics, prometheus.OutcomeNotFound)
			return false, nil
		}
		log.Error("failed to read analysis snapshot", logging.Err(err))
		prometheus.RecordAlertEvaluation(e.metrics, prometheus.OutcomeReadError)
		return false, nil
	}
	if snap == nil {
		prometheus.RecordAlertEvaluation(e.metrics, prometheus.OutcomeNotFound)
		return false, nil
	}
	if snap.PatientID == "" {
		snap.PatientID = patientID
	} else if patientID != "" && snap.PatientID != patientID {
		log.Warn("caller patient id differs from analysis, using analysis", logging.String("analysis_patient_id", snap.PatientID))
	}

	if !snap.OverallRiskLevel.IsHighRisk() {
		log.Debug("risk below alert threshold", logging.String("risk_level", snap.OverallRiskLevel.String()))
		prometheus.RecordAlertEvaluation(e.metrics, prometheus.OutcomeNotHighRisk)
		return false, nil
	}

	exists, err := e.store.Exists(ctx, analysisID)
	if err != nil {
		log.Error("failed to check for existing alert", logging.Err(err))
		prometheus.RecordAlertEvaluation(e.metrics, prometheus.OutcomeReadError)
		return false, nil
	}
	if exists {
		log.Debug("alert already raised for analysis")
		prometheus.RecordAlertEvaluation(e.metrics, prometheus.OutcomeDuplicate)
		return false, nil
	}

	a := alert.NewAlert(e.newID(), snap, clinicID, e.clock.Now())
	id, err := e.store.Create(ctx, a)
	if err != nil {
		if errors.IsConflict(err) {
			// Another evaluation of the same analysis won the insert.
			log.Info("concurrent alert creation lost the race")
			prometheus.RecordAlertEvaluation(e.metrics, prometheus.OutcomeDuplicate)
			return false, nil
		}
		log.Error("failed to persist high-risk alert", logging.Err(err),
			logging.String("risk_level", snap.OverallRiskLevel.String()))
		prometheus.RecordAlertEvaluation(e.metrics, prometheus.OutcomePersistError)
		return false, errors.Wrap(err, errors.ErrCodeAlertPersistFailed, "failed to persist high-risk alert").
			WithDetail("analysis " + analysisID)
	}
	if id != "" {
		a.ID = id
	}
	prometheus.RecordAlertEvaluation(e.metrics, prometheus.OutcomeCreated)
	log.Info("high-risk alert created", logging.String("alert_id", a.ID),
		logging.String("risk_level", a.Risk.OverallRiskLevel.String()),
		logging.String("clinic_id", risk.Deref(a.ClinicID)))

	if a.ClinicID != nil {
		invalidateSummary(ctx, e.cache, *a.ClinicID, e.logger)
	}
	e.fanOut(ctx, a)
	return true, nil
}

// fanOut notifies the clinic and the doctor concurrently. Failures are logged
// and never affect the persisted alert.
func (e *evaluatorImpl) fanOut(ctx context.Context, a *alert.Alert) {
	if e.sink == nil {
		return
	}

	type delivery struct {
		channel string
		target  notification.Target
	}
	var deliveries []delivery
	if a.ClinicID != nil && *a.ClinicID != "" {
		deliveries = append(deliveries, delivery{ChannelClinic, notification.ClinicTarget(*a.ClinicID)})
	}
	if a.DoctorID != nil && *a.DoctorID != "" {
		deliveries = append(deliveries, delivery{ChannelDoctor, notification.UserTarget(*a.DoctorID)})
	}

	var wg sync.WaitGroup
	for _, d := range deliveries {
		wg.Add(1)
		go func(d delivery) {
			defer wg.Done()
			nctx := ctx
			if e.cfg.NotifyTimeout > 0 {
				var cancel context.CancelFunc
				nctx, cancel = context.WithTimeout(ctx, e.cfg.NotifyTimeout)
				defer cancel()
			}
			err := e.sink.Notify(nctx, notification.ForAlert(a, d.target))
			prometheus.RecordNotification(e.metrics, d.channel, err)
			if err != nil {
				e.logger.Warn("high-risk notification failed",
					logging.String("alert_id", a.ID),
					logging.String("channel", d.channel),
					logging.String("target", d.target.String()),
					logging.Err(err))
			}
		}(d)
	}
	wg.Wait()
}
