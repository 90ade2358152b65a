// Package worker holds the background jobs of the worker process: the
// analysis-completed event handler and the scheduled clinic scans.
package worker

import (
	"context"
	"strings"
	"time"

	"github.com/turtacn/RetinaGuard/internal/application/alerting"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RetinaGuard/pkg/errors"
	"github.com/turtacn/RetinaGuard/pkg/types/common"
)

const defaultHandlerTimeout = 30 * time.Second

// AnalysisEventHandler runs the alert evaluator for every analysis.completed
// event. Only persist failures are returned, so the consumer retries them
// and finally dead-letters the message; everything else is committed.
type AnalysisEventHandler struct {
	evaluator alerting.Evaluator
	timeout   time.Duration
	logger    logging.Logger
}

func NewAnalysisEventHandler(evaluator alerting.Evaluator, timeout time.Duration, logger logging.Logger) *AnalysisEventHandler {
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	return &AnalysisEventHandler{evaluator: evaluator, timeout: timeout, logger: logger.Named("analysis_handler")}
}

func (h *AnalysisEventHandler) Topic() string { return kafka.TopicAnalysisCompleted }

func (h *AnalysisEventHandler) Handle(ctx context.Context, msg *common.Message) error {
	payload, err := decodeAnalysisCompleted(msg)
	if err != nil {
		h.logger.Warn("dropping malformed analysis event",
			logging.Int64("offset", msg.Offset),
			logging.Err(err))
		return nil
	}

	log := h.logger.With(
		logging.String("analysis_id", payload.AnalysisID),
		logging.String("patient_id", payload.PatientID))

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	created, err := h.evaluator.CheckAndGenerateAlert(ctx, payload.AnalysisID, payload.PatientID, payload.ClinicID)
	if err != nil {
		log.Error("alert evaluation failed", logging.Err(err))
		return err
	}
	if created {
		log.Info("high-risk alert raised")
	}
	return nil
}

func decodeAnalysisCompleted(msg *common.Message) (*kafka.AnalysisCompletedPayload, error) {
	env, err := kafka.MessageToEventEnvelope(msg)
	if err != nil {
		return nil, err
	}
	if env.EventType != "" && env.EventType != kafka.EventAnalysisCompleted {
		return nil, errors.New(errors.ErrCodeValidation, "unexpected event type").WithDetail(env.EventType)
	}
	var p kafka.AnalysisCompletedPayload
	if err := env.DecodePayload(&p); err != nil {
		return nil, err
	}
	p.AnalysisID = strings.TrimSpace(p.AnalysisID)
	p.PatientID = strings.TrimSpace(p.PatientID)
	if p.AnalysisID == "" || p.PatientID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "analysisId and patientId are required")
	}
	if p.ClinicID != nil && strings.TrimSpace(*p.ClinicID) == "" {
		p.ClinicID = nil
	}
	return &p, nil
}
