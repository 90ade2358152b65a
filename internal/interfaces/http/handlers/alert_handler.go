package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/RetinaGuard/internal/application/alerting"
	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RetinaGuard/internal/interfaces/http/middleware"
	"github.com/turtacn/RetinaGuard/pkg/errors"
)

// AlertHandler serves alert lists, summaries and acknowledgements, and
// accepts on-demand evaluation of a finished analysis.
type AlertHandler struct {
	queries   alerting.QueryService
	evaluator alerting.Evaluator
	logger    logging.Logger
}

func NewAlertHandler(queries alerting.QueryService, evaluator alerting.Evaluator, logger logging.Logger) *AlertHandler {
	return &AlertHandler{queries: queries, evaluator: evaluator, logger: logger}
}

func (h *AlertHandler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/analyses/:analysisId/evaluate", h.Evaluate)
	r.GET("/clinics/:clinicId/alerts", h.ClinicAlerts)
	r.GET("/clinics/:clinicId/alerts/summary", h.ClinicSummary)
	r.GET("/clinics/:clinicId/high-risk-patients", h.HighRiskPatients)
	r.GET("/doctors/:doctorId/alerts", h.DoctorAlerts)
	r.POST("/alerts/:alertId/acknowledge", h.Acknowledge)
}

type EvaluateRequest struct {
	PatientID string  `json:"patientId"`
	ClinicID  *string `json:"clinicId,omitempty"`
}

type EvaluateResponse struct {
	Created bool `json:"created"`
}

type AcknowledgeResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

func (h *AlertHandler) Evaluate(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.InvalidParam("invalid request body").WithCause(err))
		return
	}
	if strings.TrimSpace(req.PatientID) == "" {
		respondError(c, errors.InvalidParam("patientId is required"))
		return
	}
	if req.ClinicID != nil && strings.TrimSpace(*req.ClinicID) == "" {
		req.ClinicID = nil
	}

	created, err := h.evaluator.CheckAndGenerateAlert(c.Request.Context(), c.Param("analysisId"), req.PatientID, req.ClinicID)
	if err != nil {
		h.logger.Error("alert evaluation failed",
			logging.String("analysis_id", c.Param("analysisId")),
			logging.String("request_id", middleware.RequestIDFrom(c)),
			logging.Err(err))
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, EvaluateResponse{Created: created})
}

func (h *AlertHandler) ClinicAlerts(c *gin.Context) {
	unack, limit, err := listParams(c)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, h.queries.GetClinicAlerts(c.Request.Context(), c.Param("clinicId"), unack, limit))
}

func (h *AlertHandler) DoctorAlerts(c *gin.Context) {
	unack, limit, err := listParams(c)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, h.queries.GetDoctorAlerts(c.Request.Context(), c.Param("doctorId"), unack, limit))
}

func (h *AlertHandler) ClinicSummary(c *gin.Context) {
	recent, err := intQuery(c, "recent", 0)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, h.queries.GetClinicAlertSummary(c.Request.Context(), c.Param("clinicId"), recent))
}

func (h *AlertHandler) HighRiskPatients(c *gin.Context) {
	var level *risk.RiskLevel
	if v := c.Query("level"); v != "" {
		l, err := risk.ParseRiskLevel(v)
		if err != nil {
			respondError(c, err)
			return
		}
		level = &l
	}
	respond(c, http.StatusOK, h.queries.GetHighRiskPatients(c.Request.Context(), c.Param("clinicId"), level))
}

// Acknowledge records the authenticated user as the acknowledger.
func (h *AlertHandler) Acknowledge(c *gin.Context) {
	user := middleware.UserIDFrom(c)
	if user == "" {
		respondError(c, errors.Unauthorized("authentication required"))
		return
	}
	ok := h.queries.AcknowledgeAlert(c.Request.Context(), c.Param("alertId"), user)
	respond(c, http.StatusOK, AcknowledgeResponse{Acknowledged: ok})
}

func listParams(c *gin.Context) (bool, int, error) {
	unack, err := boolQuery(c, "unacknowledged")
	if err != nil {
		return false, 0, err
	}
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		return false, 0, err
	}
	return unack, alerting.ClampLimit(limit), nil
}
