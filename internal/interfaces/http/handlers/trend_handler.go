package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/RetinaGuard/internal/application/trend"
	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/pkg/errors"
)

// TrendHandler serves patient risk trends and clinic abnormal-trend scans.
type TrendHandler struct {
	analyzer trend.Analyzer
	scanner  trend.Scanner
}

func NewTrendHandler(analyzer trend.Analyzer, scanner trend.Scanner) *TrendHandler {
	return &TrendHandler{analyzer: analyzer, scanner: scanner}
}

func (h *TrendHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/patients/:patientId/risk-trend", h.PatientRiskTrend)
	r.GET("/clinics/:clinicId/abnormal-trends", h.AbnormalTrends)
}

func (h *TrendHandler) PatientRiskTrend(c *gin.Context) {
	lookback, err := intQuery(c, "lookbackDays", 0)
	if err != nil {
		respondError(c, err)
		return
	}
	patientID := c.Param("patientId")
	t, err := h.analyzer.GetPatientRiskTrend(c.Request.Context(), patientID, lookback)
	if err != nil {
		respondError(c, errors.Wrap(err, errors.ErrCodeTimeout, "request cancelled"))
		return
	}
	if t == nil {
		respondError(c, errors.New(errors.ErrCodePatientNotFound, "no completed analyses in the lookback window").WithDetail(patientID))
		return
	}
	respond(c, http.StatusOK, t)
}

func (h *TrendHandler) AbnormalTrends(c *gin.Context) {
	lookback, err := intQuery(c, "lookbackDays", 0)
	if err != nil {
		respondError(c, err)
		return
	}
	findings, err := h.scanner.DetectAbnormalTrends(c.Request.Context(), c.Param("clinicId"), lookback)
	if err != nil {
		respondError(c, errors.Wrap(err, errors.ErrCodeTimeout, "request cancelled"))
		return
	}
	if findings == nil {
		findings = []risk.AbnormalTrendFinding{}
	}
	respond(c, http.StatusOK, findings)
}
