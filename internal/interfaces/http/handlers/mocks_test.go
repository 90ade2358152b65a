package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RetinaGuard/internal/domain/alert"
	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/internal/interfaces/http/middleware"
	"github.com/turtacn/RetinaGuard/pkg/types/common"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockQueryService struct{ mock.Mock }

func (m *MockQueryService) GetClinicAlerts(ctx context.Context, clinicID string, unack bool, limit int) []alert.View {
	return m.Called(ctx, clinicID, unack, limit).Get(0).([]alert.View)
}

func (m *MockQueryService) GetDoctorAlerts(ctx context.Context, doctorID string, unack bool, limit int) []alert.View {
	return m.Called(ctx, doctorID, unack, limit).Get(0).([]alert.View)
}

func (m *MockQueryService) GetClinicAlertSummary(ctx context.Context, clinicID string, recent int) *alert.ClinicSummary {
	return m.Called(ctx, clinicID, recent).Get(0).(*alert.ClinicSummary)
}

func (m *MockQueryService) AcknowledgeAlert(ctx context.Context, alertID, userID string) bool {
	return m.Called(ctx, alertID, userID).Bool(0)
}

func (m *MockQueryService) GetHighRiskPatients(ctx context.Context, clinicID string, level *risk.RiskLevel) []alert.HighRiskPatient {
	return m.Called(ctx, clinicID, level).Get(0).([]alert.HighRiskPatient)
}

type MockEvaluator struct{ mock.Mock }

func (m *MockEvaluator) CheckAndGenerateAlert(ctx context.Context, analysisID, patientID string, clinicID *string) (bool, error) {
	args := m.Called(ctx, analysisID, patientID, clinicID)
	return args.Bool(0), args.Error(1)
}

type MockAnalyzer struct{ mock.Mock }

func (m *MockAnalyzer) GetPatientRiskTrend(ctx context.Context, patientID string, lookbackDays int) (*risk.PatientRiskTrend, error) {
	args := m.Called(ctx, patientID, lookbackDays)
	t, _ := args.Get(0).(*risk.PatientRiskTrend)
	return t, args.Error(1)
}

type MockScanner struct{ mock.Mock }

func (m *MockScanner) DetectAbnormalTrends(ctx context.Context, clinicID string, lookbackDays int) ([]risk.AbnormalTrendFinding, error) {
	args := m.Called(ctx, clinicID, lookbackDays)
	f, _ := args.Get(0).([]risk.AbnormalTrendFinding)
	return f, args.Error(1)
}

// newEngine mounts routes behind RequestID and a disabled Auth so that
// X-User-ID names the caller.
func newEngine(register func(gin.IRoutes)) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Auth(nil, false, nil))
	register(r.Group("/api/v1"))
	return r
}

func perform(r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) common.APIResponse[T] {
	t.Helper()
	var resp common.APIResponse[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}
