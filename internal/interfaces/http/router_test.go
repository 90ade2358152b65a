package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RetinaGuard/internal/config"
	"github.com/turtacn/RetinaGuard/internal/domain/alert"
	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/RetinaGuard/internal/interfaces/http/handlers"
	"github.com/turtacn/RetinaGuard/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubQueries struct{ ackBy string }

func (s *stubQueries) GetClinicAlerts(context.Context, string, bool, int) []alert.View {
	return []alert.View{}
}
func (s *stubQueries) GetDoctorAlerts(context.Context, string, bool, int) []alert.View {
	return []alert.View{}
}
func (s *stubQueries) GetClinicAlertSummary(_ context.Context, clinicID string, _ int) *alert.ClinicSummary {
	return alert.EmptySummary(clinicID)
}
func (s *stubQueries) AcknowledgeAlert(_ context.Context, _ string, userID string) bool {
	s.ackBy = userID
	return true
}
func (s *stubQueries) GetHighRiskPatients(context.Context, string, *risk.RiskLevel) []alert.HighRiskPatient {
	return []alert.HighRiskPatient{}
}

type stubEvaluator struct{}

func (stubEvaluator) CheckAndGenerateAlert(context.Context, string, string, *string) (bool, error) {
	return true, nil
}

type stubAnalyzer struct{}

func (stubAnalyzer) GetPatientRiskTrend(context.Context, string, int) (*risk.PatientRiskTrend, error) {
	return nil, nil
}

type stubScanner struct{}

func (stubScanner) DetectAbnormalTrends(context.Context, string, int) ([]risk.AbnormalTrendFinding, error) {
	return nil, nil
}

var routerAuth = config.AuthConfig{Enabled: true, JWTSecret: "router-secret"}

func newTestRouter(t *testing.T, q *stubQueries) (*gin.Engine, *prometheus.AppMetrics) {
	t.Helper()
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "router"}, logging.NewNopLogger())
	require.NoError(t, err)
	m := prometheus.NewAppMetrics(collector)
	log := logging.NewNopLogger()

	return NewRouter(RouterConfig{
		AlertHandler:   handlers.NewAlertHandler(q, stubEvaluator{}, log),
		TrendHandler:   handlers.NewTrendHandler(stubAnalyzer{}, stubScanner{}),
		HealthHandler:  handlers.NewHealthHandler("test"),
		Validator:      middleware.NewJWTValidator(routerAuth),
		AuthEnabled:    true,
		AllowedOrigins: []string{"https://portal.example.com"},
		Logging:        middleware.DefaultLoggingConfig(),
		Logger:         log,
		Metrics:        m,
		MetricsHandler: collector.Handler(),
	}), m
}

func serve(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_ProbesAreOpen(t *testing.T) {
	r, _ := newTestRouter(t, &stubQueries{})
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/readyz", "").Code)
}

func TestRouter_APIRequiresAuth(t *testing.T) {
	r, _ := newTestRouter(t, &stubQueries{})
	for _, path := range []string{
		"/api/v1/clinics/c-1/alerts",
		"/api/v1/clinics/c-1/alerts/summary",
		"/api/v1/clinics/c-1/high-risk-patients",
		"/api/v1/clinics/c-1/abnormal-trends",
		"/api/v1/doctors/d-1/alerts",
		"/api/v1/patients/p-1/risk-trend",
	} {
		assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, path, "").Code, path)
	}
}

func TestRouter_AuthenticatedRoutes(t *testing.T) {
	q := &stubQueries{}
	r, _ := newTestRouter(t, q)
	token, err := middleware.IssueToken(routerAuth, "doctor-7", time.Minute)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/v1/clinics/c-1/alerts", token).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/v1/clinics/c-1/alerts/summary", token).Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/v1/patients/p-1/risk-trend", token).Code)

	w := serve(r, http.MethodPost, "/api/v1/alerts/a-1/acknowledge", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "doctor-7", q.ackBy)

	assert.Equal(t, http.StatusMethodNotAllowed, serve(r, http.MethodDelete, "/api/v1/clinics/c-1/alerts", token).Code)
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, &stubQueries{})
	serve(r, http.MethodGet, "/healthz", "")

	w := serve(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `router_http_requests_total{method="GET",path="/healthz",status_code="200"} 1`)
}

func TestRouter_RequestIDHeader(t *testing.T) {
	r, _ := newTestRouter(t, &stubQueries{})
	w := serve(r, http.MethodGet, "/healthz", "")
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
}

func TestRouter_NilHandlers(t *testing.T) {
	r := NewRouter(RouterConfig{Logger: logging.NewNopLogger()})
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/healthz", "").Code)
}

func TestRouter_RateLimitedAPI(t *testing.T) {
	limiter := middleware.NewRateLimiter(config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})
	r := NewRouter(RouterConfig{
		AlertHandler: handlers.NewAlertHandler(&stubQueries{}, stubEvaluator{}, logging.NewNopLogger()),
		RateLimiter:  limiter,
		Logger:       logging.NewNopLogger(),
	})
	get := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/clinics/c-1/alerts", nil)
		req.Header.Set(middleware.HeaderUserID, "doctor-7")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, get().Code)
	w := get()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRetryAfter))
}

func TestRouter_CustomMetricsPath(t *testing.T) {
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "custom"}, logging.NewNopLogger())
	require.NoError(t, err)
	r := NewRouter(RouterConfig{
		Logger:         logging.NewNopLogger(),
		MetricsHandler: collector.Handler(),
		MetricsPath:    "/internal/metrics",
	})
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/internal/metrics", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/metrics", "").Code)
}
