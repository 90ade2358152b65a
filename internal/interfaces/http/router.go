package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/RetinaGuard/internal/interfaces/http/handlers"
	"github.com/turtacn/RetinaGuard/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the handlers and middleware dependencies of the
// route tree. Nil handlers are not mounted.
type RouterConfig struct {
	AlertHandler  *handlers.AlertHandler
	TrendHandler  *handlers.TrendHandler
	HealthHandler *handlers.HealthHandler

	// Validator checks bearer tokens when AuthEnabled is set.
	Validator   middleware.TokenValidator
	AuthEnabled bool

	AllowedOrigins []string
	Logging        middleware.LoggingConfig
	// RateLimiter throttles /api/v1 when non-nil and enabled.
	RateLimiter *middleware.RateLimiter

	Logger  logging.Logger
	Metrics *prometheus.AppMetrics
	// MetricsHandler serves MetricsPath (default /metrics) when set.
	MetricsHandler http.Handler
	MetricsPath    string
}

// NewRouter builds the gin engine: global middleware, unauthenticated probes
// and metrics, and the authenticated /api/v1 group.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(cfg.Logger))
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.AllowedOrigins)))
	}
	r.Use(middleware.RequestLogging(cfg.Logger, cfg.Logging))
	r.Use(middleware.Metrics(cfg.Metrics))

	if cfg.HealthHandler != nil {
		cfg.HealthHandler.RegisterRoutes(r)
	}
	if cfg.MetricsHandler != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(cfg.MetricsHandler))
	}

	api := r.Group("/api/v1",
		middleware.Auth(cfg.Validator, cfg.AuthEnabled, cfg.Logger),
		middleware.RateLimit(cfg.RateLimiter))
	if cfg.AlertHandler != nil {
		cfg.AlertHandler.RegisterRoutes(api)
	}
	if cfg.TrendHandler != nil {
		cfg.TrendHandler.RegisterRoutes(api)
	}
	return r
}
