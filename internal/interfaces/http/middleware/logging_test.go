package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RetinaGuard/internal/testutil"
)

func newLoggingEngine(log *testutil.MockLogger, cfg LoggingConfig) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), RequestLogging(log, cfg))
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	r.GET("/slow", func(c *gin.Context) {
		time.Sleep(20 * time.Millisecond)
		c.Status(http.StatusOK)
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func get(r http.Handler, path string) {
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
}

func TestRequestLogging_Levels(t *testing.T) {
	log := testutil.NewMockLogger()
	r := newLoggingEngine(log, DefaultLoggingConfig())

	get(r, "/ok?page=2")
	get(r, "/missing")
	get(r, "/boom")

	assert.True(t, log.HasMessage("info", "HTTP request completed"))
	assert.True(t, log.HasMessage("warn", "HTTP request completed with client error"))
	assert.True(t, log.HasMessage("error", "HTTP request completed with server error"))

	msgs := log.Messages()
	require.Len(t, msgs, 3)
	fields := map[string]interface{}{}
	for _, f := range msgs[0].Fields {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, "/ok?page=2", fields["path"])
	assert.Equal(t, 200, fields["status"])
	assert.NotEmpty(t, fields["request_id"])
}

func TestRequestLogging_SkipsProbes(t *testing.T) {
	log := testutil.NewMockLogger()
	get(newLoggingEngine(log, DefaultLoggingConfig()), "/healthz")
	assert.Empty(t, log.Messages())
}

func TestRequestLogging_Slow(t *testing.T) {
	log := testutil.NewMockLogger()
	get(newLoggingEngine(log, LoggingConfig{SlowThreshold: 5 * time.Millisecond}), "/slow")
	assert.True(t, log.HasMessage("warn", "HTTP request completed (slow)"))
}
