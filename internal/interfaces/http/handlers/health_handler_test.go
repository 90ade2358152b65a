package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RetinaGuard/pkg/types/common"
)

func newHealthEngine(checkers ...HealthChecker) *gin.Engine {
	r := gin.New()
	NewHealthHandler("1.2.3", checkers...).RegisterRoutes(r)
	return r
}

func ok(name string) HealthChecker {
	return CheckFunc{Component: name, Fn: func(context.Context) error { return nil }}
}

func TestLiveness(t *testing.T) {
	w := perform(newHealthEngine(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp LivenessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "alive", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
}

func TestReadiness_AllUp(t *testing.T) {
	w := perform(newHealthEngine(ok("postgres"), ok("redis")), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, common.HealthUp, resp.Components["postgres"].Status)
	assert.Equal(t, common.HealthUp, resp.Components["redis"].Status)
}

func TestReadiness_OneDown(t *testing.T) {
	down := CheckFunc{Component: "redis", Fn: func(context.Context) error { return errors.New("connection refused") }}
	w := perform(newHealthEngine(ok("postgres"), down), http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not_ready", resp.Status)
	assert.Equal(t, common.HealthDown, resp.Components["redis"].Status)
	assert.Equal(t, "connection refused", resp.Components["redis"].Error)
}

func TestReadiness_NoCheckers(t *testing.T) {
	assert.Equal(t, http.StatusOK, perform(newHealthEngine(), http.MethodGet, "/readyz", "").Code)
}
