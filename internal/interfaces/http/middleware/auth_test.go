package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RetinaGuard/internal/config"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RetinaGuard/pkg/types/common"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testAuthConfig = config.AuthConfig{Enabled: true, JWTSecret: "s3cret", Issuer: "retinaguard"}

func newAuthEngine(enabled bool) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Auth(NewJWTValidator(testAuthConfig), enabled, logging.NewNopLogger()))
	r.GET("/whoami", func(c *gin.Context) {
		ctxUser, _ := c.Request.Context().Value(common.ContextKeyUserID).(string)
		c.JSON(http.StatusOK, gin.H{"user": UserIDFrom(c), "ctx": ctxUser})
	})
	return r
}

func doAuth(r http.Handler, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_ValidToken(t *testing.T) {
	token, err := IssueToken(testAuthConfig, "doctor-7", time.Hour)
	require.NoError(t, err)

	w := doAuth(newAuthEngine(true), map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "doctor-7", body["user"])
	assert.Equal(t, "doctor-7", body["ctx"])
}

func TestAuth_MissingToken(t *testing.T) {
	w := doAuth(newAuthEngine(true), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

	var resp common.APIResponse[any]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.NotEmpty(t, resp.RequestID)
}

func TestAuth_RejectsBadTokens(t *testing.T) {
	expired, err := IssueToken(testAuthConfig, "d-1", -time.Hour)
	require.NoError(t, err)

	otherSecret := testAuthConfig
	otherSecret.JWTSecret = "other"
	forged, err := IssueToken(otherSecret, "d-1", time.Hour)
	require.NoError(t, err)

	otherIssuer := testAuthConfig
	otherIssuer.Issuer = "someone-else"
	wrongIssuer, err := IssueToken(otherIssuer, "d-1", time.Hour)
	require.NoError(t, err)

	noSubject, err := IssueToken(testAuthConfig, "", time.Hour)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "d-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	r := newAuthEngine(true)
	for name, tok := range map[string]string{
		"expired":      expired,
		"forged":       forged,
		"wrong issuer": wrongIssuer,
		"no subject":   noSubject,
		"alg none":     none,
		"garbage":      "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			w := doAuth(r, map[string]string{"Authorization": "Bearer " + tok})
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}

	w := doAuth(r, map[string]string{"Authorization": "Basic dXNlcjpwYXNz"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_Disabled(t *testing.T) {
	r := newAuthEngine(false)

	w := doAuth(r, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), AnonymousUser)

	w = doAuth(r, map[string]string{HeaderUserID: "nurse-3"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user":"nurse-3"`)
}

func TestExtractBearerToken(t *testing.T) {
	assert.Equal(t, "abc", extractBearerToken("Bearer abc"))
	assert.Equal(t, "abc", extractBearerToken("bearer  abc "))
	assert.Empty(t, extractBearerToken("Bearer"))
	assert.Empty(t, extractBearerToken("Token abc"))
}
