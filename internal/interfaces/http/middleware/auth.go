package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/turtacn/RetinaGuard/internal/config"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RetinaGuard/pkg/errors"
	"github.com/turtacn/RetinaGuard/pkg/types/common"
)

// AnonymousUser is recorded as the actor when authentication is disabled and
// the caller names nobody.
const AnonymousUser = "anonymous"

// HeaderUserID names the actor when authentication is disabled.
const HeaderUserID = "X-User-ID"

type claimsKey struct{}

// Claims are the bearer token claims. The subject is the user id recorded
// on acknowledgements.
type Claims struct {
	jwt.RegisteredClaims
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

type TokenValidator interface {
	ValidateToken(token string) (*Claims, error)
}

// JWTValidator validates HS256 tokens signed with a shared secret.
type JWTValidator struct {
	secret []byte
	issuer string
}

func NewJWTValidator(cfg config.AuthConfig) *JWTValidator {
	return &JWTValidator{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer}
}

func (v *JWTValidator) ValidateToken(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnauthorized, "invalid or expired token")
	}
	if claims.Subject == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "token has no subject")
	}
	return claims, nil
}

// IssueToken signs an HS256 token for subject. Used by the CLI and tests.
func IssueToken(cfg config.AuthConfig, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to sign token")
	}
	return signed, nil
}

// Auth requires a valid bearer token when enabled is true. With
// authentication disabled the actor is taken from X-User-ID.
func Auth(validator TokenValidator, enabled bool, logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			user := strings.TrimSpace(c.GetHeader(HeaderUserID))
			if user == "" {
				user = AnonymousUser
			}
			setUser(c, &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: user}})
			c.Next()
			return
		}

		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			abortUnauthorized(c, "authentication required")
			return
		}
		claims, err := validator.ValidateToken(token)
		if err != nil {
			logger.Warn("token validation failed",
				logging.String("path", c.Request.URL.Path),
				logging.String("request_id", RequestIDFrom(c)),
				logging.Err(err))
			abortUnauthorized(c, "invalid or expired token")
			return
		}
		setUser(c, claims)
		c.Next()
	}
}

// UserIDFrom returns the authenticated subject, or "" before Auth ran.
func UserIDFrom(c *gin.Context) string {
	return c.GetString(string(common.ContextKeyUserID))
}

// ClaimsFrom returns the validated claims, if any.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}

func setUser(c *gin.Context, claims *Claims) {
	c.Set(string(common.ContextKeyUserID), claims.Subject)
	ctx := context.WithValue(c.Request.Context(), claimsKey{}, claims)
	ctx = context.WithValue(ctx, common.ContextKeyUserID, claims.Subject)
	c.Request = c.Request.WithContext(ctx)
}

func extractBearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func abortUnauthorized(c *gin.Context, msg string) {
	resp := common.NewErrorResponse(string(errors.ErrCodeUnauthorized), msg)
	resp.RequestID = RequestIDFrom(c)
	c.Header("WWW-Authenticate", `Bearer realm="retinaguard"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, resp)
}
