package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/RetinaGuard/internal/interfaces/http/middleware"
	"github.com/turtacn/RetinaGuard/pkg/errors"
	"github.com/turtacn/RetinaGuard/pkg/types/common"
)

func respond[T any](c *gin.Context, status int, data T) {
	resp := common.NewSuccessResponse(data)
	resp.RequestID = middleware.RequestIDFrom(c)
	c.JSON(status, resp)
}

// respondError maps err to its HTTP status. Messages of 5xx errors are
// replaced by the code's default text.
func respondError(c *gin.Context, err error) {
	code := errors.GetCode(err)
	if code == errors.CodeUnknown || code == errors.CodeOK {
		code = errors.ErrCodeInternal
	}
	status := errors.HTTPStatusForCode(code)

	msg := errors.DefaultMessageForCode(code)
	var ae *errors.AppError
	if status < http.StatusInternalServerError && errors.As(err, &ae) && ae.Message != "" {
		msg = ae.Message
	}

	resp := common.NewErrorResponse(string(code), msg)
	resp.RequestID = middleware.RequestIDFrom(c)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}

// intQuery parses a non-negative integer query parameter, returning def when
// it is absent.
func intQuery(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.InvalidParam(name + " must be a non-negative integer").WithDetail(v)
	}
	return n, nil
}

func boolQuery(c *gin.Context, name string) (bool, error) {
	v := c.Query(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.InvalidParam(name + " must be a boolean").WithDetail(v)
	}
	return b, nil
}
