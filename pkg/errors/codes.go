package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string identifier of a failure category. Codes are prefixed
// with the module that owns them.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeUnauthorized       ErrorCode = "COMMON_003"
	ErrCodeForbidden          ErrorCode = "COMMON_004"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeMessageQueueError  ErrorCode = "COMMON_017"
	ErrCodeStorageError       ErrorCode = "COMMON_018"
)

// Sentinel codes used by GetCode.
const (
	CodeOK      = ErrorCode("OK")
	CodeUnknown = ErrorCode("UNKNOWN")
)

// Analysis Module Error Codes
const (
	ErrCodeAnalysisNotFound   ErrorCode = "ANL_001"
	ErrCodePatientNotFound    ErrorCode = "ANL_002"
	ErrCodeRiskLevelInvalid   ErrorCode = "ANL_003"
	ErrCodeAnalysisIncomplete ErrorCode = "ANL_004"
)

// Alert Module Error Codes
const (
	ErrCodeAlertNotFound      ErrorCode = "ALT_001"
	ErrCodeAlertDuplicate     ErrorCode = "ALT_002"
	ErrCodeAlertPersistFailed ErrorCode = "ALT_003"
	ErrCodeAlertAcknowledged  ErrorCode = "ALT_004"
)

// Trend Module Error Codes
const (
	ErrCodeTrendScanFailed    ErrorCode = "TRD_001"
	ErrCodeTrendScanLocked    ErrorCode = "TRD_002"
	ErrCodeTrendArchiveFailed ErrorCode = "TRD_003"
)

// Notification Module Error Codes
const (
	ErrCodeNotificationFailed        ErrorCode = "NTF_001"
	ErrCodeNotificationTargetInvalid ErrorCode = "NTF_002"
)

// ErrorCodeHTTPStatus maps codes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeMessageQueueError:  http.StatusInternalServerError,
	ErrCodeStorageError:       http.StatusInternalServerError,

	ErrCodeAnalysisNotFound:   http.StatusNotFound,
	ErrCodePatientNotFound:    http.StatusNotFound,
	ErrCodeRiskLevelInvalid:   http.StatusBadRequest,
	ErrCodeAnalysisIncomplete: http.StatusConflict,

	ErrCodeAlertNotFound:      http.StatusNotFound,
	ErrCodeAlertDuplicate:     http.StatusConflict,
	ErrCodeAlertPersistFailed: http.StatusInternalServerError,
	ErrCodeAlertAcknowledged:  http.StatusConflict,

	ErrCodeTrendScanFailed:    http.StatusInternalServerError,
	ErrCodeTrendScanLocked:    http.StatusConflict,
	ErrCodeTrendArchiveFailed: http.StatusInternalServerError,

	ErrCodeNotificationFailed:        http.StatusBadGateway,
	ErrCodeNotificationTargetInvalid: http.StatusBadRequest,
}

// ErrorCodeMessage holds the default message per code.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeUnauthorized:       "unauthorized",
	ErrCodeForbidden:          "forbidden",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization error",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeMessageQueueError:  "message queue error",
	ErrCodeStorageError:       "object storage error",

	ErrCodeAnalysisNotFound:   "analysis not found",
	ErrCodePatientNotFound:    "patient not found",
	ErrCodeRiskLevelInvalid:   "invalid risk level",
	ErrCodeAnalysisIncomplete: "analysis not completed",

	ErrCodeAlertNotFound:      "alert not found",
	ErrCodeAlertDuplicate:     "alert already exists for analysis",
	ErrCodeAlertPersistFailed: "failed to persist high-risk alert",
	ErrCodeAlertAcknowledged:  "alert already acknowledged",

	ErrCodeTrendScanFailed:    "abnormal trend scan failed",
	ErrCodeTrendScanLocked:    "abnormal trend scan already running",
	ErrCodeTrendArchiveFailed: "failed to archive scan findings",

	ErrCodeNotificationFailed:        "failed to deliver notification",
	ErrCodeNotificationTargetInvalid: "invalid notification target",
}

// HTTPStatusForCode returns the HTTP status for code, 500 when unmapped.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for code.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError reports whether code maps to a 4xx status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError reports whether code maps to a 5xx status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of code.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 1 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
