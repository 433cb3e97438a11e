package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeFeatureDisabled    ErrorCode = "COMMON_015"
)

// Annotation engine error codes
const (
	// ErrCodeInvalidPattern is raised when a regex fails to compile or a phrase
	// pattern has no surface tokens. Store construction aborts.
	ErrCodeInvalidPattern ErrorCode = "NER_001"
	// ErrCodeAlignment marks a regex match that could not be mapped onto token
	// boundaries. It is counted and logged, never returned by the annotator.
	ErrCodeAlignment     ErrorCode = "NER_002"
	ErrCodeUnknownLabel  ErrorCode = "NER_003"
	ErrCodeInvalidDoc    ErrorCode = "NER_004"
	ErrCodeStoreNotReady ErrorCode = "NER_005"
)

// Evaluation error codes
const (
	ErrCodeMalformedEvaluationInput ErrorCode = "EVL_001"
)

// Pattern source error codes
const (
	ErrCodePatternSourceUnavailable ErrorCode = "SRC_001"
	ErrCodePatternSourceParseError  ErrorCode = "SRC_002"
	ErrCodePatternSourceUnsupported ErrorCode = "SRC_003"
)

// Short aliases used by call sites outside the engine.
const (
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeNotFound     = ErrCodeNotFound
	CodeOK           = ErrorCode("OK")
	CodeUnknown      = ErrorCode("UNKNOWN")
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeFeatureDisabled:    http.StatusForbidden,

	ErrCodeInvalidPattern: http.StatusUnprocessableEntity,
	ErrCodeAlignment:      http.StatusUnprocessableEntity,
	ErrCodeUnknownLabel:   http.StatusUnprocessableEntity,
	ErrCodeInvalidDoc:     http.StatusBadRequest,
	ErrCodeStoreNotReady:  http.StatusServiceUnavailable,

	ErrCodeMalformedEvaluationInput: http.StatusBadRequest,

	ErrCodePatternSourceUnavailable: http.StatusServiceUnavailable,
	ErrCodePatternSourceParseError:  http.StatusUnprocessableEntity,
	ErrCodePatternSourceUnsupported: http.StatusBadRequest,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeFeatureDisabled:    "feature disabled",

	ErrCodeInvalidPattern: "invalid pattern",
	ErrCodeAlignment:      "match not aligned to token boundaries",
	ErrCodeUnknownLabel:   "label not in configured label set",
	ErrCodeInvalidDoc:     "invalid document",
	ErrCodeStoreNotReady:  "pattern store not loaded",

	ErrCodeMalformedEvaluationInput: "malformed evaluation input",

	ErrCodePatternSourceUnavailable: "pattern source unavailable",
	ErrCodePatternSourceParseError:  "failed to parse pattern table",
	ErrCodePatternSourceUnsupported: "unsupported pattern source",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
