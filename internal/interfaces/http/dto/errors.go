package dto

import "net/http"

// Error code constants exposed by the API
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeValidation is used when request validation fails
	ErrCodeValidation = "ERR_VALIDATION"
)

// Session and token error codes
const (
	// ErrCodeInvalidToken is used when the provider token fails verification
	ErrCodeInvalidToken = "ERR_INVALID_TOKEN"
	// ErrCodeSessionNotFound is used when a session id resolves to nothing
	ErrCodeSessionNotFound = "ERR_SESSION_NOT_FOUND"
	// ErrCodeSessionExpired is used when a session has passed its expiry
	ErrCodeSessionExpired = "ERR_SESSION_EXPIRED"
	// ErrCodeUpstreamTimeout is used when the identity provider is unreachable
	ErrCodeUpstreamTimeout = "ERR_UPSTREAM_TIMEOUT"
)

// Billing error codes
const (
	// ErrCodeUnknownPlan is used when an upgrade names an unconfigured plan
	ErrCodeUnknownPlan = "ERR_UNKNOWN_PLAN"
	// ErrCodeInvalidState is used when an operation is invalid for current state
	ErrCodeInvalidState = "ERR_INVALID_STATE"
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:    http.StatusInternalServerError,
	ErrCodeInternal:   http.StatusInternalServerError,
	ErrCodeBadRequest: http.StatusBadRequest,
	ErrCodeValidation: http.StatusBadRequest,

	ErrCodeInvalidToken:    http.StatusUnauthorized,
	ErrCodeSessionNotFound: http.StatusUnauthorized,
	ErrCodeSessionExpired:  http.StatusUnauthorized,
	ErrCodeUpstreamTimeout: http.StatusBadGateway,

	ErrCodeUnknownPlan:  http.StatusUnprocessableEntity,
	ErrCodeInvalidState: http.StatusUnprocessableEntity,
	ErrCodeNotFound:     http.StatusNotFound,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Unknown codes map to 500.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// domainErrorCodeMapping maps domain error codes to API error codes
var domainErrorCodeMapping = map[string]string{
	"INVALID_TOKEN":     ErrCodeInvalidToken,
	"SESSION_NOT_FOUND": ErrCodeSessionNotFound,
	"SESSION_EXPIRED":   ErrCodeSessionExpired,
	"UPSTREAM_TIMEOUT":  ErrCodeUpstreamTimeout,
	"UNKNOWN_PLAN":      ErrCodeUnknownPlan,
	"INVALID_STATE":     ErrCodeInvalidState,
	"NOT_FOUND":         ErrCodeNotFound,
	"INVALID_INPUT":     ErrCodeBadRequest,
	"INVALID_PLAN_ID":   ErrCodeBadRequest,
	"INVALID_GROUP_KEY": ErrCodeBadRequest,
}

// NormalizeErrorCode converts a domain error code to the API format.
// Codes without a mapping pass through unchanged.
func NormalizeErrorCode(code string) string {
	if apiCode, ok := domainErrorCodeMapping[code]; ok {
		return apiCode
	}
	return code
}
