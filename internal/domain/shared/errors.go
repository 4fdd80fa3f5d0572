package shared

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound            = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists       = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput        = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "Resource was modified by another process")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "Operation not allowed in current state")

	ErrInvalidToken    = NewDomainError("INVALID_TOKEN", "Identity token is invalid or expired")
	ErrSessionNotFound = NewDomainError("SESSION_NOT_FOUND", "Session does not exist")
	ErrSessionExpired  = NewDomainError("SESSION_EXPIRED", "Session has expired")
	ErrUnknownPlan     = NewDomainError("UNKNOWN_PLAN", "Referenced plan does not exist")
	ErrDuplicateEvent  = NewDomainError("DUPLICATE_EVENT", "Billing event was already processed")
	ErrStaleEvent      = NewDomainError("STALE_EVENT", "Billing event is older than the applied state")
	ErrUpstreamTimeout = NewDomainError("UPSTREAM_TIMEOUT", "Upstream provider call exceeded deadline")
)
