// FilePath: server/devicehub/internal/errors/errors.go
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Error types
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypePrecondition ErrorType = "precondition"
	ErrorTypeDatabase     ErrorType = "database"
	ErrorTypeAuth         ErrorType = "authentication"
	ErrorTypeAuthorize    ErrorType = "authorization"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeUnavailable  ErrorType = "service_unavailable"
)

// APIError represents a structured API error
type APIError struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Code      int       `json:"code"`
	RequestID string    `json:"request_id,omitempty"`
	Details   any       `json:"details,omitempty"`
	err       error     // Internal error for logging
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Type, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the internal error to errors.Is / errors.As
func (e *APIError) Unwrap() error {
	return e.err
}

// WithRequestID adds a request ID to the error
func (e *APIError) WithRequestID(id string) *APIError {
	e.RequestID = id
	return e
}

// WithDetails adds additional details to the error
func (e *APIError) WithDetails(details any) *APIError {
	e.Details = details
	return e
}

var codes = map[ErrorType]int{
	ErrorTypeValidation:   http.StatusBadRequest,
	ErrorTypePrecondition: http.StatusPreconditionFailed,
	ErrorTypeDatabase:     http.StatusInternalServerError,
	ErrorTypeAuth:         http.StatusUnauthorized,
	ErrorTypeAuthorize:    http.StatusForbidden,
	ErrorTypeNotFound:     http.StatusNotFound,
	ErrorTypeConflict:     http.StatusConflict,
	ErrorTypeRateLimit:    http.StatusTooManyRequests,
	ErrorTypeInternal:     http.StatusInternalServerError,
	ErrorTypeUnavailable:  http.StatusServiceUnavailable,
}

// New creates an error of the given type, with the status code of that type
func New(t ErrorType, msg string, err error) *APIError {
	code, ok := codes[t]
	if !ok {
		t, code = ErrorTypeInternal, http.StatusInternalServerError
	}
	return newError(t, code, msg, err)
}

func newError(t ErrorType, code int, msg string, err error) *APIError {
	return &APIError{
		Type:    t,
		Message: msg,
		Code:    code,
		err:     err,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(msg string, err error) *APIError {
	return newError(ErrorTypeValidation, http.StatusBadRequest, msg, err)
}

// NewPreconditionError creates an error for payloads or entities that violate
// a declared shape or state requirement
func NewPreconditionError(msg string, err error) *APIError {
	return newError(ErrorTypePrecondition, http.StatusPreconditionFailed, msg, err)
}

// NewDatabaseError creates a new database error
func NewDatabaseError(msg string, err error) *APIError {
	return newError(ErrorTypeDatabase, http.StatusInternalServerError, msg, err)
}

// NewAuthError creates a new authentication error
func NewAuthError(msg string, err error) *APIError {
	return newError(ErrorTypeAuth, http.StatusUnauthorized, msg, err)
}

// NewAuthorizationError creates a new authorization error
func NewAuthorizationError(msg string, err error) *APIError {
	return newError(ErrorTypeAuthorize, http.StatusForbidden, msg, err)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(msg string, err error) *APIError {
	return newError(ErrorTypeNotFound, http.StatusNotFound, msg, err)
}

// NewConflictError creates a new conflict error
func NewConflictError(msg string, err error) *APIError {
	return newError(ErrorTypeConflict, http.StatusConflict, msg, err)
}

// NewRateLimitError creates a new rate limit error
func NewRateLimitError(msg string, err error) *APIError {
	return newError(ErrorTypeRateLimit, http.StatusTooManyRequests, msg, err)
}

// NewInternalError creates a new internal server error
func NewInternalError(msg string, err error) *APIError {
	return newError(ErrorTypeInternal, http.StatusInternalServerError, msg, err)
}

// NewUnavailableError creates a new service unavailable error
func NewUnavailableError(msg string, err error) *APIError {
	return newError(ErrorTypeUnavailable, http.StatusServiceUnavailable, msg, err)
}

// TypeOf returns the ErrorType of the first APIError in err's chain, or ""
func TypeOf(err error) ErrorType {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.Type
	}
	return ""
}

// IsNotFound checks if an error is a NotFound error
func IsNotFound(err error) bool {
	return TypeOf(err) == ErrorTypeNotFound
}

// IsValidation checks if an error is a Validation error
func IsValidation(err error) bool {
	return TypeOf(err) == ErrorTypeValidation
}

// IsPrecondition checks if an error is a Precondition error
func IsPrecondition(err error) bool {
	return TypeOf(err) == ErrorTypePrecondition
}

// IsConflict checks if an error is a Conflict error
func IsConflict(err error) bool {
	return TypeOf(err) == ErrorTypeConflict
}

// IsAuthorization checks if an error is an Authorization error
func IsAuthorization(err error) bool {
	return TypeOf(err) == ErrorTypeAuthorize
}

// AsAPIError converts any error into an APIError, wrapping unknown errors as internal
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}
	return NewInternalError("internal error", err)
}
