// Package errors provides custom error types for the Drawbridge broker.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeStateMismatch      = "STATE_MISMATCH"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeMappingConflict    = "MAPPING_CONFLICT"
	ErrCodeTransportTransient = "TRANSPORT_TRANSIENT"
	ErrCodeTransportPermanent = "TRANSPORT_PERMANENT"
	ErrCodeSubprocess         = "SUBPROCESS_ERROR"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeFatal              = "FATAL"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// ValidationError creates a new validation error for a specific field.
func ValidationError(field string, message string) *AppError {
	return &AppError{
		Code:       ErrCodeValidationError,
		Message:    fmt.Sprintf("validation failed for '%s': %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

// StateMismatch creates an error for optimistic-concurrency failures: the
// caller expected one persisted state but found another.
func StateMismatch(resource, id, expected, actual string) *AppError {
	return &AppError{
		Code:       ErrCodeStateMismatch,
		Message:    fmt.Sprintf("%s '%s' is %s, expected %s", resource, id, actual, expected),
		HTTPStatus: http.StatusConflict,
	}
}

// InvalidTransition creates an error for an edge missing from a state graph.
func InvalidTransition(from, to string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidTransition,
		Message:    fmt.Sprintf("cannot transition from %s to %s", from, to),
		HTTPStatus: http.StatusConflict,
	}
}

// MappingConflict creates an error for duplicate thread or project mappings.
func MappingConflict(message string) *AppError {
	return &AppError{
		Code:       ErrCodeMappingConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// TransportTransient creates an error for recoverable transport failures.
// These feed the reconnection state machine rather than the user.
func TransportTransient(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeTransportTransient,
		Message:    message,
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// TransportPermanent creates an error for non-recoverable transport failures.
func TransportPermanent(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeTransportPermanent,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// Subprocess creates an error for child process spawn or I/O failures.
func Subprocess(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeSubprocess,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Unauthorized creates a new unauthorized error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// InternalError creates a new internal server error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Fatal creates an initialization error that must abort the daemon with a
// non-zero exit. Only boot paths may produce it.
func Fatal(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeFatal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	// Otherwise, wrap as an internal error
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return hasCode(err, ErrCodeValidationError)
}

// IsStateMismatch checks if the error is a state mismatch error.
func IsStateMismatch(err error) bool {
	return hasCode(err, ErrCodeStateMismatch)
}

// IsInvalidTransition checks if the error is an invalid transition error.
func IsInvalidTransition(err error) bool {
	return hasCode(err, ErrCodeInvalidTransition)
}

// IsMappingConflict checks if the error is a mapping conflict error.
func IsMappingConflict(err error) bool {
	return hasCode(err, ErrCodeMappingConflict)
}

// IsTransportTransient checks if the error is a recoverable transport error.
func IsTransportTransient(err error) bool {
	return hasCode(err, ErrCodeTransportTransient)
}

// IsSubprocess checks if the error is a subprocess error.
func IsSubprocess(err error) bool {
	return hasCode(err, ErrCodeSubprocess)
}

// IsFatal checks if the error must abort daemon initialization.
func IsFatal(err error) bool {
	return hasCode(err, ErrCodeFatal)
}

// UserMessage renders an error as a user-visible reply. AppError messages
// are shown verbatim; anything else gets a generic line so internals do not
// leak into chat.
func UserMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "something went wrong, check the daemon logs"
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
