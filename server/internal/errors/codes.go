package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a specific error type for turn operations.
type ErrorCode string

const (
	// ErrCodeUnauthorized indicates the upstream credential was rejected.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodeRateLimitExceeded indicates a rate limit (local or upstream) has been exceeded.
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrCodeBudgetExceeded indicates the hourly cost budget has been exhausted.
	ErrCodeBudgetExceeded ErrorCode = "BUDGET_EXCEEDED"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeServiceUnavailable indicates an upstream fault.
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrCodePersistenceFailed indicates a conversation record could not be stored.
	ErrCodePersistenceFailed ErrorCode = "PERSISTENCE_FAILED"
	// ErrCodeContextCanceled indicates the operation was canceled.
	ErrCodeContextCanceled ErrorCode = "CONTEXT_CANCELED"
	// ErrCodeInternal indicates any other failure.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// AIError represents a structured error for turn operations.
type AIError struct {
	Code    ErrorCode
	Message string
	Cause   error
	// UpstreamStatus is the HTTP status reported by an upstream provider, if any.
	UpstreamStatus int
	Context        map[string]interface{}
}

// Error implements the error interface.
func (e *AIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AIError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *AIError) WithContext(key string, value interface{}) *AIError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// GetCode returns the error code.
func (e *AIError) GetCode() ErrorCode {
	return e.Code
}

// HTTPStatus maps the error code to the status returned to callers.
func (e *AIError) HTTPStatus() int {
	return HTTPStatus(e.Code)
}

// Convenience constructors for common error types.

// Unauthorized creates an unauthorized error.
func Unauthorized(msg string) *AIError {
	return &AIError{Code: ErrCodeUnauthorized, Message: msg}
}

// RateLimitExceeded creates a rate limit exceeded error.
func RateLimitExceeded(msg string) *AIError {
	return &AIError{Code: ErrCodeRateLimitExceeded, Message: msg}
}

// BudgetExceeded creates a budget exceeded error.
func BudgetExceeded(msg string) *AIError {
	return &AIError{Code: ErrCodeBudgetExceeded, Message: msg}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *AIError {
	return &AIError{Code: ErrCodeInvalidArgument, Message: msg}
}

// ServiceUnavailable creates a service unavailable error.
func ServiceUnavailable(msg string) *AIError {
	return &AIError{Code: ErrCodeServiceUnavailable, Message: msg}
}

// PersistenceFailed creates a persistence error.
func PersistenceFailed(msg string, cause error) *AIError {
	return &AIError{Code: ErrCodePersistenceFailed, Message: msg, Cause: cause}
}

// ContextCanceled creates a context canceled error.
func ContextCanceled(cause error) *AIError {
	return &AIError{Code: ErrCodeContextCanceled, Message: "operation canceled", Cause: cause}
}

// Internal creates an internal error.
func Internal(msg string, cause error) *AIError {
	return &AIError{Code: ErrCodeInternal, Message: msg, Cause: cause}
}

// Upstream classifies a failed upstream call by the HTTP status it reported.
// 401 and 403 keep the authorization class, 429 keeps the rate limit class,
// 5xx and transport failures (status 0) become service unavailable.
func Upstream(stage string, status int, cause error) *AIError {
	e := &AIError{Cause: cause, UpstreamStatus: status}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Code = ErrCodeUnauthorized
		e.Message = "upstream rejected credentials during " + stage
	case status == http.StatusTooManyRequests:
		e.Code = ErrCodeRateLimitExceeded
		e.Message = "upstream rate limit exceeded during " + stage
	case status == 0 || status >= http.StatusInternalServerError:
		e.Code = ErrCodeServiceUnavailable
		e.Message = "upstream unavailable during " + stage
	default:
		e.Code = ErrCodeInternal
		e.Message = "upstream request failed during " + stage
	}
	return e.WithContext("stage", stage)
}

// Wrap wraps an existing error with additional context.
func Wrap(cause error, code ErrorCode, msg string) *AIError {
	return &AIError{Code: code, Message: msg, Cause: cause}
}

// IsCode checks if an error, or any error it wraps, is of a specific code.
func IsCode(err error, code ErrorCode) bool {
	var aiErr *AIError
	if stderrors.As(err, &aiErr) {
		return aiErr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not an AIError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	var aiErr *AIError
	if stderrors.As(err, &aiErr) {
		return aiErr.Code
	}
	return defaultCode
}

// HTTPStatus returns the HTTP status for an error code.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeRateLimitExceeded, ErrCodeBudgetExceeded:
		return http.StatusTooManyRequests
	case ErrCodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeContextCanceled:
		// nginx convention for a client that went away
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// Sanitize returns the status and a caller-safe message for any error.
// Causes are never included so upstream bodies and stack traces stay server side.
func Sanitize(err error) (int, ErrorCode, string) {
	var aiErr *AIError
	if !stderrors.As(err, &aiErr) {
		return http.StatusInternalServerError, ErrCodeInternal, "internal server error"
	}
	switch aiErr.Code {
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized, aiErr.Code, "Unauthorized: check upstream API key"
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests, aiErr.Code, "Rate limit exceeded"
	case ErrCodeInternal:
		return http.StatusInternalServerError, aiErr.Code, "Server error: " + aiErr.Message
	}
	return HTTPStatus(aiErr.Code), aiErr.Code, aiErr.Message
}
