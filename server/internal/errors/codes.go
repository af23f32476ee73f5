package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a specific error type surfaced by the chatbot API.
type ErrorCode string

const (
	// ErrCodeInvalidArgument indicates missing or malformed request fields.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeUnauthorized indicates authentication failure of any kind.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodeForbidden indicates an authenticated caller acting outside its scope.
	ErrCodeForbidden ErrorCode = "FORBIDDEN"
	// ErrCodeNotFound indicates that no route matched.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeRateLimitExceeded indicates rate limit has been exceeded.
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrCodeNLPUnavailable indicates the natural-language collaborator failed.
	ErrCodeNLPUnavailable ErrorCode = "NLP_UNAVAILABLE"
	// ErrCodeStorageFailure indicates the session backend failed.
	ErrCodeStorageFailure ErrorCode = "STORAGE_FAILURE"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// ChatError represents a structured error for chatbot operations.
// Message is the user-safe text; Cause never leaves the server.
type ChatError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *ChatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ChatError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *ChatError) WithContext(key string, value any) *ChatError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// HTTPStatus maps the error code to a response status.
func (e *ChatError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeNLPUnavailable:
		return http.StatusBadGateway
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Convenience constructors for common error types.

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *ChatError {
	return &ChatError{Code: ErrCodeInvalidArgument, Message: msg}
}

// Unauthorized creates an unauthorized error. The message is fixed so
// callers cannot tell which check rejected the credential.
func Unauthorized() *ChatError {
	return &ChatError{Code: ErrCodeUnauthorized, Message: "Unauthorized"}
}

// Forbidden creates a forbidden error.
func Forbidden(msg string) *ChatError {
	return &ChatError{Code: ErrCodeForbidden, Message: msg}
}

// NotFound creates the routing-miss error.
func NotFound() *ChatError {
	return &ChatError{Code: ErrCodeNotFound, Message: "Endpoint not found"}
}

// RateLimitExceeded creates a rate limit exceeded error.
func RateLimitExceeded(msg string) *ChatError {
	return &ChatError{Code: ErrCodeRateLimitExceeded, Message: msg}
}

// NLPUnavailable creates a collaborator failure error.
func NLPUnavailable(cause error) *ChatError {
	return &ChatError{Code: ErrCodeNLPUnavailable, Message: "Chatbot service is unavailable", Cause: cause}
}

// StorageFailure creates a session backend failure error.
func StorageFailure(cause error) *ChatError {
	return &ChatError{Code: ErrCodeStorageFailure, Message: "Session storage failed", Cause: cause}
}

// Timeout creates a timeout error.
func Timeout(cause error) *ChatError {
	return &ChatError{Code: ErrCodeTimeout, Message: "Request timed out", Cause: cause}
}

// Wrap wraps an existing error with additional context.
func Wrap(cause error, code ErrorCode, msg string) *ChatError {
	return &ChatError{Code: code, Message: msg, Cause: cause}
}

// IsCode checks if an error is of a specific code.
func IsCode(err error, code ErrorCode) bool {
	if chatErr, ok := err.(*ChatError); ok {
		return chatErr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not a ChatError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	if chatErr, ok := err.(*ChatError); ok {
		return chatErr.Code
	}
	return defaultCode
}

// AsChatError finds the first ChatError in err's chain.
func AsChatError(err error) (*ChatError, bool) {
	var chatErr *ChatError
	if stderrors.As(err, &chatErr) {
		return chatErr, true
	}
	return nil, false
}

// Envelope renders err as the response status and the
// {"status":"error","message":...} body. Errors that are not a ChatError
// are reported as a generic internal failure so no detail leaks.
func Envelope(err error) (int, map[string]any) {
	chatErr, ok := AsChatError(err)
	if !ok {
		return http.StatusInternalServerError, map[string]any{
			"status":  "error",
			"message": "Internal server error",
		}
	}
	return chatErr.HTTPStatus(), map[string]any{
		"status":  "error",
		"message": chatErr.Message,
	}
}
