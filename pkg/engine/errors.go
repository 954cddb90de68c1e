package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassValidation indicates malformed or incomplete local input.
	// Never retried.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassUnsupported indicates an operation the resource kind does not
	// support (read-only or create-only kinds). Never retried.
	ErrorClassUnsupported ErrorClass = "unsupported"

	// ErrorClassUnauthorized indicates the remote API rejected the credentials.
	// Never retried.
	ErrorClassUnauthorized ErrorClass = "unauthorized"

	// ErrorClassRemoteValidation indicates the remote API rejected the payload.
	// Never retried.
	ErrorClassRemoteValidation ErrorClass = "remote_validation"

	// ErrorClassConflict indicates a remote state conflict.
	// Surfaced immediately, never retried.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: network timeouts, 5xx responses.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassRateLimited indicates the remote API throttled the request.
	// Retried with backoff, honoring a server-communicated Retry-After delay.
	ErrorClassRateLimited ErrorClass = "rate_limited"

	// ErrorClassNotFound indicates the remote object does not exist.
	// Read and Delete translate this into an absence signal rather than a failure.
	ErrorClassNotFound ErrorClass = "not_found"
)

// ProviderError represents a classified error with resource context.
type ProviderError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Resource != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s): %s",
			e.Class, e.Message, e.Resource, e.Operation, e.unwrapMessage())
	}
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s (resource=%s): %s", e.Class, e.Message, e.Resource, e.unwrapMessage())
	}
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Class, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *ProviderError) Is(target error) bool {
	t, ok := target.(*ProviderError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewValidationError creates a local validation error.
func NewValidationError(message string, err error) *ProviderError {
	return &ProviderError{Class: ErrorClassValidation, Message: message, Err: err}
}

// NewUnsupportedError creates an unsupported-operation error.
func NewUnsupportedError(message string, err error) *ProviderError {
	return &ProviderError{Class: ErrorClassUnsupported, Message: message, Err: err}
}

// NewUnauthorizedError creates an unauthorized error.
func NewUnauthorizedError(message string, err error) *ProviderError {
	return &ProviderError{Class: ErrorClassUnauthorized, Message: message, Err: err}
}

// NewRemoteValidationError creates a remote-rejected payload error.
func NewRemoteValidationError(message string, err error) *ProviderError {
	return &ProviderError{Class: ErrorClassRemoteValidation, Message: message, Err: err}
}

// NewConflictError creates a remote conflict error.
func NewConflictError(message string, err error) *ProviderError {
	return &ProviderError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewTransientError creates a transient error.
func NewTransientError(message string, err error) *ProviderError {
	return &ProviderError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewRateLimitedError creates a rate-limited error.
func NewRateLimitedError(message string, err error) *ProviderError {
	return &ProviderError{Class: ErrorClassRateLimited, Message: message, Err: err}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(message string, err error) *ProviderError {
	return &ProviderError{Class: ErrorClassNotFound, Message: message, Err: err}
}

// WithResource adds resource context to an error.
func (e *ProviderError) WithResource(resource string) *ProviderError {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *ProviderError) WithOperation(operation string) *ProviderError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *ProviderError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsClass reports whether err carries the given classification.
func IsClass(err error, class ErrorClass) bool {
	c, ok := classOf(err)
	return ok && c == class
}

// IsValidation reports whether the error is a local validation failure.
func IsValidation(err error) bool { return IsClass(err, ErrorClassValidation) }

// IsUnsupported reports whether the error is an unsupported operation.
func IsUnsupported(err error) bool { return IsClass(err, ErrorClassUnsupported) }

// IsUnauthorized reports whether the remote rejected the credentials.
func IsUnauthorized(err error) bool { return IsClass(err, ErrorClassUnauthorized) }

// IsRemoteValidation reports whether the remote rejected the payload.
func IsRemoteValidation(err error) bool { return IsClass(err, ErrorClassRemoteValidation) }

// IsConflict reports whether the error is a remote conflict.
func IsConflict(err error) bool { return IsClass(err, ErrorClassConflict) }

// IsTransient reports whether the error is classified as transient.
func IsTransient(err error) bool { return IsClass(err, ErrorClassTransient) }

// IsRateLimited reports whether the remote throttled the request.
func IsRateLimited(err error) bool { return IsClass(err, ErrorClassRateLimited) }

// IsNotFound reports whether the remote object does not exist.
func IsNotFound(err error) bool { return IsClass(err, ErrorClassNotFound) }

// IsRetryable returns true if the error can be retried.
// Only transient and rate-limited errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsRateLimited(err)
}

// Common error codes.
const (
	ErrCodeMissingField     = "MISSING_FIELD"
	ErrCodeMalformedField   = "MALFORMED_FIELD"
	ErrCodeReadOnlyKind     = "READ_ONLY_KIND"
	ErrCodeNoUpdatePath     = "NO_UPDATE_PATH"
	ErrCodeRetriesExhausted = "RETRIES_EXHAUSTED"
	ErrCodePolicyDenied     = "POLICY_DENIED"
	ErrCodeUnknownKind      = "UNKNOWN_KIND"
)
