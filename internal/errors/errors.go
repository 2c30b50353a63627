package errors

import (
	"errors"
	"fmt"
)

// Error is the structured error type used across the engine.
type Error struct {
	// Code is a stable integer code (domain 1001-1006 or JSON-RPC).
	Code int
	// Message is a human-readable description.
	Message string
	// Category drives the handling policy (retry, surface, quarantine).
	Category Category
	// Severity grades the impact on the raising component.
	Severity Severity
	// Details carries structured context for logs and MCP payloads.
	Details map[string]any
	// Cause is the wrapped underlying error, if any.
	Cause error
	// Retryable reports whether the caller may retry.
	Retryable bool
	// Suggestion optionally tells the caller how to proceed.
	Suggestion string
}

// New creates an Error with category, severity, and retryability derived
// from the code.
func New(code int, message string) *Error {
	cat := categoryFromCode(code)
	return &Error{
		Code:      code,
		Message:   message,
		Category:  cat,
		Severity:  severityFromCategory(cat),
		Retryable: retryableCategory(cat),
	}
}

// Newf creates an Error with a formatted message.
func Newf(code int, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates an Error wrapping a cause.
func Wrap(code int, message string, cause error) *Error {
	e := New(code, message)
	e.Cause = cause
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithDetail attaches a key/value pair and returns the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion attaches a remediation hint and returns the error.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// Constructors for the domain codes.

// ConfigInvalid reports an invalid workspace configuration.
func ConfigInvalid(format string, args ...any) *Error {
	return Newf(CodeConfigInvalid, format, args...)
}

// ProjectUnknown reports a reference to a project id that does not exist.
func ProjectUnknown(id string) *Error {
	return Newf(CodeProjectUnknown, "unknown project %q", id).WithDetail("project_id", id)
}

// ProjectBusy reports that a project is already being indexed.
func ProjectBusy(id string) *Error {
	return Newf(CodeProjectBusy, "project %q is busy indexing", id).
		WithDetail("project_id", id).
		WithSuggestion("retry after the current indexing run completes")
}

// DimensionMismatch reports a vector dimension conflict on a collection.
func DimensionMismatch(collection string, expected, got int) *Error {
	return Newf(CodeDimensionMismatch, "collection %q expects dimension %d, got %d", collection, expected, got).
		WithDetail("collection", collection).
		WithDetail("expected", expected).
		WithDetail("got", got)
}

// EmbedderUnavailable reports a transient embedding backend failure.
func EmbedderUnavailable(cause error) *Error {
	return Wrap(CodeEmbedderUnavailable, "embedding backend unavailable", cause)
}

// VectorUnavailable reports a transient vector store failure.
func VectorUnavailable(cause error) *Error {
	return Wrap(CodeVectorUnavailable, "vector store unavailable", cause)
}

// BadRequest reports a malformed request.
func BadRequest(format string, args ...any) *Error {
	return Newf(CodeBadRequest, format, args...)
}

// InvalidParams reports invalid request parameters.
func InvalidParams(format string, args ...any) *Error {
	return Newf(CodeInvalidParams, format, args...)
}

// Internal reports an unexpected internal failure.
func Internal(message string, cause error) *Error {
	return Wrap(CodeInternal, message, cause)
}

// CodeOf extracts the stable code from err, or CodeInternal when err is
// not a structured Error.
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// CategoryOf extracts the category from err.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return CategoryInternal
}

// IsRetryable reports whether err may be retried.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// As is a convenience wrapper around the standard errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
