// Package errors provides structured error handling for the engine.
//
// Domain error codes are stable integers surfaced over MCP:
//
//	1001 workspace config invalid
//	1002 project unknown
//	1003 project busy
//	1004 vector dimension mismatch
//	1005 embedding backend unavailable
//	1006 vector store unavailable
//
// JSON-RPC transport codes (-32600, -32602, -32603) are used for request
// shape problems and unclassified internal failures.
package errors

// Category classifies an error for handling policy.
type Category string

const (
	// CategoryValidation indicates ill-formed config or request input.
	// Never retried.
	CategoryValidation Category = "validation"
	// CategoryNotFound indicates an unknown project, collection, or template.
	CategoryNotFound Category = "not_found"
	// CategoryConflict indicates lock contention, e.g. a project already
	// indexing. The caller may retry.
	CategoryConflict Category = "conflict"
	// CategoryTransient indicates an external backend failure that is
	// expected to heal. Retried with backoff.
	CategoryTransient Category = "transient"
	// CategoryInternal indicates an invariant violation or unexpected
	// failure. Surfaced and quarantined.
	CategoryInternal Category = "internal"
)

// Severity grades how an error affects the component that raised it.
type Severity string

const (
	// SeverityFatal quarantines the component (indexer moves to failed).
	SeverityFatal Severity = "fatal"
	// SeverityError fails the operation but the component continues.
	SeverityError Severity = "error"
	// SeverityWarning marks degraded operation.
	SeverityWarning Severity = "warning"
)

// Domain error codes surfaced in MCP error responses.
const (
	CodeConfigInvalid       = 1001
	CodeProjectUnknown      = 1002
	CodeProjectBusy         = 1003
	CodeDimensionMismatch   = 1004
	CodeEmbedderUnavailable = 1005
	CodeVectorUnavailable   = 1006
)

// JSON-RPC 2.0 transport codes.
const (
	CodeBadRequest    = -32600
	CodeInvalidParams = -32602
	CodeInternal      = -32603
)

// categoryFromCode maps a code to its default category.
func categoryFromCode(code int) Category {
	switch code {
	case CodeConfigInvalid, CodeInvalidParams, CodeBadRequest:
		return CategoryValidation
	case CodeProjectUnknown:
		return CategoryNotFound
	case CodeProjectBusy:
		return CategoryConflict
	case CodeEmbedderUnavailable, CodeVectorUnavailable:
		return CategoryTransient
	default:
		return CategoryInternal
	}
}

// severityFromCategory maps a category to its default severity.
func severityFromCategory(cat Category) Severity {
	switch cat {
	case CategoryValidation, CategoryNotFound:
		return SeverityError
	case CategoryConflict, CategoryTransient:
		return SeverityWarning
	default:
		return SeverityFatal
	}
}

// retryableCategory reports whether errors in cat may be retried.
func retryableCategory(cat Category) bool {
	return cat == CategoryTransient || cat == CategoryConflict
}
