package mcp

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/latticemcp/lattice/internal/errors"
)

// toolError is the shape tool failures take on the wire: a stable code
// plus a message, with optional structured detail and a remediation
// hint folded into the text.
type toolError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *toolError) Error() string {
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// mapErr converts an internal error into the toolError reported to MCP
// clients. Domain codes (1001-1006) pass through unchanged; anything
// uncoded becomes an internal error.
func mapErr(err error) error {
	if err == nil {
		return nil
	}

	var domain *errors.Error
	if stderrors.As(err, &domain) {
		msg := domain.Message
		if domain.Cause != nil {
			msg = fmt.Sprintf("%s: %v", msg, domain.Cause)
		}
		if domain.Suggestion != "" {
			msg = fmt.Sprintf("%s (%s)", msg, domain.Suggestion)
		}
		return &toolError{Code: domain.Code, Message: msg, Details: domain.Details}
	}

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return &toolError{Code: errors.CodeInternal, Message: "request timed out"}
	case stderrors.Is(err, context.Canceled):
		return &toolError{Code: errors.CodeInternal, Message: "request was canceled"}
	}
	return &toolError{Code: errors.CodeInternal, Message: err.Error()}
}

// invalidParams builds a -32602 tool error.
func invalidParams(format string, args ...any) error {
	return &toolError{Code: errors.CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// badRequest builds a -32600 tool error.
func badRequest(format string, args ...any) error {
	return &toolError{Code: errors.CodeBadRequest, Message: fmt.Sprintf(format, args...)}
}
