// Package errors provides severity-aware error types for the simulation engine.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Severity indicates error impact level.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error codes
const (
	ErrCodeValidation   = "VALIDATION_FAILED"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeDataMismatch = "DATA_MISMATCH"
)

// Sentinels matched by errors.Is against any *Error with the same code.
var (
	ErrValidation   = &Error{Code: ErrCodeValidation}
	ErrNotFound     = &Error{Code: ErrCodeNotFound}
	ErrDataMismatch = &Error{Code: ErrCodeDataMismatch}
)

// Error is a structured error with context.
type Error struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	ResourceID  string   `json:"resource_id,omitempty"`
	Recoverable bool     `json:"recoverable"`

	cause error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ResourceID != "" {
		msg = fmt.Sprintf("%s (resource: %s)", msg, e.ResourceID)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Wrap attaches a cause to the error and returns it.
func (e *Error) Wrap(cause error) *Error {
	e.cause = cause
	return e
}

// NewValidationError creates an error for malformed or insufficient caller input.
func NewValidationError(resourceID, format string, args ...any) *Error {
	return &Error{
		Code:        ErrCodeValidation,
		Message:     fmt.Sprintf(format, args...),
		Severity:    SeverityError,
		ResourceID:  resourceID,
		Recoverable: false,
	}
}

// NewNotFoundError creates an error for an unknown node, house, template or run.
func NewNotFoundError(kind, resourceID string) *Error {
	return &Error{
		Code:        ErrCodeNotFound,
		Message:     fmt.Sprintf("%s not found", kind),
		Severity:    SeverityError,
		ResourceID:  resourceID,
		Recoverable: false,
	}
}

// NewDataMismatchError creates an error for series whose arrays disagree in length.
// The affected house is skipped, so the error is recoverable at run level.
func NewDataMismatchError(resourceID string, lengths ...int) *Error {
	return &Error{
		Code:        ErrCodeDataMismatch,
		Message:     fmt.Sprintf("series length mismatch %v", lengths),
		Severity:    SeverityWarning,
		ResourceID:  resourceID,
		Recoverable: true,
	}
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return stderrors.Is(err, ErrValidation) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return stderrors.Is(err, ErrNotFound) }

// IsDataMismatch reports whether err is a data mismatch error.
func IsDataMismatch(err error) bool { return stderrors.Is(err, ErrDataMismatch) }

// CodeOf extracts the error code, or "" for errors outside the taxonomy.
func CodeOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}
