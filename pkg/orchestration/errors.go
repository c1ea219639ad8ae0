package orchestration

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory categorizes errors raised by the orchestration layer.
// Provider errors are never wrapped in an Error; they surface unchanged.
type ErrorCategory string

const (
	// ErrCategoryConfiguration indicates an inconsistent flag set or registry.
	ErrCategoryConfiguration ErrorCategory = "configuration"
	// ErrCategoryIdentity indicates a missing identifying field.
	ErrCategoryIdentity ErrorCategory = "identity"
	// ErrCategoryValidation indicates invalid caller input, such as an unknown flag name.
	ErrCategoryValidation ErrorCategory = "validation"
)

// Error is a structured orchestration error with category and context.
type Error struct {
	// Category classifies the error type.
	Category ErrorCategory

	// Message is a human-readable error message.
	Message string

	// Operation is the registry key or step that failed.
	Operation string

	// Field is the document field involved, if any.
	Field string

	// Cause is the underlying error.
	Cause error
}

// Error renders as "[category:operation] field: message: cause", leaving
// out the parts that are unset.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Category))
	if e.Operation != "" {
		b.WriteString(":")
		b.WriteString(e.Operation)
	}
	b.WriteString("] ")
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches an *Error target by category, and by operation and field when
// the target sets them. The message is never compared.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Category == t.Category &&
		(t.Operation == "" || e.Operation == t.Operation) &&
		(t.Field == "" || e.Field == t.Field)
}

// NewError creates a new Error.
func NewError(category ErrorCategory, message string) *Error {
	return &Error{Category: category, Message: message}
}

// WithOperation sets the registry key or step that failed.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithField sets the document field.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithCause sets the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// ErrConfiguration creates a configuration error.
func ErrConfiguration(format string, args ...any) *Error {
	return NewError(ErrCategoryConfiguration, fmt.Sprintf(format, args...))
}

// ErrMissingField creates an identity error for a field that is absent and
// cannot be derived.
func ErrMissingField(field string) *Error {
	return NewError(ErrCategoryIdentity, "required field is missing").WithField(field)
}

// ErrValidation creates a validation error.
func ErrValidation(format string, args ...any) *Error {
	return NewError(ErrCategoryValidation, fmt.Sprintf(format, args...))
}

// IsCategory reports whether any error in err's chain is an *Error of category.
func IsCategory(err error, category ErrorCategory) bool {
	return errors.Is(err, &Error{Category: category})
}
