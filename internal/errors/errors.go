// Package errors provides the coded error type shared by every layer of the
// invoice automation service.
package errors

import (
	stderrors "errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrorCode classifies an AppError.
type ErrorCode string

const (
	// ErrCodeValidation marks malformed monetary or required fields.
	ErrCodeValidation ErrorCode = "VALIDATION"
	// ErrCodeConflict marks a duplicate (number, provider) with a different CUFE.
	ErrCodeConflict ErrorCode = "CONFLICT"
	// ErrCodeInvalidTransition marks a workflow action forbidden from the current state.
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	// ErrCodeNotFound marks an unknown invoice, workflow or assignment.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeReconciliation marks a payment that exceeds the balance or reuses a reference.
	ErrCodeReconciliation ErrorCode = "RECONCILIATION"
	// ErrCodeInternal marks persistence and infrastructure faults.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// AppError is the error type returned across service boundaries.
type AppError struct {
	Code    ErrorCode
	Message string
	Field   string
	Details map[string]interface{}
	Cause   error
	stack   pkgerrors.StackTrace
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// StackTrace returns the stack captured when the error was created.
func (e *AppError) StackTrace() pkgerrors.StackTrace {
	return e.stack
}

// WithDetail attaches a key/value pair to the error.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

func captureStack() pkgerrors.StackTrace {
	st, _ := pkgerrors.New("").(stackTracer)
	if st == nil {
		return nil
	}
	return st.StackTrace()
}

// New creates a coded error
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, stack: captureStack()}
}

// Wrap wraps err with a code and message. Returns nil when err is nil.
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err, stack: captureStack()}
}

// NotFound reports an unknown resource.
func NotFound(resource, id string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

// InvalidInput reports a malformed field.
func InvalidInput(field, message string) *AppError {
	e := New(ErrCodeValidation, message)
	e.Field = field
	return e
}

// Conflict reports a duplicate that must never be merged automatically.
func Conflict(message string) *AppError {
	return New(ErrCodeConflict, message)
}

// InvalidTransition reports a workflow action attempted from a state that forbids it.
func InvalidTransition(from, action string) *AppError {
	return New(ErrCodeInvalidTransition, fmt.Sprintf("cannot %s invoice in status '%s'", action, from)).
		WithDetail("from", from).
		WithDetail("action", action)
}

// Reconciliation reports a rejected payment.
func Reconciliation(message string) *AppError {
	return New(ErrCodeReconciliation, message)
}

// CodeOf returns the code of the first AppError in err's chain, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
