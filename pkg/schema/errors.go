package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeExecution     = "EXECUTION_ERROR"
	ErrCodeTimeout       = "TIMEOUT_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeCycleDetected = "CYCLE_DETECTED"
	ErrCodeCancelled     = "CANCELLED"
	ErrCodeStore         = "STORE_ERROR"
	ErrCodeConfig        = "CONFIG_ERROR"
	ErrCodeImport        = "IMPORT_ERROR"
	ErrCodeInterpolation = "INTERPOLATION_ERROR"
)

// CoreError is the structured error type returned by macrocore operations.
type CoreError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Macro   string         `json:"macro,omitempty"`
	Cause   error          `json:"-"`
}

func (e *CoreError) Error() string {
	if e.Macro != "" {
		return fmt.Sprintf("[%s] macro %s: %s", e.Code, e.Macro, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CoreError) Unwrap() error {
	return e.Cause
}

// NewError creates a new CoreError.
func NewError(code, message string) *CoreError {
	return &CoreError{Code: code, Message: message}
}

// NewErrorf creates a new CoreError with a formatted message.
func NewErrorf(code, format string, args ...any) *CoreError {
	return &CoreError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithMacro attaches the name of the macro the error belongs to.
func (e *CoreError) WithMacro(name string) *CoreError {
	e.Macro = name
	return e
}

// WithCause attaches an underlying cause.
func (e *CoreError) WithCause(err error) *CoreError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *CoreError) WithDetails(details map[string]any) *CoreError {
	e.Details = details
	return e
}

// HasCode reports whether err is, or wraps, a CoreError with the given code.
func HasCode(err error, code string) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
