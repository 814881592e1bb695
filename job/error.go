package job

import (
	"errors"
	"fmt"
	"maps"
)

// Error codes produced by the engine and the built-in executors.
const (
	CodeExecutorNotFound = "EXECUTOR_NOT_FOUND"
	CodeExecutionFailed  = "EXECUTION_FAILED"
	CodeCancelled        = "CANCELLED"
	CodeInterrupted      = "INTERRUPTED"
	CodeSTLLoadFailed    = "STL_LOAD_FAILED"
	CodeFileNotFound     = "FILE_NOT_FOUND"
	CodeMemory           = "MEMORY_ERROR"
	CodeRenderFailed     = "RENDER_FAILED"
	CodeValidationFailed = "VALIDATION_FAILED"
)

// Error describes why an attempt failed. It is immutable once created.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// NewError creates an Error. details is copied.
func NewError(code, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: maps.Clone(details)}
}

// Errorf creates an Error with a formatted message.
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Detail returns a single detail value.
func (e *Error) Detail(key string) (any, bool) {
	v, ok := e.Details[key]
	return v, ok
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var je *Error
	if errors.As(err, &je) {
		return je, true
	}
	return nil, false
}
