// Package errors provides the structured error system used across the streamfs data path.
package errors

import (
	stderr "errors"
	"fmt"
	"strings"
	"syscall"
	"time"
)

// ErrorCode represents a structured error code for streamfs operations.
type ErrorCode string

// Error code constants grouped by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Checksum and sidecar errors
	ErrCodeNotFound    ErrorCode = "NOT_FOUND"
	ErrCodeMalformed   ErrorCode = "MALFORMED"
	ErrCodeTooLarge    ErrorCode = "TOO_LARGE"
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED"

	// Backend errors
	ErrCodeBackendIO        ErrorCode = "BACKEND_IO"
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"

	// Handle state errors
	ErrCodeOutOfOrderWrite ErrorCode = "OUT_OF_ORDER_WRITE"
	ErrCodeInvalidState    ErrorCode = "INVALID_STATE"
	ErrCodeClosed          ErrorCode = "CLOSED"

	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryChecksum      ErrorCategory = "checksum"
	CategoryStorage       ErrorCategory = "storage"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

// StreamFSError represents a structured error with context and metadata.
type StreamFSError struct {
	Code     ErrorCode         `json:"code"`
	Category ErrorCategory     `json:"category"`
	Message  string            `json:"message"`
	Context  map[string]string `json:"context,omitempty"`
	Cause    error             `json:"-"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	// Errno is the backend's own error number, preserved so that hosts can
	// report it unchanged. Zero when the failure did not carry one.
	Errno syscall.Errno `json:"errno,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface.
func (e *StreamFSError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *StreamFSError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *StreamFSError) Is(target error) bool {
	if other, ok := target.(*StreamFSError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *StreamFSError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("Errno=%d", int(e.Errno)))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("StreamFSError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new streamfs error with default values.
func NewError(code ErrorCode, message string) *StreamFSError {
	return &StreamFSError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Context:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// Newf creates a new error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *StreamFSError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Wrap creates an error with the given code around cause. If cause carries a
// syscall.Errno anywhere in its chain, it is preserved on the new error.
func Wrap(code ErrorCode, cause error, message string) *StreamFSError {
	e := NewError(code, message).WithCause(cause)
	var errno syscall.Errno
	if stderr.As(cause, &errno) {
		e.Errno = errno
	}
	return e
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigValidation, ErrCodeConfigLoad:
		return CategoryConfiguration
	case ErrCodeNotFound, ErrCodeMalformed, ErrCodeTooLarge, ErrCodeUnsupported:
		return CategoryChecksum
	case ErrCodeBackendIO, ErrCodeConnectionFailed:
		return CategoryStorage
	case ErrCodeOutOfOrderWrite, ErrCodeInvalidState, ErrCodeClosed:
		return CategoryState
	default:
		return CategoryInternal
	}
}

// WithContext adds contextual information to an error
func (e *StreamFSError) WithContext(key, value string) *StreamFSError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *StreamFSError) WithComponent(component string) *StreamFSError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *StreamFSError) WithOperation(operation string) *StreamFSError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *StreamFSError) WithCause(cause error) *StreamFSError {
	e.Cause = cause
	return e
}

// WithErrno records the backend error number.
func (e *StreamFSError) WithErrno(errno syscall.Errno) *StreamFSError {
	e.Errno = errno
	return e
}

// CodeOf returns the code of the first StreamFSError in err's chain, or the
// empty code when there is none.
func CodeOf(err error) ErrorCode {
	var sfe *StreamFSError
	if stderr.As(err, &sfe) {
		return sfe.Code
	}
	return ""
}

// HasCode reports whether any StreamFSError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	return stderr.Is(err, &StreamFSError{Code: code})
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}

// ErrnoOf returns the errno preserved in err's chain, or 0.
func ErrnoOf(err error) syscall.Errno {
	var sfe *StreamFSError
	if stderr.As(err, &sfe) && sfe.Errno != 0 {
		return sfe.Errno
	}
	var errno syscall.Errno
	if stderr.As(err, &errno) {
		return errno
	}
	return 0
}
