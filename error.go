package hearth

import (
	"errors"
	"fmt"
)

// Domain error codes - transport layer maps these to HTTP status codes.
const (
	ECONFLICT    = "conflict"    // 409 - Resource already exists
	EINTERNAL    = "internal"    // 500 - Internal server error
	EINVALID     = "invalid"     // 400 - Invalid input
	ENOTFOUND    = "not_found"   // 404 - Resource not found
	EUNAVAILABLE = "unavailable" // 503 - Transient storage failure, safe to retry
)

// Error represents an application-specific error.
type Error struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// Fields contains field-specific validation errors.
	Fields map[string]string `json:"fields,omitempty"`

	// Err is the underlying error (not exposed to clients).
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a new application error with a formatted message.
func Errorf(code string, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an underlying error with application context.
func WrapError(code string, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationKind names the class of a rejected upload batch.
type ValidationKind string

const (
	CountOutOfRange   ValidationKind = "count_out_of_range"
	UnsupportedFormat ValidationKind = "unsupported_format"
	TooLarge          ValidationKind = "too_large"
	Empty             ValidationKind = "empty"
)

// ValidationError is a pre-flight rejection of an upload batch. No store
// mutation has happened when one is returned.
type ValidationError struct {
	Kind ValidationKind

	// Index is the position of the offending upload, or -1 for batch-level
	// violations such as CountOutOfRange.
	Index int

	Count int    // CountOutOfRange
	Ext   string // UnsupportedFormat
	Size  int64  // TooLarge
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case CountOutOfRange:
		return fmt.Sprintf("image count %d out of range", e.Count)
	case UnsupportedFormat:
		return fmt.Sprintf("image %d: unsupported format %q", e.Index, e.Ext)
	case TooLarge:
		return fmt.Sprintf("image %d: %d bytes exceeds limit", e.Index, e.Size)
	case Empty:
		return fmt.Sprintf("image %d is empty", e.Index)
	}
	return string(e.Kind)
}

// StorageError reports a failed object store call. Transient errors
// (timeouts, throttling, 5xx) can be retried by re-running the whole batch.
type StorageError struct {
	Op        string
	Key       string
	Transient bool
	Err       error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a StorageError marked transient.
func IsTransient(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Transient
}

// ErrorCode extracts the error code from an error.
// Returns EINTERNAL if the error is not a recognised domain error.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return EINVALID
	}
	var se *StorageError
	if errors.As(err, &se) {
		if se.Transient {
			return EUNAVAILABLE
		}
	}
	return EINTERNAL
}

// ErrorMessage extracts the user-safe message from an error.
// Returns a generic message if the error is not an *Error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	if IsTransient(err) {
		return "Storage is temporarily unavailable, please retry."
	}
	return "An internal error occurred."
}

// ErrorFields extracts field-specific errors from a validation error.
// Returns nil if the error has no field errors.
func ErrorFields(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return map[string]string{"kind": string(ve.Kind)}
	}
	return nil
}

// IsErrorCode checks if an error has the specified error code.
func IsErrorCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// NotFound creates a not found error.
func NotFound(format string, args ...any) *Error {
	return Errorf(ENOTFOUND, format, args...)
}

// Invalid creates a validation error.
func Invalid(format string, args ...any) *Error {
	return Errorf(EINVALID, format, args...)
}

// Conflict creates a conflict error.
func Conflict(format string, args ...any) *Error {
	return Errorf(ECONFLICT, format, args...)
}

// Internal creates an internal error, wrapping the underlying cause.
func Internal(message string, err error) *Error {
	return WrapError(EINTERNAL, message, err)
}
