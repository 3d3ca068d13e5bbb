// Package errors provides structured error handling for the xetra job.
//
// Every stage of a run reports failures as *Error values carrying an
// ErrorType, so callers (and tests) can attribute a failure to the stage that
// produced it with IsType instead of matching on message text.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound represents missing objects or keys
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeConnection represents storage connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeData represents data processing errors
	ErrorTypeData ErrorType = "data"

	// ErrorTypeConfigLoad is returned when the configuration file is missing,
	// unreadable or not a mapping.
	ErrorTypeConfigLoad ErrorType = "config_load"
	// ErrorTypeLoggingConfig is returned for a malformed logging section.
	ErrorTypeLoggingConfig ErrorType = "logging_config"
	// ErrorTypeConnectorConstruction is returned for invalid connector parameters.
	ErrorTypeConnectorConstruction ErrorType = "connector_construction"
	// ErrorTypeMissingParameter is returned when a required parameter is absent.
	ErrorTypeMissingParameter ErrorType = "missing_parameter"
	// ErrorTypeUnrecognizedParameter is returned for a parameter with no matching field.
	ErrorTypeUnrecognizedParameter ErrorType = "unrecognized_parameter"
	// ErrorTypeReportExecution wraps any failure inside a report run.
	ErrorTypeReportExecution ErrorType = "report_execution"
	// ErrorTypeWrongFormat is returned for an unsupported file format.
	ErrorTypeWrongFormat ErrorType = "wrong_format"
	// ErrorTypeWrongMetaFile is returned when the meta file columns do not match.
	ErrorTypeWrongMetaFile ErrorType = "wrong_meta_file"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// IsType reports whether any error in err's chain is an *Error of the given
// type. Wrapped errors keep their original type visible, so a missing
// parameter wrapped into a report failure is both.
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// TypeOf returns the outermost ErrorType in err's chain, or ErrorTypeInternal
// for errors that did not originate in this package.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// As is errors.As from the standard library, re-exported so callers that
// import this package as "errors" keep access to it.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
