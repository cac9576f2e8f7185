// Package errors provides error handling utilities for the renderer.
// Includes error wrapping with context, stack traces, and error codes
// matching the pipeline's failure taxonomy.
package errors

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Code represents an error code for categorization.
type Code string

// Error codes for the renderer. The scope of each code decides how far
// it propagates: feature-scoped codes never abort a layer, layer-scoped
// codes never abort a region, region-scoped codes never abort the run.
const (
	// CodeConfig is a schema/range violation. Fatal before a run starts.
	CodeConfig Code = "CONFIG_ERROR"
	// CodeConnection is a database connection failure. Layer-scoped.
	CodeConnection Code = "CONNECTION_ERROR"
	// CodeQuery is a SQL execution failure. Layer-scoped.
	CodeQuery Code = "QUERY_ERROR"
	// CodeFile is an open/seek/read failure. Layer-scoped.
	CodeFile Code = "FILE_ERROR"
	// CodeGeometryDecode is malformed or truncated geometry. Feature-scoped.
	CodeGeometryDecode Code = "GEOMETRY_DECODE_ERROR"
	// CodeProjection is an invalid SRID pair. Fatal to the owning layer,
	// fatal to the run when it is the job's default projection.
	CodeProjection Code = "PROJECTION_ERROR"
	// CodeScript is an embedded script failure. Feature-scoped.
	CodeScript Code = "SCRIPT_ERROR"
	// CodeResource is a raster/buffer allocation failure. Region-scoped.
	CodeResource Code = "RESOURCE_ERROR"
	// CodeCanceled is a run stopped by signal or deadline.
	CodeCanceled Code = "CANCELED"
	// CodeInternal is everything else.
	CodeInternal Code = "INTERNAL_ERROR"
)

// Error is a custom error type with additional context.
type Error struct {
	// Code is the error code for categorization.
	Code Code
	// Message is the human-readable error message.
	Message string
	// Op is the operation that failed (e.g., "layer.psql.query").
	Op string
	// Err is the underlying error.
	Err error
	// Fields contains additional context fields.
	Fields map[string]any
	// Stack contains the stack trace at error creation.
	Stack []Frame
}

// Frame represents a single stack frame.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}

	if e.Code != "" {
		b.WriteString("[")
		b.WriteString(string(e.Code))
		b.WriteString("] ")
	}

	b.WriteString(e.Message)

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithField adds a field to the error.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// WithFields adds multiple fields to the error.
func (e *Error) WithFields(fields map[string]any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	for k, v := range fields {
		e.Fields[k] = v
	}
	return e
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeConfig:
		return 400
	case CodeConnection, CodeQuery:
		return 502
	case CodeFile:
		return 404
	case CodeResource:
		return 507
	case CodeCanceled:
		return 499
	default:
		return 500
	}
}

// StackTrace returns the stack trace as a formatted string.
func (e *Error) StackTrace() string {
	if len(e.Stack) == 0 {
		return ""
	}

	var b strings.Builder
	for _, f := range e.Stack {
		fmt.Fprintf(&b, "  %s:%d %s\n", f.File, f.Line, f.Function)
	}
	return b.String()
}

// New creates a new error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, op string, message string) *Error {
	if err == nil {
		return nil
	}

	// If it's already our error type, preserve the code
	var e *Error
	if errors.As(err, &e) {
		return &Error{
			Code:    e.Code,
			Message: message,
			Op:      op,
			Err:     err,
			Fields:  e.Fields,
			Stack:   captureStack(2),
		}
	}

	return &Error{
		Code:    CodeInternal,
		Message: message,
		Op:      op,
		Err:     err,
		Stack:   captureStack(2),
	}
}

// Wrapf wraps an error with formatted message.
func Wrapf(err error, op string, format string, args ...any) *Error {
	return Wrap(err, op, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific code.
func WrapWithCode(err error, code Code, op string, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:    code,
		Message: message,
		Op:      op,
		Err:     err,
		Stack:   captureStack(2),
	}
}

// Config creates a configuration error.
func Config(message string) *Error {
	return New(CodeConfig, message)
}

// Configf creates a configuration error with formatted message.
func Configf(format string, args ...any) *Error {
	return Newf(CodeConfig, format, args...)
}

// ConfigField creates a configuration error for a specific field.
func ConfigField(field string, message string) *Error {
	return New(CodeConfig, message).WithField("field", field)
}

// Internal creates an internal error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// Internalf creates an internal error with formatted message.
func Internalf(format string, args ...any) *Error {
	return Newf(CodeInternal, format, args...)
}

// Canceled creates a cancellation error for the named operation.
func Canceled(operation string) *Error {
	return New(CodeCanceled, fmt.Sprintf("operation canceled: %s", operation)).
		WithField("operation", operation)
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// GetFields extracts fields from an error.
func GetFields(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) && e.Fields != nil {
		return e.Fields
	}
	return nil
}

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// IsConfig checks if an error is a configuration error.
func IsConfig(err error) bool {
	return IsCode(err, CodeConfig)
}

// IsProjection checks if an error is a projection error.
func IsProjection(err error) bool {
	return IsCode(err, CodeProjection)
}

// IsCanceled checks if an error is a cancellation error.
func IsCanceled(err error) bool {
	return IsCode(err, CodeCanceled) || errors.Is(err, context.Canceled)
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	const maxDepth = 32
	var pcs [maxDepth]uintptr
	n := runtime.Callers(skip+1, pcs[:])

	frames := make([]Frame, 0, n)
	callersFrames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := callersFrames.Next()

		// Skip runtime frames
		if strings.Contains(frame.File, "runtime/") {
			if !more {
				break
			}
			continue
		}

		frames = append(frames, Frame{
			File:     frame.File,
			Line:     frame.Line,
			Function: frame.Function,
		})

		if !more || len(frames) >= 10 {
			break
		}
	}

	return frames
}

// As is a convenience wrapper for errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is is a convenience wrapper for errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
