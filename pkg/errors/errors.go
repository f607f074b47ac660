// Package errors provides coded, structured errors for ecmcheck.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code identifies an error kind for programmatic handling.
type Code string

const (
	// Input errors (1xx)
	CodeFileNotFound      Code = "E101"
	CodeInvalidFormat     Code = "E103"
	CodeMissingCollection Code = "E104"
	CodeInvalidConfig     Code = "E107"

	// Processing errors (2xx)
	CodeCapacityExceeded Code = "E205"
	CodeUnknownStage     Code = "E206"

	// Output errors (3xx)
	CodeWriteFailed   Code = "E301"
	CodePublishFailed Code = "E304"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"

	// Unknown
	CodeUnknown Code = "E999"
)

// Error is the base error type for all ecmcheck errors.
type Error struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with a code. It returns nil for a nil err.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *Error) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrMissingCollection = &Error{Code: CodeMissingCollection, Message: "input collection not found"}
	ErrCapacityExceeded  = &Error{Code: CodeCapacityExceeded, Message: "cut table capacity exceeded"}
	ErrUnknownStage      = &Error{Code: CodeUnknownStage, Message: "unknown cut stage"}
	ErrWriteFailed       = &Error{Code: CodeWriteFailed, Message: "output write failed"}
)

// --- Convenience constructors ---

// FileNotFound creates a file not found error.
func FileNotFound(path string) *Error {
	return New(CodeFileNotFound, "file not found").WithContext("path", path)
}

// MissingCollection reports an event without the named particle collection.
func MissingCollection(name string, run, event int32) *Error {
	return New(CodeMissingCollection, "input collection not found").
		WithContext("collection", name).
		WithContext("run", run).
		WithContext("event", event)
}

// CapacityExceeded reports a cut ordinal outside the table.
func CapacityExceeded(id, capacity int) *Error {
	return New(CodeCapacityExceeded, "cut ordinal exceeds table capacity").
		WithContext("id", id).
		WithContext("capacity", capacity)
}

// UnknownStage reports a pass recorded on an undeclared ordinal.
func UnknownStage(id int) *Error {
	return New(CodeUnknownStage, "cut stage not declared").WithContext("id", id)
}

// WriteFailed wraps an output failure.
func WriteFailed(err error, path string) *Error {
	e := Wrap(err, CodeWriteFailed, "output write failed")
	if e == nil {
		return nil
	}
	return e.WithContext("path", path)
}

// ParseError creates a parsing error with location.
func ParseError(format string, line int, err error) *Error {
	e := New(CodeInvalidFormat, "parse error").
		WithContext("format", format).
		WithContext("line", line)
	e.Cause = err
	return e
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string, cause error) *Error {
	e := New(CodeContextCanceled, "operation canceled").WithContext("operation", operation)
	e.Cause = cause
	return e
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsFatal reports whether err must stop a run. A missing input collection
// only costs the event and is left to the caller's policy.
func IsFatal(err error) bool {
	return GetCode(err) != CodeMissingCollection
}

// Stack returns the formatted stack trace of the first coded error in
// err's chain, or "" when there is none.
func Stack(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.FormatStack()
	}
	return ""
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
