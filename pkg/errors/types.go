package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigParse   ErrorCode = "CONFIG_PARSE"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Browser errors
	ErrCodeBrowserStart  ErrorCode = "BROWSER_START"
	ErrCodeBrowserDriver ErrorCode = "BROWSER_DRIVER"

	// Check errors
	ErrCodeCheckUnknown ErrorCode = "CHECK_UNKNOWN"
	ErrCodeCheckInvalid ErrorCode = "CHECK_INVALID"

	// Event ingestion errors
	ErrCodeIngestSource ErrorCode = "INGEST_SOURCE"
	ErrCodeIngestDecode ErrorCode = "INGEST_DECODE"

	// Output errors
	ErrCodeReportWrite   ErrorCode = "REPORT_WRITE"
	ErrCodeMetricsExport ErrorCode = "METRICS_EXPORT"

	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Error represents a structured webprobe error
type Error struct {
	Code        ErrorCode
	Message     string
	Underlying  error
	Context     map[string]any
	Stack       []Frame
	UserMessage string
	Remediation []string
}

// Frame represents a stack frame
type Frame struct {
	Function string
	File     string
	Line     int
}

// New creates a new structured error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
		Stack:   captureStack(2),
	}
}

// Newf is New with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	e := New(code, fmt.Sprintf(format, args...))
	e.Stack = captureStack(2)
	return e
}

// Wrap wraps an existing error with webprobe error context
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
		Stack:      captureStack(2),
	}
}

// WithContext adds context key-value pairs to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithUserMessage sets the human-friendly message shown by the CLI.
func (e *Error) WithUserMessage(message string) *Error {
	e.UserMessage = message
	return e
}

// WithRemediation appends actionable remediation tips for the error.
func (e *Error) WithRemediation(tips ...string) *Error {
	if len(tips) == 0 {
		return e
	}
	e.Remediation = append([]string{}, tips...)
	return e
}

// Error implements the error interface. Context keys are printed sorted.
func (e *Error) Error() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %v", k, e.Context[k])
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		fmt.Fprintf(&sb, ": %v", e.Underlying)
	}

	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// StackTrace returns a formatted stack trace
func (e *Error) StackTrace() string {
	var sb strings.Builder

	sb.WriteString("Stack trace:\n")
	for i, frame := range e.Stack {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, frame.String())
		fmt.Fprintf(&sb, "     %s:%d\n", frame.File, frame.Line)
	}

	return sb.String()
}

// String formats a stack frame
func (f Frame) String() string {
	return f.Function
}

// captureStack captures the current call stack
func captureStack(skip int) []Frame {
	const maxDepth = 32
	var pcs [maxDepth]uintptr

	n := runtime.Callers(skip+1, pcs[:])
	frames := make([]Frame, 0, n)

	for i := 0; i < n; i++ {
		pc := pcs[i]
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		file, line := fn.FileLine(pc)

		frames = append(frames, Frame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}

// As finds the first structured error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if err == nil || !stderrors.As(err, &e) {
		return nil, false
	}
	return e, true
}

// IsCode checks if any error in the chain has a specific error code
func IsCode(err error, code ErrorCode) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	e, ok := As(err)
	if !ok {
		return ErrCodeInternal
	}
	return e.Code
}
