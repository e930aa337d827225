package browser

import (
	"errors"
	"fmt"
)

var (
	ErrUnavailable      = errors.New("browser runtime unavailable")
	ErrSessionClosed    = errors.New("browser session closed")
	ErrSessionExists    = errors.New("browser session already exists")
	ErrConnectionLost   = errors.New("browser connection lost")
	ErrOperationTimeout = errors.New("operation timeout")
	ErrElementNotFound  = errors.New("element not found")
)

// Driver error codes.
const (
	CodeUnavailable    = "unavailable"
	CodeConnectionLost = "connection_lost"
	CodeTimeout        = "timeout"
	CodeNavigation     = "navigation"
	CodeEvaluation     = "evaluation"
	CodeInput          = "input"
)

// DriverError wraps errors from the browser driver with additional context.
type DriverError struct {
	Code    string
	Message string
	Err     error
}

func (e *DriverError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("browser driver error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("browser driver error [%s]: %s", e.Code, e.Message)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// NewDriverError creates a new DriverError.
func NewDriverError(code, message string) *DriverError {
	return &DriverError{Code: code, Message: message}
}

// WrapDriverError wraps an existing error with driver context.
func WrapDriverError(code, message string, err error) *DriverError {
	return &DriverError{Code: code, Message: message, Err: err}
}

// IsConnectionError returns true if the error indicates a lost connection.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionLost) {
		return true
	}
	var driverErr *DriverError
	if errors.As(err, &driverErr) {
		return driverErr.Code == CodeConnectionLost || driverErr.Code == CodeUnavailable
	}
	return false
}

// IsTimeout returns true if the error came from an expired deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOperationTimeout) {
		return true
	}
	var driverErr *DriverError
	return errors.As(err, &driverErr) && driverErr.Code == CodeTimeout
}
