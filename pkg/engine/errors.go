package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for run-control decisions.
type ErrorClass string

const (
	// ErrorClassFatal indicates a startup failure that terminates the process.
	// Examples: missing configuration, incompatible config version, lock held.
	ErrorClassFatal ErrorClass = "fatal"

	// ErrorClassLoad indicates a plugin could not be resolved or is incompatible.
	// The plugin is skipped and the run continues.
	ErrorClassLoad ErrorClass = "load"

	// ErrorClassRuntime indicates a failure raised by a plugin's Init or Run.
	// The plugin's contribution is abandoned and the run continues.
	ErrorClassRuntime ErrorClass = "runtime"

	// ErrorClassRetention indicates a failure while pruning expired backups.
	ErrorClassRetention ErrorClass = "retention"

	// ErrorClassLock indicates a process lock conflict or release failure.
	ErrorClassLock ErrorClass = "lock"
)

// ExitCodeFatal is the process exit status for fatal startup conditions.
const ExitCodeFatal = 9

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the profile or path that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Resource != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", e.Message, e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", e.Message, e.Resource)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewFatalError creates a new fatal startup error.
func NewFatalError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassFatal, Message: message, Err: err}
}

// NewLoadError creates a new plugin load error.
func NewLoadError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassLoad, Message: message, Err: err}
}

// NewRuntimeError creates a new plugin runtime error.
func NewRuntimeError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassRuntime, Message: message, Err: err}
}

// NewRetentionError creates a new retention error.
func NewRetentionError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassRetention, Message: message, Err: err}
}

// NewLockError creates a new lock error.
func NewLockError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassLock, Message: message, Err: err}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsFatal returns true if the error must terminate the process.
func IsFatal(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassFatal
}

// IsLoad returns true if the error is a plugin load error.
func IsLoad(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassLoad
}

// IsRuntime returns true if the error was raised by a plugin at runtime.
func IsRuntime(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassRuntime
}

// IsRetention returns true if the error is a retention error.
func IsRetention(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassRetention
}

// IsLock returns true if the error is a lock error.
func IsLock(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassLock
}

// Common error codes.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeAlreadyExists   = "ALREADY_EXISTS"
	ErrCodeMissingVersion  = "MISSING_API_VERSION"
	ErrCodeVersionMismatch = "VERSION_MISMATCH"
	ErrCodeNotADirectory   = "NOT_A_DIRECTORY"
	ErrCodeLockHeld        = "LOCK_HELD"
	ErrCodePanic           = "PANIC"
	ErrCodePluginFailed    = "PLUGIN_FAILED"
)
