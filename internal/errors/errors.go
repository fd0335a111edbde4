package errors

import (
	"errors"
	"fmt"
)

// Error code constants.
const (
	CodeServerNotFound     = "SERVER_NOT_FOUND"
	CodeServerDisabled     = "SERVER_DISABLED"
	CodeExecutableNotFound = "EXECUTABLE_NOT_FOUND"
	CodeSpawnFailed        = "SPAWN_FAILED"
	CodeEarlyExit          = "EARLY_EXIT"
	CodeConfigInvalid      = "CONFIG_INVALID"
	CodeConfigLocked       = "CONFIG_LOCKED"
	CodeNameCollision      = "NAME_COLLISION"
)

// Error represents a toolhost error with a code and message.
// It implements the error interface and supports error wrapping.
type Error struct {
	wrapped error
	Code    string
	Message string
}

// Error returns the error message, implementing the error interface.
func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error, supporting errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.wrapped
}

// New creates a new toolhost error with the given code and message.
func New(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new toolhost error that wraps an underlying error.
func Wrap(code string, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		wrapped: err,
	}
}

// Code extracts the error code from an error.
// Returns an empty string if the error is not a toolhost error.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var hostErr *Error
	if errors.As(err, &hostErr) {
		return hostErr.Code
	}
	return ""
}

// Is checks if an error has a specific error code.
func Is(err error, code string) bool {
	return Code(err) == code
}

// Join is errors.Join, re-exported so callers importing this package under
// the name "errors" keep access to it.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// ServerNotFound creates a SERVER_NOT_FOUND error.
func ServerNotFound(name string) *Error {
	return New(CodeServerNotFound, fmt.Sprintf("no server named %q is configured", name))
}

// ServerDisabled creates a SERVER_DISABLED error.
func ServerDisabled(name string) *Error {
	return New(CodeServerDisabled, fmt.Sprintf("server %q is disabled", name))
}

// ExecutableNotFound creates an EXECUTABLE_NOT_FOUND error.
func ExecutableNotFound(command string, err error) *Error {
	return Wrap(CodeExecutableNotFound, fmt.Sprintf("executable %q not found", command), err)
}

// SpawnFailed creates a SPAWN_FAILED error wrapping the OS-level cause.
func SpawnFailed(name string, err error) *Error {
	return Wrap(CodeSpawnFailed, fmt.Sprintf("failed to spawn server %q", name), err)
}

// EarlyExit creates an EARLY_EXIT error for a process that died during its
// startup grace period.
func EarlyExit(name string, exitCode int) *Error {
	return New(CodeEarlyExit, fmt.Sprintf("server %q exited during startup with code %d", name, exitCode))
}

// ConfigInvalid creates a CONFIG_INVALID error.
func ConfigInvalid(reason string) *Error {
	return New(CodeConfigInvalid, fmt.Sprintf("invalid server configuration: %s", reason))
}

// ConfigLocked creates a CONFIG_LOCKED error.
func ConfigLocked(path string) *Error {
	return New(CodeConfigLocked, fmt.Sprintf("configuration %q is locked by another process", path))
}

// NameCollision creates a NAME_COLLISION error.
func NameCollision(name string) *Error {
	return New(CodeNameCollision, fmt.Sprintf("server name %q is already in use", name))
}
