// Package shop provides the shared error, validation, identity and server
// plumbing used by the storefront engine packages.
package shop

import (
	"errors"
	"fmt"
)

// StatusCode represents the category of a rejected engine operation.
type StatusCode int

const (
	StatusInvalidArgument StatusCode = iota
	StatusFailedPrecondition
	StatusUnavailable
	StatusAborted
)

func (s StatusCode) String() string {
	switch s {
	case StatusInvalidArgument:
		return "INVALID_ARGUMENT"
	case StatusFailedPrecondition:
		return "FAILED_PRECONDITION"
	case StatusUnavailable:
		return "UNAVAILABLE"
	case StatusAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// CommandError is returned when an operation is rejected by engine logic.
type CommandError struct {
	Code    StatusCode
	Message string
}

func (e *CommandError) Error() string {
	return e.Message
}

// NewInvalidArgument creates a CommandError for invalid input.
func NewInvalidArgument(message string) *CommandError {
	return &CommandError{Code: StatusInvalidArgument, Message: message}
}

// NewFailedPrecondition creates a CommandError for violated preconditions.
func NewFailedPrecondition(message string) *CommandError {
	return &CommandError{Code: StatusFailedPrecondition, Message: message}
}

// NewFailedPreconditionf creates a CommandError with a formatted message.
func NewFailedPreconditionf(format string, args ...interface{}) *CommandError {
	return &CommandError{Code: StatusFailedPrecondition, Message: fmt.Sprintf(format, args...)}
}

// NewUnavailable creates a CommandError for an unreachable collaborator.
func NewUnavailable(message string) *CommandError {
	return &CommandError{Code: StatusUnavailable, Message: message}
}

// NewAborted creates a CommandError for an operation abandoned mid-flight.
func NewAborted(message string) *CommandError {
	return &CommandError{Code: StatusAborted, Message: message}
}

// CodeOf reports the StatusCode carried by err, if any.
func CodeOf(err error) (StatusCode, bool) {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code, true
	}
	return 0, false
}
