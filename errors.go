package svcwrap

import (
	"errors"
	"fmt"
	"time"
)

// Common errors returned by administrative operations
var (
	// ErrAlreadyInstalled indicates a service entry with the same name exists
	ErrAlreadyInstalled = errors.New("svcwrap: service already installed")

	// ErrNotInstalled indicates no service entry with the given name exists
	ErrNotInstalled = errors.New("svcwrap: service not installed")

	// ErrUnsupported indicates the host has no service manager adapter
	ErrUnsupported = errors.New("svcwrap: service host not supported on this platform")

	// ErrUnsupportedCommand indicates a host cannot deliver a command
	ErrUnsupportedCommand = errors.New("svcwrap: command not supported by service host")
)

// Operation names an administrative operation
type Operation int

const (
	// OpUnknown represents an unknown operation
	OpUnknown Operation = iota
	// OpInstall registers the service
	OpInstall
	// OpRemove unregisters the service
	OpRemove
	// OpStart asks the host to start the service
	OpStart
	// OpControl sends a command to the running service
	OpControl
	// OpQuery reads the service status
	OpQuery
)

// String returns the string representation of an Operation
func (op Operation) String() string {
	switch op {
	case OpInstall:
		return "install"
	case OpRemove:
		return "remove"
	case OpStart:
		return "start"
	case OpControl:
		return "control"
	case OpQuery:
		return "query"
	default:
		return "unknown"
	}
}

// OpError represents an error from an administrative operation
type OpError struct {
	// Op is the operation that failed
	Op Operation
	// Name is the service name
	Name string
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *OpError) Error() string {
	return fmt.Sprintf("svcwrap %s %q: %v", e.Op.String(), e.Name, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *OpError) Unwrap() error {
	return e.Err
}

// LaunchError reports that the worker process could not be started
type LaunchError struct {
	// Path is the resolved worker executable
	Path string
	// Reason is a short description of the failure
	Reason string
	// Err is the underlying error, if any
	Err error
}

// Error returns a formatted error message
func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("launching %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("launching %s: %s", e.Path, e.Reason)
}

// Unwrap returns the underlying error
func (e *LaunchError) Unwrap() error {
	return e.Err
}

// CommunicationError reports that a logging or status sink is unavailable.
// It is logged locally and never blocks lifecycle progress.
type CommunicationError struct {
	// Sink names the unavailable sink
	Sink string
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *CommunicationError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Sink, e.Err)
}

// Unwrap returns the underlying error
func (e *CommunicationError) Unwrap() error {
	return e.Err
}

// StopTimeoutError reports that an administrative stop gave up waiting.
// The service may still reach Stopped later.
type StopTimeoutError struct {
	// Name is the service name
	Name string
	// Timeout is how long the caller waited
	Timeout time.Duration
	// Last is the last state observed
	Last State
}

// Error returns a formatted error message
func (e *StopTimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for service %s to stop after %s (last state %s)", e.Name, e.Timeout, e.Last)
}

// UnexpectedTermination reports that the worker died outside StopPending
type UnexpectedTermination struct {
	// PID is the worker process id
	PID int
	// Exit is what is known about the exit
	Exit ExitInfo
}

// Error returns a formatted error message
func (e *UnexpectedTermination) Error() string {
	if e.Exit.Code >= 0 && !e.Exit.Time.IsZero() {
		return fmt.Sprintf("worker process %d exited unexpectedly with code %d", e.PID, e.Exit.Code)
	}
	return fmt.Sprintf("worker process %d died unexpectedly", e.PID)
}

// Unwrap returns the wait error, if any
func (e *UnexpectedTermination) Unwrap() error {
	return e.Exit.Err
}

// MultiError aggregates multiple errors from cleanup sequences
type MultiError struct {
	// Errors contains all accumulated errors
	Errors []error
}

// Error returns a summary of the accumulated errors
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred", len(m.Errors))
}

// Add appends an error to the collection if it's not nil
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Err returns nil if no errors occurred, otherwise returns the MultiError itself
func (m *MultiError) Err() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}

// Unwrap exposes the accumulated errors to errors.Is and errors.As
func (m *MultiError) Unwrap() []error {
	return m.Errors
}
