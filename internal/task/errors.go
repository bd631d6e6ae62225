package task

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCompletion marks a body whose completion cannot be observed.
	ErrUnknownCompletion = errors.New("task completion cannot be determined")
	// ErrEmptyComposite marks a Series or Parallel built without children.
	ErrEmptyComposite = errors.New("composite requires at least one task")
	// ErrTaskNotFound is returned by Registry lookups of unregistered names.
	ErrTaskNotFound = errors.New("task not found")
	// ErrRejected is the reason used when a Future is rejected without one.
	ErrRejected = errors.New("future rejected")
)

// ConfigError reports a Unit that cannot be run as configured.
type ConfigError struct {
	Task   string
	Detail string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("task %q: %v", e.Task, e.Err)
	}
	return fmt.Sprintf("task %q: %v (%s)", e.Task, e.Err, e.Detail)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Failure identifies the innermost named task that failed.
type Failure struct {
	Task string
	Err  error
}

func (e *Failure) Error() string {
	return fmt.Sprintf("%s: %v", e.Task, e.Err)
}

func (e *Failure) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking body.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// IsConfigError reports whether err carries a ConfigError.
func IsConfigError(err error) bool {
	var configErr *ConfigError
	return errors.As(err, &configErr)
}

// FailedTask returns the name of the task that produced err, if known.
func FailedTask(err error) string {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Task
	}
	return ""
}
