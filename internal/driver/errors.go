package driver

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidState is matched by every *InvalidStateError.
	ErrInvalidState = errors.New("driver: invalid state")

	// ErrUnknownCommand is returned for a command the driver does not list.
	ErrUnknownCommand = errors.New("driver: unknown command")

	// ErrStreamingUnsupported is returned by StartStreaming when the
	// driver does not implement Acquirer.
	ErrStreamingUnsupported = errors.New("driver: streaming not supported")

	// ErrStopTimeout is returned when an acquisition loop does not exit
	// within the stop timeout.
	ErrStopTimeout = errors.New("driver: acquisition loop did not stop in time")

	// ErrNilDevice is returned when an operation needs a device and got nil.
	ErrNilDevice = errors.New("driver: device is required")

	// ErrHookPanic wraps a recovered panic from a driver hook.
	ErrHookPanic = errors.New("driver: hook panicked")
)

// InvalidStateError reports an operation attempted from a state its
// precondition does not allow.
type InvalidStateError struct {
	Driver   string
	Op       Op
	Current  State
	Expected []State
}

func (e *InvalidStateError) Error() string {
	names := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		names[i] = string(s)
	}
	return fmt.Sprintf("driver %s: cannot %s in state %s (expected %s)",
		e.Driver, e.Op, e.Current, strings.Join(names, "|"))
}

// Is matches ErrInvalidState.
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// DriverError wraps a failure returned (or panicked) by a driver hook.
type DriverError struct {
	Driver string
	Op     Op
	Device string
	Err    error
}

func (e *DriverError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("driver %s: %s: %v", e.Driver, e.Op, e.Err)
	}
	return fmt.Sprintf("driver %s: %s %s: %v", e.Driver, e.Op, e.Device, e.Err)
}

// Unwrap returns the hook's error.
func (e *DriverError) Unwrap() error {
	return e.Err
}
