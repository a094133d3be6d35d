package driver

import (
	"context"

	"github.com/nerrad567/probebench/internal/device"
)

// Hooks is the contract a concrete driver implements. The Instance
// wrapping it guarantees that at most one hook runs at a time and that
// each hook is only called from a state its operation allows.
type Hooks interface {
	// SupportedCommands maps command name to a human description.
	SupportedCommands() map[string]string

	ScanImpl(ctx context.Context) ([]*device.Device, error)
	InitializeImpl(ctx context.Context, dev *device.Device) error
	ConnectImpl(ctx context.Context, dev *device.Device) error
	CommandImpl(ctx context.Context, dev *device.Device, cmd string, args map[string]any) (any, error)
	ResetImpl(ctx context.Context, dev *device.Device) error
	CloseImpl(ctx context.Context, dev *device.Device) error
}

// Acquirer is implemented by drivers that support continuous capture.
//
// AcquisitionLoop must return promptly once ctx is done, use bounded waits
// on I/O, and handle its own per-iteration errors. PollLoop covers the
// common case. A loop that returns before ctx is done ends the session:
// the channel stops broadcasting, CleanupAcquisition runs and the device
// can be started again.
type Acquirer interface {
	SetupAcquisition(ctx context.Context, dev *device.Device) error
	AcquisitionLoop(ctx context.Context, dev *device.Device, emit *Emitter)
	CleanupAcquisition(ctx context.Context, dev *device.Device) error
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
