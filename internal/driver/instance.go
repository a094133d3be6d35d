package driver

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/nerrad567/probebench/internal/device"
	"github.com/nerrad567/probebench/internal/stream"
)

// DefaultStopTimeout bounds StopStreaming when Config leaves it zero.
const DefaultStopTimeout = 5 * time.Second

// Config holds the framework-side settings of an instance.
type Config struct {
	// StopTimeout bounds how long StopStreaming waits for the loop to exit.
	StopTimeout time.Duration

	// Publisher receives envelopes from acquisition loops and the
	// broadcasting flag of streaming channels. Nil discards them.
	Publisher stream.Publisher

	// OnTransition is called after every state change, in order, while the
	// instance is still locked. It must not call back into the instance.
	OnTransition func(Transition)
}

// Instance wraps one driver's hooks with the lifecycle state machine.
// There is one Instance per loaded driver; it manages every device that
// driver handles.
type Instance struct {
	name     string
	hooks    Hooks
	commands map[string]string
	config   Config
	logger   Logger

	// opMu serializes operations; stateMu only guards the fields below so
	// State can be read while a hook runs.
	opMu    sync.Mutex
	stateMu sync.RWMutex
	state   State
	lastErr error

	streamMu sync.Mutex
	workers  map[string]*worker
}

// New creates an instance in StateUnknown. The supported command table is
// captured once here.
func New(name string, hooks Hooks, cfg Config) *Instance {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.Publisher == nil {
		cfg.Publisher = discardPublisher{}
	}
	return &Instance{
		name:     name,
		hooks:    hooks,
		commands: maps.Clone(hooks.SupportedCommands()),
		config:   cfg,
		logger:   noopLogger{},
		state:    StateUnknown,
		workers:  make(map[string]*worker),
	}
}

// SetLogger sets the logger for the instance.
func (i *Instance) SetLogger(logger Logger) {
	i.logger = logger
}

// Name returns the driver name this instance is registered under.
func (i *Instance) Name() string {
	return i.name
}

// Hooks returns the wrapped driver implementation.
func (i *Instance) Hooks() Hooks {
	return i.hooks
}

// State returns the current state. During Command it reports StateActive.
func (i *Instance) State() State {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()
	return i.state
}

// LastError returns the error that last moved the instance to StateError.
func (i *Instance) LastError() error {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()
	return i.lastErr
}

// SupportedCommands returns a copy of the command table.
func (i *Instance) SupportedCommands() map[string]string {
	return maps.Clone(i.commands)
}

// =============================================================================
// Lifecycle operations
// =============================================================================

// Scan asks the driver for devices. It runs from any state; only from
// StateUnknown does finding devices move the instance to StateDiscovered.
func (i *Instance) Scan(ctx context.Context) ([]*device.Device, error) {
	i.opMu.Lock()
	defer i.opMu.Unlock()

	from := i.State()
	var found []*device.Device
	err := invoke(func() error {
		var hookErr error
		found, hookErr = i.hooks.ScanImpl(ctx)
		return hookErr
	})
	if err != nil {
		return nil, i.fail(OpScan, "", from, err)
	}

	to := from
	if from == StateUnknown && len(found) > 0 {
		to = StateDiscovered
	}
	i.transition(OpScan, "", from, to)
	return found, nil
}

// Initialize prepares dev. Allowed from Discovered or Disconnected.
func (i *Instance) Initialize(ctx context.Context, dev *device.Device) error {
	return i.run(ctx, OpInitialize, dev, StateInitialized, i.hooks.InitializeImpl)
}

// Connect opens the transport to dev. Allowed from Initialized.
func (i *Instance) Connect(ctx context.Context, dev *device.Device) error {
	return i.run(ctx, OpConnect, dev, StateConnected, i.hooks.ConnectImpl)
}

// Reset returns the instance to Initialized from any state but Unknown.
func (i *Instance) Reset(ctx context.Context, dev *device.Device) error {
	return i.run(ctx, OpReset, dev, StateInitialized, i.hooks.ResetImpl)
}

// Command runs cmd against dev. The instance must be Connected and cmd
// must be in the supported command table. The state reads Active while
// the hook runs and returns to Connected when it succeeds.
func (i *Instance) Command(ctx context.Context, dev *device.Device, cmd string, args map[string]any) (any, error) {
	if dev == nil {
		return nil, ErrNilDevice
	}

	i.opMu.Lock()
	defer i.opMu.Unlock()

	from := i.State()
	if err := i.check(OpCommand, from); err != nil {
		return nil, err
	}
	if _, ok := i.commands[cmd]; !ok {
		return nil, fmt.Errorf("%w: %q for driver %s", ErrUnknownCommand, cmd, i.name)
	}

	i.transition(OpCommand, dev.ID, from, StateActive)

	var result any
	err := invoke(func() error {
		var hookErr error
		result, hookErr = i.hooks.CommandImpl(ctx, dev, cmd, args)
		return hookErr
	})
	if err != nil {
		return nil, i.fail(OpCommand, dev.ID, StateActive, err)
	}

	i.transition(OpCommand, dev.ID, StateActive, StateConnected)
	return result, nil
}

// Close stops any streaming for dev and closes its transport. Closing an
// instance still in StateUnknown is a no-op.
func (i *Instance) Close(ctx context.Context, dev *device.Device) error {
	if dev == nil {
		return ErrNilDevice
	}

	i.opMu.Lock()
	defer i.opMu.Unlock()

	from := i.State()
	if from == StateUnknown {
		return nil
	}

	if err := i.StopStreaming(ctx, dev); err != nil {
		i.logger.Warn("stopping acquisition before close",
			"driver", i.name,
			"device", dev.ID,
			"error", err,
		)
	}

	if err := invoke(func() error { return i.hooks.CloseImpl(ctx, dev) }); err != nil {
		return i.fail(OpClose, dev.ID, from, err)
	}
	i.transition(OpClose, dev.ID, from, StateDisconnected)
	return nil
}

type deviceHook func(ctx context.Context, dev *device.Device) error

func (i *Instance) run(ctx context.Context, op Op, dev *device.Device, to State, hook deviceHook) error {
	if dev == nil {
		return ErrNilDevice
	}

	i.opMu.Lock()
	defer i.opMu.Unlock()

	from := i.State()
	if err := i.check(op, from); err != nil {
		return err
	}
	if err := invoke(func() error { return hook(ctx, dev) }); err != nil {
		return i.fail(op, dev.ID, from, err)
	}
	i.transition(op, dev.ID, from, to)
	return nil
}

func (i *Instance) check(op Op, current State) error {
	if ok, expected := allowed(op, current); !ok {
		return &InvalidStateError{
			Driver:   i.name,
			Op:       op,
			Current:  current,
			Expected: expected,
		}
	}
	return nil
}

func (i *Instance) fail(op Op, deviceID string, from State, err error) error {
	derr := &DriverError{Driver: i.name, Op: op, Device: deviceID, Err: err}

	i.stateMu.Lock()
	i.state = StateError
	i.lastErr = derr
	i.stateMu.Unlock()

	i.logger.Warn("driver operation failed",
		"driver", i.name,
		"op", op,
		"device", deviceID,
		"error", err,
	)
	i.emit(Transition{Driver: i.name, Device: deviceID, Op: op, From: from, To: StateError, Err: derr})
	return derr
}

func (i *Instance) transition(op Op, deviceID string, from, to State) {
	i.stateMu.Lock()
	i.state = to
	if to != StateError {
		i.lastErr = nil
	}
	i.stateMu.Unlock()

	if from != to {
		i.logger.Debug("driver state changed",
			"driver", i.name,
			"op", op,
			"from", from,
			"to", to,
		)
	}
	i.emit(Transition{Driver: i.name, Device: deviceID, Op: op, From: from, To: to})
}

func (i *Instance) emit(t Transition) {
	if i.config.OnTransition == nil {
		return
	}
	t.At = time.Now()
	i.config.OnTransition(t)
}

// invoke runs a hook, turning a panic into an error.
func invoke(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHookPanic, r)
		}
	}()
	return fn()
}
