package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transitionLog struct {
	mu  sync.Mutex
	log []Transition
}

func (l *transitionLog) add(t Transition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log = append(l.log, t)
}

func (l *transitionLog) states() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]State, len(l.log))
	for i, t := range l.log {
		out[i] = t.To
	}
	return out
}

func newDiscovered(t *testing.T, hooks Hooks, cfg Config) *Instance {
	t.Helper()
	inst := New("can0", hooks, cfg)
	_, err := inst.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateDiscovered, inst.State())
	return inst
}

func TestLifecycle_Can0Scenario(t *testing.T) {
	ctx := context.Background()
	var tl transitionLog
	hooks := newFakeHooks()
	inst := newDiscovered(t, hooks, Config{OnTransition: tl.add})
	dev := testDevice()

	require.NoError(t, inst.Initialize(ctx, dev))
	assert.Equal(t, StateInitialized, inst.State())
	require.NoError(t, inst.Connect(ctx, dev))
	assert.Equal(t, StateConnected, inst.State())

	res, err := inst.Command(ctx, dev, "start", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok:start", res)
	assert.Equal(t, StateConnected, inst.State())

	_, err = inst.Command(ctx, dev, "stop", nil)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, inst.State())

	require.NoError(t, inst.Close(ctx, dev))
	assert.Equal(t, StateDisconnected, inst.State())
	assert.NoError(t, inst.LastError())

	assert.Equal(t, []State{
		StateDiscovered,
		StateInitialized,
		StateConnected,
		StateActive, StateConnected,
		StateActive, StateConnected,
		StateDisconnected,
	}, tl.states())
	assert.Equal(t, []string{"scan", "initialize", "connect", "command:start", "command:stop", "close"}, hooks.Calls())
}

func TestCommand_BeforeConnect(t *testing.T) {
	ctx := context.Background()
	hooks := newFakeHooks()
	inst := newDiscovered(t, hooks, Config{})
	dev := testDevice()

	_, err := inst.Command(ctx, dev, "start", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidState)

	var ise *InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, OpCommand, ise.Op)
	assert.Equal(t, StateDiscovered, ise.Current)
	assert.Equal(t, []State{StateConnected}, ise.Expected)

	assert.Equal(t, StateDiscovered, inst.State())
	assert.Equal(t, []string{"scan"}, hooks.Calls())

	require.NoError(t, inst.Initialize(ctx, dev))
	_, err = inst.Command(ctx, dev, "start", nil)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateInitialized, inst.State())
}

func TestCommand_Unknown(t *testing.T) {
	ctx := context.Background()
	inst := newDiscovered(t, newFakeHooks(), Config{})
	dev := testDevice()
	require.NoError(t, inst.Initialize(ctx, dev))
	require.NoError(t, inst.Connect(ctx, dev))

	_, err := inst.Command(ctx, dev, "self_destruct", nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.Equal(t, StateConnected, inst.State())
}

func TestCommand_ObservesActive(t *testing.T) {
	ctx := context.Background()
	hooks := newFakeHooks()
	inst := newDiscovered(t, hooks, Config{})
	dev := testDevice()
	require.NoError(t, inst.Initialize(ctx, dev))
	require.NoError(t, inst.Connect(ctx, dev))

	hooks.inCommand = make(chan struct{})
	hooks.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := inst.Command(ctx, dev, "start", nil)
		done <- err
	}()

	<-hooks.inCommand
	assert.Equal(t, StateActive, inst.State())
	close(hooks.release)
	require.NoError(t, <-done)
	assert.Equal(t, StateConnected, inst.State())
}

func TestHookError_SetsErrorState(t *testing.T) {
	ctx := context.Background()
	hooks := newFakeHooks()
	hooks.failOn["connect"] = errBoom
	inst := newDiscovered(t, hooks, Config{})
	dev := testDevice()
	require.NoError(t, inst.Initialize(ctx, dev))

	err := inst.Connect(ctx, dev)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)

	var derr *DriverError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "can0", derr.Driver)
	assert.Equal(t, OpConnect, derr.Op)
	assert.Equal(t, "dev-1", derr.Device)
	assert.Same(t, errBoom, derr.Unwrap())

	assert.Equal(t, StateError, inst.State())
	assert.ErrorIs(t, inst.LastError(), errBoom)

	// Connect is not allowed from Error; Reset recovers.
	assert.ErrorIs(t, inst.Connect(ctx, dev), ErrInvalidState)
	require.NoError(t, inst.Reset(ctx, dev))
	assert.Equal(t, StateInitialized, inst.State())
	assert.NoError(t, inst.LastError())
}

func TestCommandError_SetsErrorState(t *testing.T) {
	ctx := context.Background()
	hooks := newFakeHooks()
	hooks.failOn["command:start"] = errBoom
	inst := newDiscovered(t, hooks, Config{})
	dev := testDevice()
	require.NoError(t, inst.Initialize(ctx, dev))
	require.NoError(t, inst.Connect(ctx, dev))

	_, err := inst.Command(ctx, dev, "start", nil)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateError, inst.State())
}

func TestHookPanic_IsRecovered(t *testing.T) {
	ctx := context.Background()
	hooks := newFakeHooks()
	hooks.panicOn["initialize"] = true
	inst := newDiscovered(t, hooks, Config{})

	err := inst.Initialize(ctx, testDevice())
	assert.ErrorIs(t, err, ErrHookPanic)
	assert.Equal(t, StateError, inst.State())
}

func TestScan(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing found stays unknown", func(t *testing.T) {
		hooks := newFakeHooks()
		hooks.found = nil
		inst := New("empty", hooks, Config{})
		devs, err := inst.Scan(ctx)
		require.NoError(t, err)
		assert.Empty(t, devs)
		assert.Equal(t, StateUnknown, inst.State())
	})

	t.Run("rescan keeps state", func(t *testing.T) {
		inst := newDiscovered(t, newFakeHooks(), Config{})
		require.NoError(t, inst.Initialize(ctx, testDevice()))
		_, err := inst.Scan(ctx)
		require.NoError(t, err)
		assert.Equal(t, StateInitialized, inst.State())
	})

	t.Run("failure sets error", func(t *testing.T) {
		hooks := newFakeHooks()
		hooks.failOn["scan"] = errBoom
		inst := New("broken", hooks, Config{})
		_, err := inst.Scan(ctx)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, StateError, inst.State())
	})
}

func TestReset_FromUnknownRejected(t *testing.T) {
	inst := New("can0", newFakeHooks(), Config{})
	err := inst.Reset(context.Background(), testDevice())
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateUnknown, inst.State())
}

func TestClose_FromUnknownIsNoop(t *testing.T) {
	hooks := newFakeHooks()
	inst := New("can0", hooks, Config{})
	require.NoError(t, inst.Close(context.Background(), testDevice()))
	assert.Equal(t, StateUnknown, inst.State())
	assert.Empty(t, hooks.Calls())
}

func TestClose_Failure(t *testing.T) {
	hooks := newFakeHooks()
	hooks.failOn["close"] = errBoom
	inst := newDiscovered(t, hooks, Config{})
	err := inst.Close(context.Background(), testDevice())
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateError, inst.State())
}

func TestNilDevice(t *testing.T) {
	inst := newDiscovered(t, newFakeHooks(), Config{})
	ctx := context.Background()
	assert.ErrorIs(t, inst.Initialize(ctx, nil), ErrNilDevice)
	_, err := inst.Command(ctx, nil, "start", nil)
	assert.ErrorIs(t, err, ErrNilDevice)
	assert.ErrorIs(t, inst.Close(ctx, nil), ErrNilDevice)
	assert.ErrorIs(t, inst.StartStreaming(ctx, nil), ErrNilDevice)
}

func TestSupportedCommands_ReturnsCopy(t *testing.T) {
	inst := New("can0", newFakeHooks(), Config{})
	cmds := inst.SupportedCommands()
	cmds["hack"] = "x"
	assert.NotContains(t, inst.SupportedCommands(), "hack")
}

func TestTransitions_AreSerialized(t *testing.T) {
	ctx := context.Background()
	inst := newDiscovered(t, newFakeHooks(), Config{})
	dev := testDevice()
	require.NoError(t, inst.Initialize(ctx, dev))
	require.NoError(t, inst.Connect(ctx, dev))

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := inst.Command(ctx, dev, "start", nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, StateConnected, inst.State())
}

func TestInvalidStateError_Message(t *testing.T) {
	err := &InvalidStateError{Driver: "can0", Op: OpInitialize, Current: StateConnected, Expected: []State{StateDiscovered, StateDisconnected}}
	assert.Equal(t, "driver can0: cannot initialize in state connected (expected discovered|disconnected)", err.Error())
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestTransitionTimestamps(t *testing.T) {
	var tl transitionLog
	before := time.Now()
	newDiscovered(t, newFakeHooks(), Config{OnTransition: tl.add})
	require.Len(t, tl.log, 1)
	assert.False(t, tl.log[0].At.Before(before))
	assert.Equal(t, StateUnknown, tl.log[0].From)
}
