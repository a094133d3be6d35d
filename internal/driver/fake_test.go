package driver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/probebench/internal/device"
	"github.com/nerrad567/probebench/internal/stream"
)

// fakeHooks records hook calls and lets tests inject failures.
type fakeHooks struct {
	mu      sync.Mutex
	calls   []string
	failOn  map[string]error
	panicOn map[string]bool
	found   []*device.Device

	// inCommand is signalled while CommandImpl runs; release unblocks it.
	inCommand chan struct{}
	release   chan struct{}
}

func newFakeHooks() *fakeHooks {
	return &fakeHooks{
		failOn:  make(map[string]error),
		panicOn: make(map[string]bool),
		found:   []*device.Device{{ID: "dev-1", Name: "bench", Type: device.TypeCAN}},
	}
}

func (f *fakeHooks) record(name string) error {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	err := f.failOn[name]
	p := f.panicOn[name]
	f.mu.Unlock()
	if p {
		panic(name + " exploded")
	}
	return err
}

func (f *fakeHooks) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeHooks) SupportedCommands() map[string]string {
	return map[string]string{"start": "start capture", "stop": "stop capture"}
}

func (f *fakeHooks) ScanImpl(context.Context) ([]*device.Device, error) {
	if err := f.record("scan"); err != nil {
		return nil, err
	}
	return f.found, nil
}

func (f *fakeHooks) InitializeImpl(context.Context, *device.Device) error {
	return f.record("initialize")
}

func (f *fakeHooks) ConnectImpl(context.Context, *device.Device) error {
	return f.record("connect")
}

func (f *fakeHooks) CommandImpl(_ context.Context, _ *device.Device, cmd string, _ map[string]any) (any, error) {
	if f.inCommand != nil {
		f.inCommand <- struct{}{}
		<-f.release
	}
	if err := f.record("command:" + cmd); err != nil {
		return nil, err
	}
	return "ok:" + cmd, nil
}

func (f *fakeHooks) ResetImpl(context.Context, *device.Device) error {
	return f.record("reset")
}

func (f *fakeHooks) CloseImpl(context.Context, *device.Device) error {
	return f.record("close")
}

// fakeAcquirer adds streaming to fakeHooks.
type fakeAcquirer struct {
	*fakeHooks
	loops     atomic.Int32
	cleanups  atomic.Int32
	ignoreCtx bool
	exited    chan struct{}

	// exitDelay is how long the loop takes to notice cancellation.
	exitDelay time.Duration
	// quit makes the loop return on its own when closed.
	quit chan struct{}
	// setupGate, when set, blocks SetupAcquisition until closed.
	setupGate chan struct{}

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeAcquirer() *fakeAcquirer {
	return &fakeAcquirer{fakeHooks: newFakeHooks(), exited: make(chan struct{}, 8)}
}

func (f *fakeAcquirer) SetupAcquisition(context.Context, *device.Device) error {
	if f.setupGate != nil {
		<-f.setupGate
	}
	return f.record("setup")
}

func (f *fakeAcquirer) AcquisitionLoop(ctx context.Context, _ *device.Device, emit *Emitter) {
	f.loops.Add(1)
	n := f.active.Add(1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	defer func() {
		f.active.Add(-1)
		f.exited <- struct{}{}
	}()
	if f.ignoreCtx {
		time.Sleep(200 * time.Millisecond)
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if quit := f.quit; quit != nil {
		go func() {
			select {
			case <-quit:
				cancel()
			case <-loopCtx.Done():
			}
		}()
	}
	PollLoop(loopCtx, 5*time.Millisecond, nil, func(context.Context) error {
		return emit.Data("counter", 1)
	})
	if ctx.Err() != nil {
		time.Sleep(f.exitDelay)
	}
}

func (f *fakeAcquirer) CleanupAcquisition(context.Context, *device.Device) error {
	f.cleanups.Add(1)
	return f.record("cleanup")
}

// recordingPublisher captures envelopes and broadcasting flags.
type recordingPublisher struct {
	mu           sync.Mutex
	envs         []stream.Envelope
	broadcasting map[string]bool
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{broadcasting: make(map[string]bool)}
}

func (p *recordingPublisher) Broadcast(env stream.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return nil
}

func (p *recordingPublisher) MarkBroadcasting(ch string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcasting[ch] = true
}

func (p *recordingPublisher) ClearBroadcasting(ch string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.broadcasting, ch)
}

func (p *recordingPublisher) isBroadcasting(ch string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.broadcasting[ch]
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.envs)
}

var errBoom = errors.New("boom")

func testDevice() *device.Device {
	return &device.Device{ID: "dev-1", Name: "bench", Type: device.TypeCAN}
}
