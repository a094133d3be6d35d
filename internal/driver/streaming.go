package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/probebench/internal/device"
	"github.com/nerrad567/probebench/internal/stream"
)

type workerState int

const (
	workerStarting workerState = iota
	workerRunning
	workerStopping
)

// worker is one acquisition session. It stays in Instance.workers from
// the start of setup until cleanup has finished, so a device never has
// two sessions overlapping.
type worker struct {
	state     workerState
	cancel    context.CancelFunc
	sessionID string
	started   time.Time

	ready    chan struct{} // closed once setup has finished
	done     chan struct{} // closed when the loop returns
	released chan struct{} // closed once the entry is removed
}

// StreamInfo describes one running acquisition.
type StreamInfo struct {
	Device    string    `json:"device"`
	SessionID string    `json:"session_id"`
	Started   time.Time `json:"started"`
}

// StartStreaming begins acquisition for dev. Calling it again while dev is
// streaming does nothing. A call made while a previous session is still
// stopping waits for its cleanup first. The worker outlives ctx; only
// StopStreaming, Close or the loop returning on its own ends it.
func (i *Instance) StartStreaming(ctx context.Context, dev *device.Device) error {
	if dev == nil {
		return ErrNilDevice
	}
	acq, ok := i.hooks.(Acquirer)
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamingUnsupported, i.name)
	}

	var w *worker
	for w == nil {
		i.streamMu.Lock()
		prev, exists := i.workers[dev.ID]
		if !exists {
			w = &worker{
				state:     workerStarting,
				sessionID: uuid.NewString(),
				ready:     make(chan struct{}),
				done:      make(chan struct{}),
				released:  make(chan struct{}),
			}
			i.workers[dev.ID] = w
			i.streamMu.Unlock()
			break
		}
		state := prev.state
		i.streamMu.Unlock()

		if state == workerRunning {
			return nil
		}
		if err := prev.await(ctx, state); err != nil {
			return err
		}
	}

	// Setup may take hardware time; the starting entry keeps other callers
	// for this device out without holding streamMu.
	if err := invoke(func() error { return acq.SetupAcquisition(ctx, dev) }); err != nil {
		i.streamMu.Lock()
		delete(i.workers, dev.ID)
		i.streamMu.Unlock()
		close(w.ready)
		close(w.released)
		return &DriverError{Driver: i.name, Op: OpStartStreaming, Device: dev.ID, Err: err}
	}

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	i.streamMu.Lock()
	w.cancel = cancel
	w.started = time.Now()
	w.state = workerRunning
	i.streamMu.Unlock()

	i.config.Publisher.MarkBroadcasting(dev.ID)
	emit := newEmitter(i.config.Publisher, i.name, dev.ID, w.sessionID)
	go i.acquire(wctx, acq, dev, emit, w)
	close(w.ready)

	i.logger.Info("acquisition started",
		"driver", i.name,
		"device", dev.ID,
		"session_id", w.sessionID,
	)
	return nil
}

// await blocks until a starting worker finished setup or a stopping
// worker was released.
func (w *worker) await(ctx context.Context, state workerState) error {
	wait := w.ready
	if state == workerStopping {
		wait = w.released
	}
	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *Instance) acquire(ctx context.Context, acq Acquirer, dev *device.Device, emit *Emitter, w *worker) {
	i.runLoop(ctx, acq, dev, emit)
	close(w.done)

	if ctx.Err() != nil {
		return
	}
	i.logger.Warn("acquisition loop returned before stop",
		"driver", i.name,
		"device", dev.ID,
		"session_id", w.sessionID,
	)
	if i.claim(dev.ID, w) {
		w.cancel()
		//nolint:errcheck // Cleanup failures are logged by release
		i.release(context.Background(), acq, dev, w)
	}
}

func (i *Instance) runLoop(ctx context.Context, acq Acquirer, dev *device.Device, emit *Emitter) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("acquisition loop panicked",
				"driver", i.name,
				"device", dev.ID,
				"panic", r,
			)
		}
	}()
	acq.AcquisitionLoop(ctx, dev, emit)
}

// claim moves a running worker to stopping. Only the claimer releases it.
func (i *Instance) claim(deviceID string, w *worker) bool {
	i.streamMu.Lock()
	defer i.streamMu.Unlock()
	if i.workers[deviceID] != w || w.state != workerRunning {
		return false
	}
	w.state = workerStopping
	return true
}

// release clears the broadcasting flag, runs CleanupAcquisition and then
// removes the worker, letting a waiting StartStreaming proceed.
func (i *Instance) release(ctx context.Context, acq Acquirer, dev *device.Device, w *worker) error {
	defer func() {
		i.streamMu.Lock()
		if i.workers[dev.ID] == w {
			delete(i.workers, dev.ID)
		}
		i.streamMu.Unlock()
		close(w.released)
	}()

	i.config.Publisher.ClearBroadcasting(dev.ID)

	if err := invoke(func() error { return acq.CleanupAcquisition(ctx, dev) }); err != nil {
		i.logger.Warn("acquisition cleanup failed",
			"driver", i.name,
			"device", dev.ID,
			"error", err,
		)
		return &DriverError{Driver: i.name, Op: OpStopStreaming, Device: dev.ID, Err: err}
	}

	i.logger.Info("acquisition stopped",
		"driver", i.name,
		"device", dev.ID,
		"session_id", w.sessionID,
	)
	return nil
}

// StopStreaming ends acquisition for dev and runs CleanupAcquisition. It is
// a no-op when dev is not streaming. If the loop does not exit within the
// stop timeout (or ctx ends first) cleanup still runs and the wait error is
// returned.
func (i *Instance) StopStreaming(ctx context.Context, dev *device.Device) error {
	if dev == nil {
		return ErrNilDevice
	}

	var w *worker
	for w == nil {
		i.streamMu.Lock()
		cur, ok := i.workers[dev.ID]
		if !ok {
			i.streamMu.Unlock()
			return nil
		}
		state := cur.state
		if state == workerRunning {
			cur.state = workerStopping
			w = cur
			i.streamMu.Unlock()
			break
		}
		i.streamMu.Unlock()

		if err := cur.await(ctx, state); err != nil {
			return err
		}
	}

	w.cancel()

	timer := time.NewTimer(i.config.StopTimeout)
	defer timer.Stop()

	var waitErr error
	select {
	case <-w.done:
	case <-timer.C:
		waitErr = fmt.Errorf("%w: %s after %s", ErrStopTimeout, dev.ID, i.config.StopTimeout)
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	if waitErr != nil {
		i.logger.Warn("acquisition loop still running at cleanup",
			"driver", i.name,
			"device", dev.ID,
			"error", waitErr,
		)
	}

	acq := i.hooks.(Acquirer) //nolint:forcetypeassert // Workers only exist for Acquirer hooks
	if err := i.release(context.WithoutCancel(ctx), acq, dev, w); err != nil {
		return errors.Join(waitErr, err)
	}
	return waitErr
}

// StopAll stops every running acquisition.
func (i *Instance) StopAll(ctx context.Context) error {
	var errs []error
	for _, id := range i.streamingIDs() {
		if err := i.StopStreaming(ctx, &device.Device{ID: id}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsStreaming reports whether an acquisition is running for deviceID.
// Sessions still in setup or already stopping do not count.
func (i *Instance) IsStreaming(deviceID string) bool {
	i.streamMu.Lock()
	defer i.streamMu.Unlock()
	w, ok := i.workers[deviceID]
	return ok && w.state == workerRunning
}

// Streams lists running acquisitions sorted by device id.
func (i *Instance) Streams() []StreamInfo {
	i.streamMu.Lock()
	out := make([]StreamInfo, 0, len(i.workers))
	for id, w := range i.workers {
		if w.state != workerRunning {
			continue
		}
		out = append(out, StreamInfo{Device: id, SessionID: w.sessionID, Started: w.started})
	}
	i.streamMu.Unlock()

	sort.Slice(out, func(a, b int) bool { return out[a].Device < out[b].Device })
	return out
}

func (i *Instance) streamingIDs() []string {
	streams := i.Streams()
	ids := make([]string, len(streams))
	for n, s := range streams {
		ids[n] = s.Device
	}
	return ids
}

type discardPublisher struct{}

func (discardPublisher) Broadcast(stream.Envelope) error { return nil }
func (discardPublisher) MarkBroadcasting(string)         {}
func (discardPublisher) ClearBroadcasting(string)        {}
