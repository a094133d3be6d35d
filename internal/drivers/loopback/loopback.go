// Package loopback is a simulated driver. It needs no hardware, so the
// framework can be exercised end to end: it "finds" a configurable number
// of devices, accepts start/stop/ping/set_rate, and streams a sine wave
// with a sequence counter.
//
// Import it for its side effect of registering the "loopback" factory:
//
//	import _ "github.com/nerrad567/probebench/internal/drivers/loopback"
//
// Manifest options:
//
//	id_prefix:     device id prefix (default "loop")
//	device_count:  devices reported by scan (default 1)
//	device_type:   device type (default "network")
//	interface:     bus interface name, sets BusInterface when non-empty
//	rate_hz:       initial sample rate (default 10)
//	fail:          lifecycle hook that always fails (scan, initialize, connect, ...)
//	poll_interval: acquisition tick, caps the effective rate (default 5ms)
package loopback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nerrad567/probebench/internal/device"
	"github.com/nerrad567/probebench/internal/driver"
	"github.com/nerrad567/probebench/internal/plugin"
)

// FactoryName is the name the driver registers under.
const FactoryName = "loopback"

// SampleStreamType is the stream type of acquired samples.
const SampleStreamType = "loopback_sample"

const (
	defaultRateHz = 10.0
	maxRateHz     = 1000.0
	defaultTick   = 5 * time.Millisecond
)

// ErrSimulatedFailure is returned by the hook named in the fail option.
var ErrSimulatedFailure = errors.New("loopback: simulated failure")

func init() {
	plugin.Register(FactoryName, New)
}

type deviceState struct {
	transmitting bool
	rateHz       float64
	seq          uint64
	pings        uint64
}

// Driver is the loopback implementation of driver.Hooks and driver.Acquirer.
type Driver struct {
	prefix  string
	count   int
	devType device.DeviceType
	iface   string
	rateHz  float64
	fail    string
	tick    time.Duration

	mu      sync.Mutex
	devices map[string]*deviceState
}

// New builds a loopback driver from manifest options.
func New(opts plugin.Options) (driver.Hooks, error) {
	d := &Driver{
		prefix:  opts.String("id_prefix", "loop"),
		count:   opts.Int("device_count", 1),
		devType: device.DeviceType(opts.String("device_type", string(device.TypeNetwork))),
		iface:   opts.String("interface", ""),
		rateHz:  opts.Float("rate_hz", defaultRateHz),
		fail:    opts.String("fail", ""),
		tick:    opts.Duration("poll_interval", defaultTick),
		devices: make(map[string]*deviceState),
	}
	if d.count < 0 {
		return nil, fmt.Errorf("loopback: device_count must not be negative, got %d", d.count)
	}
	if d.rateHz <= 0 || d.rateHz > maxRateHz {
		return nil, fmt.Errorf("loopback: rate_hz must be in (0, %g], got %g", maxRateHz, d.rateHz)
	}
	if d.devType == device.TypeSerial {
		return nil, fmt.Errorf("loopback: serial devices are not simulated")
	}
	return d, nil
}

func (d *Driver) failing(op string) error {
	if d.fail == op {
		return fmt.Errorf("%w in %s", ErrSimulatedFailure, op)
	}
	return nil
}

func (d *Driver) state(id string) *deviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.devices[id]
	if !ok {
		st = &deviceState{rateHz: d.rateHz}
		d.devices[id] = st
	}
	return st
}

// SupportedCommands implements driver.Hooks.
func (d *Driver) SupportedCommands() map[string]string {
	return map[string]string{
		"start":    "start the simulated transmitter",
		"stop":     "stop the simulated transmitter",
		"ping":     "round-trip a ping through the loopback",
		"set_rate": "set the sample rate (args: rate_hz)",
	}
}

// ScanImpl implements driver.Hooks.
func (d *Driver) ScanImpl(context.Context) ([]*device.Device, error) {
	if err := d.failing("scan"); err != nil {
		return nil, err
	}
	devs := make([]*device.Device, 0, d.count)
	for n := 0; n < d.count; n++ {
		id := fmt.Sprintf("%s-%d", d.prefix, n)
		if d.count == 1 && d.iface != "" {
			id = d.prefix + "-" + d.iface
		}
		dev := &device.Device{
			ID:         id,
			Name:       fmt.Sprintf("Loopback %s #%d", d.devType, n),
			Type:       d.devType,
			Attributes: device.Attributes{"simulated": true, "index": n},
		}
		if d.iface != "" {
			dev.BusInterface = &device.BusInterface{Interface: d.iface}
		}
		devs = append(devs, dev)
	}
	return devs, nil
}

// InitializeImpl implements driver.Hooks.
func (d *Driver) InitializeImpl(_ context.Context, dev *device.Device) error {
	if err := d.failing("initialize"); err != nil {
		return err
	}
	d.state(dev.ID)
	return nil
}

// ConnectImpl implements driver.Hooks.
func (d *Driver) ConnectImpl(_ context.Context, dev *device.Device) error {
	return d.failing("connect")
}

// CommandImpl implements driver.Hooks.
func (d *Driver) CommandImpl(_ context.Context, dev *device.Device, cmd string, args map[string]any) (any, error) {
	if err := d.failing("command"); err != nil {
		return nil, err
	}
	st := d.state(dev.ID)

	d.mu.Lock()
	defer d.mu.Unlock()

	switch cmd {
	case "start":
		st.transmitting = true
		return map[string]any{"transmitting": true}, nil
	case "stop":
		st.transmitting = false
		return map[string]any{"transmitting": false}, nil
	case "ping":
		st.pings++
		return map[string]any{"pong": st.pings}, nil
	case "set_rate":
		rate := plugin.Options(args).Float("rate_hz", 0)
		if rate <= 0 || rate > maxRateHz {
			return nil, fmt.Errorf("loopback: rate_hz must be in (0, %g]", maxRateHz)
		}
		st.rateHz = rate
		return map[string]any{"rate_hz": rate}, nil
	}
	return nil, fmt.Errorf("loopback: unhandled command %q", cmd)
}

// ResetImpl implements driver.Hooks.
func (d *Driver) ResetImpl(_ context.Context, dev *device.Device) error {
	if err := d.failing("reset"); err != nil {
		return err
	}
	d.mu.Lock()
	d.devices[dev.ID] = &deviceState{rateHz: d.rateHz}
	d.mu.Unlock()
	return nil
}

// CloseImpl implements driver.Hooks.
func (d *Driver) CloseImpl(_ context.Context, dev *device.Device) error {
	if err := d.failing("close"); err != nil {
		return err
	}
	d.mu.Lock()
	if st, ok := d.devices[dev.ID]; ok {
		st.transmitting = false
	}
	d.mu.Unlock()
	return nil
}

// SetupAcquisition implements driver.Acquirer.
func (d *Driver) SetupAcquisition(_ context.Context, dev *device.Device) error {
	if err := d.failing("setup"); err != nil {
		return err
	}
	d.state(dev.ID)
	return nil
}

// AcquisitionLoop implements driver.Acquirer. It emits one sample per
// period of the device's current rate, so set_rate takes effect live.
func (d *Driver) AcquisitionLoop(ctx context.Context, dev *device.Device, emit *driver.Emitter) {
	st := d.state(dev.ID)
	start := time.Now()
	var last time.Time

	//nolint:errcheck // Best effort
	emit.Status(SampleStreamType, map[string]any{"state": "started"})

	driver.PollLoop(ctx, d.tick, nil, func(context.Context) error {
		now := time.Now()

		d.mu.Lock()
		period := time.Duration(float64(time.Second) / st.rateHz)
		if !last.IsZero() && now.Sub(last) < period {
			d.mu.Unlock()
			return nil
		}
		last = now
		st.seq++
		sample := map[string]any{
			"seq":          st.seq,
			"sine":         math.Sin(2 * math.Pi * now.Sub(start).Seconds()),
			"transmitting": st.transmitting,
			"rate_hz":      st.rateHz,
		}
		d.mu.Unlock()

		return emit.Data(SampleStreamType, sample)
	})
}

// CleanupAcquisition implements driver.Acquirer.
func (d *Driver) CleanupAcquisition(context.Context, *device.Device) error {
	return d.failing("cleanup")
}

var (
	_ driver.Hooks    = (*Driver)(nil)
	_ driver.Acquirer = (*Driver)(nil)
)
