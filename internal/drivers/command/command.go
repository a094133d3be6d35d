// Package command is a driver for instruments that are operated through an
// external tool. The tool is run under a process.Supervisor while the
// device streams; every stdout line becomes a data envelope and every
// stderr line a status envelope.
//
// Lines that are JSON objects are published as decoded maps, so a tool
// that prints {"voltage": 3.3} feeds numeric fields straight through to
// the telemetry sinks. Anything else is published as {"line": "..."}.
//
// The factory needs a command, so it only loads through manifests. Import
// it for its side effect of registering the "command" factory:
//
//	import _ "github.com/nerrad567/probebench/internal/drivers/command"
//
// Manifest options:
//
//	command:          executable, looked up in PATH (required)
//	args:             argument list
//	env:              extra KEY=value entries
//	workdir:          working directory
//	device_id:        id of the one device this driver reports (default "cmd-<command>")
//	device_type:      device type (default "network")
//	interface:        bus interface name, sets BusInterface when non-empty
//	stream_type:      envelope stream type (default "command_output")
//	format:           "auto" (JSON objects decoded) or "text" (default "auto")
//	restart:          restart the tool when it exits on its own (default true)
//	restart_delay:    wait before a restart (default 1s)
//	max_restarts:     restart limit, 0 for unlimited (default 0)
//	graceful_timeout: SIGTERM to SIGKILL grace period (default 2s)
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/probebench/internal/device"
	"github.com/nerrad567/probebench/internal/driver"
	"github.com/nerrad567/probebench/internal/plugin"
	"github.com/nerrad567/probebench/internal/process"
)

// FactoryName is the name the driver registers under.
const FactoryName = "command"

// DefaultStreamType is the stream type used when the manifest sets none.
const DefaultStreamType = "command_output"

const (
	formatAuto = "auto"
	formatText = "text"

	lineBuffer = 256

	// maxRunOutput caps the output returned by the run command.
	maxRunOutput = 64 * 1024
)

// ErrToolNotFound is returned when the configured command cannot be
// resolved.
var ErrToolNotFound = errors.New("command: tool not found")

func init() {
	plugin.RegisterTemplate(FactoryName, New)
}

// Driver runs an external tool per streaming device.
type Driver struct {
	binary     string
	args       []string
	env        []string
	workDir    string
	deviceID   string
	devType    device.DeviceType
	iface      string
	streamType string
	format     string

	restart         bool
	restartDelay    time.Duration
	maxRestarts     int
	gracefulTimeout time.Duration

	mu          sync.Mutex
	supervisors map[string]*process.Supervisor
}

// New builds a command driver from manifest options.
func New(opts plugin.Options) (driver.Hooks, error) {
	binary := opts.String("command", "")
	if binary == "" {
		return nil, errors.New("command: the command option is required")
	}

	d := &Driver{
		binary:          binary,
		args:            opts.Strings("args"),
		env:             opts.Strings("env"),
		workDir:         opts.String("workdir", ""),
		deviceID:        opts.String("device_id", "cmd-"+filepath.Base(binary)),
		devType:         device.DeviceType(opts.String("device_type", string(device.TypeNetwork))),
		iface:           opts.String("interface", ""),
		streamType:      opts.String("stream_type", DefaultStreamType),
		format:          opts.String("format", formatAuto),
		restart:         opts.Bool("restart", true),
		restartDelay:    opts.Duration("restart_delay", time.Second),
		maxRestarts:     opts.Int("max_restarts", 0),
		gracefulTimeout: opts.Duration("graceful_timeout", 2*time.Second),
		supervisors:     make(map[string]*process.Supervisor),
	}
	if err := device.ValidateID(d.deviceID); err != nil {
		return nil, fmt.Errorf("command: device_id: %w", err)
	}
	if d.format != formatAuto && d.format != formatText {
		return nil, fmt.Errorf("command: format must be %q or %q, got %q", formatAuto, formatText, d.format)
	}
	if d.devType == device.TypeSerial {
		return nil, errors.New("command: serial devices need a port and are not supported")
	}
	return d, nil
}

func (d *Driver) lookPath() (string, error) {
	path, err := exec.LookPath(d.binary)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrToolNotFound, d.binary, err)
	}
	return path, nil
}

// SupportedCommands implements driver.Hooks.
func (d *Driver) SupportedCommands() map[string]string {
	return map[string]string{
		"status": "report the supervised tool's process status",
		"run":    "run the tool once and return its output (args: args)",
	}
}

// ScanImpl implements driver.Hooks. The device is reported only when the
// tool is installed.
func (d *Driver) ScanImpl(context.Context) ([]*device.Device, error) {
	path, err := d.lookPath()
	if err != nil {
		return nil, err
	}
	dev := &device.Device{
		ID:         d.deviceID,
		Name:       filepath.Base(d.binary),
		Type:       d.devType,
		Attributes: device.Attributes{"tool": path},
	}
	if d.iface != "" {
		dev.BusInterface = &device.BusInterface{Interface: d.iface}
	}
	return []*device.Device{dev}, nil
}

// InitializeImpl implements driver.Hooks.
func (d *Driver) InitializeImpl(context.Context, *device.Device) error {
	_, err := d.lookPath()
	return err
}

// ConnectImpl implements driver.Hooks.
func (d *Driver) ConnectImpl(context.Context, *device.Device) error {
	return nil
}

// CommandImpl implements driver.Hooks.
func (d *Driver) CommandImpl(ctx context.Context, dev *device.Device, cmd string, args map[string]any) (any, error) {
	switch cmd {
	case "status":
		if sup := d.supervisor(dev.ID); sup != nil {
			return sup.Stats(), nil
		}
		return process.Stats{Name: dev.ID, Status: process.StatusStopped}, nil
	case "run":
		return d.runOnce(ctx, plugin.Options(args).Strings("args"))
	}
	return nil, fmt.Errorf("command: unhandled command %q", cmd)
}

// runOnce runs the tool to completion with args, bounded by ctx.
func (d *Driver) runOnce(ctx context.Context, args []string) (map[string]any, error) {
	c := exec.CommandContext(ctx, d.binary, args...) //nolint:gosec // Binary comes from operator-written plugin manifests
	c.Dir = d.workDir
	if d.env != nil {
		c.Env = append(os.Environ(), d.env...)
	}
	out := &cappedBuffer{max: maxRunOutput}
	c.Stdout = out
	c.Stderr = out
	err := c.Run()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("command: running %s: %w", d.binary, err)
	}

	return map[string]any{
		"exit_code": c.ProcessState.ExitCode(),
		"output":    out.buf.String(),
		"truncated": out.truncated,
	}, nil
}

// cappedBuffer keeps the first max bytes written and discards the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.max - b.buf.Len()
	switch {
	case room >= len(p):
		b.buf.Write(p)
	case room > 0:
		b.buf.Write(p[:room])
		b.truncated = true
	default:
		b.truncated = len(p) > 0 || b.truncated
	}
	return len(p), nil
}

// ResetImpl implements driver.Hooks.
func (d *Driver) ResetImpl(context.Context, *device.Device) error {
	return nil
}

// CloseImpl implements driver.Hooks. Streaming is stopped by the framework
// before Close, which ends the tool.
func (d *Driver) CloseImpl(context.Context, *device.Device) error {
	return nil
}

// SetupAcquisition implements driver.Acquirer.
func (d *Driver) SetupAcquisition(context.Context, *device.Device) error {
	_, err := d.lookPath()
	return err
}

type outputLine struct {
	stream string
	text   []byte
}

// AcquisitionLoop implements driver.Acquirer. It runs the tool until ctx is
// cancelled or the supervisor gives up restarting it.
func (d *Driver) AcquisitionLoop(ctx context.Context, dev *device.Device, emit *driver.Emitter) {
	lines := make(chan outputLine, lineBuffer)
	var dropped atomic.Uint64

	sup := process.New(process.Config{
		Name:             dev.ID,
		Binary:           d.binary,
		Args:             d.args,
		Env:              d.env,
		WorkDir:          d.workDir,
		RestartOnFailure: d.restart,
		RestartDelay:     d.restartDelay,
		MaxRestarts:      d.maxRestarts,
		GracefulTimeout:  d.gracefulTimeout,
		OnLine: func(stream string, line []byte) {
			select {
			case lines <- outputLine{stream: stream, text: bytes.Clone(line)}:
			default:
				dropped.Add(1)
			}
		},
		OnExit: func(err error) {
			if err != nil {
				//nolint:errcheck // Best effort
				emit.Status(d.streamType, map[string]any{"state": "exited", "error": err.Error()})
			}
		},
	})

	if err := sup.Start(ctx); err != nil {
		//nolint:errcheck // Best effort
		emit.Status(d.streamType, map[string]any{"state": "failed", "error": err.Error()})
		return
	}
	d.track(dev.ID, sup)
	defer func() {
		//nolint:errcheck // Stop never fails
		sup.Stop()
		d.untrack(dev.ID)
		if n := dropped.Load(); n > 0 {
			//nolint:errcheck // Best effort
			emit.Status(d.streamType, map[string]any{"state": "stopped", "dropped_lines": n})
		}
	}()

	//nolint:errcheck // Best effort
	emit.Status(d.streamType, map[string]any{"state": "started", "pid": sup.PID()})

	done := sup.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case l := <-lines:
			d.publish(emit, l)
		case <-done:
			for {
				select {
				case l := <-lines:
					d.publish(emit, l)
				default:
					//nolint:errcheck // Best effort
					emit.Status(d.streamType, map[string]any{"state": "gave_up", "restarts": sup.Restarts()})
					return
				}
			}
		}
	}
}

func (d *Driver) publish(emit *driver.Emitter, l outputLine) {
	if l.stream == process.Stderr {
		//nolint:errcheck // Best effort
		emit.Status(d.streamType, map[string]any{"stream": process.Stderr, "line": string(l.text)})
		return
	}
	//nolint:errcheck // Best effort
	emit.Data(d.streamType, d.decode(l.text))
}

// decode turns one stdout line into a payload.
func (d *Driver) decode(line []byte) any {
	if d.format == formatAuto {
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			var obj map[string]any
			if err := json.Unmarshal(trimmed, &obj); err == nil {
				return obj
			}
		}
	}
	return map[string]any{"line": string(line)}
}

// CleanupAcquisition implements driver.Acquirer.
func (d *Driver) CleanupAcquisition(context.Context, *device.Device) error {
	return nil
}

func (d *Driver) track(id string, sup *process.Supervisor) {
	d.mu.Lock()
	d.supervisors[id] = sup
	d.mu.Unlock()
}

func (d *Driver) untrack(id string) {
	d.mu.Lock()
	delete(d.supervisors, id)
	d.mu.Unlock()
}

func (d *Driver) supervisor(id string) *process.Supervisor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.supervisors[id]
}

var (
	_ driver.Hooks    = (*Driver)(nil)
	_ driver.Acquirer = (*Driver)(nil)
)
