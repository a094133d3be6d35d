package console

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/probebench/internal/device"
	"github.com/nerrad567/probebench/internal/driver"
	"github.com/nerrad567/probebench/internal/plugin"
	"github.com/nerrad567/probebench/internal/registry"
	"github.com/nerrad567/probebench/internal/stream"
)

// LifecycleStreamType is the stream type of the status envelopes published
// for driver state changes.
const LifecycleStreamType = "lifecycle"

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

// Config wires a Console to its collaborators.
type Config struct {
	Plugins *plugin.Registry
	Devices *registry.DeviceRegistry

	// Broker receives lifecycle status envelopes. Optional.
	Broker *stream.Broker

	// Writer persists device records. Optional.
	Writer device.ConfigWriter
}

// Console dispatches operations to driver instances by name.
type Console struct {
	plugins *plugin.Registry
	devices *registry.DeviceRegistry
	broker  *stream.Broker
	writer  device.ConfigWriter
	logger  Logger
}

// New creates a console. It subscribes to plugin reloads (to rebuild the
// scanners) and to driver transitions (to publish them on the broker).
func New(cfg Config) *Console {
	c := &Console{
		plugins: cfg.Plugins,
		devices: cfg.Devices,
		broker:  cfg.Broker,
		writer:  cfg.Writer,
		logger:  noopLogger{},
	}
	c.plugins.OnReload(func(*plugin.LoadReport) { c.devices.Rebuild() })
	c.plugins.OnTransition(c.publishTransition)
	return c
}

// SetLogger sets the logger for the console.
func (c *Console) SetLogger(logger Logger) {
	c.logger = logger
}

// Start discovers plugins and initializes the device registry.
func (c *Console) Start(ctx context.Context) (*plugin.LoadReport, error) {
	report, err := c.plugins.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovering plugins: %w", err)
	}
	loaded, err := c.devices.Initialize(ctx)
	if err != nil {
		return report, fmt.Errorf("initializing device registry: %w", err)
	}
	if failed := loaded.Failed(); len(failed) > 0 {
		c.logger.Warn("persisted devices skipped", "records", failed)
	}
	return report, nil
}

// Reload rediscovers plugins; the scanners follow.
func (c *Console) Reload(ctx context.Context) (*plugin.LoadReport, error) {
	return c.plugins.Discover(ctx)
}

// Broker returns the stream broker, or nil.
func (c *Console) Broker() *stream.Broker {
	return c.broker
}

func (c *Console) instance(name string) (*driver.Instance, error) {
	inst, ok := c.plugins.GetDriverInstance(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDriverNotFound, name)
	}
	return inst, nil
}

// =============================================================================
// Single-driver operations
// =============================================================================

// Scan runs one driver's scan and registers the results as dynamic devices.
func (c *Console) Scan(ctx context.Context, driverName string) ([]*device.Device, error) {
	inst, err := c.instance(driverName)
	if err != nil {
		return nil, err
	}
	devs, err := registry.NewDriverScanner(driverName, inst).Scan(ctx)
	if err != nil {
		return nil, err
	}
	store := c.devices.Store()
	out := devs[:0]
	for _, d := range devs {
		if err := store.Register(d, device.SourceDynamic); err != nil {
			c.logger.Warn("driver reported invalid device", "driver", driverName, "device", d.ID, "error", err)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Initialize runs the driver's Initialize for dev.
func (c *Console) Initialize(ctx context.Context, driverName string, dev *device.Device) error {
	inst, err := c.instance(driverName)
	if err != nil {
		return err
	}
	return inst.Initialize(ctx, dev)
}

// Connect runs the driver's Connect for dev.
func (c *Console) Connect(ctx context.Context, driverName string, dev *device.Device) error {
	inst, err := c.instance(driverName)
	if err != nil {
		return err
	}
	return inst.Connect(ctx, dev)
}

// Command runs cmd on dev through the named driver.
func (c *Console) Command(ctx context.Context, driverName string, dev *device.Device, cmd string, args map[string]any) (any, error) {
	inst, err := c.instance(driverName)
	if err != nil {
		return nil, err
	}
	return inst.Command(ctx, dev, cmd, args)
}

// Reset returns the driver to Initialized.
func (c *Console) Reset(ctx context.Context, driverName string, dev *device.Device) error {
	inst, err := c.instance(driverName)
	if err != nil {
		return err
	}
	return inst.Reset(ctx, dev)
}

// Close closes dev. The device stays in the store.
func (c *Console) Close(ctx context.Context, driverName string, dev *device.Device) error {
	inst, err := c.instance(driverName)
	if err != nil {
		return err
	}
	return inst.Close(ctx, dev)
}

// StartStreaming starts acquisition of dev.
func (c *Console) StartStreaming(ctx context.Context, driverName string, dev *device.Device) error {
	inst, err := c.instance(driverName)
	if err != nil {
		return err
	}
	return inst.StartStreaming(ctx, dev)
}

// StopStreaming stops acquisition of dev; a no-op if it is not streaming.
func (c *Console) StopStreaming(ctx context.Context, driverName string, dev *device.Device) error {
	inst, err := c.instance(driverName)
	if err != nil {
		return err
	}
	return inst.StopStreaming(ctx, dev)
}

// ListDrivers returns the loaded driver names, sorted.
func (c *Console) ListDrivers() []string {
	return c.plugins.ListDrivers()
}

// GetSupportedCommands returns the command table of a driver, or nil.
func (c *Console) GetSupportedCommands(driverName string) map[string]string {
	return c.plugins.GetSupportedCommands(driverName)
}

// Describe returns the descriptor of a loaded driver.
func (c *Console) Describe(driverName string) (plugin.Descriptor, error) {
	desc, ok := c.plugins.Describe(driverName)
	if !ok {
		return plugin.Descriptor{}, fmt.Errorf("%w: %s", ErrDriverNotFound, driverName)
	}
	return desc, nil
}

// =============================================================================
// Devices
// =============================================================================

// ScanAllDevices runs every driver's scan with per-driver isolation.
func (c *Console) ScanAllDevices(ctx context.Context) *registry.ScanResult {
	return c.devices.ScanDevices(ctx)
}

// GetAllDevices returns every known device, sorted by id.
func (c *Console) GetAllDevices() []device.Entry {
	return c.devices.Store().List()
}

// Device looks up one device, falling back to persisted configuration.
func (c *Console) Device(ctx context.Context, id string) (device.Entry, error) {
	return c.devices.Store().Get(ctx, id)
}

// PersistDevice writes dev to the device configuration and registers it
// as static.
func (c *Console) PersistDevice(ctx context.Context, dev *device.Device) error {
	if c.writer == nil {
		return ErrNoConfigWriter
	}
	if err := dev.Validate(); err != nil {
		return err
	}
	if err := c.writer.Put(ctx, dev); err != nil {
		return fmt.Errorf("persisting device %s: %w", dev.ID, err)
	}
	return c.devices.Store().Register(dev, device.SourceStatic)
}

// =============================================================================
// Bulk operations
// =============================================================================

// InitializeAll initializes every known device that names a loaded driver.
// Devices without a driver are not units of the report. Driver state is
// per instance, so once one device of a driver has initialized, its
// siblings count as initialized too.
func (c *Console) InitializeAll(ctx context.Context) *registry.Report {
	report := registry.NewReport("initialize")
	ready := make(map[string]bool)
	for _, e := range c.GetAllDevices() {
		dev := e.Device
		if dev.Driver == "" {
			continue
		}
		err := c.Initialize(ctx, dev.Driver, dev)
		if errors.Is(err, driver.ErrInvalidState) && ready[dev.Driver] {
			err = nil
		}
		if err == nil {
			ready[dev.Driver] = true
		} else {
			c.logger.Warn("device initialize failed", "device", dev.ID, "driver", dev.Driver, "error", err)
		}
		report.Record(dev.ID, 1, err)
	}
	return report.Finish()
}

// CleanupAll stops every acquisition and closes every device that names a
// loaded driver. It runs to completion whatever fails.
func (c *Console) CleanupAll(ctx context.Context) *registry.Report {
	report := registry.NewReport("cleanup")

	for name, inst := range c.plugins.Instances() {
		streams := len(inst.Streams())
		if streams == 0 {
			continue
		}
		err := inst.StopAll(ctx)
		if err != nil {
			c.logger.Warn("stopping acquisitions failed", "driver", name, "error", err)
		}
		report.Record("driver:"+name, streams, err)
	}

	for _, e := range c.GetAllDevices() {
		dev := e.Device
		if dev.Driver == "" {
			continue
		}
		err := c.Close(ctx, dev.Driver, dev)
		if errors.Is(err, ErrDriverNotFound) {
			continue
		}
		if err != nil {
			c.logger.Warn("device close failed", "device", dev.ID, "driver", dev.Driver, "error", err)
		}
		report.Record(dev.ID, 1, err)
	}
	return report.Finish()
}

// =============================================================================
// Lifecycle events
// =============================================================================

func (c *Console) publishTransition(t driver.Transition) {
	if c.broker == nil || t.Device == "" {
		return
	}
	data := map[string]any{
		"driver": t.Driver,
		"op":     string(t.Op),
		"from":   string(t.From),
		"to":     string(t.To),
	}
	if t.Err != nil {
		data["error"] = t.Err.Error()
	}
	env := stream.Envelope{
		StreamType: LifecycleStreamType,
		Channel:    t.Device,
		Timestamp:  t.At,
		Action:     stream.ActionStatus,
		Data:       data,
		Metadata:   map[string]any{stream.MetaDriver: t.Driver},
	}
	if err := c.broker.Broadcast(env); err != nil {
		c.logger.Debug("publishing transition failed", "device", t.Device, "error", err)
	}
}
