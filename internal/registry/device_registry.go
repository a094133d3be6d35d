package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/probebench/internal/device"
	"github.com/nerrad567/probebench/internal/driver"
)

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

// DriverSource is the view of the plugin registry the device registry needs.
type DriverSource interface {
	ListDrivers() []string
	GetDriverInstance(name string) (*driver.Instance, bool)
}

// DeviceRegistry owns the device store and the scanners built from the
// loaded drivers.
type DeviceRegistry struct {
	drivers DriverSource
	store   *device.Store
	config  device.ConfigSource
	logger  Logger

	mu        sync.RWMutex
	composite *CompositeScanner
}

// NewDeviceRegistry creates a registry. config may be nil when there is no
// persisted configuration.
func NewDeviceRegistry(drivers DriverSource, store *device.Store, config device.ConfigSource) *DeviceRegistry {
	return &DeviceRegistry{
		drivers:   drivers,
		store:     store,
		config:    config,
		logger:    noopLogger{},
		composite: NewCompositeScanner(store),
	}
}

// SetLogger sets the logger for the registry and its scanners.
func (r *DeviceRegistry) SetLogger(logger Logger) {
	r.logger = logger
	r.mu.Lock()
	r.composite.SetLogger(logger)
	r.mu.Unlock()
}

// Store returns the device store.
func (r *DeviceRegistry) Store() *device.Store {
	return r.store
}

// Initialize builds one scanner per loaded driver and loads the persisted
// configuration into the store as static devices. The report has one unit
// per persisted record (device id, or record:<n> for an invalid one);
// invalid records fail their own unit and are skipped. The error is only
// for a configuration that cannot be read at all.
func (r *DeviceRegistry) Initialize(ctx context.Context) (*Report, error) {
	r.Rebuild()

	report := NewReport("load")
	if r.config == nil {
		return report.Finish(), nil
	}
	devs, err := r.config.Load(ctx)
	if skipped, partial := device.Partial(err); partial {
		for _, rec := range skipped.Records {
			r.logger.Warn("skipping invalid device record",
				"source", skipped.Source,
				"record", rec.Index,
				"device", rec.ID,
				"error", rec.Err,
			)
			report.Record(recordUnit(rec), 0, rec)
		}
	} else if err != nil {
		return nil, fmt.Errorf("loading device configuration: %w", err)
	}

	for _, d := range devs {
		err := r.store.Register(d, device.SourceStatic)
		if err != nil {
			r.logger.Warn("skipping configured device", "device", d.ID, "error", err)
		}
		report.Record(d.ID, 1, err)
	}

	r.logger.Info("device registry initialized",
		"configured", len(report.Succeeded()),
		"skipped", len(report.Failed()),
		"scanners", len(r.Scanners()),
	)
	return report.Finish(), nil
}

// recordUnit names a skipped record by position; its id may be missing or
// shared with a valid record.
func recordUnit(rec *device.RecordError) string {
	return fmt.Sprintf("record:%d", rec.Index)
}

// Rebuild replaces the scanners with one per currently loaded driver.
// Call it after the plugin set changes.
func (r *DeviceRegistry) Rebuild() {
	names := r.drivers.ListDrivers()
	scanners := make([]Scanner, 0, len(names))
	for _, name := range names {
		inst, ok := r.drivers.GetDriverInstance(name)
		if !ok {
			continue
		}
		scanners = append(scanners, NewDriverScanner(name, inst))
	}

	composite := NewCompositeScanner(r.store, scanners...)
	composite.SetLogger(r.logger)

	r.mu.Lock()
	r.composite = composite
	r.mu.Unlock()
}

// Scanners returns the current scanner names.
func (r *DeviceRegistry) Scanners() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.composite.Scanners()
}

// ScanDevices runs the composite scan.
func (r *DeviceRegistry) ScanDevices(ctx context.Context) *ScanResult {
	r.mu.RLock()
	composite := r.composite
	r.mu.RUnlock()
	return composite.Scan(ctx)
}
