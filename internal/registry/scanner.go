package registry

import (
	"context"
	"fmt"

	"github.com/nerrad567/probebench/internal/device"
	"github.com/nerrad567/probebench/internal/driver"
)

// Scanner finds devices reachable through one driver.
type Scanner interface {
	Name() string
	Scan(ctx context.Context) ([]*device.Device, error)
}

// DriverScanner scans through a driver instance and stamps each device
// with the driver name.
type DriverScanner struct {
	name     string
	instance *driver.Instance
}

// NewDriverScanner wraps inst under name.
func NewDriverScanner(name string, inst *driver.Instance) *DriverScanner {
	return &DriverScanner{name: name, instance: inst}
}

// Name returns the driver name.
func (s *DriverScanner) Name() string {
	return s.name
}

// Scan runs the driver's scan.
func (s *DriverScanner) Scan(ctx context.Context) ([]*device.Device, error) {
	devs, err := s.instance.Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*device.Device, 0, len(devs))
	for _, d := range devs {
		if d == nil {
			continue
		}
		d.Driver = s.name
		out = append(out, d)
	}
	return out, nil
}

// ScanResult is the outcome of a composite scan.
type ScanResult struct {
	Devices []*device.Device `json:"devices"`
	Report  *Report          `json:"report"`
}

// CompositeScanner runs scanners in order with per-scanner isolation and
// registers what they find as dynamic devices.
type CompositeScanner struct {
	store    *device.Store
	scanners []Scanner
	logger   Logger
}

// NewCompositeScanner creates a composite over scanners registering into store.
func NewCompositeScanner(store *device.Store, scanners ...Scanner) *CompositeScanner {
	return &CompositeScanner{store: store, scanners: scanners, logger: noopLogger{}}
}

// SetLogger sets the logger for the composite scanner.
func (c *CompositeScanner) SetLogger(logger Logger) {
	c.logger = logger
}

// Scanners returns the scanner names in run order.
func (c *CompositeScanner) Scanners() []string {
	names := make([]string, len(c.scanners))
	for i, s := range c.scanners {
		names[i] = s.Name()
	}
	return names
}

// Scan runs every scanner. A scanner that errors or panics is logged,
// recorded as failed and contributes no devices; the others are unaffected.
// Found devices are registered as dynamic before Scan returns.
func (c *CompositeScanner) Scan(ctx context.Context) *ScanResult {
	result := &ScanResult{Report: NewReport("scan")}

	for _, s := range c.scanners {
		name := s.Name()
		if ctx.Err() != nil {
			result.Report.Record(name, 0, ctx.Err())
			continue
		}

		devs, err := scanIsolated(ctx, s)
		if err != nil {
			c.logger.Warn("scanner failed",
				"scanner", name,
				"error", err,
			)
			result.Report.Record(name, 0, err)
			continue
		}

		registered := 0
		for _, d := range devs {
			if err := c.store.Register(d, device.SourceDynamic); err != nil {
				c.logger.Warn("scanner reported invalid device",
					"scanner", name,
					"device", d.ID,
					"error", err,
				)
				continue
			}
			result.Devices = append(result.Devices, d)
			registered++
		}
		result.Report.Record(name, registered, nil)
	}

	result.Report.Finish()
	c.logger.Info("device scan complete",
		"devices", len(result.Devices),
		"failed", len(result.Report.Failed()),
	)
	return result
}

func scanIsolated(ctx context.Context, s Scanner) (devs []*device.Device, err error) {
	defer func() {
		if r := recover(); r != nil {
			devs = nil
			err = &ScanIsolationError{Scanner: s.Name(), Err: fmt.Errorf("%w: %v", ErrScannerPanic, r)}
		}
	}()
	devs, err = s.Scan(ctx)
	if err != nil {
		return nil, &ScanIsolationError{Scanner: s.Name(), Err: err}
	}
	return devs, nil
}
