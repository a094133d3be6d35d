package device

import (
	"fmt"
	"strings"
)

const (
	maxIDLength   = 128
	maxNameLength = 256
)

// Validate checks the identity fields and transport-specific requirements.
//
// Device IDs double as stream channel names, so MQTT wildcard and level
// characters are rejected.
func (d *Device) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil device", ErrInvalidDevice)
	}
	if err := ValidateID(d.ID); err != nil {
		return err
	}
	if len(d.Name) > maxNameLength {
		return fmt.Errorf("%w: %s: name exceeds %d characters", ErrInvalidDevice, d.ID, maxNameLength)
	}
	if d.Type == "" {
		return fmt.Errorf("%w: %s: device_type is required", ErrInvalidDevice, d.ID)
	}

	if d.SerialPort != nil {
		if d.Port == "" {
			return fmt.Errorf("%w: %s: serial port is required", ErrInvalidDevice, d.ID)
		}
		if d.BaudRate < 0 {
			return fmt.Errorf("%w: %s: baud_rate must not be negative", ErrInvalidDevice, d.ID)
		}
	}
	if d.Type == TypeSerial && d.SerialPort == nil {
		return fmt.Errorf("%w: %s: serial devices need a port", ErrInvalidDevice, d.ID)
	}
	if d.USBID != nil && (d.VendorID == "" || d.ProductID == "") {
		return fmt.Errorf("%w: %s: vendor_id and product_id are both required", ErrInvalidDevice, d.ID)
	}
	if d.BusInterface != nil && d.Interface == "" {
		return fmt.Errorf("%w: %s: interface must not be empty", ErrInvalidDevice, d.ID)
	}
	return nil
}

// ValidateID checks a device identifier.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: device_id is required", ErrInvalidDevice)
	case len(id) > maxIDLength:
		return fmt.Errorf("%w: device_id exceeds %d characters", ErrInvalidDevice, maxIDLength)
	case strings.ContainsAny(id, "/+# \t\n"):
		return fmt.Errorf("%w: device_id %q contains '/', '+', '#' or whitespace", ErrInvalidDevice, id)
	}
	return nil
}
