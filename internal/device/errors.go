package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // not in memory and not in persisted config
//	}
var (
	ErrDeviceNotFound = errors.New("device: not found")
	ErrInvalidDevice  = errors.New("device: invalid")
	ErrInvalidSource  = errors.New("device: invalid source tag")

	// ErrInvalidConfig is returned when a persisted device config cannot
	// be decoded or contains an invalid record.
	ErrInvalidConfig = errors.New("device: invalid persisted config")
)
