package console

import "errors"

var (
	// ErrDriverNotFound is returned for a driver name that is not loaded.
	ErrDriverNotFound = errors.New("console: driver not found")

	// ErrNoConfigWriter is returned by PersistDevice when the device
	// configuration source is read-only.
	ErrNoConfigWriter = errors.New("console: device configuration is read-only")
)
