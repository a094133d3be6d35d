package device

import "context"

// ConfigSource is read access to persisted device configuration.
type ConfigSource interface {
	// Load returns every persisted device. When some records are invalid
	// it returns the valid ones together with a *SkippedRecordsError.
	Load(ctx context.Context) ([]*Device, error)

	// Lookup returns one persisted device or ErrDeviceNotFound.
	Lookup(ctx context.Context, id string) (*Device, error)
}

// ConfigWriter is write access to persisted device configuration.
type ConfigWriter interface {
	// Put inserts or replaces the record for dev.ID.
	Put(ctx context.Context, dev *Device) error

	// Delete removes a record or returns ErrDeviceNotFound.
	Delete(ctx context.Context, id string) error
}

// ConfigStore is a persisted config that can be read and written.
type ConfigStore interface {
	ConfigSource
	ConfigWriter
}
