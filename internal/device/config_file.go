package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const configFilePermissions = 0600

// FileSource is persisted device config kept as a JSON array in one file.
//
// A missing file is an empty config. Writes replace the file atomically
// through a temporary file in the same directory.
type FileSource struct {
	path string
	mu   sync.Mutex
}

// NewFileSource returns a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the config file location.
func (f *FileSource) Path() string {
	return f.path
}

// Load reads and validates every record. Invalid records are skipped and
// reported in a *SkippedRecordsError returned with the valid ones; a file
// that cannot be read or is not a JSON array fails with no devices.
func (f *FileSource) Load(_ context.Context) ([]*Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	devices, skipped, err := f.read()
	if err != nil {
		return nil, err
	}
	if len(skipped) > 0 {
		return devices, &SkippedRecordsError{Source: f.path, Records: skipped}
	}
	return devices, nil
}

// Lookup finds one record by device_id.
func (f *FileSource) Lookup(ctx context.Context, id string) (*Device, error) {
	devices, err := f.Load(ctx)
	if _, partial := Partial(err); err != nil && !partial {
		return nil, err
	}
	for _, d := range devices {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, ErrDeviceNotFound
}

// Put inserts or replaces the record for dev.ID.
func (f *FileSource) Put(_ context.Context, dev *Device) error {
	if err := dev.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	devices, err := f.readStrict()
	if err != nil {
		return err
	}
	replaced := false
	for i, d := range devices {
		if d.ID == dev.ID {
			devices[i] = dev
			replaced = true
			break
		}
	}
	if !replaced {
		devices = append(devices, dev)
	}
	return f.write(devices)
}

// Delete removes the record for id.
func (f *FileSource) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	devices, err := f.readStrict()
	if err != nil {
		return err
	}
	for i, d := range devices {
		if d.ID == id {
			return f.write(append(devices[:i], devices[i+1:]...))
		}
	}
	return ErrDeviceNotFound
}

// Save replaces the whole file with devices.
func (f *FileSource) Save(_ context.Context, devices []*Device) error {
	for _, d := range devices {
		if err := d.Validate(); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(devices)
}

func (f *FileSource) read() ([]*Device, []*RecordError, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading device config: %w", err)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, f.path, err)
	}

	var (
		devices []*Device
		skipped []*RecordError
		seen    = make(map[string]bool, len(records))
	)
	for i, raw := range records {
		d, err := decodeDevice(raw)
		if err != nil {
			skipped = append(skipped, &RecordError{Index: i, ID: recordID(raw), Err: err})
			continue
		}
		if err := d.Validate(); err != nil {
			skipped = append(skipped, &RecordError{Index: i, ID: d.ID, Err: err})
			continue
		}
		if seen[d.ID] {
			skipped = append(skipped, &RecordError{Index: i, ID: d.ID, Err: errors.New("duplicate device_id")})
			continue
		}
		seen[d.ID] = true
		devices = append(devices, d)
	}
	return devices, skipped, nil
}

// readStrict refuses a file with invalid records so a rewrite never drops
// them silently.
func (f *FileSource) readStrict() ([]*Device, error) {
	devices, skipped, err := f.read()
	if err != nil {
		return nil, err
	}
	if len(skipped) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, &SkippedRecordsError{Source: f.path, Records: skipped})
	}
	return devices, nil
}

func (f *FileSource) write(devices []*Device) error {
	sorted := make([]*Device, len(devices))
	copy(sorted, devices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	if sorted == nil {
		sorted = []*Device{}
	}

	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding device config: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".devices-*.json")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // Already renamed on success

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close() //nolint:errcheck // Write error takes precedence
		return fmt.Errorf("writing device config: %w", err)
	}
	if err := tmp.Chmod(configFilePermissions); err != nil {
		tmp.Close() //nolint:errcheck // Chmod error takes precedence
		return fmt.Errorf("writing device config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing device config: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replacing device config: %w", err)
	}
	return nil
}
