package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Store.
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

// Entry is one stored device with its source tag.
type Entry struct {
	Device    *Device   `json:"device"`
	Source    Source    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`

	// Hydrated is true when the entry was read from persisted config on
	// a lookup miss and is not held in memory.
	Hydrated bool `json:"hydrated,omitempty"`
}

// Stats summarises the store contents.
type Stats struct {
	Total   int                `json:"total"`
	Static  int                `json:"static"`
	Dynamic int                `json:"dynamic"`
	ByType  map[DeviceType]int `json:"by_type"`
}

// Store is the keyed catalogue of known devices.
//
// Register is an upsert: a second registration of the same device_id
// replaces both the device and its source tag, so a statically configured
// device found again by a scan becomes dynamic.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	fallback ConfigSource
	logger   Logger
	now      func() time.Time
}

// NewStore creates an empty store. fallback may be nil, in which case Get
// only consults memory.
func NewStore(fallback ConfigSource) *Store {
	return &Store{
		entries:  make(map[string]*Entry),
		fallback: fallback,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Register inserts or replaces dev under dev.ID with the given source.
func (s *Store) Register(dev *Device, source Source) error {
	if !source.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}
	if err := dev.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	prev, existed := s.entries[dev.ID]
	s.entries[dev.ID] = &Entry{Device: dev, Source: source, UpdatedAt: s.now()}
	s.mu.Unlock()

	if existed && prev.Source != source {
		s.logger.Info("device reclassified", "device_id", dev.ID, "from", prev.Source, "to", source)
	} else if !existed {
		s.logger.Debug("device registered", "device_id", dev.ID, "source", source)
	}
	return nil
}

// Get returns the entry for id. On a memory miss it asks the persisted
// config; a hit there is returned as a static, Hydrated entry but is not
// added to the store.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	var out Entry
	if ok {
		out = *e
	}
	s.mu.RUnlock()
	if ok {
		return out, nil
	}

	if s.fallback == nil {
		return Entry{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	dev, err := s.fallback.Lookup(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return Entry{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
		}
		return Entry{}, fmt.Errorf("hydrating device %s: %w", id, err)
	}
	return Entry{Device: dev, Source: SourceStatic, UpdatedAt: s.now(), Hydrated: true}, nil
}

// Contains reports whether id is held in memory (fallback not consulted).
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok
}

// List returns a snapshot of all in-memory entries sorted by device_id.
func (s *Store) List() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Device.ID < out[j].Device.ID })
	return out
}

// ListByDriver returns the in-memory entries reported by the named driver.
func (s *Store) ListByDriver(driver string) []Entry {
	var out []Entry
	for _, e := range s.List() {
		if e.Device.Driver == driver {
			out = append(out, e)
		}
	}
	return out
}

// Remove deletes id from memory. Persisted config is untouched.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	delete(s.entries, id)
	return nil
}

// Len returns the number of in-memory entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats counts entries by source and type.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Total: len(s.entries), ByType: make(map[DeviceType]int)}
	for _, e := range s.entries {
		switch e.Source {
		case SourceStatic:
			st.Static++
		case SourceDynamic:
			st.Dynamic++
		}
		st.ByType[e.Device.Type]++
	}
	return st
}
