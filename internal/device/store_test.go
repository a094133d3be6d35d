package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSource is an in-memory ConfigSource that counts lookups.
type mockSource struct {
	mu      sync.Mutex
	devices map[string]*Device
	lookups int
	err     error
}

func newMockSource(devices ...*Device) *mockSource {
	m := &mockSource{devices: make(map[string]*Device)}
	for _, d := range devices {
		m.devices[d.ID] = d
	}
	return m
}

func (m *mockSource) Load(context.Context) ([]*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d.DeepCopy())
	}
	return out, nil
}

func (m *mockSource) Lookup(_ context.Context, id string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.err != nil {
		return nil, m.err
	}
	d, ok := m.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

func TestStore_RegisterLastWriterWins(t *testing.T) {
	store := NewStore(nil)
	dev := &Device{ID: "can0-vcan0", Name: "bench CAN", Type: TypeCAN}

	require.NoError(t, store.Register(dev, SourceStatic))
	require.NoError(t, store.Register(dev, SourceDynamic))

	entries := store.List()
	require.Len(t, entries, 1)
	assert.Equal(t, SourceDynamic, entries[0].Source)
	assert.Equal(t, 1, store.Len())
}

func TestStore_RegisterReplacesValue(t *testing.T) {
	store := NewStore(nil)
	require.NoError(t, store.Register(&Device{ID: "d1", Name: "old", Type: TypeUSB}, SourceDynamic))
	require.NoError(t, store.Register(&Device{ID: "d1", Name: "new", Type: TypeUSB}, SourceStatic))

	e, err := store.Get(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "new", e.Device.Name)
	assert.Equal(t, SourceStatic, e.Source)
}

func TestStore_RegisterRejectsInvalid(t *testing.T) {
	store := NewStore(nil)

	err := store.Register(&Device{ID: "", Type: TypeUSB}, SourceDynamic)
	assert.ErrorIs(t, err, ErrInvalidDevice)

	err = store.Register(&Device{ID: "ok", Type: TypeUSB}, Source("cached"))
	assert.ErrorIs(t, err, ErrInvalidSource)

	assert.Equal(t, 0, store.Len())
}

func TestStore_GetSharesDevicePointer(t *testing.T) {
	store := NewStore(nil)
	dev := &Device{ID: "d1", Type: TypeJTAG}
	require.NoError(t, store.Register(dev, SourceDynamic))

	e, err := store.Get(context.Background(), "d1")
	require.NoError(t, err)
	assert.Same(t, dev, e.Device)
}

func TestStore_GetFallbackIsReadOnly(t *testing.T) {
	src := newMockSource(&Device{ID: "tty0", Type: TypeSerial, SerialPort: &SerialPort{Port: "/dev/ttyS0"}})
	store := NewStore(src)

	e, err := store.Get(context.Background(), "tty0")
	require.NoError(t, err)
	assert.True(t, e.Hydrated)
	assert.Equal(t, SourceStatic, e.Source)
	assert.Equal(t, "/dev/ttyS0", e.Device.Port)

	assert.False(t, store.Contains("tty0"), "hydration must not write back")
	assert.Equal(t, 0, store.Len())

	_, err = store.Get(context.Background(), "tty0")
	require.NoError(t, err)
	assert.Equal(t, 2, src.lookups, "every miss consults the persisted config")
}

func TestStore_GetMemoryBeforeFallback(t *testing.T) {
	src := newMockSource(&Device{ID: "d1", Name: "persisted", Type: TypeUSB})
	store := NewStore(src)
	require.NoError(t, store.Register(&Device{ID: "d1", Name: "scanned", Type: TypeUSB}, SourceDynamic))

	e, err := store.Get(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "scanned", e.Device.Name)
	assert.False(t, e.Hydrated)
	assert.Equal(t, 0, src.lookups)
}

func TestStore_GetNotFound(t *testing.T) {
	_, err := NewStore(nil).Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	_, err = NewStore(newMockSource()).Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	broken := newMockSource()
	broken.err = errors.New("disk on fire")
	_, err = NewStore(broken).Get(context.Background(), "ghost")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDeviceNotFound)
}

func TestStore_ListRemoveStats(t *testing.T) {
	store := NewStore(nil)
	require.NoError(t, store.Register(&Device{ID: "c", Type: TypeCAN, Driver: "can"}, SourceDynamic))
	require.NoError(t, store.Register(&Device{ID: "a", Type: TypeUSB, Driver: "ftdi"}, SourceStatic))
	require.NoError(t, store.Register(&Device{ID: "b", Type: TypeCAN, Driver: "can"}, SourceDynamic))

	entries := store.List()
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].Device.ID)
	assert.Equal(t, "c", entries[2].Device.ID)

	assert.Len(t, store.ListByDriver("can"), 2)

	st := store.Stats()
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Static)
	assert.Equal(t, 2, st.Dynamic)
	assert.Equal(t, 2, st.ByType[TypeCAN])

	require.NoError(t, store.Remove("b"))
	assert.ErrorIs(t, store.Remove("b"), ErrDeviceNotFound)
	assert.Equal(t, 2, store.Len())
}

func TestStore_ConcurrentRegister(t *testing.T) {
	store := NewStore(nil)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				src := SourceDynamic
				if (w+i)%2 == 0 {
					src = SourceStatic
				}
				dev := &Device{ID: fmt.Sprintf("dev-%d", i), Type: TypeUSB}
				assert.NoError(t, store.Register(dev, src))
				_ = store.List()
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 50, store.Len())
}
