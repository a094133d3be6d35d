package registry

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/probebench/internal/device"
	"github.com/nerrad567/probebench/internal/driver"
)

type funcScanner struct {
	name string
	fn   func(ctx context.Context) ([]*device.Device, error)
}

func (s funcScanner) Name() string { return s.name }
func (s funcScanner) Scan(ctx context.Context) ([]*device.Device, error) {
	return s.fn(ctx)
}

func canDevice(id string) *device.Device {
	return &device.Device{
		ID:           id,
		Name:         "bench " + id,
		Type:         device.TypeCAN,
		Attributes:   device.Attributes{"bitrate": int64(500000)},
		BusInterface: &device.BusInterface{Interface: "vcan0"},
	}
}

// hooks is a minimal driver that reports a fixed device list.
type hooks struct {
	found []*device.Device
	err   error
}

func (h *hooks) SupportedCommands() map[string]string { return map[string]string{"start": "start"} }
func (h *hooks) ScanImpl(context.Context) ([]*device.Device, error) {
	return h.found, h.err
}
func (h *hooks) InitializeImpl(context.Context, *device.Device) error { return nil }
func (h *hooks) ConnectImpl(context.Context, *device.Device) error    { return nil }
func (h *hooks) CommandImpl(context.Context, *device.Device, string, map[string]any) (any, error) {
	return nil, nil
}
func (h *hooks) ResetImpl(context.Context, *device.Device) error { return nil }
func (h *hooks) CloseImpl(context.Context, *device.Device) error { return nil }

type drivers map[string]*driver.Instance

func (d drivers) ListDrivers() []string {
	names := make([]string, 0, len(d))
	for n := range d {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (d drivers) GetDriverInstance(name string) (*driver.Instance, bool) {
	inst, ok := d[name]
	return inst, ok
}

func TestCompositeScanner_IsolatesFailures(t *testing.T) {
	store := device.NewStore(nil)
	a := funcScanner{"a", func(context.Context) ([]*device.Device, error) {
		return nil, errors.New("usb bus gone")
	}}
	p := funcScanner{"p", func(context.Context) ([]*device.Device, error) {
		panic("nil transport")
	}}
	b := funcScanner{"b", func(context.Context) ([]*device.Device, error) {
		return []*device.Device{canDevice("dev-b")}, nil
	}}

	res := NewCompositeScanner(store, a, p, b).Scan(context.Background())

	require.Len(t, res.Devices, 1)
	assert.Equal(t, "dev-b", res.Devices[0].ID)
	assert.Equal(t, []string{"a", "p"}, res.Report.Failed())
	assert.Equal(t, []string{"b"}, res.Report.Succeeded())
	assert.Equal(t, 1, res.Report.Units["b"].Devices)

	var iso *ScanIsolationError
	require.ErrorAs(t, res.Report.Units["a"].Err, &iso)
	assert.Equal(t, "a", iso.Scanner)
	assert.ErrorIs(t, res.Report.Units["p"].Err, ErrScannerPanic)
	assert.Error(t, res.Report.Err())

	entry, err := store.Get(context.Background(), "dev-b")
	require.NoError(t, err)
	assert.Equal(t, device.SourceDynamic, entry.Source)
}

func TestCompositeScanner_SkipsInvalidDevices(t *testing.T) {
	store := device.NewStore(nil)
	s := funcScanner{"s", func(context.Context) ([]*device.Device, error) {
		return []*device.Device{{ID: "no-type"}, canDevice("ok")}, nil
	}}
	res := NewCompositeScanner(store, s).Scan(context.Background())
	require.Len(t, res.Devices, 1)
	assert.True(t, res.Report.OK())
	assert.Equal(t, 1, store.Len())
}

func TestCompositeScanner_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	s := funcScanner{"s", func(context.Context) ([]*device.Device, error) {
		called = true
		return nil, nil
	}}
	res := NewCompositeScanner(device.NewStore(nil), s).Scan(ctx)
	assert.False(t, called)
	assert.ErrorIs(t, res.Report.Units["s"].Err, context.Canceled)
}

func TestDriverScanner_StampsDriver(t *testing.T) {
	inst := driver.New("can0", &hooks{found: []*device.Device{canDevice("dev-1"), nil}}, driver.Config{})
	devs, err := NewDriverScanner("can0", inst).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, "can0", devs[0].Driver)
	assert.Equal(t, driver.StateDiscovered, inst.State())
}

func TestDeviceRegistry_StaticThenDynamic(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "devices.json")
	src := device.NewFileSource(path)
	require.NoError(t, src.Save(ctx, []*device.Device{canDevice("dev-7")}))

	store := device.NewStore(src)
	reg := NewDeviceRegistry(drivers{
		"can0": driver.New("can0", &hooks{found: []*device.Device{canDevice("dev-7")}}, driver.Config{}),
	}, store, src)

	loaded, err := reg.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-7"}, loaded.Succeeded())
	entry, err := store.Get(ctx, "dev-7")
	require.NoError(t, err)
	assert.Equal(t, device.SourceStatic, entry.Source)

	res := reg.ScanDevices(ctx)
	require.Len(t, res.Devices, 1)

	assert.Equal(t, 1, store.Len())
	entry, err = store.Get(ctx, "dev-7")
	require.NoError(t, err)
	assert.Equal(t, device.SourceDynamic, entry.Source)
	assert.Equal(t, "can0", entry.Device.Driver)
}

func TestDeviceRegistry_PersistedRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "devices.json")
	src := device.NewFileSource(path)

	orig := canDevice("dev-rt")
	orig.Attributes["firmware"] = "1.4.2"
	orig.Attributes["index"] = int64(3)
	orig.Attributes["serial"] = int64(9007199254740993)
	orig.Attributes["gain"] = 1.5
	require.NoError(t, src.Put(ctx, orig))

	store := device.NewStore(src)
	reg := NewDeviceRegistry(drivers{}, store, device.NewFileSource(path))
	_, err := reg.Initialize(ctx)
	require.NoError(t, err)

	entry, err := store.Get(ctx, "dev-rt")
	require.NoError(t, err)
	assert.False(t, entry.Hydrated)
	assert.Equal(t, device.SourceStatic, entry.Source)
	assert.Equal(t, orig.ID, entry.Device.ID)
	assert.Equal(t, orig.Attributes, entry.Device.Attributes)
	assert.Equal(t, orig.BusInterface, entry.Device.BusInterface)
}

func TestDeviceRegistry_IntAttributesSurviveRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "devices.json")

	dev := canDevice("dev-int")
	dev.Attributes["index"] = 3
	dev.Attributes["can_ids"] = []any{int64(0x7E0), int64(0x7E8)}
	require.NoError(t, device.NewFileSource(path).Put(ctx, dev))

	store := device.NewStore(nil)
	_, err := NewDeviceRegistry(drivers{}, store, device.NewFileSource(path)).Initialize(ctx)
	require.NoError(t, err)

	entry, err := store.Get(ctx, "dev-int")
	require.NoError(t, err)
	assert.EqualValues(t, 3, entry.Device.Attributes["index"])
	assert.IsType(t, int64(0), entry.Device.Attributes["index"])
	assert.Equal(t, []any{int64(0x7E0), int64(0x7E8)}, entry.Device.Attributes["can_ids"])
}

func TestDeviceRegistry_InvalidRecordsAreSkipped(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "devices.json")
	content := `[
  {"device_id": "can-a", "name": "a", "device_type": "can", "attributes": {}},
  {"device_id": "usb-b", "name": "b", "device_type": "usb", "attributes": {}},
  {"device_id": "tty-c", "name": "c", "device_type": "serial", "attributes": {}}
]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	store := device.NewStore(nil)
	reg := NewDeviceRegistry(drivers{}, store, device.NewFileSource(path))
	report, err := reg.Initialize(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, store.Len())
	assert.Equal(t, []string{"can-a", "usb-b"}, report.Succeeded())
	assert.Equal(t, []string{"record:2"}, report.Failed())
	assert.ErrorIs(t, report.Units["record:2"].Err, device.ErrInvalidDevice)
	assert.ErrorContains(t, report.Err(), "tty-c")
}

func TestDeviceRegistry_UnreadableConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"device_id": `), 0o600))

	store := device.NewStore(nil)
	_, err := NewDeviceRegistry(drivers{}, store, device.NewFileSource(path)).Initialize(context.Background())
	assert.ErrorIs(t, err, device.ErrInvalidConfig)
	assert.Zero(t, store.Len())
}

func TestDeviceRegistry_RebuildFollowsDrivers(t *testing.T) {
	ds := drivers{"a": driver.New("a", &hooks{}, driver.Config{})}
	reg := NewDeviceRegistry(ds, device.NewStore(nil), nil)
	_, err := reg.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, reg.Scanners())

	ds["b"] = driver.New("b", &hooks{}, driver.Config{})
	assert.Equal(t, []string{"a"}, reg.Scanners())
	reg.Rebuild()
	assert.Equal(t, []string{"a", "b"}, reg.Scanners())
}

func TestDeviceRegistry_DriverScanFailure(t *testing.T) {
	ds := drivers{
		"bad":  driver.New("bad", &hooks{err: errors.New("ftdi missing")}, driver.Config{}),
		"good": driver.New("good", &hooks{found: []*device.Device{canDevice("g1")}}, driver.Config{}),
	}
	reg := NewDeviceRegistry(ds, device.NewStore(nil), nil)
	_, err := reg.Initialize(context.Background())
	require.NoError(t, err)

	res := reg.ScanDevices(context.Background())
	assert.Equal(t, []string{"bad"}, res.Report.Failed())
	require.Len(t, res.Devices, 1)

	var derr *driver.DriverError
	assert.ErrorAs(t, res.Report.Units["bad"].Err, &derr)
	assert.Equal(t, driver.StateError, ds["bad"].State())
}

func TestReport_JSON(t *testing.T) {
	r := NewReport("initialize")
	r.Record("can0", 2, nil)
	r.Record("usb", 0, errors.New("permission denied"))
	r.Finish()

	assert.Equal(t, []string{"can0"}, r.Succeeded())
	assert.Equal(t, []string{"usb"}, r.Failed())
	assert.False(t, r.OK())
	assert.EqualError(t, r.Err(), "usb: permission denied")

	b, err := json.Marshal(r)
	require.NoError(t, err)
	var decoded struct {
		Op    string                    `json:"op"`
		Units map[string]map[string]any `json:"units"`
	}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "initialize", decoded.Op)
	assert.Equal(t, true, decoded.Units["can0"]["ok"])
	assert.Equal(t, "permission denied", decoded.Units["usb"]["error"])
}
