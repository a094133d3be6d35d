package device

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func benchDevices() []*Device {
	return []*Device{
		{ID: "tty0", Name: "ESP32 console", Type: TypeSerial, SerialPort: &SerialPort{Port: "/dev/ttyUSB0", BaudRate: 115200}},
		{ID: "can0-vcan0", Name: "bench CAN", Type: TypeCAN, BusInterface: &BusInterface{Interface: "vcan0"},
			Attributes: Attributes{"bitrate": int64(500000)}},
	}
}

func TestFileSource_SaveLoad(t *testing.T) {
	ctx := context.Background()
	src := NewFileSource(filepath.Join(t.TempDir(), "configs", "devices.json"))

	require.NoError(t, src.Save(ctx, benchDevices()))

	loaded, err := src.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "can0-vcan0", loaded[0].ID, "records are written sorted")
	assert.Equal(t, "vcan0", loaded[0].Interface)
	assert.Equal(t, int64(500000), loaded[0].Attributes["bitrate"])
	assert.Equal(t, 115200, loaded[1].BaudRate)

	info, err := os.Stat(src.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(configFilePermissions), info.Mode().Perm())
}

func TestFileSource_MissingFileIsEmpty(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "absent.json"))

	devices, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices)

	_, err = src.Lookup(context.Background(), "tty0")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestFileSource_InvalidContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", `{"device_id": `},
		{"not an array", `{"device_id": "x"}`},
		{"invalid record", `[{"device_id": "", "device_type": "usb"}]`},
		{"duplicate id", `[{"device_id": "a", "device_type": "usb"}, {"device_id": "a", "device_type": "can"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "devices.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))

			_, err := NewFileSource(path).Load(context.Background())
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestFileSource_PutDelete(t *testing.T) {
	ctx := context.Background()
	src := NewFileSource(filepath.Join(t.TempDir(), "devices.json"))

	require.NoError(t, src.Put(ctx, &Device{ID: "jtag0", Name: "J-Link", Type: TypeJTAG}))
	require.NoError(t, src.Put(ctx, &Device{ID: "jtag0", Name: "J-Link EDU", Type: TypeJTAG}))
	require.NoError(t, src.Put(ctx, &Device{ID: "fpga0", Type: TypeFPGA}))

	dev, err := src.Lookup(ctx, "jtag0")
	require.NoError(t, err)
	assert.Equal(t, "J-Link EDU", dev.Name)

	all, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, src.Delete(ctx, "jtag0"))
	assert.ErrorIs(t, src.Delete(ctx, "jtag0"), ErrDeviceNotFound)
	assert.ErrorIs(t, src.Put(ctx, &Device{ID: "bad"}), ErrInvalidDevice)
}

func TestFileSource_SkipsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "devices.json")
	content := `[
  {"device_id": "can-a", "device_type": "can"},
  {"device_id": "tty-b", "device_type": "serial"},
  {"device_id": "can-a", "device_type": "usb"},
  {"device_id": 7},
  {"device_id": "big", "device_type": "jtag", "attributes": {"serial": 9007199254740993}}
]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	src := NewFileSource(path)

	devices, err := src.Load(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, ErrInvalidDevice)

	skipped, partial := Partial(err)
	require.True(t, partial)
	require.Len(t, skipped.Records, 3)
	assert.Equal(t, 1, skipped.Records[0].Index)
	assert.Equal(t, "tty-b", skipped.Records[0].ID)
	assert.Equal(t, 2, skipped.Records[1].Index)
	assert.Equal(t, 3, skipped.Records[2].Index)

	require.Len(t, devices, 2)
	assert.Equal(t, "can-a", devices[0].ID)
	assert.Equal(t, int64(9007199254740993), devices[1].Attributes["serial"])

	dev, err := src.Lookup(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, TypeJTAG, dev.Type)

	err = src.Put(ctx, &Device{ID: "fpga0", Type: TypeFPGA})
	assert.ErrorIs(t, err, ErrInvalidConfig, "rewriting would drop the invalid records")
}
