package device

import (
	"fmt"
	"sort"
)

// DeviceType classifies the transport a device is reached through.
// The set is open: drivers may report types not listed here.
type DeviceType string

const (
	TypeUSB     DeviceType = "usb"
	TypeSerial  DeviceType = "serial"
	TypeCAN     DeviceType = "can"
	TypeJTAG    DeviceType = "jtag"
	TypeFPGA    DeviceType = "fpga"
	TypeNetwork DeviceType = "network"
)

// AllDeviceTypes returns the built-in device types.
func AllDeviceTypes() []DeviceType {
	return []DeviceType{TypeUSB, TypeSerial, TypeCAN, TypeJTAG, TypeFPGA, TypeNetwork}
}

// Known reports whether t is one of the built-in types.
func (t DeviceType) Known() bool {
	for _, k := range AllDeviceTypes() {
		if t == k {
			return true
		}
	}
	return false
}

// Source tags where a stored device came from.
type Source string

const (
	// SourceStatic marks devices loaded from persisted config.
	SourceStatic Source = "static"
	// SourceDynamic marks devices reported by a live scan.
	SourceDynamic Source = "dynamic"
)

// Valid reports whether s is static or dynamic.
func (s Source) Valid() bool {
	return s == SourceStatic || s == SourceDynamic
}

// Attributes is the open, free-form part of a device description.
type Attributes map[string]any

// String returns the attribute as a string, or "" when absent or not a string.
func (a Attributes) String(key string) string {
	s, _ := a[key].(string) //nolint:errcheck // Type assertion, not an error
	return s
}

// Keys returns the attribute names in sorted order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SerialPort holds serial line settings.
type SerialPort struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate,omitempty"`
}

// USBID identifies a USB device by vendor and product.
type USBID struct {
	VendorID  string `json:"vendor_id"`
	ProductID string `json:"product_id"`
}

// BusInterface names a host interface such as "vcan0" or a JTAG adapter.
type BusInterface struct {
	Interface string `json:"interface"`
}

// Device describes one discovered or configured piece of hardware.
//
// ID and Type are its identity and must not change after creation.
// The embedded transport structs are optional and flatten into the JSON
// record, matching the persisted device-config format.
type Device struct {
	ID         string     `json:"device_id"`
	Name       string     `json:"name"`
	Type       DeviceType `json:"device_type"`
	Attributes Attributes `json:"attributes"`

	// Driver names the driver that reported the device. Optional in
	// persisted config.
	Driver string `json:"driver,omitempty"`

	*SerialPort
	*USBID
	*BusInterface
}

// String implements fmt.Stringer.
func (d *Device) String() string {
	if d == nil {
		return "<nil device>"
	}
	return fmt.Sprintf("%s(%s)", d.ID, d.Type)
}

// SetAttribute sets one attribute, allocating the map if needed.
// Not synchronized.
func (d *Device) SetAttribute(key string, value any) {
	if d.Attributes == nil {
		d.Attributes = make(Attributes)
	}
	d.Attributes[key] = value
}

// DeepCopy returns an independent copy; attribute maps and nested slices
// are cloned.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	if d.Attributes != nil {
		cpy.Attributes = Attributes(deepCopyMap(d.Attributes))
	}
	if d.SerialPort != nil {
		sp := *d.SerialPort
		cpy.SerialPort = &sp
	}
	if d.USBID != nil {
		id := *d.USBID
		cpy.USBID = &id
	}
	if d.BusInterface != nil {
		bi := *d.BusInterface
		cpy.BusInterface = &bi
	}
	return &cpy
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case Attributes:
		return Attributes(deepCopyMap(val))
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}
