// Package plugin discovers driver implementations and keeps exactly one
// driver.Instance per driver name.
//
// Drivers make themselves available by calling Register from an init
// function; importing the driver package (usually blank) is all it takes.
// Every registered factory is loaded under its own name. The plugin
// directory then adjusts that set with YAML manifests:
//
//	# plugins/can0.yaml
//	name: can0
//	factory: loopback
//	options:
//	  device_type: can
//	  interface: vcan0
//
//	# plugins/loopback.yaml
//	name: loopback
//	enabled: false
//
// A manifest that fails to parse, names an unknown factory, or whose factory
// fails is reported and skipped; the rest still load. Discover can be rerun
// at any time (Watch does so when manifests change). The new driver set
// replaces the old one atomically, and drivers whose factory and options
// did not change keep their existing instance, so a reload never disturbs a
// streaming driver. Replaced instances are not stopped.
package plugin
