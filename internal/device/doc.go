// Package device models the hardware a bench console can talk to and keeps
// the in-memory catalogue of known devices.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                           Store                                 │
//	│   device_id → Entry{*Device, Source (static|dynamic)}           │
//	│                                                                 │
//	│   Register: upsert, last writer wins (value and source tag)     │
//	│   Get:      memory first, then ConfigSource (read-only)         │
//	└───────────────────────────┬─────────────────────────────────────┘
//	                            │ miss
//	                            ▼
//	┌──────────────────────────────┐   ┌──────────────────────────────┐
//	│  FileSource (devices.json)   │   │  SQLiteRepository            │
//	│  JSON array of records       │   │  device_configs table        │
//	└──────────────────────────────┘   └──────────────────────────────┘
//
// # Persisted record
//
// One JSON object per device; transport specific fields sit beside the
// common ones:
//
//	{"device_id": "ftdi-0", "name": "FT2232 bench", "device_type": "usb",
//	 "vendor_id": "0403", "product_id": "6010", "attributes": {"slot": 2}}
//
// # Thread Safety
//
// Store methods are safe for concurrent use. The *Device handed out by Get
// is shared with drivers and acquisition loops and is NOT synchronized by
// this package; code that mutates Attributes from several goroutines must
// coordinate itself. List returns a snapshot of entries.
package device
