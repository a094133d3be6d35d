// Package registry reconciles persisted device configuration with devices
// found by scanning the loaded drivers.
//
//	           ┌──────────── DeviceRegistry ─────────────┐
//	Initialize │ config source ──Load──▶ Store (static)   │
//	           │ plugin registry ──▶ DriverScanner per    │
//	           │                     driver               │
//	ScanDevices│ CompositeScanner ──Scan──▶ Store (dynamic)│
//	           └──────────────────────────────────────────┘
//
// The composite scanner isolates drivers from each other: a scanner that
// fails or panics is recorded in the Report and the others still run.
// Registration is last-writer-wins, so a configured device that a scan
// reports again becomes dynamic.
package registry
