// Package console is the public face of the driver framework: the
// operations a shell, API or test script uses to find devices and drive
// them through their lifecycle by driver name.
//
// Single-device operations return the driver's error to the caller. Bulk
// operations (ScanAllDevices, InitializeAll, CleanupAll) always finish and
// return a registry.Report naming every unit that failed.
package console
