// Package driver implements the lifecycle contract shared by every device
// driver: a guarded state machine around driver-supplied hooks, plus the
// acquisition worker that streams telemetry while a device is captured.
//
// # State machine
//
//	Unknown ──Scan(found)──▶ Discovered ──Initialize──▶ Initialized ──Connect──▶ Connected
//	                              ▲                          ▲                     │  ▲
//	                              │                          │                Command │
//	                         Initialize                    Reset                   ▼  │
//	                              │                          │                    Active
//	                        Disconnected ◀──────Close────── any        hook failure ──▶ Error
//
// Every operation checks the current state, calls the hook, and transitions
// only when the hook succeeds. A precondition failure returns an
// *InvalidStateError and leaves the state alone. A hook failure (error or
// panic) moves the instance to Error and returns a *DriverError that
// unwraps to the hook's error. Recovery from Error is Reset, or Close
// followed by Initialize.
//
// # Streaming
//
// Hooks that also implement Acquirer can stream. StartStreaming runs
// SetupAcquisition and then exactly one goroutine per device executing
// AcquisitionLoop with a cancellable context; the loop publishes through an
// Emitter. StopStreaming cancels, waits up to the configured stop timeout,
// and runs CleanupAcquisition.
package driver
