package driver

import (
	"slices"
	"time"
)

// State is the lifecycle state of a driver instance.
type State string

const (
	StateUnknown      State = "unknown"
	StateDiscovered   State = "discovered"
	StateInitialized  State = "initialized"
	StateConnected    State = "connected"
	StateActive       State = "active"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// Op names a lifecycle operation.
type Op string

const (
	OpScan           Op = "scan"
	OpInitialize     Op = "initialize"
	OpConnect        Op = "connect"
	OpCommand        Op = "command"
	OpReset          Op = "reset"
	OpClose          Op = "close"
	OpStartStreaming Op = "start_streaming"
	OpStopStreaming  Op = "stop_streaming"
)

// preconditions lists the states each operation may start from.
// Operations missing from the map are accepted from any state.
var preconditions = map[Op][]State{
	OpInitialize: {StateDiscovered, StateDisconnected},
	OpConnect:    {StateInitialized},
	OpCommand:    {StateConnected},
	OpReset: {
		StateDiscovered, StateInitialized, StateConnected,
		StateActive, StateDisconnected, StateError,
	},
}

// allowed reports whether op may run from s, returning the expected states
// when it may not.
func allowed(op Op, s State) (bool, []State) {
	expected, ok := preconditions[op]
	if !ok {
		return true, nil
	}
	return slices.Contains(expected, s), expected
}

// Transition describes one state change of an instance. Failed operations
// produce a transition to StateError with Err set.
type Transition struct {
	Driver string    `json:"driver"`
	Device string    `json:"device,omitempty"`
	Op     Op        `json:"op"`
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Err    error     `json:"-"`
}
