package driver

import (
	"maps"

	"github.com/nerrad567/probebench/internal/stream"
)

// Emitter publishes envelopes for one streaming session on the device's
// channel. Every envelope carries the session id and driver name in its
// metadata.
type Emitter struct {
	pub       stream.Publisher
	driver    string
	channel   string
	sessionID string
}

func newEmitter(pub stream.Publisher, driverName, channel, sessionID string) *Emitter {
	return &Emitter{pub: pub, driver: driverName, channel: channel, sessionID: sessionID}
}

// NewEmitter creates an emitter outside a streaming session, for drivers
// that publish from their own goroutines or for tests.
func NewEmitter(pub stream.Publisher, driverName, channel, sessionID string) *Emitter {
	return newEmitter(pub, driverName, channel, sessionID)
}

// Channel returns the channel envelopes are published on.
func (e *Emitter) Channel() string { return e.channel }

// SessionID returns the streaming session id.
func (e *Emitter) SessionID() string { return e.sessionID }

// Data publishes a data envelope.
func (e *Emitter) Data(streamType string, data any) error {
	return e.Emit(stream.Envelope{StreamType: streamType, Action: stream.ActionData, Data: data})
}

// Status publishes a status envelope.
func (e *Emitter) Status(streamType string, data any) error {
	return e.Emit(stream.Envelope{StreamType: streamType, Action: stream.ActionStatus, Data: data})
}

// Emit publishes env on the session channel, merging the session metadata
// into a copy of env.Metadata.
func (e *Emitter) Emit(env stream.Envelope) error {
	meta := make(map[string]any, len(env.Metadata)+2)
	maps.Copy(meta, env.Metadata)
	meta[stream.MetaSessionID] = e.sessionID
	meta[stream.MetaDriver] = e.driver

	env.Channel = e.channel
	env.Metadata = meta
	return e.pub.Broadcast(env)
}
