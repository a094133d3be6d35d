package stream

import (
	"maps"
	"time"
)

// Source says which side of the console produced an envelope.
type Source string

const (
	SourceServer Source = "server"
	SourceClient Source = "client"
)

// Action distinguishes data samples from status notifications.
type Action string

const (
	ActionData   Action = "data"
	ActionStatus Action = "status"
)

// Well-known metadata keys.
const (
	MetaSessionID = "session_id"
	MetaDriver    = "driver"
	MetaOrigin    = "origin"
)

// Envelope is one message on a channel. Its JSON and CBOR encodings use
// the external wire names.
type Envelope struct {
	StreamType string         `json:"stream_type" cbor:"stream_type"`
	Channel    string         `json:"channel" cbor:"channel"`
	Timestamp  time.Time      `json:"timestamp" cbor:"timestamp"`
	Source     Source         `json:"source" cbor:"source"`
	Action     Action         `json:"action" cbor:"action"`
	Data       any            `json:"data" cbor:"data"`
	Metadata   map[string]any `json:"metadata" cbor:"metadata"`
}

// WithMeta returns a copy of e with key set in a cloned metadata map.
// Envelopes are shared between subscribers, so consumers must use this
// instead of writing to Metadata.
func (e Envelope) WithMeta(key string, value any) Envelope {
	meta := make(map[string]any, len(e.Metadata)+1)
	maps.Copy(meta, e.Metadata)
	meta[key] = value
	e.Metadata = meta
	return e
}

// Meta returns a metadata value as a string ("" if absent or not a string).
func (e Envelope) Meta(key string) string {
	s, _ := e.Metadata[key].(string) //nolint:errcheck // Type assertion, not an error
	return s
}

// normalize fills the defaults applied by Broadcast.
func (e *Envelope) normalize(now time.Time) {
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.Source == "" {
		e.Source = SourceServer
	}
	if e.Action == "" {
		e.Action = ActionData
	}
}
