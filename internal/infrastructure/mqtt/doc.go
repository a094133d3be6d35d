// Package mqtt connects probebench to an MQTT broker.
//
// The broker is the optional remote backing of the in-process stream broker:
// envelopes are mirrored to per-channel topics so other consoles (or any MQTT
// tool) can observe them, and channel status is published retained.
//
// # Topic layout
//
//	<prefix>/stream/<channel>     stream envelopes (JSON)
//	<prefix>/channels/<channel>   retained channel status
//	<prefix>/system/<client_id>   retained online/offline status (LWT)
//
// # Thread Safety
//
// All Client methods are safe for concurrent use. Subscriptions are tracked
// and restored after a reconnect. Handlers run on paho goroutines with panic
// recovery.
package mqtt
