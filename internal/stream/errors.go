package stream

import "errors"

var (
	// ErrInvalidChannel is returned for an empty channel name.
	ErrInvalidChannel = errors.New("stream: channel is required")

	// ErrClosed is returned by sinks that have been closed.
	ErrClosed = errors.New("stream: closed")
)
