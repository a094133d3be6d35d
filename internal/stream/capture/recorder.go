package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/probebench/internal/stream"
)

// Recorder appends envelopes to a capture file. It is a stream.Sink and is
// safe for concurrent use.
type Recorder struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
	count   uint64
}

// NewRecorder opens path for appending, creating it and its directory
// if needed.
func NewRecorder(path string) (*Recorder, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating capture directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) //nolint:gosec // Path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("opening capture file: %w", err)
	}
	return &Recorder{
		file:    f,
		encoder: NewEncoder(f),
	}, nil
}

// Deliver appends env to the file. It returns stream.ErrClosed after Close.
func (r *Recorder) Deliver(_ context.Context, env stream.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return stream.ErrClosed
	}
	if err := r.encoder.Encode(env); err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	r.count++
	return nil
}

// Count returns the number of envelopes written by this recorder.
func (r *Recorder) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close closes the file. Safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

var _ stream.Sink = (*Recorder)(nil)
