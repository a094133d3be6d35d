package capture

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/probebench/internal/stream"
)

// Filter selects envelopes when reading. Zero fields match everything.
type Filter struct {
	Channel   string
	Action    stream.Action
	TimeStart *time.Time
	TimeEnd   *time.Time
}

func (f *Filter) matches(env stream.Envelope) bool {
	if f.Channel != "" && env.Channel != f.Channel {
		return false
	}
	if f.Action != "" && env.Action != f.Action {
		return false
	}
	if f.TimeStart != nil && env.Timestamp.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && !env.Timestamp.Before(*f.TimeEnd) {
		return false
	}
	return true
}

// Reader iterates over the envelopes in a capture file.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
}

// Open returns a reader over every envelope in path.
func Open(path string) (*Reader, error) {
	return OpenFiltered(path, Filter{})
}

// OpenFiltered returns a reader over the envelopes in path matching filter.
func OpenFiltered(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path) //nolint:gosec // Path comes from operator input
	if err != nil {
		return nil, err
	}
	return &Reader{
		file:    f,
		decoder: NewDecoder(f),
		filter:  filter,
	}, nil
}

// Next returns the next matching envelope, or io.EOF at the end.
func (r *Reader) Next() (stream.Envelope, error) {
	for {
		var env stream.Envelope
		if err := r.decoder.Decode(&env); err != nil {
			if errors.Is(err, io.EOF) {
				return stream.Envelope{}, io.EOF
			}
			return stream.Envelope{}, err
		}
		if r.filter.matches(env) {
			return env, nil
		}
	}
}

// ReadAll drains the reader.
func (r *Reader) ReadAll() ([]stream.Envelope, error) {
	var out []stream.Envelope
	for {
		env, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, env)
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
