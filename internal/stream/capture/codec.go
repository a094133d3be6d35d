// Package capture records stream envelopes to CBOR files and reads them
// back. A capture file is a plain sequence of CBOR-encoded envelopes, so
// an interrupted recording is readable up to the last complete item.
package capture

import (
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/probebench/internal/stream"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture: building CBOR encoder mode: %v", err))
	}

	// Envelope data decodes to map[string]any, matching what JSON consumers see.
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		DefaultMapType:    reflect.TypeOf(map[string]any(nil)),
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("capture: building CBOR decoder mode: %v", err))
	}
}

// Encode returns the CBOR encoding of env.
func Encode(env stream.Envelope) ([]byte, error) {
	return encMode.Marshal(env)
}

// Decode parses one CBOR-encoded envelope.
func Decode(data []byte) (stream.Envelope, error) {
	var env stream.Envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return stream.Envelope{}, err
	}
	return env, nil
}

// NewEncoder returns an envelope encoder writing to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns an envelope decoder reading from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
