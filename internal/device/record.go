package device

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// RecordError is one persisted record that could not be loaded.
type RecordError struct {
	Index int    // position in the file, or row number
	ID    string // device_id when it could be read
	Err   error
}

func (e *RecordError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("record %d (%s): %v", e.Index, e.ID, e.Err)
	}
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

// Unwrap lets errors.Is match both ErrInvalidConfig and the cause.
func (e *RecordError) Unwrap() []error {
	return []error{ErrInvalidConfig, e.Err}
}

// SkippedRecordsError is returned by Load next to the records that did
// load when some others were invalid. The valid records are usable.
type SkippedRecordsError struct {
	Source  string
	Records []*RecordError
}

func (e *SkippedRecordsError) Error() string {
	msgs := make([]string, len(e.Records))
	for i, r := range e.Records {
		msgs[i] = r.Error()
	}
	return fmt.Sprintf("%s: skipped %d invalid device records: %s",
		e.Source, len(e.Records), strings.Join(msgs, "; "))
}

// Unwrap exposes every record error.
func (e *SkippedRecordsError) Unwrap() []error {
	errs := make([]error, len(e.Records))
	for i, r := range e.Records {
		errs[i] = r
	}
	return errs
}

// Partial reports whether err only describes skipped records, meaning the
// devices returned alongside it can be used.
func Partial(err error) (*SkippedRecordsError, bool) {
	var skipped *SkippedRecordsError
	if errors.As(err, &skipped) {
		return skipped, true
	}
	return nil, false
}

// UnmarshalJSON decodes a device record. Integer attributes come back as
// int64 and other numbers as float64, so large ids keep every digit.
func (d *Device) UnmarshalJSON(data []byte) error {
	type record Device
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var r record
	if err := dec.Decode(&r); err != nil {
		return err
	}
	for k, v := range r.Attributes {
		r.Attributes[k] = fromJSONNumber(v)
	}
	*d = Device(r)
	return nil
}

func decodeDevice(data []byte) (*Device, error) {
	var dev Device
	if err := json.Unmarshal(data, &dev); err != nil {
		return nil, err
	}
	return &dev, nil
}

func fromJSONNumber(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		for k, e := range val {
			val[k] = fromJSONNumber(e)
		}
		return val
	case []any:
		for i, e := range val {
			val[i] = fromJSONNumber(e)
		}
		return val
	default:
		return v
	}
}

// recordID pulls device_id out of a record that failed to decode fully.
func recordID(data []byte) string {
	var head struct {
		ID string `json:"device_id"`
	}
	//nolint:errcheck // Best effort for error messages
	json.Unmarshal(data, &head)
	return head.ID
}
