package stream

import (
	"context"
	"encoding/json"
	"time"
)

// SampleWriter stores numeric samples. *influxdb.Client satisfies it.
type SampleWriter interface {
	WriteSample(channel, streamType string, fields map[string]any, ts time.Time)
}

// SampleSink writes the numeric fields of data envelopes to a SampleWriter.
// Status envelopes and envelopes without numeric content are skipped.
type SampleSink struct {
	writer SampleWriter
}

// NewSampleSink creates a sink writing to w.
func NewSampleSink(w SampleWriter) *SampleSink {
	return &SampleSink{writer: w}
}

// Deliver implements Sink.
func (s *SampleSink) Deliver(_ context.Context, env Envelope) error {
	if env.Action != ActionData {
		return nil
	}
	fields := NumericFields(env.Data)
	if len(fields) == 0 {
		return nil
	}
	s.writer.WriteSample(env.Channel, env.StreamType, fields, env.Timestamp)
	return nil
}

// NumericFields extracts numeric values from envelope data. A bare number
// becomes the field "value"; maps contribute their numeric entries; booleans
// are kept as booleans. Anything else yields nil.
func NumericFields(data any) map[string]any {
	if v, ok := numeric(data); ok {
		return map[string]any{"value": v}
	}

	var fields map[string]any
	add := func(k string, v any) {
		if n, ok := numeric(v); ok {
			if fields == nil {
				fields = make(map[string]any)
			}
			fields[k] = n
		}
	}

	switch m := data.(type) {
	case map[string]any:
		for k, v := range m {
			add(k, v)
		}
	case map[string]float64:
		for k, v := range m {
			add(k, v)
		}
	case map[string]int:
		for k, v := range m {
			add(k, v)
		}
	}
	return fields
}

func numeric(v any) (any, bool) {
	switch n := v.(type) {
	case float64, float32, bool:
		return n, true
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, true
		}
	}
	return nil, false
}
