package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// SampleMeasurement is the measurement every stream sample is written to.
const SampleMeasurement = "stream_samples"

// WriteSample records one stream sample. Tags are the channel (device id)
// and stream type; fields should be numeric or boolean. Empty field sets
// are dropped. The write is batched and non-blocking.
func (c *Client) WriteSample(channel, streamType string, fields map[string]any, ts time.Time) {
	if len(fields) == 0 || !c.IsConnected() {
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	tags := map[string]string{"channel": channel}
	if streamType != "" {
		tags["stream_type"] = streamType
	}

	c.writeAPI.WritePoint(write.NewPoint(SampleMeasurement, tags, fields, ts))
}
