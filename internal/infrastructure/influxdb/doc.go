// Package influxdb writes stream telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Writes go through the
// non-blocking, batched WriteAPI so recording telemetry never stalls the
// stream broker; asynchronous write failures are reported through the
// SetOnError callback.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry persistence switched off
//	}
//	defer client.Close()
//
//	client.WriteSample("can0-vcan0", "frame_rate", map[string]any{"fps": 412.0}, time.Now())
package influxdb
