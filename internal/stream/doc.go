// Package stream is the in-process pub/sub path that carries telemetry from
// acquisition loops to observers.
//
// # Architecture
//
//	acquisition loop ──Broadcast──▶ Broker ──▶ Subscription (channel "dev-7")
//	                                   │   └──▶ Subscription (channel "dev-7")
//	                                   └──────▶ tap (SubscribeAll) ──Pump──▶ Sink
//	                                                                 ├─ Mirror (MQTT)
//	                                                                 ├─ SampleSink (InfluxDB)
//	                                                                 └─ capture.Recorder (CBOR)
//
// Channels are named by device id. The broker tracks two independent sets:
// channels that have subscribers (RegisterStream/UnregisterStream) and
// channels that are currently producing data (MarkBroadcasting/
// ClearBroadcasting).
//
// # Delivery
//
// Broadcast never blocks. Each subscription owns a bounded buffer; when it
// is full the envelope is dropped for that subscriber and counted. Delivery
// for one channel is serialized, so subscribers see a channel's envelopes in
// publish order. There is no ordering across channels, no replay and no
// acknowledgment. Broadcasting to a channel nobody listens to does nothing.
package stream
