package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/nerrad567/probebench/internal/infrastructure/mqtt"
)

// RemoteBus is the message bus a Mirror publishes to and listens on.
// The MQTT client is adapted to it in the entry point.
type RemoteBus interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler func(topic string, payload []byte) error) error
	Unsubscribe(topic string) error
}

// Mirror connects a local Broker to a RemoteBus so several consoles share
// channels. Local envelopes are published to the stream topic of their
// channel stamped with this node's origin; envelopes from other nodes are
// re-broadcast locally. Channel status is published retained.
type Mirror struct {
	broker  *Broker
	bus     RemoteBus
	topics  mqtt.Topics
	nodeID  string
	logger  Logger
	running atomic.Bool
}

// NewMirror creates a mirror for broker identified on the bus by nodeID.
func NewMirror(broker *Broker, bus RemoteBus, topics mqtt.Topics, nodeID string) *Mirror {
	return &Mirror{
		broker: broker,
		bus:    bus,
		topics: topics,
		nodeID: nodeID,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the mirror.
func (m *Mirror) SetLogger(logger Logger) {
	m.logger = logger
}

// NodeID returns the origin stamped on outbound envelopes.
func (m *Mirror) NodeID() string {
	return m.nodeID
}

// Start subscribes to remote streams and begins publishing channel status.
// Outbound envelopes arrive through Deliver; run it with Pump on a tap.
func (m *Mirror) Start(_ context.Context) error {
	if err := m.bus.Subscribe(m.topics.AllStreams(), m.handleRemote); err != nil {
		return fmt.Errorf("subscribing to remote streams: %w", err)
	}
	if m.running.Swap(true) {
		return nil
	}
	m.broker.OnChannelChange(m.publishStatus)
	return nil
}

// Stop unsubscribes from remote streams. Status publishing stops too.
func (m *Mirror) Stop() error {
	m.running.Store(false)
	if err := m.bus.Unsubscribe(m.topics.AllStreams()); err != nil {
		return fmt.Errorf("unsubscribing from remote streams: %w", err)
	}
	return nil
}

// Deliver publishes a local envelope to the bus. Envelopes that came from
// another node are not sent back.
func (m *Mirror) Deliver(_ context.Context, env Envelope) error {
	if origin := env.Meta(MetaOrigin); origin != "" && origin != m.nodeID {
		return nil
	}
	payload, err := json.Marshal(env.WithMeta(MetaOrigin, m.nodeID))
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	return m.bus.Publish(m.topics.Stream(env.Channel), payload, false)
}

func (m *Mirror) handleRemote(topic string, payload []byte) error {
	channel, ok := m.topics.ChannelFromStream(topic)
	if !ok {
		return nil
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("decoding envelope on %s: %w", topic, err)
	}

	origin := env.Meta(MetaOrigin)
	if origin == "" || origin == m.nodeID {
		return nil
	}
	env.Channel = channel
	return m.broker.Broadcast(env)
}

func (m *Mirror) publishStatus(status ChannelStatus) {
	if !m.running.Load() {
		return
	}
	payload, err := json.Marshal(struct {
		ChannelStatus
		Origin string `json:"origin"`
	}{status, m.nodeID})
	if err != nil {
		return
	}
	if err := m.bus.Publish(m.topics.ChannelStatus(status.Channel), payload, true); err != nil {
		m.logger.Warn("publishing channel status failed",
			"channel", status.Channel,
			"error", err,
		)
	}
}
