package stream

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/probebench/internal/infrastructure/mqtt"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakeBus struct {
	mu       sync.Mutex
	pubs     []published
	handlers map[string]func(string, []byte) error
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]func(string, []byte) error)}
}

func (f *fakeBus) Publish(topic string, payload []byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubs = append(f.pubs, published{topic, payload, retained})
	return nil
}

func (f *fakeBus) Subscribe(topic string, handler func(string, []byte) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeBus) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeBus) inject(topic string, payload []byte) error {
	f.mu.Lock()
	h := f.handlers["pb/stream/+"]
	f.mu.Unlock()
	return h(topic, payload)
}

func (f *fakeBus) published() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.pubs...)
}

func TestMirror_PublishesLocalEnvelopes(t *testing.T) {
	b := NewBroker(8)
	bus := newFakeBus()
	m := NewMirror(b, bus, mqtt.NewTopics("pb"), "node-a")

	env := Envelope{Channel: "dev-7", StreamType: "adc", Data: 1.0, Metadata: map[string]any{"driver": "loopback"}}
	require.NoError(t, m.Deliver(context.Background(), env))

	pubs := bus.published()
	require.Len(t, pubs, 1)
	assert.Equal(t, "pb/stream/dev-7", pubs[0].topic)
	assert.False(t, pubs[0].retained)

	var got Envelope
	require.NoError(t, json.Unmarshal(pubs[0].payload, &got))
	assert.Equal(t, "node-a", got.Meta(MetaOrigin))
	assert.Equal(t, "loopback", got.Meta(MetaDriver))
	assert.Empty(t, env.Meta(MetaOrigin), "caller metadata must not be mutated")
}

func TestMirror_SkipsRemoteOriginOutbound(t *testing.T) {
	bus := newFakeBus()
	m := NewMirror(NewBroker(8), bus, mqtt.NewTopics("pb"), "node-a")

	env := Envelope{Channel: "dev-7", Metadata: map[string]any{MetaOrigin: "node-b"}}
	require.NoError(t, m.Deliver(context.Background(), env))
	assert.Empty(t, bus.published())
}

func TestMirror_RebroadcastsRemoteEnvelopes(t *testing.T) {
	b := NewBroker(8)
	bus := newFakeBus()
	m := NewMirror(b, bus, mqtt.NewTopics("pb"), "node-a")
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	sub, err := b.Subscribe("dev-7", 0)
	require.NoError(t, err)
	defer sub.Close()

	remote, err := json.Marshal(Envelope{Channel: "dev-7", Data: 2.0, Metadata: map[string]any{MetaOrigin: "node-b"}})
	require.NoError(t, err)
	require.NoError(t, bus.inject("pb/stream/dev-7", remote))

	got := recv(t, sub)
	assert.Equal(t, "node-b", got.Meta(MetaOrigin))
	assert.Equal(t, 2.0, got.Data)

	own, err := json.Marshal(Envelope{Channel: "dev-7", Metadata: map[string]any{MetaOrigin: "node-a"}})
	require.NoError(t, err)
	require.NoError(t, bus.inject("pb/stream/dev-7", own))
	assert.Empty(t, sub.C())

	assert.Error(t, bus.inject("pb/stream/dev-7", []byte("{not json")))
}

func TestMirror_PublishesRetainedChannelStatus(t *testing.T) {
	b := NewBroker(8)
	bus := newFakeBus()
	m := NewMirror(b, bus, mqtt.NewTopics("pb"), "node-a")
	require.NoError(t, m.Start(context.Background()))

	b.MarkBroadcasting("dev-7")

	pubs := bus.published()
	require.Len(t, pubs, 1)
	assert.Equal(t, "pb/channels/dev-7", pubs[0].topic)
	assert.True(t, pubs[0].retained)
	assert.JSONEq(t, `{"channel":"dev-7","subscribers":0,"broadcasting":true,"origin":"node-a"}`, string(pubs[0].payload))

	require.NoError(t, m.Stop())
	b.ClearBroadcasting("dev-7")
	assert.Len(t, bus.published(), 1)
}
