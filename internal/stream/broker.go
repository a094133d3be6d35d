package stream

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBufferSize is the per-subscription buffer used when none is given.
const DefaultBufferSize = 256

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher is the producer side of the broker, as seen by drivers.
type Publisher interface {
	Broadcast(env Envelope) error
	MarkBroadcasting(channel string)
	ClearBroadcasting(channel string)
}

// ChannelStatus is a point-in-time view of one channel.
type ChannelStatus struct {
	Channel      string `json:"channel"`
	Subscribers  int    `json:"subscribers"`
	Broadcasting bool   `json:"broadcasting"`
}

// Stats are cumulative broker counters.
type Stats struct {
	Published uint64 `json:"published"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// topic serializes delivery for one channel.
type topic struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Broker fans envelopes out to subscribers by channel. A topic exists only
// while its channel has subscriptions.
type Broker struct {
	mu           sync.RWMutex
	topics       map[string]*topic
	tapMu        sync.Mutex // orders tap delivery on channels without a topic
	taps         map[*Subscription]struct{}
	listeners    map[string]int
	broadcasting map[string]struct{}
	onChange     []func(ChannelStatus)

	bufferSize int
	logger     Logger
	now        func() time.Time

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewBroker creates a broker whose subscriptions default to bufferSize
// (DefaultBufferSize if <= 0).
func NewBroker(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broker{
		topics:       make(map[string]*topic),
		taps:         make(map[*Subscription]struct{}),
		listeners:    make(map[string]int),
		broadcasting: make(map[string]struct{}),
		bufferSize:   bufferSize,
		logger:       noopLogger{},
		now:          time.Now,
	}
}

// SetLogger sets the logger for the broker.
func (b *Broker) SetLogger(logger Logger) {
	b.logger = logger
}

// OnChannelChange adds a callback invoked whenever a channel's subscriber
// count or broadcasting flag changes. Callbacks run outside broker locks on
// the goroutine that caused the change.
func (b *Broker) OnChannelChange(fn func(ChannelStatus)) {
	b.mu.Lock()
	b.onChange = append(b.onChange, fn)
	b.mu.Unlock()
}

// =============================================================================
// Channel tracking
// =============================================================================

// RegisterStream records one more subscriber interest in channel.
func (b *Broker) RegisterStream(channel string) error {
	if channel == "" {
		return ErrInvalidChannel
	}
	b.mu.Lock()
	b.listeners[channel]++
	status := b.statusLocked(channel)
	b.mu.Unlock()

	b.notify(status)
	return nil
}

// UnregisterStream drops one subscriber interest in channel. Extra calls
// are ignored.
func (b *Broker) UnregisterStream(channel string) error {
	if channel == "" {
		return ErrInvalidChannel
	}
	b.mu.Lock()
	n, ok := b.listeners[channel]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	if n <= 1 {
		delete(b.listeners, channel)
	} else {
		b.listeners[channel] = n - 1
	}
	status := b.statusLocked(channel)
	b.mu.Unlock()

	b.notify(status)
	return nil
}

// HasSubscribers reports whether anyone registered interest in channel.
func (b *Broker) HasSubscribers(channel string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.listeners[channel] > 0
}

// MarkBroadcasting flags channel as actively producing data.
func (b *Broker) MarkBroadcasting(channel string) {
	b.setBroadcasting(channel, true)
}

// ClearBroadcasting removes the producing flag from channel.
func (b *Broker) ClearBroadcasting(channel string) {
	b.setBroadcasting(channel, false)
}

func (b *Broker) setBroadcasting(channel string, on bool) {
	if channel == "" {
		return
	}
	b.mu.Lock()
	_, was := b.broadcasting[channel]
	if was == on {
		b.mu.Unlock()
		return
	}
	if on {
		b.broadcasting[channel] = struct{}{}
	} else {
		delete(b.broadcasting, channel)
	}
	status := b.statusLocked(channel)
	b.mu.Unlock()

	b.notify(status)
}

// IsBroadcasting reports whether channel is flagged as producing data.
func (b *Broker) IsBroadcasting(channel string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.broadcasting[channel]
	return ok
}

// Channels returns the status of every channel that has subscribers or is
// broadcasting, sorted by name.
func (b *Broker) Channels() []ChannelStatus {
	b.mu.RLock()
	names := make(map[string]struct{}, len(b.listeners)+len(b.broadcasting))
	for ch := range b.listeners {
		names[ch] = struct{}{}
	}
	for ch := range b.broadcasting {
		names[ch] = struct{}{}
	}
	out := make([]ChannelStatus, 0, len(names))
	for ch := range names {
		out = append(out, b.statusLocked(ch))
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

func (b *Broker) statusLocked(channel string) ChannelStatus {
	_, on := b.broadcasting[channel]
	return ChannelStatus{Channel: channel, Subscribers: b.listeners[channel], Broadcasting: on}
}

func (b *Broker) notify(status ChannelStatus) {
	b.mu.RLock()
	callbacks := b.onChange
	b.mu.RUnlock()

	for _, fn := range callbacks {
		fn(status)
	}
}

// =============================================================================
// Subscriptions
// =============================================================================

// Subscribe registers interest in channel and returns a subscription with
// a buffer of size buffer (broker default if <= 0).
func (b *Broker) Subscribe(channel string, buffer int) (*Subscription, error) {
	if channel == "" {
		return nil, ErrInvalidChannel
	}
	sub := b.newSubscription(channel, buffer)

	b.mu.Lock()
	t := b.topicLocked(channel)
	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()
	b.mu.Unlock()

	if err := b.RegisterStream(channel); err != nil {
		return nil, err
	}
	return sub, nil
}

// SubscribeAll returns a tap that receives every broadcast envelope. Taps
// do not count as channel subscribers.
func (b *Broker) SubscribeAll(buffer int) *Subscription {
	sub := b.newSubscription("", buffer)
	b.mu.Lock()
	b.taps[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Broker) newSubscription(channel string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = b.bufferSize
	}
	return &Subscription{
		broker:  b,
		channel: channel,
		ch:      make(chan Envelope, buffer),
	}
}

func (b *Broker) topicLocked(channel string) *topic {
	t, ok := b.topics[channel]
	if !ok {
		t = &topic{subs: make(map[*Subscription]struct{})}
		b.topics[channel] = t
	}
	return t
}

func (b *Broker) remove(sub *Subscription) {
	if sub.channel == "" {
		b.mu.Lock()
		delete(b.taps, sub)
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	if t := b.topics[sub.channel]; t != nil {
		t.mu.Lock()
		delete(t.subs, sub)
		if len(t.subs) == 0 {
			delete(b.topics, sub.channel)
		}
		t.mu.Unlock()
	}
	b.mu.Unlock()
	b.UnregisterStream(sub.channel) //nolint:errcheck // Channel is non-empty
}

// =============================================================================
// Publishing
// =============================================================================

// Broadcast delivers env to the subscribers of env.Channel and to all taps.
// Missing timestamp, source and action are filled in. It never blocks.
func (b *Broker) Broadcast(env Envelope) error {
	if env.Channel == "" {
		return ErrInvalidChannel
	}
	env.normalize(b.now())
	b.published.Add(1)

	b.mu.RLock()
	t := b.topics[env.Channel]
	taps := make([]*Subscription, 0, len(b.taps))
	for sub := range b.taps {
		taps = append(taps, sub)
	}
	b.mu.RUnlock()

	if t == nil {
		if len(taps) == 0 {
			return nil
		}
		b.tapMu.Lock()
		for _, sub := range taps {
			b.deliver(sub, env)
		}
		b.tapMu.Unlock()
		return nil
	}

	t.mu.Lock()
	for sub := range t.subs {
		b.deliver(sub, env)
	}
	for _, sub := range taps {
		b.deliver(sub, env)
	}
	t.mu.Unlock()
	return nil
}

func (b *Broker) deliver(sub *Subscription, env Envelope) {
	if sub.trySend(env) {
		b.delivered.Add(1)
		return
	}
	b.dropped.Add(1)
}

// Stats returns the cumulative counters.
func (b *Broker) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
	}
}
