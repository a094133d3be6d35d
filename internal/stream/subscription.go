package stream

import (
	"sync"
	"sync/atomic"
)

// Subscription receives envelopes from a Broker.
type Subscription struct {
	broker  *Broker
	channel string
	ch      chan Envelope
	dropped atomic.Uint64

	closeOnce sync.Once
	closed    atomic.Bool
}

// C returns the receive channel. It is closed by Close.
func (s *Subscription) C() <-chan Envelope {
	return s.ch
}

// Channel returns the subscribed channel, or "" for a tap.
func (s *Subscription) Channel() string {
	return s.channel
}

// Dropped returns how many envelopes were discarded because the buffer
// was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription and closes its receive channel.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.broker.remove(s)
		s.closed.Store(true)
		close(s.ch)
	})
}

// trySend attempts a non-blocking send. A tap snapshotted by a concurrent
// Broadcast may be closed underneath it; that send is treated as a drop.
func (s *Subscription) trySend(env Envelope) (sent bool) {
	if s.closed.Load() {
		return false
	}
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case s.ch <- env:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}
