package stream

import (
	"context"
	"fmt"
)

// Sink consumes envelopes taken off a subscription.
type Sink interface {
	Deliver(ctx context.Context, env Envelope) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, env Envelope) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, env Envelope) error {
	return f(ctx, env)
}

// Pump feeds envelopes from sub to sink until ctx is cancelled or the
// subscription is closed. Sink errors and panics are logged and the pump
// keeps going.
func Pump(ctx context.Context, sub *Subscription, sink Sink, logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			if err := deliverSafe(ctx, sink, env); err != nil {
				logger.Warn("sink delivery failed",
					"channel", env.Channel,
					"error", err,
				)
			}
		}
	}
}

func deliverSafe(ctx context.Context, sink Sink, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return sink.Deliver(ctx, env)
}
