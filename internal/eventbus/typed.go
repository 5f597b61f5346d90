package eventbus

import (
	"context"
	"sync"
	"time"
)

// TypedEnvelope is an Envelope whose payload has been asserted to T.
type TypedEnvelope[T any] struct {
	Topic     Topic
	Timestamp time.Time
	Source    Source
	Payload   T
}

// TypedSubscription narrows a raw Subscription to payloads of type T.
// Envelopes carrying any other payload type are dropped silently.
type TypedSubscription[T any] struct {
	raw       *Subscription
	out       chan TypedEnvelope[T]
	stopped   chan struct{}
	finished  chan struct{}
	closeOnce sync.Once
}

// Subscribe opens a typed subscription on topic. A nil bus yields a
// subscription that is already closed.
func Subscribe[T any](bus *Bus, topic Topic, opts ...SubscriptionOption) *TypedSubscription[T] {
	ts := &TypedSubscription[T]{
		out:      make(chan TypedEnvelope[T]),
		stopped:  make(chan struct{}),
		finished: make(chan struct{}),
	}
	if bus == nil {
		close(ts.out)
		close(ts.finished)
		return ts
	}
	ts.raw = bus.Subscribe(topic, opts...)
	go ts.pump()
	return ts
}

// C returns the typed event channel. It is closed when the subscription ends.
func (ts *TypedSubscription[T]) C() <-chan TypedEnvelope[T] {
	return ts.out
}

// Next waits for the next envelope. ok is false once ctx is done or the
// subscription has ended.
func (ts *TypedSubscription[T]) Next(ctx context.Context) (env TypedEnvelope[T], ok bool) {
	select {
	case <-ctx.Done():
		return env, false
	case env, ok = <-ts.out:
		return env, ok
	}
}

// Close ends the subscription and waits for the pump to exit. Repeated
// calls are no-ops.
func (ts *TypedSubscription[T]) Close() {
	ts.closeOnce.Do(func() {
		close(ts.stopped)
		if ts.raw != nil {
			ts.raw.Close()
		}
		<-ts.finished
	})
}

func (ts *TypedSubscription[T]) pump() {
	defer close(ts.finished)
	defer close(ts.out)

	for env := range ts.raw.C() {
		payload, ok := env.Payload.(T)
		if !ok {
			continue
		}
		typed := TypedEnvelope[T]{
			Topic:     env.Topic,
			Timestamp: env.Timestamp,
			Source:    env.Source,
			Payload:   payload,
		}
		select {
		case ts.out <- typed:
		case <-ts.stopped:
			return
		}
	}
}
