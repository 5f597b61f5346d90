package eventbus

import (
	"context"
	"sync/atomic"
)

// SubscriptionOption configures one subscription.
type SubscriptionOption func(*subscriptionConfig)

type subscriptionConfig struct {
	buffer int
	name   string
	ctx    context.Context
}

// WithSubscriptionName labels the subscription in drop warnings.
func WithSubscriptionName(name string) SubscriptionOption {
	return func(cfg *subscriptionConfig) { cfg.name = name }
}

// WithContext closes the subscription once ctx is done.
func WithContext(ctx context.Context) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		if ctx != nil {
			cfg.ctx = ctx
		}
	}
}

// Subscription receives envelopes published on one topic.
type Subscription struct {
	topic   Topic
	name    string
	ch      chan Envelope
	bus     *Bus
	policy  DeliveryPolicy
	closed  atomic.Bool
	dropped atomic.Uint64
}

func closedSubscription() *Subscription {
	sub := &Subscription{ch: make(chan Envelope)}
	sub.closeChannel()
	return sub
}

// C is closed when the subscription ends.
func (s *Subscription) C() <-chan Envelope {
	return s.ch
}

// Dropped counts envelopes this subscriber lost to backpressure.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	if s.bus == nil {
		s.closeChannel()
		return
	}
	s.bus.unsubscribe(s)
}

// closeChannel reports whether this call closed the channel.
func (s *Subscription) closeChannel() bool {
	if !s.closed.CompareAndSwap(false, true) {
		return false
	}
	close(s.ch)
	return true
}

// deliver must run under the bus read lock.
func (s *Subscription) deliver(ctx context.Context, env Envelope) {
	if s.closed.Load() || ctx.Err() != nil {
		return
	}
	select {
	case s.ch <- env:
		return
	default:
	}

	if s.policy.Strategy == StrategyDropNewest {
		s.drop("drop-newest")
		return
	}
	select {
	case <-s.ch:
		s.drop("drop-oldest")
	default:
	}
	select {
	case s.ch <- env:
	default:
		s.drop("drop-current")
	}
}

func (s *Subscription) drop(reason string) {
	n := s.dropped.Add(1)
	if s.bus == nil {
		return
	}
	s.bus.dropped.Add(1)
	name := s.name
	if name == "" {
		name = "subscription"
	}
	s.bus.logger.Printf("[eventbus] dropped event #%d for %s on topic %s (%s)", n, name, s.topic, reason)
}
