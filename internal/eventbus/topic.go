package eventbus

import (
	"context"
	"time"
)

// TopicDef binds a Topic string to a payload type T at compile time.
type TopicDef[T any] struct{ topic Topic }

// NewTopicDef creates a typed topic descriptor for the given topic string.
func NewTopicDef[T any](topic Topic) TopicDef[T] { return TopicDef[T]{topic: topic} }

// Topic returns the underlying topic string.
func (d TopicDef[T]) Topic() Topic { return d.topic }

// Publish sends a typed payload on the bus using the topic descriptor.
// If bus is nil the call is a no-op.
func Publish[T any](ctx context.Context, bus *Bus, td TopicDef[T], source Source, payload T) {
	PublishAt(ctx, bus, td, source, payload, time.Time{})
}

// PublishAt is like Publish but stamps the envelope with at instead of now.
func PublishAt[T any](ctx context.Context, bus *Bus, td TopicDef[T], source Source, payload T, at time.Time) {
	if bus == nil {
		return
	}
	bus.publish(ctx, Envelope{
		Topic:     td.topic,
		Timestamp: at,
		Source:    source,
		Payload:   payload,
	})
}

// SubscribeTo creates a typed subscription using a topic descriptor.
func SubscribeTo[T any](bus *Bus, td TopicDef[T], opts ...SubscriptionOption) *TypedSubscription[T] {
	return Subscribe[T](bus, td.topic, opts...)
}
