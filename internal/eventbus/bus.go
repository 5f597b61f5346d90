package eventbus

import (
	"context"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// defaultBuffers sizes subscriber channels per topic. Log lines arrive in
// bursts during compilation; completion events are rare.
var defaultBuffers = map[Topic]int{
	TopicFlashLog:        512,
	TopicFlashProgress:   64,
	TopicInstallComplete: 16,
}

// Bus fans workflow events out to topic subscribers. A nil *Bus accepts
// publishes and hands out closed subscriptions.
type Bus struct {
	logger   *log.Logger
	buffers  map[Topic]int
	policies map[Topic]DeliveryPolicy

	mu     sync.RWMutex
	topics map[Topic][]*Subscription

	observers atomic.Pointer[[]Observer]
	obsMu     sync.Mutex

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Observer sees every envelope before it is delivered.
type Observer interface {
	OnPublish(env Envelope)
}

// Metrics holds cumulative bus counters.
type Metrics struct {
	PublishTotal uint64
	DroppedTotal uint64
}

// BusOption configures New.
type BusOption func(*Bus)

// WithLogger sends drop warnings to logger instead of the standard logger.
func WithLogger(logger *log.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithTopicBuffer sets the channel size of new subscriptions on topic.
func WithTopicBuffer(topic Topic, size int) BusOption {
	return func(b *Bus) { b.buffers[topic] = max(size, 1) }
}

// WithTopicPolicy sets how topic behaves when a subscriber falls behind.
func WithTopicPolicy(topic Topic, policy DeliveryPolicy) BusOption {
	return func(b *Bus) { b.policies[topic] = policy }
}

func New(opts ...BusOption) *Bus {
	b := &Bus{
		logger:   log.Default(),
		buffers:  make(map[Topic]int, len(defaultBuffers)),
		policies: make(map[Topic]DeliveryPolicy),
		topics:   make(map[Topic][]*Subscription),
	}
	for topic, size := range defaultBuffers {
		b.buffers[topic] = size
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddObserver registers obs for all later publishes.
func (b *Bus) AddObserver(obs Observer) {
	if b == nil || obs == nil {
		return
	}
	b.obsMu.Lock()
	defer b.obsMu.Unlock()
	var next []Observer
	if cur := b.observers.Load(); cur != nil {
		next = slices.Clone(*cur)
	}
	next = append(next, obs)
	b.observers.Store(&next)
}

// Metrics reports the bus counters. A nil bus reports zeros.
func (b *Bus) Metrics() Metrics {
	if b == nil {
		return Metrics{}
	}
	return Metrics{PublishTotal: b.published.Load(), DroppedTotal: b.dropped.Load()}
}

func (b *Bus) publish(ctx context.Context, env Envelope) {
	if env.Topic == "" {
		return
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if env.Source == "" {
		env.Source = SourceUnknown
	}

	b.published.Add(1)
	if obs := b.observers.Load(); obs != nil {
		for _, o := range *obs {
			o.OnPublish(env)
		}
	}

	// Delivery holds the read lock so Close cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.topics[env.Topic] {
		sub.deliver(ctx, env)
	}
}

// Subscribe opens a raw subscription on topic.
func (b *Bus) Subscribe(topic Topic, opts ...SubscriptionOption) *Subscription {
	if b == nil {
		return closedSubscription()
	}

	cfg := subscriptionConfig{buffer: max(b.buffers[topic], 1)}
	for _, opt := range opts {
		opt(&cfg)
	}
	sub := &Subscription{
		topic:  topic,
		name:   cfg.name,
		ch:     make(chan Envelope, cfg.buffer),
		bus:    b,
		policy: policyFor(topic, b.policies),
	}

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], sub)
	b.mu.Unlock()

	if cfg.ctx != nil {
		go func() {
			<-cfg.ctx.Done()
			sub.Close()
		}()
	}
	return sub
}

// Shutdown closes every subscription. Later publishes reach nobody.
func (b *Bus) Shutdown() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.topics {
		for _, sub := range subs {
			sub.closeChannel()
		}
		delete(b.topics, topic)
	}
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !sub.closeChannel() {
		return
	}
	b.topics[sub.topic] = slices.DeleteFunc(b.topics[sub.topic], func(s *Subscription) bool { return s == sub })
}
