package observability

import (
	"sync"

	"github.com/catflash/catflash/internal/eventbus"
)

// EventCounter tallies published events by topic and by source. It is
// registered on the bus with AddObserver.
type EventCounter struct {
	mu       sync.Mutex
	byTopic  map[eventbus.Topic]uint64
	bySource map[eventbus.Source]uint64
}

var _ eventbus.Observer = (*EventCounter)(nil)

// NewEventCounter returns an empty counter.
func NewEventCounter() *EventCounter {
	return &EventCounter{
		byTopic:  make(map[eventbus.Topic]uint64),
		bySource: make(map[eventbus.Source]uint64),
	}
}

// OnPublish records env. Envelopes without a topic are ignored.
func (c *EventCounter) OnPublish(env eventbus.Envelope) {
	if env.Topic == "" {
		return
	}
	source := env.Source
	if source == "" {
		source = eventbus.SourceUnknown
	}
	c.mu.Lock()
	c.byTopic[env.Topic]++
	c.bySource[source]++
	c.mu.Unlock()
}

// Snapshot returns a copy of the per-topic counts.
func (c *EventCounter) Snapshot() map[eventbus.Topic]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[eventbus.Topic]uint64, len(c.byTopic))
	for k, v := range c.byTopic {
		out[k] = v
	}
	return out
}

// SourceSnapshot returns a copy of the per-source counts.
func (c *EventCounter) SourceSnapshot() map[eventbus.Source]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[eventbus.Source]uint64, len(c.bySource))
	for k, v := range c.bySource {
		out[k] = v
	}
	return out
}
