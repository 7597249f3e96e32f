// Package bus implements the in-process distribution bus: topic-keyed
// fan-out with one bounded FIFO queue per subscriber and a drop-oldest
// overflow policy, so a slow subscriber never blocks the publisher or
// starves its siblings.
package bus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/GeoAziz/netverse-engine/internal/metrics"
)

// TopicPackets carries enriched packet records.
const TopicPackets = "network_packets"

// TopicStatus carries periodic system-status snapshots.
const TopicStatus = "system_status"

// DefaultQueueSize is the per-subscriber queue capacity when the caller
// passes zero.
const DefaultQueueSize = 256

// Event is one message delivered to a subscriber queue.
type Event struct {
	Topic   string
	Payload interface{}
}

// Subscriber is one consumer of a topic with its own delivery queue.
type Subscriber struct {
	id      string
	topic   string
	queue   chan Event
	dropped atomic.Uint64
	closed  atomic.Bool
}

// ID returns the opaque subscriber handle.
func (s *Subscriber) ID() string { return s.id }

// Topic returns the subscribed topic.
func (s *Subscriber) Topic() string { return s.topic }

// Events is the delivery queue. The channel is closed on unsubscribe and
// on bus shutdown.
func (s *Subscriber) Events() <-chan Event { return s.queue }

// Dropped returns how many messages were discarded for this subscriber
// because its queue was saturated.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// Bus is the in-memory publish/subscribe fan-out.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*Subscriber // topic -> id -> subscriber
	queueSize   int
	closed      bool

	published atomic.Uint64
}

// New creates a bus whose subscribers get queues of queueSize capacity.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		subscribers: make(map[string]map[string]*Subscriber),
		queueSize:   queueSize,
	}
}

// Subscribe registers a new subscriber on topic. The subscriber receives
// only events published after this call returns; there is no replay.
func (b *Bus) Subscribe(topic string) (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	sub := &Subscriber{
		id:    uuid.NewString(),
		topic: topic,
		queue: make(chan Event, b.queueSize),
	}
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[string]*Subscriber)
	}
	b.subscribers[topic][sub.id] = sub
	return sub, nil
}

// Unsubscribe removes a subscriber and closes its queue. Idempotent.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	if sub == nil || !sub.closed.CompareAndSwap(false, true) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subscribers[sub.topic]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.subscribers, sub.topic)
		}
	}
	// Publish only sends while holding the read lock and the subscriber is
	// still registered, so closing here cannot race a send.
	close(sub.queue)
}

// Publish enqueues payload to every current subscriber of topic. It never
// blocks: when a subscriber's queue is full, the oldest queued event for
// that subscriber is discarded and its drop counter incremented. Other
// subscribers are unaffected.
func (b *Bus) Publish(topic string, payload interface{}) {
	ev := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.published.Add(1)
	metrics.BusPublishedTotal.WithLabelValues(topic).Inc()

	for _, sub := range b.subscribers[topic] {
		select {
		case sub.queue <- ev:
			continue
		default:
		}

		// Queue saturated: drop the oldest event, then retry once. The
		// second enqueue can still lose a race against a concurrent
		// publisher filling the freed slot; the new event is dropped then.
		select {
		case <-sub.queue:
		default:
		}
		select {
		case sub.queue <- ev:
			sub.dropped.Add(1)
			metrics.BusDroppedTotal.WithLabelValues(topic).Inc()
		default:
			sub.dropped.Add(1)
			metrics.BusDroppedTotal.WithLabelValues(topic).Inc()
		}
	}
}

// SubscriberCount returns the number of active subscribers on topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Published returns the total number of publish calls that were fanned out.
func (b *Bus) Published() uint64 { return b.published.Load() }

// Close shuts the bus down and closes every subscriber queue.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subscribers {
		for _, sub := range subs {
			if sub.closed.CompareAndSwap(false, true) {
				close(sub.queue)
			}
		}
	}
	b.subscribers = make(map[string]map[string]*Subscriber)
}
