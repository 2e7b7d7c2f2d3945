package bus

import (
	"context"
	"sync"

	"github.com/wilhg/sigil/pkg/signal"
)

const subscriberBuffer = 64

// Inproc is an in-memory Bus. Delivery is non-blocking: a subscriber
// that falls more than subscriberBuffer signals behind loses the newest
// signals rather than stalling the publisher (the agent loop must never
// block on a slow observer).
type Inproc struct {
	mu     sync.RWMutex
	topics map[string]map[int]chan *signal.Signal
	nextID int
	closed bool
}

// NewInproc returns an empty in-memory bus.
func NewInproc() *Inproc {
	return &Inproc{topics: map[string]map[int]chan *signal.Signal{}}
}

// Publish delivers sig to every subscriber of topic.
func (b *Inproc) Publish(ctx context.Context, topic string, sig *signal.Signal) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for _, ch := range b.topics[topic] {
		select {
		case ch <- sig:
		default:
			// subscriber buffer full; drop for this subscriber
		}
	}
	return nil
}

// Subscribe registers a subscriber for topic.
func (b *Inproc) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	ch := make(chan *signal.Signal, subscriberBuffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	subs, ok := b.topics[topic]
	if !ok {
		subs = map[int]chan *signal.Signal{}
		b.topics[topic] = subs
	}
	subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if subs, ok := b.topics[topic]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.topics, topic)
			}
		}
		b.mu.Unlock()
	}
	return NewSubscription(ch, cancel), nil
}

// Close drops all subscriptions. Publishing after Close is a no-op.
func (b *Inproc) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.topics = map[string]map[int]chan *signal.Signal{}
}
