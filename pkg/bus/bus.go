// Package bus defines the pub/sub transport the runtime publishes
// lifecycle and result signals to. The in-process implementation is the
// default; redisbus provides the same contract over Redis for
// cross-process observers.
package bus

import (
	"context"

	"github.com/wilhg/sigil/pkg/signal"
)

// Bus is a topic-based broadcast transport.
type Bus interface {
	// Publish broadcasts a signal to all current subscribers of topic.
	Publish(ctx context.Context, topic string, sig *signal.Signal) error
	// Subscribe registers interest in a topic. The returned subscription
	// delivers signals on its channel until Unsubscribe is called.
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
}

// Subscription is a live topic subscription.
type Subscription struct {
	C      <-chan *signal.Signal
	cancel func()
}

// NewSubscription wraps a delivery channel and cancel hook. Intended for
// Bus implementations.
func NewSubscription(c <-chan *signal.Signal, cancel func()) *Subscription {
	return &Subscription{C: c, cancel: cancel}
}

// Unsubscribe stops delivery and releases the subscription. Safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
