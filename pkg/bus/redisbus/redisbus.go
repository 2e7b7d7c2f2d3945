// Package redisbus implements the bus contract over Redis pub/sub so
// observers in other processes can follow an agent's event stream.
// Signals are JSON-encoded on the wire.
package redisbus

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/wilhg/sigil/pkg/bus"
	"github.com/wilhg/sigil/pkg/signal"
)

// Bus publishes and subscribes through a shared Redis client.
type Bus struct {
	client *redis.Client
}

// New wraps an existing Redis client.
func New(client *redis.Client) *Bus {
	return &Bus{client: client}
}

// Open connects to the given Redis address (host:port) and verifies the
// connection with a ping.
func Open(ctx context.Context, addr string) (*Bus, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Bus{client: client}, nil
}

// Close releases the underlying client.
func (b *Bus) Close() error { return b.client.Close() }

// Publish broadcasts a signal to topic.
func (b *Bus) Publish(ctx context.Context, topic string, sig *signal.Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, topic, payload).Err()
}

// Subscribe starts a Redis subscription on topic. Malformed payloads are
// skipped.
func (b *Bus) Subscribe(ctx context.Context, topic string) (*bus.Subscription, error) {
	ps := b.client.Subscribe(ctx, topic)
	// Force the subscription to be established before returning so a
	// Publish immediately after Subscribe is not lost.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	ch := make(chan *signal.Signal, 64)
	done := make(chan struct{})
	go func() {
		defer close(ch)
		src := ps.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-src:
				if !ok {
					return
				}
				var sig signal.Signal
				if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
					continue
				}
				select {
				case ch <- &sig:
				case <-done:
					return
				}
			}
		}
	}()

	cancel := func() {
		close(done)
		_ = ps.Close()
	}
	return bus.NewSubscription(ch, cancel), nil
}
