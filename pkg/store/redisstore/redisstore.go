// Package redisstore implements the store contract on Redis, for
// deployments where agents hibernate into a shared cache.
package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wilhg/sigil/pkg/store"
)

// Store is a Redis-backed KV.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// Option configures the store.
type Option func(*Store)

// WithTTL sets an expiry on stored values. Zero (the default) keeps
// values until deleted.
func WithTTL(ttl time.Duration) Option { return func(s *Store) { s.ttl = ttl } }

// New wraps an existing Redis client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the given Redis address and verifies the connection.
func Open(ctx context.Context, addr string, opts ...Option) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return New(client, opts...), nil
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, key, value, s.ttl).Err()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
