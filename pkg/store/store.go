// Package store defines the narrow key/value persistence interface the
// runtime uses to hibernate and thaw agents. Implementations must
// preserve full structural fidelity of stored values across a round
// trip, including when read by a freshly restarted process that holds
// no prior in-memory state.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value exists for a key.
var ErrNotFound = errors.New("store: key not found")

// KV is the persistence contract consumed by the runtime.
type KV interface {
	Put(ctx context.Context, key string, value []byte) error
	// Get returns the stored value or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes a key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error
}
