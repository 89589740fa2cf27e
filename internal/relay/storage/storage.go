// Package storage defines the persistence boundary for the relay: a string
// key-value store with optional per-key expiry. The access state machine and
// the forward-mapping table are both expressed as rows in this store; no
// scans or cross-key transactions are required.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested key is missing or expired.
var ErrNotFound = errors.New("key not found")

// KV is the relay's key-value persistence boundary. A ttl of zero or less
// stores the value without expiry. Get never returns expired values.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
