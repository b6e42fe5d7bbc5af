// Package cache defines the byte store used to keep downloaded source layers between runs
// of a long-lived process.
package cache

import (
	"context"
	"time"
)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// Deleter is implemented by stores that can evict keys ahead of their TTL.
type Deleter interface {
	Del(ctx context.Context, keys ...string) error
}
