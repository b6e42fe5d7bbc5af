// Package layercache keeps downloaded road dataset bodies so a long-running server does not pull
// the same multi-megabyte GeoJSON on every run.
package layercache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/cache"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/cache/keys"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/observability"
)

// Fetcher is the slice of the executor the loader depends on.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

type Options struct {
	TTL    time.Duration
	Size   int
	Remote cache.Store // optional shared tier
	Logger *slog.Logger
}

type Cache struct {
	next   Fetcher
	local  *expirable.LRU[string, []byte]
	remote cache.Store
	ttl    time.Duration
	logger *slog.Logger
}

// Wrap returns next unchanged when caching is disabled (TTL <= 0).
func Wrap(next Fetcher, opts Options) Fetcher {
	if opts.TTL <= 0 {
		return next
	}
	return New(next, opts)
}

func New(next Fetcher, opts Options) *Cache {
	size := opts.Size
	if size <= 0 {
		size = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		next:   next,
		local:  expirable.NewLRU[string, []byte](size, nil, opts.TTL),
		remote: opts.Remote,
		ttl:    opts.TTL,
		logger: logger,
	}
}

// Fetch serves from memory, then Redis, then the upstream. Redis errors fall through to the
// upstream and are only logged.
func (c *Cache) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	key := keys.LayerKey(rawURL)

	if body, ok := c.local.Get(key); ok {
		observability.AddCacheHit("memory")
		return body, nil
	}
	observability.AddCacheMiss("memory")

	if c.remote != nil {
		body, ok, err := c.remote.Get(ctx, key)
		switch {
		case err != nil:
			observability.AddCacheMiss("redis")
			c.logger.WarnContext(ctx, "layer cache read failed", "key", key, "err", err)
		case ok:
			observability.AddCacheHit("redis")
			c.local.Add(key, body)
			return body, nil
		default:
			observability.AddCacheMiss("redis")
		}
	}

	body, err := c.next.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	c.local.Add(key, body)
	if c.remote != nil {
		if err := c.remote.Set(ctx, key, body, c.ttl); err != nil {
			c.logger.WarnContext(ctx, "layer cache write failed", "key", key, "err", err)
		}
	}
	return body, nil
}

// Invalidate drops the body of rawURL from both tiers so the next run downloads it again.
func (c *Cache) Invalidate(ctx context.Context, rawURL string) error {
	key := keys.LayerKey(rawURL)
	c.local.Remove(key)
	if d, ok := c.remote.(cache.Deleter); ok {
		if err := d.Del(ctx, key); err != nil {
			return fmt.Errorf("evict %s: %w", key, err)
		}
	}
	return nil
}

// Len is the number of bodies held in memory.
func (c *Cache) Len() int { return c.local.Len() }
