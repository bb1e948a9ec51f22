package index

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cached wraps an Index with a bounded client-side TTL cache for reads.
// Only present keys are cached: a cached miss would hide a freshly
// committed entry for the whole TTL, a cached hit can never go stale
// because entries are immutable.
type Cached struct {
	inner Index
	lru   *expirable.LRU[string, []byte]
}

func NewCached(inner Index, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 4096
	}
	return &Cached{
		inner: inner,
		lru:   expirable.NewLRU[string, []byte](size, nil, ttl),
	}
}

var _ Index = (*Cached)(nil)

func (c *Cached) Get(ctx context.Context, key string) ([]byte, error) {
	if val, ok := c.lru.Get(key); ok {
		return val, nil
	}
	val, err := c.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, val)
	return val, nil
}

func (c *Cached) Put(ctx context.Context, key string, val []byte) error {
	if err := c.inner.Put(ctx, key, val); err != nil {
		return err
	}
	c.lru.Add(key, val)
	return nil
}

func (c *Cached) Close() error {
	return c.inner.Close()
}
