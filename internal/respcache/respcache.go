// Package respcache is the shared in-process response cache for content
// reads. Content is addressed by hash and immutable, so entries never go
// stale; the cache is bounded by entry count and per-object size instead.
package respcache

import (
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

type Cache struct {
	lru       *lru.Cache[uint64, []byte]
	maxObject int64
	hits      atomic.Int64
	misses    atomic.Int64
}

func New(entries int, maxObject int64) *Cache {
	if entries <= 0 {
		entries = 256
	}
	c, _ := lru.New[uint64, []byte](entries)
	return &Cache{lru: c, maxObject: maxObject}
}

// user-supplied names never become raw map keys
func key(contentPath string) uint64 {
	return xxhash.Sum64String(contentPath)
}

func (c *Cache) Get(contentPath string) ([]byte, bool) {
	body, ok := c.lru.Get(key(contentPath))
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return body, ok
}

// Put stores body unless it exceeds the per-object cap. Oversized objects
// are streamed from the store every time instead of evicting many small
// entries.
func (c *Cache) Put(contentPath string, body []byte) {
	if c.maxObject > 0 && int64(len(body)) > c.maxObject {
		return
	}
	c.lru.Add(key(contentPath), body)
}

// Fits reports whether an object of the given size would be admitted.
// Callers use it to decide between buffering and streaming.
func (c *Cache) Fits(size int64) bool {
	return size >= 0 && (c.maxObject <= 0 || size <= c.maxObject)
}

func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
