package cache

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"

	"github.com/alexhholmes/slotdb/internal/base"
)

const (
	MinCacheSize = 16 // Minimum: hold a root-to-leaf path plus siblings
)

// Cache is an LRU of committed pages shared by all transactions. Cached pages
// are immutable: writers copy a page before modifying it and replace the
// cache entry on commit.
type Cache struct {
	lru *freelru.SyncedLRU[base.Handle, *base.Page]

	// Stats
	hits   atomic.Uint64
	misses atomic.Uint64
}

func hashHandle(h base.Handle) uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(h))
	return uint32(xxhash.Sum64(buf[:]))
}

// NewCache creates a page cache holding up to maxSize pages
func NewCache(maxSize int) (*Cache, error) {
	maxSize = max(maxSize, MinCacheSize)
	lru, err := freelru.NewSynced[base.Handle, *base.Page](uint32(maxSize), hashHandle)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: lru}, nil
}

// Put adds a page, replacing any existing entry for its handle
func (c *Cache) Put(h base.Handle, p *base.Page) {
	c.lru.Add(h, p)
}

// Get returns the cached page for h
func (c *Cache) Get(h base.Handle) (*base.Page, bool) {
	p, ok := c.lru.Get(h)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return p, ok
}

// Remove drops h from the cache
func (c *Cache) Remove(h base.Handle) {
	c.lru.Remove(h)
}

// Purge drops every entry
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Size returns current number of cached entries
func (c *Cache) Size() int {
	return c.lru.Len()
}

type Stats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// Stats returns cache statistics
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   c.Size(),
	}
}

// ClearStats resets the cache's positive incrementing statistics
func (c *Cache) ClearStats() {
	c.hits.Store(0)
	c.misses.Store(0)
}
