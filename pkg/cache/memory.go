package cache

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"sync"

	"github.com/ShoshinNikita/omfg/omfg"
	"github.com/ShoshinNikita/omfg/pkg/metrics"
)

type memoryEntry struct {
	key   string // entry key, includes freshness markers
	entry omfg.CacheEntry
}

// MemoryCache keeps thumbnails in memory. It keeps only the latest version of every thumbnail.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry // lock key -> entry
	locks   map[string]chan struct{}
}

var _ omfg.Cache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		locks:   make(map[string]chan struct{}),
	}
}

func (c *MemoryCache) Get(req omfg.ImageRequest) (omfg.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[lockKey(req)]
	if !ok || e.key != entryKey(req) {
		metrics.CacheMisses.Inc()
		return omfg.CacheEntry{}, omfg.ErrCacheMiss
	}

	metrics.CacheHits.Inc()
	res := e.entry
	res.Data = bytes.Clone(res.Data)
	return res, nil
}

func (c *MemoryCache) Put(req omfg.ImageRequest, backend omfg.BackendKind, data []byte) (omfg.CacheEntry, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return omfg.CacheEntry{}, fmt.Errorf("invalid thumbnail: %w", err)
	}

	entry := omfg.CacheEntry{
		Key:     entryKey(req),
		Data:    bytes.Clone(data),
		Width:   cfg.Width,
		Height:  cfg.Height,
		Backend: backend,
	}

	c.mu.Lock()
	c.entries[lockKey(req)] = memoryEntry{key: entry.Key, entry: entry}
	c.mu.Unlock()

	return entry, nil
}

func (c *MemoryCache) Remove(req omfg.ImageRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[lockKey(req)]; ok && e.key == entryKey(req) {
		delete(c.entries, lockKey(req))
	}
	return nil
}

func (c *MemoryCache) Lock(ctx context.Context, req omfg.ImageRequest) (unlock func(), err error) {
	key := lockKey(req)
	for {
		c.mu.Lock()
		ch, ok := c.locks[key]
		if !ok {
			ch = make(chan struct{})
			c.locks[key] = ch
			c.mu.Unlock()

			return func() {
				c.mu.Lock()
				delete(c.locks, key)
				c.mu.Unlock()
				close(ch)
			}, nil
		}
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *MemoryCache) Shutdown(context.Context) error {
	return nil
}
