package omfg

import (
	"context"
)

// CacheEntry is a stored thumbnail. Disk caches set Path, in-memory caches set Data.
type CacheEntry struct {
	Key  string
	Path string
	Data []byte

	Width   int
	Height  int
	Backend BackendKind
}

// Cache stores generated thumbnails. Implementations must never return an entry
// generated for other freshness markers (mod time, size) of the source.
type Cache interface {
	// Get returns a fresh entry. It returns [ErrCacheMiss] if there is no entry and
	// [ErrCacheCorruptEntry] if the entry exists but can't be used.
	Get(req ImageRequest) (CacheEntry, error)
	// Put stores the thumbnail. Readers must never observe a partially written entry.
	Put(req ImageRequest, backend BackendKind, data []byte) (CacheEntry, error)
	Remove(req ImageRequest) error
	// Lock acquires an exclusive lock for the entry key.
	Lock(ctx context.Context, req ImageRequest) (unlock func(), err error)
	Shutdown(context.Context) error
}
