package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/ShoshinNikita/omfg/omfg"
	"github.com/ShoshinNikita/omfg/pkg/metrics"
	"github.com/ShoshinNikita/omfg/pkg/rlog"
)

const (
	locksDir      = ".locks"
	tempPrefix    = ".tmp-"
	entryExt      = ".jpg"
	lockRetryTime = 10 * time.Millisecond
)

type DiskCache struct {
	absDir  string
	lockDir string

	evictor evictor
	cleaner *Cleaner
}

var _ omfg.Cache = (*DiskCache)(nil)

// Options configure eviction. Zero values mean no limit, so the cache grows without bounds.
type Options struct {
	// MaxAge and MaxSize are enforced by a periodic [Cleaner].
	MaxAge  time.Duration
	MaxSize int64
	// MaxEntries is enforced on every write, least recently used entries are removed first.
	MaxEntries int

	DisableCleaner bool
}

func NewDiskCache(dir string, opts Options) (*DiskCache, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("couldn't get absolute path: %w", err)
	}
	lockDir := filepath.Join(absDir, locksDir)
	if err := os.MkdirAll(lockDir, 0o700); err != nil {
		return nil, fmt.Errorf("couldn't create cache dir %q: %w", lockDir, err)
	}

	c := &DiskCache{
		absDir:  absDir,
		lockDir: lockDir,
		evictor: noopEvictor{},
	}

	if opts.MaxEntries > 0 {
		files, err := loadCacheFiles(absDir)
		if err != nil {
			return nil, fmt.Errorf("couldn't load cache files: %w", err)
		}
		c.evictor, err = newLRUEvictor(opts.MaxEntries, files)
		if err != nil {
			return nil, fmt.Errorf("couldn't prepare lru evictor: %w", err)
		}
	}
	if (opts.MaxAge > 0 || opts.MaxSize > 0) && !opts.DisableCleaner {
		c.cleaner = NewCleaner(absDir, opts.MaxAge, opts.MaxSize)
	}

	return c, nil
}

// Get returns the entry for the passed request. Entries written for other mod time or size
// of the source have different names, so they are never returned. If the file is not cached,
// it returns [omfg.ErrCacheMiss].
func (c *DiskCache) Get(req omfg.ImageRequest) (omfg.CacheEntry, error) {
	dir, prefix := c.entryDir(req), entryKey(req)+"."

	path, backend, err := findEntry(dir, prefix)
	if err != nil {
		if errors.Is(err, omfg.ErrCacheMiss) {
			metrics.CacheMisses.Inc()
			return omfg.CacheEntry{}, err
		}

		metrics.CacheErrors.Inc()
		return omfg.CacheEntry{}, err
	}

	cfg, err := readImageConfig(path)
	if err != nil {
		metrics.CacheCorruptEntries.Inc()
		return omfg.CacheEntry{}, fmt.Errorf("%w: %q: %w", omfg.ErrCacheCorruptEntry, path, err)
	}

	c.evictor.Touch(path)

	metrics.CacheHits.Inc()
	return omfg.CacheEntry{
		Key:     entryKey(req),
		Path:    path,
		Width:   cfg.Width,
		Height:  cfg.Height,
		Backend: backend,
	}, nil
}

func findEntry(dir, prefix string) (path string, backend omfg.BackendKind, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", "", omfg.ErrCacheMiss
		}
		return "", "", err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, entryExt) {
			continue
		}
		backend = omfg.BackendKind(strings.TrimSuffix(strings.TrimPrefix(name, prefix), entryExt))
		return filepath.Join(dir, name), backend, nil
	}
	return "", "", omfg.ErrCacheMiss
}

func readImageConfig(path string) (image.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()

	cfg, err := jpeg.DecodeConfig(f)
	if err != nil {
		return image.Config{}, err
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return image.Config{}, errors.New("empty image")
	}
	return cfg, nil
}

// Put writes the thumbnail to a temp file and renames it, so readers never see partially
// written files. Entries of the same image and height with other freshness markers are removed.
func (c *DiskCache) Put(req omfg.ImageRequest, backend omfg.BackendKind, data []byte) (omfg.CacheEntry, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return omfg.CacheEntry{}, fmt.Errorf("invalid thumbnail: %w", err)
	}

	dir := c.entryDir(req)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return omfg.CacheEntry{}, fmt.Errorf("couldn't create dir %q: %w", dir, err)
	}

	path := filepath.Join(dir, entryKey(req)+"."+string(backend)+entryExt)
	if err := writeFileAtomically(dir, path, data); err != nil {
		return omfg.CacheEntry{}, err
	}
	c.evictor.Add(path)

	c.removeStaleEntries(dir, req, filepath.Base(path))

	return omfg.CacheEntry{
		Key:     entryKey(req),
		Path:    path,
		Width:   cfg.Width,
		Height:  cfg.Height,
		Backend: backend,
	}, nil
}

func writeFileAtomically(dir, path string, data []byte) (err error) {
	tempFile, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("couldn't create temp file: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		tempFile.Close()
		if err := os.Remove(tempFile.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			rlog.Errorf("couldn't remove temp cache file: %s", err)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("couldn't write temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("couldn't close temp file: %w", err)
	}
	if err := os.Rename(tempFile.Name(), path); err != nil {
		return fmt.Errorf("couldn't rename temp file: %w", err)
	}
	return nil
}

// removeStaleEntries removes entries generated for previous versions of the source
// or by other backends.
func (c *DiskCache) removeStaleEntries(dir string, req omfg.ImageRequest, keep string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		rlog.Warnf("couldn't read cache dir %q: %s", dir, err)
		return
	}

	prefix := lockKey(req) + "_"
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == keep || !strings.HasPrefix(name, prefix) {
			continue
		}
		c.removeFile(filepath.Join(dir, name))
	}
}

func (c *DiskCache) removeFile(path string) {
	err := os.Remove(path)
	c.evictor.Forget(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		rlog.Errorf("couldn't remove cache file %q: %s", path, err)
	}
}

// Remove removes the entry associated with the passed request. To remove cache files over
// time use [Options], entries should be manually removed only in case of an error.
func (c *DiskCache) Remove(req omfg.ImageRequest) error {
	dir, prefix := c.entryDir(req), entryKey(req)+"."

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("couldn't read cache dir: %w", err)
	}

	var errs []error
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), prefix) {
			continue
		}

		path := filepath.Join(dir, e.Name())
		err := os.Remove(path)
		c.evictor.Forget(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("couldn't remove cache file %q: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// Lock acquires a file lock, so only one process generates a thumbnail for an image of
// a given height at a time.
func (c *DiskCache) Lock(ctx context.Context, req omfg.ImageRequest) (unlock func(), err error) {
	fileLock := flock.New(filepath.Join(c.lockDir, lockKey(req)+".lock"))

	locked, err := fileLock.TryLockContext(ctx, lockRetryTime)
	if err != nil {
		return nil, fmt.Errorf("couldn't acquire lock: %w", err)
	}
	if !locked {
		return nil, errors.New("couldn't acquire lock")
	}
	return func() {
		if err := fileLock.Unlock(); err != nil {
			rlog.Errorf("couldn't release lock for %q: %s", req.GetPath(), err)
		}
	}, nil
}

func (c *DiskCache) Shutdown(ctx context.Context) error {
	if c.cleaner == nil {
		return nil
	}
	return c.cleaner.Shutdown(ctx)
}

// entryDir returns the directory of an entry: '<dir>/<first 2 chars of source key>'.
func (c *DiskCache) entryDir(req omfg.ImageRequest) string {
	return filepath.Join(c.absDir, sourceKey(req)[:2])
}
