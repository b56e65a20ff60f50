package thumbnails

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ShoshinNikita/omfg/omfg"
	"github.com/ShoshinNikita/omfg/pkg/metrics"
	"github.com/ShoshinNikita/omfg/pkg/misc"
	"github.com/ShoshinNikita/omfg/pkg/rlog"
)

const (
	defaultHeight    = 75
	defaultMaxHeight = 2000

	// generateTimeout limits the generation of a single thumbnail. Generation doesn't depend
	// on contexts of callers, because the result is shared between them.
	generateTimeout = time.Minute
)

// Service returns thumbnails of images, generating them with the first available backend.
// Generated thumbnails are saved in the cache, if it is set.
type Service struct {
	cfg  omfg.ThumbnailsConfig
	root string // absolute, empty means no restrictions

	cache    omfg.Cache
	caps     omfg.Capabilities
	backends map[omfg.BackendKind]Backend

	group singleflight.Group

	mu       sync.RWMutex
	stopped  bool
	inFlight sync.WaitGroup
}

// NewService probes backends and prepares a new service. Backends are probed only once.
// If cache is nil, thumbnails are generated on every call.
func NewService(cfg omfg.ThumbnailsConfig, cache omfg.Cache, prober Prober) *Service {
	backends := newBackends(cfg)

	caps := ProbeCapabilities(context.Background(), prober, cfg.VipsPath)
	for _, kind := range caps.Available() {
		if _, ok := backends[kind]; !ok {
			rlog.Warnf("backend %q is reported as available, but it is not linked", kind)
			caps = caps.Without(kind)
		}
	}

	var root string
	if cfg.Root != "" {
		var err error
		root, err = filepath.Abs(cfg.Root)
		if err != nil {
			rlog.Errorf("couldn't get absolute path of root %q, use it as is: %s", cfg.Root, err)
			root = filepath.Clean(cfg.Root)
		}
	}

	if cfg.Height <= 0 {
		cfg.Height = defaultHeight
	}
	if cfg.MaxHeight <= 0 {
		cfg.MaxHeight = max(defaultMaxHeight, cfg.Height)
	}

	return &Service{
		cfg:      cfg,
		root:     root,
		cache:    cache,
		caps:     caps,
		backends: backends,
	}
}

// Capabilities returns the results of the backend probes.
func (s *Service) Capabilities() omfg.Capabilities {
	return s.caps
}

// GetThumbnail returns a thumbnail of the passed image. Zero height means the default height.
// Relative paths are resolved against the root.
//
// The returned result is owned by the caller.
func (s *Service) GetThumbnail(ctx context.Context, sourcePath string, height int) (omfg.ThumbnailResult, error) {
	if !s.startRequest() {
		return omfg.ThumbnailResult{}, omfg.ErrServiceStopped
	}
	defer s.inFlight.Done()

	switch {
	case height == 0:
		height = s.cfg.Height
	case height < 0, height > s.cfg.MaxHeight:
		return omfg.ThumbnailResult{}, fmt.Errorf("%w: %d, max height: %d", omfg.ErrInvalidHeight, height, s.cfg.MaxHeight)
	}

	path, err := s.resolvePath(sourcePath)
	if err != nil {
		return omfg.ThumbnailResult{}, err
	}

	// Stat on every call: the cache key depends on mod time and size.
	info, err := os.Stat(path)
	if err != nil {
		return omfg.ThumbnailResult{}, fmt.Errorf("couldn't get file info: %w", err)
	}
	if info.IsDir() {
		return omfg.ThumbnailResult{}, fmt.Errorf("%q is a directory", path)
	}
	req := omfg.NewImageRequest(path, info.ModTime(), info.Size(), height)

	if res, ok := s.lookup(req); ok {
		return res, nil
	}

	resCh := s.group.DoChan(req.String(), func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), generateTimeout)
		defer cancel()

		return s.generateAndStore(ctx, req, info.Size())
	})

	select {
	case <-ctx.Done():
		// Other callers may still wait for the result, Shutdown must wait for it too.
		s.inFlight.Add(1)
		go func() {
			defer s.inFlight.Done()
			<-resCh
		}()
		return omfg.ThumbnailResult{}, ctx.Err()

	case flight := <-resCh:
		if flight.Err != nil {
			return omfg.ThumbnailResult{}, flight.Err
		}

		res := flight.Val.(omfg.ThumbnailResult)
		if flight.Shared {
			res.Data = bytes.Clone(res.Data)
		}
		return res, nil
	}
}

func (s *Service) startRequest() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return false
	}
	s.inFlight.Add(1)
	return true
}

func (s *Service) resolvePath(path string) (string, error) {
	if s.root == "" {
		return filepath.Abs(path)
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", omfg.ErrPathOutsideRoot, path)
	}
	return path, nil
}

// lookup checks the cache. Corrupt entries are removed and treated as a miss.
func (s *Service) lookup(req omfg.ImageRequest) (omfg.ThumbnailResult, bool) {
	if s.cache == nil {
		return omfg.ThumbnailResult{}, false
	}

	entry, err := s.cache.Get(req)
	switch {
	case err == nil:
		metrics.ThumbnailsRequests.WithLabelValues("cache").Inc()
		return omfg.ThumbnailResult{
			Data:        entry.Data,
			Path:        entry.Path,
			ContentType: omfg.ThumbnailContentType,
			Width:       entry.Width,
			Height:      entry.Height,
			Backend:     entry.Backend,
			FromCache:   true,
		}, true

	case errors.Is(err, omfg.ErrCacheMiss):
		return omfg.ThumbnailResult{}, false

	case errors.Is(err, omfg.ErrCacheCorruptEntry):
		rlog.Warnf("remove corrupt thumbnail for %q: %s", req.GetPath(), err)
		if err := s.cache.Remove(req); err != nil {
			rlog.Errorf("couldn't remove corrupt thumbnail for %q: %s", req.GetPath(), err)
		}
		return omfg.ThumbnailResult{}, false

	default:
		rlog.Errorf("couldn't check cache for %q: %s", req.GetPath(), err)
		return omfg.ThumbnailResult{}, false
	}
}

// generateAndStore generates a thumbnail under the cache lock. Other processes could
// generate the thumbnail while we were waiting for the lock, so the cache is checked again.
func (s *Service) generateAndStore(ctx context.Context, req omfg.ImageRequest, originalSize int64) (omfg.ThumbnailResult, error) {
	if s.cache != nil {
		unlock, err := s.cache.Lock(ctx, req)
		if err != nil {
			return omfg.ThumbnailResult{}, fmt.Errorf("couldn't lock thumbnail: %w", err)
		}
		defer unlock()

		if res, ok := s.lookup(req); ok {
			return res, nil
		}
	}

	metrics.ThumbnailsOriginalImageSizes.Observe(float64(originalSize))

	thumbnail, backend, err := s.generate(ctx, req)
	if err != nil {
		return omfg.ThumbnailResult{}, err
	}

	if s.cache != nil {
		if _, err := s.cache.Put(req, backend, thumbnail.Data); err != nil {
			// The thumbnail is still returned.
			err = &omfg.CacheWriteError{Path: req.GetPath(), Err: err}

			metrics.CacheWriteErrors.Inc()
			rlog.Error(err)
		}
	}

	return omfg.ThumbnailResult{
		Data:        thumbnail.Data,
		ContentType: omfg.ThumbnailContentType,
		Width:       thumbnail.Width,
		Height:      thumbnail.Height,
		Backend:     backend,
	}, nil
}

// generate uses the first available backend. If the backend can't decode the image and
// the fallback is enabled, the next available backend is tried once.
func (s *Service) generate(ctx context.Context, req omfg.ImageRequest) (Thumbnail, omfg.BackendKind, error) {
	kinds := s.caps.Available()
	if len(kinds) == 0 {
		return Thumbnail{}, "", omfg.ErrNoBackendAvailable
	}

	backend := kinds[0]
	thumbnail, err := s.runBackend(ctx, backend, req)
	if err != nil && s.cfg.FallbackOnDecodeError && omfg.IsImageDecodeError(err) && len(kinds) > 1 {
		metrics.ThumbnailsDecodeFallbacks.Inc()
		rlog.Warnf("%s, try %q", err, kinds[1])

		backend = kinds[1]
		thumbnail, err = s.runBackend(ctx, backend, req)
	}
	if err != nil {
		return Thumbnail{}, "", err
	}
	return thumbnail, backend, nil
}

func (s *Service) runBackend(ctx context.Context, kind omfg.BackendKind, req omfg.ImageRequest) (Thumbnail, error) {
	now := time.Now()
	thumbnail, err := s.backends[kind].Generate(ctx, req)
	dur := time.Since(now)

	if err != nil {
		metrics.ThumbnailsErrors.WithLabelValues(string(kind)).Inc()
		return Thumbnail{}, err
	}

	metrics.ThumbnailsRequests.WithLabelValues(string(kind)).Inc()
	metrics.ThumbnailsGenerateDuration.WithLabelValues(string(kind)).Observe(dur.Seconds())
	rlog.Debugf(
		"thumbnail %dx%d for %q was generated by %s in %s, original size: %s, new size: %s",
		thumbnail.Width, thumbnail.Height, req.GetPath(), kind, dur,
		misc.FormatFileSize(req.GetSize()), misc.FormatFileSize(int64(len(thumbnail.Data))),
	)
	return thumbnail, nil
}

// Shutdown rejects new requests and waits for ones that are in progress with respect
// of the passed context.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
