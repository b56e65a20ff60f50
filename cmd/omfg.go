package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/ShoshinNikita/omfg/omfg"
	"github.com/ShoshinNikita/omfg/pkg/cache"
	"github.com/ShoshinNikita/omfg/pkg/rlog"
	"github.com/ShoshinNikita/omfg/thumbnails"
)

type Omfg struct {
	cfg omfg.Config

	thumbnailCache   *cache.DiskCache
	thumbnailService *thumbnails.Service
}

func NewOmfg(cfg omfg.Config) *Omfg {
	return &Omfg{
		cfg: cfg,
	}
}

func (o *Omfg) Prepare() (err error) {
	if err := os.MkdirAll(o.cfg.Dir, 0o700); err != nil {
		return fmt.Errorf("couldn't create app data dir %q: %w", o.cfg.Dir, err)
	}

	// Thumbnail Cache
	var thumbnailCache omfg.Cache
	if o.cfg.Thumbnails.Cache {
		o.thumbnailCache, err = cache.NewDiskCache(
			o.cfg.GetCacheDir(), cache.Options{
				MaxAge:     o.cfg.Thumbnails.CacheMaxAge,
				MaxSize:    o.cfg.Thumbnails.CacheMaxSize.Bytes(),
				MaxEntries: o.cfg.Thumbnails.CacheMaxEntries,
			},
		)
		if err != nil {
			return fmt.Errorf("couldn't prepare disk cache for thumbnails: %w", err)
		}
		thumbnailCache = o.thumbnailCache
	} else {
		rlog.Debug("thumbnail cache is disabled")
	}

	// Thumbnail Service
	o.thumbnailService = thumbnails.NewService(
		o.cfg.Thumbnails, thumbnailCache, thumbnails.NewSystemProber(o.cfg.Thumbnails),
	)

	caps := o.thumbnailService.Capabilities()
	if !caps.Any() {
		rlog.Warn("no thumbnail backend is available")
	} else {
		rlog.Infof("available thumbnail backends: %v", caps.Available())
	}

	return nil
}

// Run generates thumbnails of the default height for all passed images. It processes all
// images even if some of them fail.
func (o *Omfg) Run(ctx context.Context, images []string) error {
	var (
		g      errgroup.Group
		failed atomic.Int64
	)
	g.SetLimit(o.cfg.Thumbnails.WorkersCount)

	for _, image := range images {
		if ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			res, err := o.thumbnailService.GetThumbnail(ctx, image, 0)
			if err != nil {
				failed.Add(1)
				rlog.Errorf("couldn't get thumbnail for %q: %s", image, err)
				return nil
			}

			from := "generated by " + string(res.Backend)
			if res.FromCache {
				from = "loaded from cache"
			}
			if res.Path != "" {
				rlog.Infof("%q: %dx%d, %s, path: %q", image, res.Width, res.Height, from, res.Path)
			} else {
				rlog.Infof("%q: %dx%d, %s", image, res.Width, res.Height, from)
			}
			return nil
		})
	}
	_ = g.Wait()

	if o.cfg.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(o.cfg.MetricsFile, prometheus.DefaultGatherer); err != nil {
			rlog.Errorf("couldn't write metrics: %s", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("couldn't get %d thumbnail(s), see logs for more info", n)
	}
	return nil
}

// Shutdown shutdowns all components. It is safe to call this method even if Prepare has failed.
func (o *Omfg) Shutdown(ctx context.Context) error {
	var failed int
	for _, v := range []struct {
		name string
		s    shutdowner
	}{
		{"thumbnail service", o.thumbnailService},
		{"thumbnail cache", o.thumbnailCache},
	} {
		err := safeShutdown(ctx, v.s)
		if err != nil {
			failed++
			rlog.Errorf("couldn't gracefully shutdown %s: %s", v.name, err)
		}
	}
	if failed > 0 {
		return errors.New("couldn't gracefully shutdown some components, see logs for more info")
	}
	return nil
}

type shutdowner interface {
	Shutdown(context.Context) error
}

// safeShutdown calls Shutdown method only on initialized components.
func safeShutdown(ctx context.Context, s shutdowner) error {
	v := reflect.ValueOf(s)
	if !v.IsValid() || v.IsNil() {
		return nil
	}
	return s.Shutdown(ctx)
}
