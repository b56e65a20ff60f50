package cmd

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ShoshinNikita/omfg/omfg"
)

func TestSafeShutdown(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()

	err := safeShutdown(ctx, nil)
	r.NoError(err)

	err = safeShutdown(ctx, (*testShutdowner)(nil))
	r.NoError(err)

	err = safeShutdown(ctx, new(testShutdowner))
	r.Equal(err.Error(), "test")
}

type testShutdowner struct{}

func (*testShutdowner) Shutdown(context.Context) error { return errors.New("test") }

func TestOmfg(t *testing.T) {
	r := require.New(t)

	root := t.TempDir()
	dir := t.TempDir()

	f, err := os.Create(filepath.Join(root, "img.png"))
	r.NoError(err)
	r.NoError(png.Encode(f, image.NewGray(image.Rect(0, 0, 40, 20))))
	r.NoError(f.Close())

	cfg := omfg.Config{
		Root:        root,
		Dir:         dir,
		MetricsFile: filepath.Join(dir, "omfg.prom"),
		Thumbnails: omfg.ThumbnailsConfig{
			Root:         root,
			Height:       10,
			Cache:        true,
			AllowExec:    false,
			VipsTimeout:  time.Second,
			WorkersCount: 2,
		},
	}

	app := NewOmfg(cfg)
	r.NoError(app.Prepare())
	defer func() {
		r.NoError(app.Shutdown(context.Background()))
	}()

	err = app.Run(context.Background(), []string{"img.png", "missing.png"})
	r.EqualError(err, "couldn't get 1 thumbnail(s), see logs for more info")

	r.NoError(app.Run(context.Background(), []string{"img.png"}))

	entries, err := os.ReadDir(filepath.Join(dir, "thumbnails"))
	r.NoError(err)
	r.NotEmpty(entries)

	metrics, err := os.ReadFile(cfg.MetricsFile)
	r.NoError(err)
	r.Contains(string(metrics), `omfg_thumbnails_requests_total{source="imaging"}`)
	r.Contains(string(metrics), `omfg_thumbnails_requests_total{source="cache"}`)
}

func TestOmfg_ShutdownWithoutPrepare(t *testing.T) {
	app := NewOmfg(omfg.Config{})
	require.NoError(t, app.Shutdown(context.Background()))
}
