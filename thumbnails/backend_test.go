package thumbnails

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ShoshinNikita/omfg/omfg"
)

func TestNativeBackends(t *testing.T) {
	t.Parallel()

	backends := map[omfg.BackendKind]Backend{
		omfg.BackendImaging: imagingBackend{},
		omfg.BackendXDraw:   xdrawBackend{},
	}
	for kind, backend := range backends {
		t.Run(string(kind), func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()

			for _, tt := range []struct {
				name          string
				width, height int
				targetHeight  int
				wantWidth     int
			}{
				{name: "landscape", width: 300, height: 200, targetHeight: 75, wantWidth: 113},
				{name: "portrait", width: 200, height: 300, targetHeight: 75, wantWidth: 50},
				{name: "upscale", width: 20, height: 10, targetHeight: 75, wantWidth: 150},
				{name: "narrow", width: 1, height: 1000, targetHeight: 75, wantWidth: 1},
			} {
				t.Run(tt.name, func(t *testing.T) {
					r := require.New(t)

					path := writePNG(t, dir, tt.name+".png", tt.width, tt.height)
					req := newTestRequest(t, path, tt.targetHeight)

					thumbnail, err := backend.Generate(context.Background(), req)
					r.NoError(err)
					r.Equal(tt.wantWidth, thumbnail.Width)
					r.Equal(tt.targetHeight, thumbnail.Height)

					img, err := jpeg.Decode(bytes.NewReader(thumbnail.Data))
					r.NoError(err)
					r.Equal(tt.wantWidth, img.Bounds().Dx())
					r.Equal(tt.targetHeight, img.Bounds().Dy())
				})
			}

			t.Run("corrupt image", func(t *testing.T) {
				r := require.New(t)

				path := filepath.Join(dir, "corrupt.png")
				r.NoError(os.WriteFile(path, []byte("definitely not a png"), 0o600))

				_, err := backend.Generate(context.Background(), newTestRequest(t, path, 75))
				r.Error(err)

				var decodeErr *omfg.ImageDecodeError
				r.ErrorAs(err, &decodeErr)
				r.Equal(kind, decodeErr.Backend)
				r.Equal(path, decodeErr.Path)
			})

			t.Run("canceled context", func(t *testing.T) {
				path := writePNG(t, dir, "canceled.png", 10, 10)

				ctx, cancel := context.WithCancel(context.Background())
				cancel()

				_, err := backend.Generate(ctx, newTestRequest(t, path, 75))
				require.ErrorIs(t, err, context.Canceled)
			})
		})
	}
}

func TestXDrawBackend_TransparentImage(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	// Fully transparent pixels must become white, not black.
	path := filepath.Join(t.TempDir(), "transparent.png")
	f, err := os.Create(path)
	r.NoError(err)
	r.NoError(png.Encode(f, image.NewNRGBA(image.Rect(0, 0, 20, 20))))
	r.NoError(f.Close())

	thumbnail, err := xdrawBackend{}.Generate(context.Background(), newTestRequest(t, path, 10))
	r.NoError(err)

	img, err := jpeg.Decode(bytes.NewReader(thumbnail.Data))
	r.NoError(err)

	cr, cg, cb, _ := img.At(5, 5).RGBA()
	r.Greater(cr, uint32(0xf000))
	r.Greater(cg, uint32(0xf000))
	r.Greater(cb, uint32(0xf000))
}

func TestCheckColorModel(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	rect := image.Rect(0, 0, 1, 1)

	r.NoError(checkColorModel(image.NewRGBA(rect)))
	r.NoError(checkColorModel(image.NewGray(rect)))
	r.NoError(checkColorModel(image.NewYCbCr(rect, image.YCbCrSubsampleRatio420)))

	err := checkColorModel(image.NewCMYK(rect))
	r.True(errors.Is(err, errUnsupportedColorModel))
}

func TestNewBackends(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	backends := newBackends(omfg.ThumbnailsConfig{VipsTimeout: time.Second})
	r.Len(backends, 3)
	r.Equal(vipsBackend{toolPath: vipsToolName, timeout: time.Second}, backends[omfg.BackendVips])
	r.IsType(imagingBackend{}, backends[omfg.BackendImaging])
	r.IsType(xdrawBackend{}, backends[omfg.BackendXDraw])
}

func writePNG(t testing.TB, dir, name string, width, height int) string {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, png.Encode(f, img))
	return path
}

func newTestRequest(t testing.TB, path string, height int) omfg.ImageRequest {
	t.Helper()

	info, err := os.Stat(path)
	require.NoError(t, err)
	return omfg.NewImageRequest(path, info.ModTime(), info.Size(), height)
}
