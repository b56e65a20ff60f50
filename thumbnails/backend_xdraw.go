//go:build !omfg_noxdraw

package thumbnails

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/ShoshinNikita/omfg/omfg"
)

func init() {
	registerNativeBackend(omfg.BackendXDraw, func() Backend { return xdrawBackend{} })
}

var errUnsupportedColorModel = errors.New("unsupported color model")

// xdrawBackend uses golang.org/x/image/draw. It works only with RGB images, CMYK
// images are rejected.
type xdrawBackend struct{}

func (xdrawBackend) Generate(ctx context.Context, req omfg.ImageRequest) (Thumbnail, error) {
	newDecodeErr := func(err error) error {
		return &omfg.ImageDecodeError{Path: req.GetPath(), Backend: omfg.BackendXDraw, Err: err}
	}

	img, err := decodeFile(req.GetPath())
	if err != nil {
		return Thumbnail{}, newDecodeErr(err)
	}
	if err := checkColorModel(img); err != nil {
		return Thumbnail{}, newDecodeErr(err)
	}
	if err := ctx.Err(); err != nil {
		return Thumbnail{}, err
	}

	bounds := img.Bounds()
	width, height := req.TargetWidth(bounds.Dx(), bounds.Dy()), req.GetHeight()

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	data, err := encodeJPEG(dst)
	if err != nil {
		return Thumbnail{}, &omfg.ImageEncodeError{Path: req.GetPath(), Backend: omfg.BackendXDraw, Err: err}
	}
	return Thumbnail{
		Data:   data,
		Width:  width,
		Height: height,
	}, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}

func checkColorModel(img image.Image) error {
	switch img.ColorModel() {
	case color.CMYKModel:
		return fmt.Errorf("%w: cmyk", errUnsupportedColorModel)
	default:
		return nil
	}
}
