//go:build !omfg_noimaging

package thumbnails

import (
	"context"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/ShoshinNikita/omfg/omfg"
)

func init() {
	registerNativeBackend(omfg.BackendImaging, func() Backend { return imagingBackend{} })
}

// imagingBackend uses github.com/disintegration/imaging. It supports all color models
// of the standard decoders and applies EXIF orientation.
type imagingBackend struct{}

func (imagingBackend) Generate(ctx context.Context, req omfg.ImageRequest) (Thumbnail, error) {
	img, err := imaging.Open(req.GetPath(), imaging.AutoOrientation(true))
	if err != nil {
		return Thumbnail{}, &omfg.ImageDecodeError{Path: req.GetPath(), Backend: omfg.BackendImaging, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return Thumbnail{}, err
	}

	bounds := img.Bounds()
	width, height := req.TargetWidth(bounds.Dx(), bounds.Dy()), req.GetHeight()

	resized := imaging.Resize(img, width, height, imaging.Lanczos)

	// JPEG has no alpha channel.
	flattened := imaging.Overlay(imaging.New(width, height, color.White), resized, image.Point{}, 1)

	data, err := encodeJPEG(flattened)
	if err != nil {
		return Thumbnail{}, &omfg.ImageEncodeError{Path: req.GetPath(), Backend: omfg.BackendImaging, Err: err}
	}
	return Thumbnail{
		Data:   data,
		Width:  width,
		Height: height,
	}, nil
}
