package thumbnails

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"

	"github.com/ShoshinNikita/omfg/omfg"
)

// jpegQuality is used by all backends, so thumbnails look the same regardless of the backend.
const jpegQuality = 80

// Backend generates a JPEG thumbnail of the requested height. The width is derived from
// the aspect ratio of the source, see [omfg.ImageRequest.TargetWidth].
type Backend interface {
	Generate(ctx context.Context, req omfg.ImageRequest) (Thumbnail, error)
}

type Thumbnail struct {
	Data   []byte
	Width  int
	Height int
}

// nativeBackends contains in-process backends linked into the binary. They can be
// excluded with build tags "omfg_noimaging" and "omfg_noxdraw".
var nativeBackends = make(map[omfg.BackendKind]func() Backend)

func registerNativeBackend(kind omfg.BackendKind, newFn func() Backend) {
	nativeBackends[kind] = newFn
}

func isLinked(kind omfg.BackendKind) bool {
	_, ok := nativeBackends[kind]
	return ok
}

// newBackends returns all backends that can be used on this build. The external tool backend
// is always returned, its availability is checked by the prober.
func newBackends(cfg omfg.ThumbnailsConfig) map[omfg.BackendKind]Backend {
	res := map[omfg.BackendKind]Backend{
		omfg.BackendVips: newVipsBackend(cfg.VipsPath, cfg.VipsTimeout),
	}
	for kind, newFn := range nativeBackends {
		res[kind] = newFn()
	}
	return res
}

func encodeJPEG(img image.Image) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
