package omfg

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ShoshinNikita/omfg/pkg/misc"
)

// ImageRequest identifies a thumbnail: the source image, its freshness markers
// and the target height. The target width is derived from the source aspect ratio,
// see [ImageRequest.TargetWidth].
type ImageRequest struct {
	path    string // absolute path
	modTime int64  // unix nanoseconds
	size    int64
	height  int
}

// NewImageRequest returns a new [ImageRequest] with cleaned filepath.
func NewImageRequest(path string, modTime time.Time, size int64, height int) ImageRequest {
	path = filepath.Clean(path)

	return ImageRequest{
		path:    path,
		modTime: modTime.UnixNano(),
		size:    size,
		height:  height,
	}
}

// GetPath returns the full source path.
func (r ImageRequest) GetPath() string {
	return r.path
}

// GetModTime returns the modification time of the source.
func (r ImageRequest) GetModTime() time.Time {
	return time.Unix(0, r.modTime).UTC()
}

// GetSize returns the size of the source.
func (r ImageRequest) GetSize() int64 {
	return r.size
}

// GetHeight returns the target height.
func (r ImageRequest) GetHeight() int {
	return r.height
}

// TargetWidth returns the thumbnail width that preserves the aspect ratio of an image
// with passed dimensions. The result is rounded half up and is never less than 1.
func (r ImageRequest) TargetWidth(srcWidth, srcHeight int) int {
	if srcWidth <= 0 || srcHeight <= 0 {
		return 1
	}
	w := misc.DivRoundHalfUp(int64(srcWidth)*int64(r.height), int64(srcHeight))
	return int(max(w, 1))
}

func (r ImageRequest) String() string {
	return fmt.Sprintf("t%d_s%d_h%d_%s", r.modTime, r.size, r.height, r.path)
}
