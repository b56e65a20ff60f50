package omfg

import (
	"bytes"
	"io"
	"os"
)

// ThumbnailContentType is the content type of all generated thumbnails.
const ThumbnailContentType = "image/jpeg"

// ThumbnailResult is a generated or cached thumbnail. Exactly one of Data and Path is set.
type ThumbnailResult struct {
	// Data is the encoded thumbnail. The slice is owned by the caller.
	Data []byte
	// Path is the path of a cache file.
	Path string

	ContentType string
	Width       int
	Height      int

	// Backend is the backend that produced the thumbnail.
	Backend   BackendKind
	FromCache bool
}

// Open returns the thumbnail content.
func (r ThumbnailResult) Open() (io.ReadCloser, error) {
	if r.Path != "" {
		return os.Open(r.Path)
	}
	return io.NopCloser(bytes.NewReader(r.Data)), nil
}

// ReadAll returns the thumbnail content.
func (r ThumbnailResult) ReadAll() ([]byte, error) {
	if r.Path != "" {
		return os.ReadFile(r.Path)
	}
	return bytes.Clone(r.Data), nil
}
