package omfg

import (
	"errors"
	"fmt"
)

var (
	ErrNoBackendAvailable = errors.New("no thumbnail backend available")
	ErrCacheMiss          = errors.New("cache miss")
	ErrCacheCorruptEntry  = errors.New("corrupt cache entry")
	ErrPathOutsideRoot    = errors.New("path is outside of root")
	ErrInvalidHeight      = errors.New("invalid thumbnail height")
	ErrServiceStopped     = errors.New("thumbnail service is stopped")
)

// ImageDecodeError is returned when a backend can't read or decode the source image.
type ImageDecodeError struct {
	Path    string
	Backend BackendKind
	Err     error
}

func (err *ImageDecodeError) Error() string {
	return fmt.Sprintf("%s: couldn't decode image %q: %s", err.Backend, err.Path, err.Err)
}

func (err *ImageDecodeError) Unwrap() error {
	return err.Err
}

// ImageEncodeError is returned when a backend can't encode the resized image.
type ImageEncodeError struct {
	Path    string
	Backend BackendKind
	Err     error
}

func (err *ImageEncodeError) Error() string {
	return fmt.Sprintf("%s: couldn't encode thumbnail for %q: %s", err.Backend, err.Path, err.Err)
}

func (err *ImageEncodeError) Unwrap() error {
	return err.Err
}

// ExternalToolError is returned when an external command exits with non-zero
// status or doesn't finish in time. ExitCode is -1 if the process was killed or
// couldn't be started.
type ExternalToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (err *ExternalToolError) Error() string {
	return fmt.Sprintf("%s failed: %s, exit code: %d, stderr: %q", err.Tool, err.Err, err.ExitCode, err.Stderr)
}

func (err *ExternalToolError) Unwrap() error {
	return err.Err
}

// CacheWriteError is returned when a generated thumbnail couldn't be saved.
type CacheWriteError struct {
	Path string
	Err  error
}

func (err *CacheWriteError) Error() string {
	return fmt.Sprintf("couldn't write cache entry for %q: %s", err.Path, err.Err)
}

func (err *CacheWriteError) Unwrap() error {
	return err.Err
}

func IsImageDecodeError(err error) bool {
	var decodeErr *ImageDecodeError
	return errors.As(err, &decodeErr)
}
