package thumbnails

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ShoshinNikita/omfg/omfg"
	"github.com/ShoshinNikita/omfg/pkg/rlog"
)

const (
	vipsToolName = "vipsthumbnail"

	// defaultToolTimeout is used when the timeout is not set.
	defaultToolTimeout = 5 * time.Second
)

// vipsBackend resizes images with "vipsthumbnail" command.
//
// See https://www.libvips.org/API/current/Using-vipsthumbnail.html for "vipsthumbnail" docs.
type vipsBackend struct {
	toolPath string
	timeout  time.Duration
}

func newVipsBackend(toolPath string, timeout time.Duration) vipsBackend {
	if toolPath == "" {
		toolPath = vipsToolName
	}
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	return vipsBackend{
		toolPath: toolPath,
		timeout:  timeout,
	}
}

func (b vipsBackend) Generate(ctx context.Context, req omfg.ImageRequest) (Thumbnail, error) {
	tempDir, err := os.MkdirTemp("", "omfg-vips-*")
	if err != nil {
		return Thumbnail{}, fmt.Errorf("couldn't create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			rlog.Errorf("couldn't remove temp dir: %s", err)
		}
	}()

	output := filepath.Join(tempDir, "thumbnail.jpg")

	if err := b.run(ctx, req, output); err != nil {
		return Thumbnail{}, err
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return Thumbnail{}, &omfg.ImageEncodeError{Path: req.GetPath(), Backend: omfg.BackendVips, Err: err}
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Thumbnail{}, &omfg.ImageEncodeError{Path: req.GetPath(), Backend: omfg.BackendVips, Err: err}
	}
	return Thumbnail{
		Data:   data,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

func (b vipsBackend) run(ctx context.Context, req omfg.ImageRequest, output string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	// Only the height is fixed, so vips keeps the aspect ratio. The image is auto-rotated.
	cmd := exec.CommandContext(
		ctx,
		b.toolPath,
		req.GetPath(),
		"--size", "x"+strconv.Itoa(req.GetHeight()),
		"-o", output+"[Q="+strconv.Itoa(jpegQuality)+",optimize_coding,strip]",
	)
	cmd.WaitDelay = time.Second

	stderr := bytes.NewBuffer(nil)
	cmd.Stderr = stderr

	err := cmd.Run()
	if err == nil {
		if stderr.Len() > 0 {
			rlog.Debugf("vips stderr for %q: %q", req.GetPath(), stderr.String())
		}
		return nil
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	return &omfg.ExternalToolError{
		Tool:     vipsToolName,
		ExitCode: exitCode,
		Stderr:   stderr.String(),
		Err:      err,
	}
}
