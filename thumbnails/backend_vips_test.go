package thumbnails

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ShoshinNikita/omfg/omfg"
)

func TestVipsBackend(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported")
	}

	dir := t.TempDir()
	source := writePNG(t, dir, "source.png", 300, 200)
	req := newTestRequest(t, source, 75)

	fixture := filepath.Join(dir, "fixture.jpg")
	{
		buf := bytes.NewBuffer(nil)
		require.NoError(t, jpeg.Encode(buf, image.NewRGBA(image.Rect(0, 0, 113, 75)), nil))
		require.NoError(t, os.WriteFile(fixture, buf.Bytes(), 0o600))
	}

	t.Run("success", func(t *testing.T) {
		r := require.New(t)

		argsFile := filepath.Join(dir, "args.txt")
		tool := writeScript(t, dir, "vips-ok", `
echo "$@" > "`+argsFile+`"
cp "`+fixture+`" "${5%%\[*}"
`)

		thumbnail, err := newVipsBackend(tool, time.Second).Generate(context.Background(), req)
		r.NoError(err)
		r.Equal(113, thumbnail.Width)
		r.Equal(75, thumbnail.Height)

		fixtureData, err := os.ReadFile(fixture)
		r.NoError(err)
		r.Equal(fixtureData, thumbnail.Data)

		args, err := os.ReadFile(argsFile)
		r.NoError(err)
		pattern := `^` + regexp.QuoteMeta(source) + ` --size x75 -o .+/thumbnail\.jpg\[Q=80,optimize_coding,strip\]\n$`
		r.Regexp(pattern, string(args))
	})

	t.Run("default timeout", func(t *testing.T) {
		r := require.New(t)

		r.Equal(vipsBackend{toolPath: vipsToolName, timeout: defaultToolTimeout}, newVipsBackend("", 0))

		tool := writeScript(t, dir, "vips-default-timeout", `
cp "`+fixture+`" "${5%%\[*}"
`)
		backends := newBackends(omfg.ThumbnailsConfig{AllowExec: true, VipsPath: tool})
		thumbnail, err := backends[omfg.BackendVips].Generate(context.Background(), req)
		r.NoError(err)
		r.Equal(75, thumbnail.Height)
	})

	t.Run("non-zero exit code", func(t *testing.T) {
		r := require.New(t)

		tool := writeScript(t, dir, "vips-fail", `
echo "source.png: unable to load" >&2
exit 3
`)
		_, err := newVipsBackend(tool, time.Second).Generate(context.Background(), req)
		r.Error(err)

		var toolErr *omfg.ExternalToolError
		r.ErrorAs(err, &toolErr)
		r.Equal(3, toolErr.ExitCode)
		r.Equal("source.png: unable to load\n", toolErr.Stderr)
		r.Equal(vipsToolName, toolErr.Tool)
		r.False(omfg.IsImageDecodeError(err))
	})

	t.Run("timeout", func(t *testing.T) {
		r := require.New(t)

		tool := writeScript(t, dir, "vips-sleep", `
exec sleep 5
`)
		start := time.Now()
		_, err := newVipsBackend(tool, 100*time.Millisecond).Generate(context.Background(), req)
		r.Less(time.Since(start), 3*time.Second)

		var toolErr *omfg.ExternalToolError
		r.ErrorAs(err, &toolErr)
		r.Equal(-1, toolErr.ExitCode)
		r.ErrorIs(err, context.DeadlineExceeded)
	})

	t.Run("invalid output", func(t *testing.T) {
		r := require.New(t)

		tool := writeScript(t, dir, "vips-garbage", `
echo "garbage" > "${5%%\[*}"
`)
		_, err := newVipsBackend(tool, time.Second).Generate(context.Background(), req)

		var encodeErr *omfg.ImageEncodeError
		r.ErrorAs(err, &encodeErr)
		r.Equal(omfg.BackendVips, encodeErr.Backend)
	})

	t.Run("missing binary", func(t *testing.T) {
		r := require.New(t)

		_, err := newVipsBackend(filepath.Join(dir, "missing"), time.Second).Generate(context.Background(), req)

		var toolErr *omfg.ExternalToolError
		r.ErrorAs(err, &toolErr)
		r.Equal(-1, toolErr.ExitCode)
	})
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o700) //nolint:gosec
	require.NoError(t, err)
	return path
}
