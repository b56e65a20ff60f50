package omfg

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestImageRequest(t *testing.T) {
	r := require.New(t)

	modTime := time.Date(2023, time.April, 14, 10, 0, 0, 500, time.UTC)
	req := NewImageRequest("/gallery/./trips/../IMG.PNG", modTime, 1024, 75)

	r.Equal("/gallery/IMG.PNG", req.GetPath())
	r.Equal(modTime, req.GetModTime())
	r.Equal(int64(1024), req.GetSize())
	r.Equal(75, req.GetHeight())

	other := NewImageRequest("/gallery/IMG.PNG", modTime.Add(time.Nanosecond), 1024, 75)
	r.NotEqual(req, other)
}

func TestImageRequest_TargetWidth(t *testing.T) {
	for _, tt := range []struct {
		srcWidth, srcHeight int
		height              int
		want                int
	}{
		{srcWidth: 100, srcHeight: 100, height: 75, want: 75},
		{srcWidth: 400, srcHeight: 300, height: 75, want: 100},
		{srcWidth: 300, srcHeight: 400, height: 75, want: 56}, // 56.25
		{srcWidth: 10, srcHeight: 4, height: 75, want: 188},   // 187.5
		{srcWidth: 1, srcHeight: 1000, height: 75, want: 1},   // 0.075
		{srcWidth: 50, srcHeight: 10, height: 100, want: 500}, // upscale
		{srcWidth: 0, srcHeight: 10, height: 100, want: 1},
	} {
		t.Run(fmt.Sprintf("%dx%d", tt.srcWidth, tt.srcHeight), func(t *testing.T) {
			req := NewImageRequest("/a.jpg", time.Time{}, 0, tt.height)
			require.Equal(t, tt.want, req.TargetWidth(tt.srcWidth, tt.srcHeight))
		})
	}
}

func TestCapabilities(t *testing.T) {
	r := require.New(t)

	r.False(Capabilities{}.Any())
	r.Empty(Capabilities{}.Available())

	caps := Capabilities{Vips: true, XDraw: true}
	r.True(caps.Any())
	r.False(caps.Has(BackendImaging))
	r.True(caps.Has(BackendVips))
	r.Equal([]BackendKind{BackendVips, BackendXDraw}, caps.Available())

	r.Equal(BackendPreference, Capabilities{Imaging: true, Vips: true, XDraw: true}.Available())

	r.Equal(Capabilities{XDraw: true}, caps.Without(BackendVips))
	r.Equal(caps, caps.Without(BackendImaging))
}

func TestErrors(t *testing.T) {
	r := require.New(t)

	cause := errors.New("unexpected EOF")
	err := fmt.Errorf("generate: %w", &ImageDecodeError{Path: "/a.jpg", Backend: BackendXDraw, Err: cause})
	r.True(IsImageDecodeError(err))
	r.ErrorIs(err, cause)
	r.Contains(err.Error(), `xdraw: couldn't decode image "/a.jpg"`)

	r.False(IsImageDecodeError(&ImageEncodeError{Err: cause}))

	var toolErr *ExternalToolError
	err = fmt.Errorf("x: %w", &ExternalToolError{Tool: "vipsthumbnail", ExitCode: 1, Stderr: "boom", Err: cause})
	r.ErrorAs(err, &toolErr)
	r.Equal(1, toolErr.ExitCode)
	r.Equal("boom", toolErr.Stderr)
}

func TestThumbnailResult(t *testing.T) {
	r := require.New(t)

	data := []byte("jpeg")
	res := ThumbnailResult{Data: data}
	got, err := res.ReadAll()
	r.NoError(err)
	r.Equal(data, got)

	// Must return a copy.
	got[0] = 'x'
	r.Equal("jpeg", string(res.Data))
}
