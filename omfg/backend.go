package omfg

// BackendKind names a thumbnail generation backend.
type BackendKind string

const (
	// BackendImaging is the primary in-process image library. It handles the widest range
	// of color models (grayscale, paletted, CMYK, 16-bit).
	BackendImaging BackendKind = "imaging"
	// BackendVips is the external command-line tool (vipsthumbnail).
	BackendVips BackendKind = "vips"
	// BackendXDraw is the alternate in-process image library. It works only with RGB images.
	BackendXDraw BackendKind = "xdraw"
)

// BackendPreference is the fixed order in which backends are tried.
var BackendPreference = []BackendKind{BackendImaging, BackendVips, BackendXDraw}

// Capabilities describes which backends are usable on the host.
type Capabilities struct {
	Imaging bool
	Vips    bool
	XDraw   bool
}

func (c Capabilities) Has(kind BackendKind) bool {
	switch kind {
	case BackendImaging:
		return c.Imaging
	case BackendVips:
		return c.Vips
	case BackendXDraw:
		return c.XDraw
	default:
		return false
	}
}

// Available returns the usable backends in preference order.
func (c Capabilities) Available() []BackendKind {
	var res []BackendKind
	for _, kind := range BackendPreference {
		if c.Has(kind) {
			res = append(res, kind)
		}
	}
	return res
}

func (c Capabilities) Any() bool {
	return c.Imaging || c.Vips || c.XDraw
}

// Without returns a copy with the passed backend marked as unavailable.
func (c Capabilities) Without(kind BackendKind) Capabilities {
	switch kind {
	case BackendImaging:
		c.Imaging = false
	case BackendVips:
		c.Vips = false
	case BackendXDraw:
		c.XDraw = false
	}
	return c
}
