package thumbnails

import (
	"context"
	"os/exec"
	"time"

	"github.com/ShoshinNikita/omfg/omfg"
	"github.com/ShoshinNikita/omfg/pkg/metrics"
	"github.com/ShoshinNikita/omfg/pkg/rlog"
)

// Prober checks which backends can be used.
type Prober interface {
	ProbeImaging() bool
	ProbeVips(ctx context.Context, toolPath string) bool
	ProbeXDraw() bool
}

// SystemProber checks the current binary and host.
type SystemProber struct {
	// AllowExec permits to run external tools. If it is false, [SystemProber.ProbeVips]
	// always returns false.
	AllowExec bool
	// Timeout limits the probe of an external tool.
	Timeout time.Duration
}

var _ Prober = SystemProber{}

func NewSystemProber(cfg omfg.ThumbnailsConfig) SystemProber {
	return SystemProber{
		AllowExec: cfg.AllowExec,
		Timeout:   cfg.VipsTimeout,
	}
}

func (SystemProber) ProbeImaging() bool {
	return isLinked(omfg.BackendImaging)
}

func (SystemProber) ProbeXDraw() bool {
	return isLinked(omfg.BackendXDraw)
}

// ProbeVips runs "<toolPath> --vips-version". The tool is considered available only if
// the command exits with code 0 before the timeout. Empty toolPath means "vipsthumbnail"
// from PATH.
func (p SystemProber) ProbeVips(ctx context.Context, toolPath string) bool {
	if !p.AllowExec {
		rlog.Debug("vips is disabled: running external tools is not allowed")
		return false
	}
	if toolPath == "" {
		toolPath = vipsToolName
	}

	path, err := exec.LookPath(toolPath)
	if err != nil {
		rlog.Debugf("vips is not found: %s", err)
		return false
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, "--vips-version")
	cmd.WaitDelay = time.Second

	output, err := cmd.Output()
	if err != nil {
		rlog.Debugf("vips probe failed: %s", err)
		return false
	}
	rlog.Debugf("found vips at %q: %q", path, output)
	return true
}

// ProbeCapabilities runs all probes once.
func ProbeCapabilities(ctx context.Context, prober Prober, toolPath string) omfg.Capabilities {
	caps := omfg.Capabilities{
		Imaging: prober.ProbeImaging(),
		Vips:    prober.ProbeVips(ctx, toolPath),
		XDraw:   prober.ProbeXDraw(),
	}

	for _, kind := range omfg.BackendPreference {
		var v float64
		if caps.Has(kind) {
			v = 1
		}
		metrics.BackendAvailable.WithLabelValues(string(kind)).Set(v)
	}
	return caps
}
