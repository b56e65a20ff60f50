package thumbnails

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/ShoshinNikita/omfg/omfg"
)

// BenchmarkBackends can be used to compare backends. Vips is skipped if vipsthumbnail is not installed.
//
// One-liner:
//
//	go test -run="^\$" -bench="^BenchmarkBackends\$" -v -count=10 > _bench.txt && benchstat -col /backend _bench.txt
func BenchmarkBackends(b *testing.B) {
	dir := b.TempDir()

	type BenchFile struct {
		Name          string
		Width, Height int
	}
	files := []BenchFile{
		{Name: "small.png", Width: 640, Height: 480},
		{Name: "large.png", Width: 3000, Height: 2000},
	}

	backends := map[omfg.BackendKind]Backend{
		omfg.BackendImaging: imagingBackend{},
		omfg.BackendXDraw:   xdrawBackend{},
	}
	if _, err := exec.LookPath(vipsToolName); err == nil {
		backends[omfg.BackendVips] = newVipsBackend(vipsToolName, time.Minute)
	}

	for _, file := range files {
		path := writePNG(b, dir, file.Name, file.Width, file.Height)
		req := newTestRequest(b, path, 75)

		for kind, backend := range backends {
			b.Run("file="+file.Name+"/backend="+string(kind), func(b *testing.B) {
				for b.Loop() {
					if _, err := backend.Generate(context.Background(), req); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}
