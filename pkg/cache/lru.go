package cache

import (
	"errors"
	"io/fs"
	"os"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ShoshinNikita/omfg/pkg/metrics"
	"github.com/ShoshinNikita/omfg/pkg/rlog"
)

// evictor tracks cache files to enforce a limit on every write.
type evictor interface {
	Add(path string)
	Touch(path string)
	Forget(path string)
}

type noopEvictor struct{}

func (noopEvictor) Add(string)    {}
func (noopEvictor) Touch(string)  {}
func (noopEvictor) Forget(string) {}

// lruEvictor keeps at most maxEntries files, the least recently used ones are removed.
type lruEvictor struct {
	entries *lru.Cache[string, struct{}]
}

// newLRUEvictor creates a new evictor. Existing files are added from the oldest to the newest,
// so the newest ones survive if there are too many files.
func newLRUEvictor(maxEntries int, existing []fileInfo) (*lruEvictor, error) {
	entries, err := lru.NewWithEvict(maxEntries, func(path string, _ struct{}) {
		err := os.Remove(path)
		switch {
		case err == nil:
			metrics.CacheEvictions.WithLabelValues("lru").Inc()
			rlog.Debugf("%q has been evicted from cache", path)
		case errors.Is(err, fs.ErrNotExist):
			// Already removed
		default:
			rlog.Errorf("couldn't evict %q from cache: %s", path, err)
		}
	})
	if err != nil {
		return nil, err
	}

	existing = slices.Clone(existing)
	slices.SortFunc(existing, func(a, b fileInfo) int {
		return a.modTime.Compare(b.modTime)
	})
	for _, f := range existing {
		entries.Add(f.path, struct{}{})
	}

	return &lruEvictor{entries: entries}, nil
}

func (e *lruEvictor) Add(path string) {
	e.entries.Add(path, struct{}{})
}

func (e *lruEvictor) Touch(path string) {
	e.entries.Get(path)
}

// Forget stops tracking a file. The file is removed if it still exists.
func (e *lruEvictor) Forget(path string) {
	e.entries.Remove(path)
}
