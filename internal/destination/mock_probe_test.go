package destination

import (
	"context"
	"errors"
	"sync"

	"github.com/gftdcojp/plot-archiver/internal/plot"
)

const gib = int64(1024 * 1024 * 1024)

// fakeDisk simulates a volume whose free space grows as files are removed.
type fakeDisk struct {
	mu       sync.Mutex
	free     int64
	sizes    map[string]int64
	removed  []string
	probeErr error
	delErr   map[string]error
	probes   int
}

func newFakeDisk(free int64) *fakeDisk {
	return &fakeDisk{free: free, sizes: make(map[string]int64), delErr: make(map[string]error)}
}

func (f *fakeDisk) place(p plot.Plot) plot.Plot {
	f.mu.Lock()
	f.sizes[p.Path] = p.SizeBytes
	f.mu.Unlock()
	return p
}

func (f *fakeDisk) FreeBytes(_ context.Context, _ string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	if f.probeErr != nil {
		return 0, f.probeErr
	}
	return uint64(f.free), nil
}

func (f *fakeDisk) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.delErr[path]; err != nil {
		return err
	}
	size, ok := f.sizes[path]
	if !ok {
		return errors.New("no such file")
	}
	delete(f.sizes, path)
	f.free += size
	f.removed = append(f.removed, path)
	return nil
}

func (f *fakeDisk) setProbeErr(err error) {
	f.mu.Lock()
	f.probeErr = err
	f.mu.Unlock()
}

func (f *fakeDisk) removedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}
