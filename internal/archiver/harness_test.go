package archiver

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gftdcojp/plot-archiver/internal/clock"
	"github.com/gftdcojp/plot-archiver/internal/config"
	"github.com/gftdcojp/plot-archiver/internal/destination"
	"github.com/gftdcojp/plot-archiver/internal/history"
	"github.com/gftdcojp/plot-archiver/internal/plot"
	"github.com/gftdcojp/plot-archiver/internal/telemetry"
	"go.uber.org/zap"
)

var epoch = time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)

// dirProbe reports a fixed capacity minus the bytes currently stored under
// the location, so evictions and transfers move free space like a real disk.
type dirProbe struct {
	capacity map[string]int64
}

func (p *dirProbe) FreeBytes(_ context.Context, path string) (uint64, error) {
	var used int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				used += info.Size()
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	free := p.capacity[path] - used
	if free < 0 {
		free = 0
	}
	return uint64(free), nil
}

type sinkEvent struct {
	kind string
	u    telemetry.Update
	err  error
}

type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (r *recordingSink) add(e sinkEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingSink) JobStarted(u telemetry.Update)  { r.add(sinkEvent{kind: "started", u: u}) }
func (r *recordingSink) JobProgress(u telemetry.Update) { r.add(sinkEvent{kind: "progress", u: u}) }
func (r *recordingSink) JobFinished(u telemetry.Update, err error) {
	r.add(sinkEvent{kind: "finished", u: u, err: err})
}

func (r *recordingSink) of(kind string) []sinkEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sinkEvent
	for _, e := range r.events {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type harnessOptions struct {
	capacities []int64
	archiver   config.ArchiverConfig
	history    history.Store
	removeFile func(string) error
}

type harness struct {
	t      *testing.T
	clk    *clock.Manual
	sink   *recordingSink
	sched  *Scheduler
	dests  []*destination.Destination
	dirs   []string
	cancel context.CancelFunc
	done   chan error
}

func testArchiverConfig() config.ArchiverConfig {
	cfg := config.DefaultConfig().Archiver
	cfg.FreeSpaceRefresh = ""
	cfg.BufferSize = 4096
	return cfg
}

// newHarness builds a scheduler over fresh destination directories. Call
// start after adjusting unexported hooks.
func newHarness(t *testing.T, opts harnessOptions, setup func(dirs []string)) *harness {
	t.Helper()
	if opts.archiver.SpeedWindow == 0 {
		opts.archiver = testArchiverConfig()
	}

	probe := &dirProbe{capacity: make(map[string]int64)}
	h := &harness{
		t:    t,
		clk:  clock.NewManual(epoch),
		sink: &recordingSink{},
	}
	for _, c := range opts.capacities {
		dir := t.TempDir()
		probe.capacity[dir] = c
		h.dirs = append(h.dirs, dir)
	}
	if setup != nil {
		setup(h.dirs)
	}

	matcher, err := plot.NewMatcher([]string{`old-.*\.plot$`})
	if err != nil {
		t.Fatal(err)
	}
	for _, dir := range h.dirs {
		h.dests = append(h.dests, destination.New(destination.Config{
			Location:   dir,
			Probe:      probe,
			Matcher:    matcher,
			Logger:     zap.NewNop(),
			RemoveFile: opts.removeFile,
		}))
	}
	if err := InitDestinations(context.Background(), h.dests); err != nil {
		t.Fatal(err)
	}

	h.sched = New(Config{
		Destinations: h.dests,
		Sink:         h.sink,
		History:      opts.history,
		Clock:        h.clk,
		Logger:       zap.NewNop(),
		Archiver:     opts.archiver,
	})
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.sched.Run(ctx) }()
	h.t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			h.t.Error("scheduler did not stop")
		}
	})
}

func (h *harness) enqueue(p plot.Plot) string {
	h.t.Helper()
	j, err := h.sched.Enqueue(p)
	if err != nil {
		h.t.Fatalf("Enqueue(%s): %v", p.Name(), err)
	}
	return j.ID
}

// advanceUntil moves virtual time forward one second at a time until cond
// holds.
func (h *harness) advanceUntil(what string, cond func() bool) {
	h.t.Helper()
	waitFor(h.t, what, func() bool {
		if cond() {
			return true
		}
		h.clk.Advance(time.Second)
		return cond()
	})
}

func (h *harness) jobState(path string) (JobStatus, bool) {
	for _, js := range h.sched.Jobs() {
		if js.Plot == path {
			return js, true
		}
	}
	return JobStatus{}, false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func writeFile(t *testing.T, path string, size int64, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func writePlot(t *testing.T, dir, name string, size int64) plot.Plot {
	t.Helper()
	path := filepath.Join(dir, name)
	writeFile(t, path, size, epoch)
	p, err := plot.FromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// gatedReader blocks its first read until gate is closed.
type gatedReader struct {
	f    *os.File
	gate <-chan struct{}
}

func (g *gatedReader) Read(b []byte) (int, error) {
	<-g.gate
	return g.f.Read(b)
}

func (g *gatedReader) Close() error { return g.f.Close() }

// failingReader yields n bytes and then fails.
type failingReader struct {
	n   int
	err error
}

func (f *failingReader) Read(b []byte) (int, error) {
	if f.n == 0 {
		return 0, f.err
	}
	k := min(len(b), f.n)
	f.n -= k
	return k, nil
}

func (f *failingReader) Close() error { return nil }

// slowReader returns a few bytes per read so cancellation is observed
// mid-copy. started is closed on the first read.
type slowReader struct {
	f       *os.File
	once    sync.Once
	started chan struct{}
}

func (s *slowReader) Read(b []byte) (int, error) {
	s.once.Do(func() { close(s.started) })
	time.Sleep(time.Millisecond)
	if len(b) > 8 {
		b = b[:8]
	}
	return s.f.Read(b)
}

func (s *slowReader) Close() error { return s.f.Close() }

func openGated(match string, gate <-chan struct{}) func(string) (io.ReadCloser, error) {
	return func(path string) (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		if filepath.Base(path) == match {
			return &gatedReader{f: f, gate: gate}, nil
		}
		return f, nil
	}
}
