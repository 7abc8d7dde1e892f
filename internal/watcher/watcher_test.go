package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gftdcojp/plot-archiver/internal/clock"
	"github.com/gftdcojp/plot-archiver/internal/config"
	"github.com/gftdcojp/plot-archiver/internal/plot"
	"go.uber.org/zap"
)

type collector struct {
	mu    sync.Mutex
	plots []plot.Plot
}

func (c *collector) handle(p plot.Plot) error {
	c.mu.Lock()
	c.plots = append(c.plots, p)
	c.mu.Unlock()
	return nil
}

func (c *collector) paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, p := range c.plots {
		out = append(out, p.Path)
	}
	return out
}

func nameMatcher(t *testing.T) *plot.Matcher {
	t.Helper()
	m, err := plot.NewMatcher([]string{config.DefaultPlotPattern})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestInitialScanAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "plot-k32-2021-06-01-a.plot")
	write(t, existing, "a")
	write(t, filepath.Join(dir, "notes.txt"), "x")
	if err := os.Mkdir(filepath.Join(dir, "plot-k32-dir.plot"), 0755); err != nil {
		t.Fatal(err)
	}

	c := &collector{}
	w, err := New(Config{Directories: []string{dir}, Names: nameMatcher(t), Logger: zap.NewNop()}, c.handle)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor(t, "initial scan", func() bool { return len(c.paths()) == 1 })
	if c.paths()[0] != existing {
		t.Fatalf("unexpected plot %v", c.paths())
	}

	created := filepath.Join(dir, "plot-k32-2021-06-01-b.plot")
	write(t, created, "bb")
	write(t, filepath.Join(dir, "plot-k32-b.plot.tmp"), "x")
	waitFor(t, "new plot", func() bool { return len(c.paths()) == 2 })
	if c.paths()[1] != created {
		t.Fatalf("unexpected plot %v", c.paths())
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestMissingDirectory(t *testing.T) {
	w, err := New(Config{Directories: []string{filepath.Join(t.TempDir(), "missing")}, Names: nameMatcher(t)}, func(plot.Plot) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected error when no directory can be watched")
	}
}

func TestMissingDirectorySkipped(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "plot-k32-2021-06-01-a.plot")
	write(t, existing, "a")

	c := &collector{}
	dirs := []string{filepath.Join(t.TempDir(), "missing"), dir}
	w, err := New(Config{Directories: dirs, Names: nameMatcher(t), Logger: zap.NewNop()}, c.handle)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor(t, "initial scan", func() bool { return len(c.paths()) == 1 })
	created := filepath.Join(dir, "plot-k32-2021-06-01-b.plot")
	write(t, created, "bb")
	waitFor(t, "new plot", func() bool { return len(c.paths()) == 2 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestAwaitWriteFinish(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewManual(time.Now())
	c := &collector{}
	w, err := New(Config{
		Directories:        []string{dir},
		Names:              nameMatcher(t),
		AwaitWriteFinish:   true,
		PollInterval:       time.Second,
		StabilityThreshold: 5 * time.Second,
		Clock:              clk,
		Logger:             zap.NewNop(),
	}, c.handle)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "plot-k32-2021-06-01-a.plot")
	write(t, path, "partial")
	w.track(path)
	if w.Pending() != 1 {
		t.Fatal("file should wait for stability")
	}

	for i := 0; i < 3; i++ {
		clk.Advance(time.Second)
		w.poll()
	}
	// Still growing: the stability window restarts.
	write(t, path, "partial plus more")
	clk.Advance(time.Second)
	w.poll()
	clk.Advance(4 * time.Second)
	w.poll()
	if len(c.paths()) != 0 {
		t.Fatal("a file that changed must not be emitted before it is stable again")
	}

	clk.Advance(time.Second)
	w.poll()
	if got := c.paths(); len(got) != 1 || got[0] != path {
		t.Fatalf("expected stable plot to be emitted, got %v", got)
	}
	if c.plots[0].SizeBytes != int64(len("partial plus more")) {
		t.Fatalf("unexpected size %d", c.plots[0].SizeBytes)
	}

	// A second notification for an emitted file is ignored until it is removed.
	w.track(path)
	if w.Pending() != 0 {
		t.Fatal("emitted file must not be tracked again")
	}
	w.forget(path)
	w.track(path)
	if w.Pending() != 1 {
		t.Fatal("a recreated file should be tracked again")
	}
}

func TestPendingFileRemoved(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewManual(time.Now())
	w, err := New(Config{
		Directories:        []string{dir},
		Names:              nameMatcher(t),
		AwaitWriteFinish:   true,
		PollInterval:       time.Second,
		StabilityThreshold: time.Second,
		Clock:              clk,
	}, func(plot.Plot) error { t.Error("nothing should be emitted"); return nil })
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "plot-k32-x.plot")
	write(t, path, "x")
	w.track(path)
	os.Remove(path)
	clk.Advance(2 * time.Second)
	w.poll()
	if w.Pending() != 0 {
		t.Fatal("vanished file should be dropped")
	}
}
