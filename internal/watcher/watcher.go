// Package watcher discovers finished plot files in source directories and
// hands them to the archiver.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gftdcojp/plot-archiver/internal/clock"
	"github.com/gftdcojp/plot-archiver/internal/plot"
	"go.uber.org/zap"
)

// Handler receives every plot that is ready to be archived.
type Handler func(p plot.Plot) error

// Config contains configuration for the watcher.
type Config struct {
	Directories []string
	// Names selects the files to emit by base name.
	Names *plot.Matcher
	// AwaitWriteFinish holds a file back until its size and modification
	// time stayed unchanged for StabilityThreshold, polled every PollInterval.
	AwaitWriteFinish   bool
	PollInterval       time.Duration
	StabilityThreshold time.Duration
	Clock              clock.Clock
	Logger             *zap.Logger
}

type pendingFile struct {
	size    int64
	modTime time.Time
	since   time.Time
}

// Watcher watches source directories (not their subdirectories) for new
// plot files.
type Watcher struct {
	cfg     Config
	fsw     *fsnotify.Watcher
	onReady Handler
	clock   clock.Clock
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingFile
	emitted map[string]bool
}

// New creates a watcher. Nothing is watched until Run is called.
func New(cfg Config, onReady Handler) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	w := &Watcher{
		cfg:     cfg,
		fsw:     fsw,
		onReady: onReady,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		pending: make(map[string]*pendingFile),
		emitted: make(map[string]bool),
	}
	if w.clock == nil {
		w.clock = clock.NewReal()
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w, nil
}

// Run watches until ctx is done. Files already present when Run starts are
// treated like newly created ones.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	// An unwatchable directory is skipped so the others keep working.
	var watched []string
	for _, dir := range w.cfg.Directories {
		if err := w.fsw.Add(dir); err != nil {
			w.logger.Error("cannot watch source directory", zap.String("directory", dir), zap.Error(err))
			continue
		}
		watched = append(watched, dir)
	}
	if len(watched) == 0 {
		return fmt.Errorf("none of the %d source directories can be watched", len(w.cfg.Directories))
	}

	if w.cfg.AwaitWriteFinish {
		stop := w.clock.Every(w.cfg.PollInterval, w.poll)
		defer stop()
	}

	for _, dir := range watched {
		w.scan(dir)
	}
	w.logger.Info("watching source directories",
		zap.Strings("directories", watched),
		zap.Bool("await_write_finish", w.cfg.AwaitWriteFinish),
	)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			switch {
			case event.Has(fsnotify.Create):
				w.track(event.Name)
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				w.forget(event.Name)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("file watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) scan(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.logger.Error("failed to scan source directory", zap.String("directory", dir), zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			w.track(filepath.Join(dir, e.Name()))
		}
	}
}

// track starts following path if it is a plot file not seen before.
func (w *Watcher) track(path string) {
	if !w.cfg.Names.MatchName(path) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	w.mu.Lock()
	if w.emitted[path] {
		w.mu.Unlock()
		return
	}
	if !w.cfg.AwaitWriteFinish {
		w.emitted[path] = true
		w.mu.Unlock()
		w.emit(plot.FromFileInfo(path, info))
		return
	}
	if _, ok := w.pending[path]; !ok {
		w.pending[path] = &pendingFile{size: info.Size(), modTime: info.ModTime(), since: w.clock.Now()}
		w.logger.Debug("waiting for plot to be fully written", zap.String("path", path))
	}
	w.mu.Unlock()
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	delete(w.emitted, path)
	w.mu.Unlock()
}

// poll emits every pending file whose size and modification time have not
// changed for the stability threshold.
func (w *Watcher) poll() {
	now := w.clock.Now()
	var ready []plot.Plot

	w.mu.Lock()
	for path, pf := range w.pending {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				delete(w.pending, path)
			}
			continue
		}
		if info.Size() != pf.size || !info.ModTime().Equal(pf.modTime) {
			pf.size, pf.modTime, pf.since = info.Size(), info.ModTime(), now
			continue
		}
		if now.Sub(pf.since) >= w.cfg.StabilityThreshold {
			delete(w.pending, path)
			w.emitted[path] = true
			ready = append(ready, plot.FromFileInfo(path, info))
		}
	}
	w.mu.Unlock()

	for _, p := range ready {
		w.emit(p)
	}
}

func (w *Watcher) emit(p plot.Plot) {
	w.logger.Info("found new plot", zap.String("plot", p.Path), zap.Int64("size_bytes", p.SizeBytes))
	if err := w.onReady(p); err != nil {
		w.logger.Warn("plot not enqueued", zap.String("plot", p.Path), zap.Error(err))
	}
}

// Pending returns the number of files waiting to become stable.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
