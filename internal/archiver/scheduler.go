// Package archiver schedules plot transfers onto destinations, reclaiming
// space by eviction when needed and retrying failed attempts.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gftdcojp/plot-archiver/internal/clock"
	"github.com/gftdcojp/plot-archiver/internal/config"
	"github.com/gftdcojp/plot-archiver/internal/destination"
	"github.com/gftdcojp/plot-archiver/internal/history"
	"github.com/gftdcojp/plot-archiver/internal/job"
	"github.com/gftdcojp/plot-archiver/internal/metrics"
	"github.com/gftdcojp/plot-archiver/internal/plot"
	"github.com/gftdcojp/plot-archiver/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrStopped is returned when work is submitted after Shutdown.
	ErrStopped = errors.New("archiver: stopped")
	// ErrAlreadyTracked is returned when a plot is already queued, waiting
	// or being transferred.
	ErrAlreadyTracked = errors.New("archiver: plot already tracked")
)

// Job states reported by Jobs.
const (
	StatePending = "pending"
	StateActive  = "active"
	StateBackoff = "backoff"
	StateRetry   = "retry_wait"
)

// Config holds dependencies for a Scheduler.
type Config struct {
	Destinations []*destination.Destination
	Sink         telemetry.Sink
	// History is optional.
	History  history.Store
	Clock    clock.Clock
	Logger   *zap.Logger
	Archiver config.ArchiverConfig
}

// JobStatus is a reporting view of a tracked job.
type JobStatus struct {
	ID          string       `json:"id"`
	Plot        string       `json:"plot"`
	DisplayName string       `json:"display_name"`
	SizeBytes   int64        `json:"size_bytes"`
	Attempt     int          `json:"attempt"`
	State       string       `json:"state"`
	Destination string       `json:"destination,omitempty"`
	Progress    job.Progress `json:"progress"`
}

type tracked struct {
	job   *job.Job
	state string
}

// Scheduler runs one worker per destination over a shared FIFO queue.
type Scheduler struct {
	dests   []*destination.Destination
	sink    telemetry.Sink
	history history.Store
	clock   clock.Clock
	logger  *zap.Logger
	cfg     config.ArchiverConfig

	queue *queue

	// selectMu serializes destination selection and reservation.
	selectMu sync.Mutex

	mu          sync.Mutex
	stopped     bool
	cancel      context.CancelFunc
	stopRefresh func()
	tracked     map[string]*tracked

	openSource   func(path string) (io.ReadCloser, error)
	removeSource func(path string) error
}

// New creates a scheduler. Destinations should already be initialized.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		dests:   cfg.Destinations,
		sink:    cfg.Sink,
		history: cfg.History,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		cfg:     cfg.Archiver,
		queue:   newQueue(),
		tracked: make(map[string]*tracked),
		openSource: func(path string) (io.ReadCloser, error) {
			return os.Open(path)
		},
		removeSource: os.Remove,
	}
	if s.sink == nil {
		s.sink = telemetry.Nop{}
	}
	if s.clock == nil {
		s.clock = clock.NewReal()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.cfg.ProgressInterval <= 0 {
		s.cfg.ProgressInterval = config.Duration(time.Second)
	}
	if s.cfg.SpeedWindow < 2 {
		s.cfg.SpeedWindow = 15
	}
	return s
}

// InitDestinations scans and probes every destination in parallel.
func InitDestinations(ctx context.Context, dests []*destination.Destination) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, d := range dests {
		g.Go(func() error {
			d.Init(ctx)
			return nil
		})
	}
	return g.Wait()
}

// Run starts the workers and the free-space refresh schedule, and blocks
// until ctx is done or Shutdown is called.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.cancel != nil {
		s.mu.Unlock()
		return errors.New("archiver: already running")
	}
	s.cancel = cancel
	s.mu.Unlock()

	if spec := s.cfg.FreeSpaceRefresh; spec != "" {
		stop, err := s.clock.Schedule(spec, func() {
			if err := s.RefreshAll(ctx); err != nil {
				s.logger.Warn("free space refresh failed", zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("scheduling free space refresh: %w", err)
		}
		s.mu.Lock()
		s.stopRefresh = stop
		s.mu.Unlock()
	}

	workers := len(s.dests)
	if workers < 1 {
		workers = 1
	}
	s.logger.Info("archiver started",
		zap.Int("workers", workers),
		zap.Int("destinations", len(s.dests)),
	)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx)
		}()
	}
	wg.Wait()

	s.Shutdown()
	return nil
}

// Shutdown stops accepting work, stops the refresh schedule and cancels
// running transfers. Interrupted transfers are cleaned up and not retried.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel, stopRefresh := s.cancel, s.stopRefresh
	s.mu.Unlock()

	if stopRefresh != nil {
		stopRefresh()
	}
	if cancel != nil {
		cancel()
	}
	s.logger.Info("archiver stopped accepting work")
}

// Enqueue wraps p in a new job and appends it to the queue.
func (s *Scheduler) Enqueue(p plot.Plot) (*job.Job, error) {
	j := job.New(p)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	if _, ok := s.tracked[p.Path]; ok {
		s.mu.Unlock()
		return nil, ErrAlreadyTracked
	}
	s.tracked[p.Path] = &tracked{job: j, state: StatePending}
	s.mu.Unlock()

	s.queue.Push(j)
	metrics.PlotsEnqueued.Inc()
	s.logger.Info("plot queued",
		zap.String("plot", p.Name()),
		zap.String("job_id", j.ID),
		zap.Int64("size_bytes", p.SizeBytes),
	)
	return j, nil
}

// requeue puts j back in the queue. It reports false after shutdown.
func (s *Scheduler) requeue(j *job.Job) bool {
	s.mu.Lock()
	if s.stopped {
		delete(s.tracked, j.Plot.Path)
		s.mu.Unlock()
		return false
	}
	s.tracked[j.Plot.Path] = &tracked{job: j, state: StatePending}
	s.mu.Unlock()

	s.queue.Push(j)
	return true
}

func (s *Scheduler) setState(j *job.Job, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked[j.Plot.Path] = &tracked{job: j, state: state}
}

func (s *Scheduler) untrack(j *job.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tracked[j.Plot.Path]; ok && t.job == j {
		delete(s.tracked, j.Plot.Path)
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		j, err := s.queue.Pop(ctx)
		if err != nil {
			return
		}
		s.process(ctx, j)
	}
}

func (s *Scheduler) process(ctx context.Context, j *job.Job) {
	d, err := s.selectDestination(ctx, j)
	if err != nil {
		s.logger.Error("failed to reclaim space",
			zap.String("plot", j.Plot.Name()),
			zap.String("destination", d.Location()),
			zap.String("job_id", j.ID),
			zap.Error(err),
		)
		metrics.Archivals.WithLabelValues(d.Location(), "failure").Inc()
		s.recordArchival(context.WithoutCancel(ctx), j, d.Location(), err)
		s.retry(ctx, j)
		return
	}

	if d == nil {
		s.countSelectionMiss(j)
		s.setState(j, StateBackoff)
		if err := s.clock.Sleep(ctx, s.cfg.SelectionBackoff.Duration()); err != nil {
			s.untrack(j)
			return
		}
		s.requeue(j)
		return
	}

	s.archive(ctx, j, d)
}

// archive runs a transfer on a reserved destination and always releases it.
func (s *Scheduler) archive(ctx context.Context, j *job.Job, d *destination.Destination) {
	loc := d.Location()
	logger := s.logger.With(
		zap.String("plot", j.Plot.Name()),
		zap.String("destination", loc),
		zap.String("job_id", j.ID),
		zap.Int("attempt", j.Attempt),
	)

	s.setState(j, StateActive)
	metrics.ActiveJobs.Inc()
	j.Start(loc, s.clock.Now())
	logger.Info("archiving plot", zap.Int64("size_bytes", j.Plot.SizeBytes))
	s.sink.JobStarted(telemetry.UpdateFor(j))

	ticker := newProgressTicker(j, s.sink, loc, s.cfg.ProgressInterval.Duration(), s.cfg.SpeedWindow)
	ticker.start(s.clock)

	final, err := s.transfer(ctx, j, loc)

	ticker.stop()
	if err == nil {
		j.Update(1, j.Progress().SpeedBytesPerSec)
	}
	s.sink.JobFinished(telemetry.UpdateFor(j), err)

	bg := context.WithoutCancel(ctx)
	d.RefreshFreeSpace(bg)
	if err == nil {
		s.catalogArchived(d, final, j)
	}
	d.Release(j)
	metrics.ActiveJobs.Dec()
	s.recordArchival(bg, j, loc, err)

	elapsed := s.clock.Now().Sub(j.Progress().StartedAt)
	switch {
	case err == nil:
		s.untrack(j)
		metrics.Archivals.WithLabelValues(loc, "success").Inc()
		metrics.BytesArchived.WithLabelValues(loc).Add(float64(j.Plot.SizeBytes))
		metrics.TransferDuration.WithLabelValues(loc).Observe(elapsed.Seconds())
		logger.Info("finished archiving plot", zap.Duration("elapsed", elapsed))
	case ctx.Err() != nil:
		s.untrack(j)
		metrics.Archivals.WithLabelValues(loc, "interrupted").Inc()
		logger.Warn("transfer interrupted by shutdown", zap.Error(err))
	case errors.Is(err, fs.ErrNotExist) && !sourceExists(j.Plot.Path):
		s.untrack(j)
		metrics.Archivals.WithLabelValues(loc, "skipped").Inc()
		logger.Warn("source plot vanished, dropping job", zap.Error(err))
	default:
		metrics.Archivals.WithLabelValues(loc, "failure").Inc()
		logger.Error("failed to archive plot",
			zap.Error(err),
			zap.Duration("retry_in", s.cfg.RetryDelay.Duration()),
		)
		s.retry(ctx, j)
	}
}

// retry schedules a fresh job for the same plot after the retry delay.
// Nothing is scheduled once the scheduler is stopping.
func (s *Scheduler) retry(ctx context.Context, j *job.Job) {
	if ctx.Err() != nil {
		s.untrack(j)
		return
	}
	next := j.Retry()
	s.setState(next, StateRetry)
	s.clock.AfterFunc(s.cfg.RetryDelay.Duration(), func() {
		if s.requeue(next) {
			metrics.PlotsEnqueued.Inc()
		}
	})
}

func sourceExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// catalogArchived makes a freshly archived plot available for later
// eviction when it matches the eviction patterns.
func (s *Scheduler) catalogArchived(d *destination.Destination, final string, j *job.Job) {
	p, err := plot.FromFile(final)
	if err != nil {
		p = plot.Plot{Path: final, SizeBytes: j.Plot.SizeBytes, CreatedAt: s.clock.Now()}
	}
	d.AddCandidate(p)
}

func (s *Scheduler) recordArchival(ctx context.Context, j *job.Job, dest string, cause error) {
	if s.history == nil {
		return
	}
	entry := history.ArchivalEntry{
		JobID:       j.ID,
		Plot:        j.Plot.Path,
		Source:      j.Plot.SourceLocation(),
		Destination: dest,
		SizeBytes:   j.Plot.SizeBytes,
		Attempt:     j.Attempt,
		StartedAt:   j.Progress().StartedAt,
		FinishedAt:  s.clock.Now(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := s.history.RecordArchival(ctx, entry); err != nil {
		s.logger.Warn("failed to record archival", zap.String("job_id", j.ID), zap.Error(err))
	}
}

func (s *Scheduler) recordEvictions(ctx context.Context, dest, forPlot string, evicted []plot.Plot) {
	if s.history == nil {
		return
	}
	now := s.clock.Now()
	for _, p := range evicted {
		entry := history.EvictionEntry{
			Destination: dest,
			Path:        p.Path,
			SizeBytes:   p.SizeBytes,
			CreatedAt:   p.CreatedAt,
			EvictedAt:   now,
			ForPlot:     forPlot,
		}
		if err := s.history.RecordEviction(ctx, entry); err != nil {
			s.logger.Warn("failed to record eviction", zap.String("path", p.Path), zap.Error(err))
		}
	}
}

// RefreshAll re-reads free space on every destination in parallel.
func (s *Scheduler) RefreshAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, d := range s.dests {
		g.Go(func() error {
			d.RefreshFreeSpace(ctx)
			return nil
		})
	}
	return g.Wait()
}

// Destinations returns a snapshot of every destination in configuration
// order.
func (s *Scheduler) Destinations() []destination.Snapshot {
	out := make([]destination.Snapshot, 0, len(s.dests))
	for _, d := range s.dests {
		out = append(out, d.Snapshot())
	}
	return out
}

// Jobs returns every tracked job ordered by plot path.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	out := make([]JobStatus, 0, len(s.tracked))
	for _, t := range s.tracked {
		j := t.job
		out = append(out, JobStatus{
			ID:          j.ID,
			Plot:        j.Plot.Path,
			DisplayName: j.Plot.DisplayName(),
			SizeBytes:   j.Plot.SizeBytes,
			Attempt:     j.Attempt,
			State:       t.state,
			Destination: j.Destination(),
			Progress:    j.Progress(),
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, k int) bool { return out[i].Plot < out[k].Plot })
	return out
}

// QueueLen is the number of jobs waiting for a worker.
func (s *Scheduler) QueueLen() int {
	return s.queue.Len()
}
