package archiver

import (
	"context"

	"github.com/gftdcojp/plot-archiver/internal/destination"
	"github.com/gftdcojp/plot-archiver/internal/job"
	"github.com/gftdcojp/plot-archiver/internal/metrics"
	"go.uber.org/zap"
)

// selectDestination picks and reserves a destination for j. It returns
// (nil, nil) when the job has to wait. A non-nil error means reclaiming space
// on the returned destination failed; its slot has already been released.
//
// Counting active jobs, checking fit and reserving happen under selectMu so
// that two workers can never take the same destination or overshoot a
// concurrency ceiling. Eviction runs after the lock is dropped: the
// destination is already reserved, and only its holder touches its catalog.
func (s *Scheduler) selectDestination(ctx context.Context, j *job.Job) (*destination.Destination, error) {
	p := j.Plot
	source := p.SourceLocation()

	s.selectMu.Lock()
	var (
		active     int
		sameSource int
		idle       []*destination.Destination
	)
	for _, d := range s.dests {
		a := d.ActiveJob()
		if a == nil {
			idle = append(idle, d)
			continue
		}
		active++
		if a.Plot.SourceLocation() == source {
			sameSource++
		}
	}

	if limit := s.cfg.MaxConcurrent; limit > 0 && active >= limit {
		s.selectMu.Unlock()
		return nil, nil
	}
	if limit := s.cfg.MaxConcurrentPerSource; limit > 0 && sameSource >= limit {
		s.selectMu.Unlock()
		return nil, nil
	}

	for _, d := range idle {
		if !d.CanFitDirectly(p) {
			continue
		}
		// The cached estimate may be stale; confirm before committing.
		d.RefreshFreeSpace(ctx)
		if d.CanFitDirectly(p) && d.Reserve(j) {
			s.selectMu.Unlock()
			return d, nil
		}
	}

	var target *destination.Destination
	for _, d := range idle {
		if d.CanFitWithEviction(p) && d.Reserve(j) {
			target = d
			break
		}
	}
	s.selectMu.Unlock()

	if target == nil {
		return nil, nil
	}

	logger := s.logger.With(zap.String("plot", p.Name()), zap.String("destination", target.Location()))
	logger.Info("reclaiming space for plot",
		zap.Int64("size_bytes", p.SizeBytes),
		zap.Int64("free_bytes", target.FreeBytes()),
	)
	evicted, err := target.ClaimSpaceFor(ctx, p)
	s.recordEvictions(ctx, target.Location(), p.Name(), evicted)
	if err != nil {
		target.Release(j)
		return target, err
	}
	if !target.CanFitDirectly(p) {
		logger.Warn("plot still does not fit after eviction",
			zap.Int("evicted", len(evicted)),
			zap.Int64("free_bytes", target.FreeBytes()),
		)
		target.Release(j)
		return nil, nil
	}
	return target, nil
}

func (s *Scheduler) countSelectionMiss(j *job.Job) {
	metrics.SelectionMisses.Inc()
	s.logger.Debug("no destination available",
		zap.String("plot", j.Plot.Name()),
		zap.String("job_id", j.ID),
		zap.Duration("backoff", s.cfg.SelectionBackoff.Duration()),
	)
}
