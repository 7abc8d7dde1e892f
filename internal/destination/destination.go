// Package destination tracks the free space, the active transfer and the
// evictable files of one archive location.
package destination

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sync"

	"github.com/gftdcojp/plot-archiver/internal/capacity"
	"github.com/gftdcojp/plot-archiver/internal/job"
	"github.com/gftdcojp/plot-archiver/internal/metrics"
	"github.com/gftdcojp/plot-archiver/internal/plot"
	"go.uber.org/zap"
)

// Config holds dependencies for a destination.
type Config struct {
	Location string
	Probe    capacity.Probe
	Matcher  *plot.Matcher
	Logger   *zap.Logger
	// RemoveFile deletes an evicted file. Defaults to os.Remove.
	RemoveFile func(path string) error
}

// Destination is one archive location. At most one job may be active on it.
type Destination struct {
	location string
	probe    capacity.Probe
	matcher  *plot.Matcher
	logger   *zap.Logger
	remove   func(string) error

	mu        sync.Mutex
	freeBytes int64
	active    *job.Job
	catalog   *Catalog
}

// Snapshot is a consistent read-only view of a destination.
type Snapshot struct {
	Location       string `json:"location"`
	FreeBytes      int64  `json:"free_bytes"`
	ClaimableBytes int64  `json:"claimable_bytes"`
	CatalogSize    int    `json:"catalog_size"`
	ActiveJobID    string `json:"active_job_id,omitempty"`
	ActivePlot     string `json:"active_plot,omitempty"`
}

// New creates a destination without touching storage. Call Init to build the
// catalog and take the first free-space reading.
func New(cfg Config) *Destination {
	remove := cfg.RemoveFile
	if remove == nil {
		remove = os.Remove
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Destination{
		location: cfg.Location,
		probe:    cfg.Probe,
		matcher:  cfg.Matcher,
		logger:   logger,
		remove:   remove,
		catalog:  NewCatalog(nil),
	}
}

// Init scans the location for eviction candidates and refreshes free space.
// A location that cannot be scanned starts with an empty catalog.
func (d *Destination) Init(ctx context.Context) {
	entries, err := ScanCandidates(d.location, d.matcher, d.logger)
	if err != nil {
		d.logger.Error("failed to scan destination", zap.Error(err))
	}

	d.mu.Lock()
	d.catalog = NewCatalog(entries)
	claimable := d.catalog.TotalBytes()
	d.mu.Unlock()

	metrics.DestinationClaimableBytes.WithLabelValues(d.location).Set(float64(claimable))
	d.logger.Info("destination initialized",
		zap.Int("eviction_candidates", len(entries)),
		zap.Int64("claimable_bytes", claimable),
	)

	d.RefreshFreeSpace(ctx)
}

// Location is the destination directory.
func (d *Destination) Location() string {
	return d.location
}

// RefreshFreeSpace re-reads free space. On probe failure the previous value
// is kept.
func (d *Destination) RefreshFreeSpace(ctx context.Context) {
	free, err := d.probe.FreeBytes(ctx, d.location)
	if err != nil {
		metrics.ProbeErrors.WithLabelValues(d.location).Inc()
		d.logger.Error("failed to update free space", zap.Error(err))
		return
	}
	v := int64(math.MaxInt64)
	if free < math.MaxInt64 {
		v = int64(free)
	}

	d.mu.Lock()
	d.freeBytes = v
	d.mu.Unlock()

	metrics.DestinationFreeBytes.WithLabelValues(d.location).Set(float64(v))
}

// FreeBytes is the last known free space.
func (d *Destination) FreeBytes() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freeBytes
}

// ClaimableBytes is the space evicting the whole catalog would reclaim.
func (d *Destination) ClaimableBytes() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.catalog.TotalBytes()
}

// CanFitDirectly reports whether p fits without evicting anything.
func (d *Destination) CanFitDirectly(p plot.Plot) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return p.SizeBytes < d.freeBytes
}

// CanFitWithEviction reports whether p would fit once the catalog is evicted.
func (d *Destination) CanFitWithEviction(p plot.Plot) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return p.SizeBytes < d.freeBytes+d.catalog.TotalBytes()
}

// ClaimSpaceFor evicts catalog entries oldest first until p fits directly or
// the catalog is empty. It is best effort: callers must re-check the fit. The
// evicted plots are returned even when a later deletion fails.
func (d *Destination) ClaimSpaceFor(ctx context.Context, p plot.Plot) ([]plot.Plot, error) {
	var evicted []plot.Plot
	for !d.CanFitDirectly(p) {
		if err := ctx.Err(); err != nil {
			return evicted, err
		}

		d.mu.Lock()
		victim, ok := d.catalog.Oldest()
		d.mu.Unlock()
		if !ok {
			break
		}

		if err := d.remove(victim.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return evicted, fmt.Errorf("evicting %s: %w", victim.Path, err)
		}

		d.mu.Lock()
		d.catalog.Remove(victim.Path)
		claimable := d.catalog.TotalBytes()
		d.mu.Unlock()

		evicted = append(evicted, victim)
		metrics.Evictions.WithLabelValues(d.location).Inc()
		metrics.EvictedBytes.WithLabelValues(d.location).Add(float64(victim.SizeBytes))
		metrics.DestinationClaimableBytes.WithLabelValues(d.location).Set(float64(claimable))
		d.logger.Info("evicted plot to reclaim space",
			zap.String("evicted", victim.Path),
			zap.Int64("size_bytes", victim.SizeBytes),
			zap.Time("created_at", victim.CreatedAt),
			zap.String("for_plot", p.Name()),
		)

		d.RefreshFreeSpace(ctx)
	}
	return evicted, nil
}

// AddCandidate catalogs a file that arrived on this destination if it is an
// eviction candidate.
func (d *Destination) AddCandidate(p plot.Plot) bool {
	if !d.matcher.IsEvictionCandidate(p) {
		return false
	}
	d.mu.Lock()
	d.catalog.Insert(p)
	claimable := d.catalog.TotalBytes()
	d.mu.Unlock()
	metrics.DestinationClaimableBytes.WithLabelValues(d.location).Set(float64(claimable))
	return true
}

// Catalog returns the eviction candidates, oldest first.
func (d *Destination) Catalog() []plot.Plot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.catalog.Entries()
}

// ActiveJob returns the job currently writing here, or nil.
func (d *Destination) ActiveJob() *job.Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Reserve marks j as the active job if the slot is free.
func (d *Destination) Reserve(j *job.Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active != nil {
		return false
	}
	d.active = j
	return true
}

// Release clears the active slot if j holds it.
func (d *Destination) Release(j *job.Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == j {
		d.active = nil
	}
}

// Snapshot returns a consistent view for reporting.
func (d *Destination) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Snapshot{
		Location:       d.location,
		FreeBytes:      d.freeBytes,
		ClaimableBytes: d.catalog.TotalBytes(),
		CatalogSize:    d.catalog.Len(),
	}
	if d.active != nil {
		s.ActiveJobID = d.active.ID
		s.ActivePlot = d.active.Plot.Name()
	}
	return s
}
