// Package job holds the mutable state of a single archival attempt.
package job

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gftdcojp/plot-archiver/internal/plot"
	"github.com/google/uuid"
)

// Progress is a point-in-time view of a job's transfer.
type Progress struct {
	Percentage       float64   `json:"percentage"`
	TransferredBytes int64     `json:"transferred_bytes"`
	SpeedBytesPerSec float64   `json:"speed_bytes_per_sec"`
	StartedAt        time.Time `json:"started_at"`
}

// Job is one attempt at archiving a plot. A failed attempt is never reused;
// Retry wraps the same plot in a fresh Job.
type Job struct {
	ID      string
	Plot    plot.Plot
	Attempt int

	transferred atomic.Int64

	mu          sync.Mutex
	percentage  float64
	speed       float64
	startedAt   time.Time
	destination string
}

// New wraps p in a first-attempt job.
func New(p plot.Plot) *Job {
	return &Job{
		ID:      uuid.New().String(),
		Plot:    p,
		Attempt: 1,
	}
}

// Retry returns a fresh job for the same plot with progress reset.
func (j *Job) Retry() *Job {
	next := New(j.Plot)
	next.Attempt = j.Attempt + 1
	return next
}

// Start records the transfer start and the destination it targets.
func (j *Job) Start(destination string, at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.destination = destination
	j.startedAt = at
}

// AddTransferred accounts n more bytes written. Safe to call from the copy
// loop while progress is sampled concurrently.
func (j *Job) AddTransferred(n int64) {
	j.transferred.Add(n)
}

// Transferred returns the bytes written so far.
func (j *Job) Transferred() int64 {
	return j.transferred.Load()
}

// Update stores the latest computed percentage and speed.
func (j *Job) Update(percentage, speed float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.percentage = percentage
	j.speed = speed
}

// Destination is the location the job is writing to, empty while pending.
func (j *Job) Destination() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.destination
}

// Progress returns a snapshot of the job's progress.
func (j *Job) Progress() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Progress{
		Percentage:       j.percentage,
		TransferredBytes: j.transferred.Load(),
		SpeedBytesPerSec: j.speed,
		StartedAt:        j.startedAt,
	}
}
