// Package telemetry reports job lifecycle and transfer progress to
// pluggable sinks.
package telemetry

import (
	"time"

	"github.com/gftdcojp/plot-archiver/internal/job"
)

// Update describes a job at one point of its transfer.
type Update struct {
	JobID            string    `json:"job_id"`
	Plot             string    `json:"plot"`
	DisplayName      string    `json:"display_name"`
	Destination      string    `json:"destination"`
	Attempt          int       `json:"attempt"`
	Percentage       float64   `json:"percentage"`
	SpeedBytesPerSec float64   `json:"speed_bytes_per_sec"`
	TransferredBytes int64     `json:"transferred_bytes"`
	TotalBytes       int64     `json:"total_bytes"`
	StartedAt        time.Time `json:"started_at"`
}

// UpdateFor captures the current state of j.
func UpdateFor(j *job.Job) Update {
	p := j.Progress()
	return Update{
		JobID:            j.ID,
		Plot:             j.Plot.Path,
		DisplayName:      j.Plot.DisplayName(),
		Destination:      j.Destination(),
		Attempt:          j.Attempt,
		Percentage:       p.Percentage,
		SpeedBytesPerSec: p.SpeedBytesPerSec,
		TransferredBytes: p.TransferredBytes,
		TotalBytes:       j.Plot.SizeBytes,
		StartedAt:        p.StartedAt,
	}
}

// Remaining estimates the time left at the current speed. It is zero when
// the speed is unknown.
func (u Update) Remaining() time.Duration {
	if u.SpeedBytesPerSec <= 0 || u.TotalBytes <= u.TransferredBytes {
		return 0
	}
	secs := float64(u.TotalBytes-u.TransferredBytes) / u.SpeedBytesPerSec
	return time.Duration(secs * float64(time.Second))
}

// Sink receives job events. Implementations must be safe for concurrent use
// and must not block the transfer for long.
type Sink interface {
	JobStarted(u Update)
	JobProgress(u Update)
	// JobFinished is called exactly once per started job. err is nil on
	// success.
	JobFinished(u Update, err error)
}

// Multi fans events out to every sink in order.
type Multi []Sink

func (m Multi) JobStarted(u Update) {
	for _, s := range m {
		s.JobStarted(u)
	}
}

func (m Multi) JobProgress(u Update) {
	for _, s := range m {
		s.JobProgress(u)
	}
}

func (m Multi) JobFinished(u Update, err error) {
	for _, s := range m {
		s.JobFinished(u, err)
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) JobStarted(Update)         {}
func (Nop) JobProgress(Update)        {}
func (Nop) JobFinished(Update, error) {}
