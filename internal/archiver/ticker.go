package archiver

import (
	"sync"
	"time"

	"github.com/gftdcojp/plot-archiver/internal/clock"
	"github.com/gftdcojp/plot-archiver/internal/job"
	"github.com/gftdcojp/plot-archiver/internal/metrics"
	"github.com/gftdcojp/plot-archiver/internal/progress"
	"github.com/gftdcojp/plot-archiver/internal/telemetry"
)

// progressTicker samples a running job at a fixed interval, updates its
// percentage and moving-average speed and reports it to the sink.
type progressTicker struct {
	j        *job.Job
	sink     telemetry.Sink
	interval time.Duration
	dest     string

	mu      sync.Mutex
	window  *progress.Window
	stopped bool
	stopFn  func()
}

func newProgressTicker(j *job.Job, sink telemetry.Sink, dest string, interval time.Duration, window int) *progressTicker {
	return &progressTicker{
		j:        j,
		sink:     sink,
		interval: interval,
		dest:     dest,
		window:   progress.NewWindow(window),
	}
}

func (t *progressTicker) start(clk clock.Clock) {
	stop := clk.Every(t.interval, t.tick)
	t.mu.Lock()
	t.stopFn = stop
	t.mu.Unlock()
}

// tick takes one sample. It is a no-op once the ticker is stopped, so no
// progress is reported after the job ended.
func (t *progressTicker) tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}

	transferred := t.j.Transferred()
	var pct float64
	if size := t.j.Plot.SizeBytes; size > 0 {
		pct = float64(transferred) / float64(size)
	}
	t.window.Add(transferred)
	speed := t.window.Rate(t.interval.Seconds())
	t.j.Update(pct, speed)

	metrics.TransferSpeed.WithLabelValues(t.dest).Set(speed)
	t.sink.JobProgress(telemetry.UpdateFor(t.j))
}

func (t *progressTicker) stop() {
	t.mu.Lock()
	t.stopped = true
	stop := t.stopFn
	t.mu.Unlock()
	if stop != nil {
		stop()
	}
	metrics.TransferSpeed.WithLabelValues(t.dest).Set(0)
}
