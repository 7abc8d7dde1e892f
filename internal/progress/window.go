// Package progress turns periodic byte counters into a smoothed throughput
// estimate.
package progress

// Window is a fixed-capacity sliding window of cumulative byte samples taken
// at a constant interval.
type Window struct {
	samples []int64
	size    int
}

// NewWindow returns a window holding at most size samples.
func NewWindow(size int) *Window {
	if size < 2 {
		size = 2
	}
	return &Window{samples: make([]int64, 0, size), size: size}
}

// Add appends a cumulative sample, dropping the oldest on overflow.
func (w *Window) Add(total int64) {
	if len(w.samples) == w.size {
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:w.size-1]
	}
	w.samples = append(w.samples, total)
}

// Len returns the number of samples held.
func (w *Window) Len() int {
	return len(w.samples)
}

// Rate returns the mean per-sample delta scaled to bytes per second, given
// the sampling interval in seconds. With fewer than two samples it is zero.
func (w *Window) Rate(intervalSeconds float64) float64 {
	if len(w.samples) < 2 || intervalSeconds <= 0 {
		return 0
	}
	var sum float64
	for i := 1; i < len(w.samples); i++ {
		sum += float64(w.samples[i] - w.samples[i-1])
	}
	mean := sum / float64(len(w.samples)-1)
	return mean / intervalSeconds
}
