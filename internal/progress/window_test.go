package progress

import (
	"math"
	"testing"
)

func TestWindowFewerThanTwoSamples(t *testing.T) {
	w := NewWindow(15)
	if r := w.Rate(1); r != 0 {
		t.Fatalf("empty window rate = %f", r)
	}
	w.Add(100)
	if r := w.Rate(1); r != 0 {
		t.Fatalf("single-sample rate = %f", r)
	}
}

func TestWindowConstantRateConverges(t *testing.T) {
	const rate = 150 * 1024 * 1024 // bytes per second
	w := NewWindow(15)

	// A slow start followed by a constant rate held for longer than the window.
	var total int64
	for i := 0; i < 5; i++ {
		total += 1024
		w.Add(total)
	}
	for i := 0; i < 20; i++ {
		total += rate
		w.Add(total)
	}

	if w.Len() != 15 {
		t.Fatalf("expected window capped at 15, got %d", w.Len())
	}
	if got := w.Rate(1); math.Abs(got-rate) > 1e-6 {
		t.Fatalf("expected rate %d, got %f", rate, got)
	}
}

func TestWindowIntervalScaling(t *testing.T) {
	w := NewWindow(4)
	w.Add(0)
	w.Add(500)
	w.Add(1000)
	if got := w.Rate(0.5); got != 1000 {
		t.Fatalf("expected 1000 B/s at half-second sampling, got %f", got)
	}
}

func TestWindowDropsOldest(t *testing.T) {
	w := NewWindow(3)
	for _, v := range []int64{0, 1000, 1010, 1020} {
		w.Add(v)
	}
	// Window now holds 1000, 1010, 1020.
	if got := w.Rate(1); got != 10 {
		t.Fatalf("expected 10 B/s once the first sample is dropped, got %f", got)
	}
}
