package archiver

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gftdcojp/plot-archiver/internal/job"
	"github.com/gftdcojp/plot-archiver/internal/plot"
)

func TestCopyCountingCreditsBytes(t *testing.T) {
	j := job.New(plot.Plot{Path: "/p", SizeBytes: 10000})
	var dst bytes.Buffer
	src := strings.NewReader(strings.Repeat("x", 10000))

	if err := copyCounting(context.Background(), &dst, src, make([]byte, 4096), j); err != nil {
		t.Fatal(err)
	}
	if dst.Len() != 10000 || j.Transferred() != 10000 {
		t.Fatalf("copied %d, credited %d", dst.Len(), j.Transferred())
	}
}

func TestCopyCountingStopsOnCancel(t *testing.T) {
	j := job.New(plot.Plot{Path: "/p", SizeBytes: 100})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := copyCounting(ctx, &bytes.Buffer{}, strings.NewReader("data"), make([]byte, 16), j)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if j.Transferred() != 0 {
		t.Fatal("nothing should be copied after cancellation")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("no space left on device") }

func TestCopyCountingWriteError(t *testing.T) {
	j := job.New(plot.Plot{Path: "/p", SizeBytes: 4})
	err := copyCounting(context.Background(), failingWriter{}, strings.NewReader("data"), make([]byte, 16), j)
	if err == nil || !strings.Contains(err.Error(), "writing") {
		t.Fatalf("expected write error, got %v", err)
	}
}
