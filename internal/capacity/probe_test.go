//go:build unix

package capacity

import (
	"context"
	"path/filepath"
	"testing"
)

func TestStatfsProbe(t *testing.T) {
	free, err := NewStatfsProbe().FreeBytes(context.Background(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if free == 0 {
		t.Error("expected a writable temp dir to report free space")
	}
}

func TestStatfsProbeMissingPath(t *testing.T) {
	_, err := NewStatfsProbe().FreeBytes(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestStatfsProbeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewStatfsProbe().FreeBytes(ctx, t.TempDir()); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestProbeFunc(t *testing.T) {
	var p Probe = ProbeFunc(func(_ context.Context, path string) (uint64, error) {
		return 42, nil
	})
	free, err := p.FreeBytes(context.Background(), "/x")
	if err != nil || free != 42 {
		t.Fatalf("unexpected result %d, %v", free, err)
	}
}
