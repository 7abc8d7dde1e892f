// Package capacity reports the free space available to unprivileged writers
// on a storage location.
package capacity

import (
	"context"
	"errors"
)

// ErrUnsupported is returned on platforms without a free-space syscall.
var ErrUnsupported = errors.New("free space probing is not supported on this platform")

// Probe queries the free space of a location.
type Probe interface {
	FreeBytes(ctx context.Context, path string) (uint64, error)
}

// StatfsProbe reads free space with statfs(2).
type StatfsProbe struct{}

// NewStatfsProbe returns the platform probe.
func NewStatfsProbe() *StatfsProbe {
	return &StatfsProbe{}
}

func (StatfsProbe) FreeBytes(ctx context.Context, path string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return statfsFree(path)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context, path string) (uint64, error)

func (f ProbeFunc) FreeBytes(ctx context.Context, path string) (uint64, error) {
	return f(ctx, path)
}
