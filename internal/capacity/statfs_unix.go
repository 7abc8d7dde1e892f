//go:build unix

package capacity

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func statfsFree(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	// Bavail excludes blocks reserved for root.
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
