//go:build !unix

package capacity

func statfsFree(string) (uint64, error) {
	return 0, ErrUnsupported
}
