//go:build !linux

package pagealloc

// newArena falls back to a plain heap-backed slice on non-Linux hosts,
// where there is no anonymous-mmap syscall to reach for.
func newArena(size uintptr) ([]byte, func(), error) {
	return make([]byte, size), func() {}, nil
}
