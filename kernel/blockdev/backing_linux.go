//go:build linux

package blockdev

import "golang.org/x/sys/unix"

// newBacking maps an anonymous, zero-filled region for a RAMDevice,
// mirroring kernel/pagealloc's arena allocation so the device's storage
// is real mapped memory rather than a Go slice standing in for one.
func newBacking(size uintptr) ([]byte, func(), error) {
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, nil, err
	}
	unmap := func() { unix.Munmap(mem) }
	return mem, unmap, nil
}
