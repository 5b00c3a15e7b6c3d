//go:build linux

package pagealloc

import "golang.org/x/sys/unix"

// newArena reserves size bytes of anonymous memory via mmap, giving pool
// arenas a real backing region on the host the way the boot contract's
// "free-RAM regions declared in the device tree" are real memory on target
// hardware.
func newArena(size uintptr) ([]byte, func(), error) {
	if size == 0 {
		size = 1
	}
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, nil, err
	}
	unmap := func() { _ = unix.Munmap(data) }
	return data, unmap, nil
}
