package syscallabi

import "sync"

// pathRegistryT hands out opaque handles for user-space path strings.
// Real hardware passes a user-space pointer in a0 and the kernel copies
// the NUL-terminated string in via copy_from_user; this simulator has no
// byte-addressable user memory for strings (only the buffer permission
// model in kernel/memprotect), so FS_OPEN callers register the path
// string here and pass its handle as the a0 argument instead.
type pathRegistryT struct {
	mu      sync.Mutex
	entries map[uint64]string
	next    uint64
}

var pathRegistry = &pathRegistryT{entries: make(map[uint64]string)}

// register hands out a new opaque handle for p, for use as an FS_OPEN
// path argument.
func (r *pathRegistryT) register(p string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.entries[r.next] = p
	return r.next
}

func (r *pathRegistryT) lookup(handle uint64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[handle]
}

// RegisterPath hands out an opaque path handle for use as FS_OPEN's a0
// argument, the caller-facing counterpart of pathArg.
func RegisterPath(p string) uint64 { return pathRegistry.register(p) }
