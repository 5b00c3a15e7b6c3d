package kerrors

// Mutex errors.
var (
	// ErrMutexIllegal is returned for acquire/release on an uninitialized or
	// wrong-mode mutex.
	ErrMutexIllegal = New(THREADS, ILLEGAL, "mutex")
	// ErrMutexTimeout is returned when an acquire times out.
	ErrMutexTimeout = New(THREADS, TIMEOUT, "mutex")
	// ErrMutexDoubleRelease is returned by a release that finds the mutex
	// already unlocked. It does not modify the mutex's counter.
	ErrMutexDoubleRelease = WithDetail(THREADS, ILLEGAL, "mutex", "double release")
)

// Allocator errors.
var (
	// ErrOutOfMemory indicates no block/slab/page satisfies a request.
	ErrOutOfMemory = New(MEM, NOMEM, "alloc")
	// ErrBadTag indicates a free() on a block whose tag doesn't match the
	// caller's expectation.
	ErrBadTag = WithDetail(MEM, ILLEGAL, "free", "tag mismatch")
	// ErrDoubleFree indicates a slab cell was already free.
	ErrDoubleFree = WithDetail(MEM, ILLEGAL, "free", "double free")
	// ErrNotBuddyBlock indicates reallocate() was called on a non-buddy block.
	ErrNotBuddyBlock = WithDetail(MEM, ILLEGAL, "reallocate", "not a buddy block")
)

// Memory-protection / process-map errors.
var (
	// ErrRegionOverlap indicates a requested mapping would overlap an
	// existing region.
	ErrRegionOverlap = WithDetail(MEM, RANGE, "map", "region overlap")
	// ErrNotMapped indicates an unmap/query on a region that isn't mapped.
	ErrNotMapped = New(MEM, NOTFOUND, "unmap")
	// ErrAccessDenied indicates a user-pointer copy failed map_contains.
	ErrAccessDenied = WithDetail(MEM, ILLEGAL, "copy_user", "access denied")
)

// Process manager errors.
var (
	// ErrProcessNotFound indicates no process record exists for a PID.
	ErrProcessNotFound = New(PROCESS, NOTFOUND, "lookup")
	// ErrProcessNotPrestart indicates start() was called on a process not in
	// PRESTART state.
	ErrProcessNotPrestart = WithDetail(PROCESS, STATE, "start", "not in PRESTART state")
	// ErrProcessExiting indicates an operation that's illegal once a process
	// has begun exiting.
	ErrProcessExiting = WithDetail(PROCESS, STATE, "operation", "process is exiting")
	// ErrInitExited is the fatal invariant violation of PID 1 exiting before
	// shutdown.
	ErrInitExited = WithDetail(PROCESS, ILLEGAL, "exit", "PID 1 exited before shutdown")
)

// Scheduler / thread errors.
var (
	// ErrThreadNotFound indicates a thread ID has no live thread.
	ErrThreadNotFound = New(THREADS, NOTFOUND, "lookup")
	// ErrCPUNotRunning indicates a handoff target CPU isn't accepting work.
	ErrCPUNotRunning = WithDetail(THREADS, STATE, "handoff", "target CPU not running")
)

// VFS / blockdev errors.
var (
	// ErrNotOpen indicates an I/O call on a handle that was never opened.
	ErrNotOpen = New(FS, STATE, "io")
	// ErrEOF indicates a read past the end of a file.
	ErrEOF = New(FS, NOTFOUND, "read")
	// ErrNoMount indicates a path walk that can't resolve to a mounted
	// filesystem.
	ErrNoMount = New(FS, NOTFOUND, "mount")
	// ErrCacheMiss indicates a block-cache allocation failed and the caller
	// must fall back to uncached I/O.
	ErrCacheMiss = New(BLKDEV, NOMEM, "cache")
)
