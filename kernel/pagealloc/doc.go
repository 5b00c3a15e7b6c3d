package pagealloc

import "time"

// lockTimeout bounds how long a pool operation waits on the pool-level
// spinlock (spec §5: "buddy-allocator metadata is protected by a
// pool-level spinlock"). It is generous because contention is only ever
// other allocator calls, never an unrelated long-held lock.
const lockTimeout = 2 * time.Second
