// Package kconfig models the boot-time configuration the kernel needs before
// any subsystem is initialized: pool layout, CPU count, and the scheduling
// and cache constants the spec fixes as named values.
//
// In the real kernel these come from the device tree handed to the
// entrypoint. Here
// they're assembled the way the teacher assembles container runtime
// configuration: a plain struct with defaults, and functional options for
// callers (chiefly cmd/badgeros and internal/testkernel) that need to
// override a handful of fields.
package kconfig

import "time"

// Config is the kernel's boot-time configuration.
type Config struct {
	// CPUCount is the number of simulated CPUs (goroutine-backed runqueues).
	CPUCount int

	// PoolSize is the size in bytes of the single physical memory pool
	// registered at boot via pagealloc.InitPool.
	PoolSize uintptr

	// PageSize is the allocation granularity for the buddy allocator.
	PageSize uintptr

	// MinQuota is the minimum scheduler time slice (spec §4.5). It is
	// recorded only: kernel/scheduler uses its own MinQuota constant and
	// does not read this field.
	MinQuota time.Duration
	// QuotaIncrement scales the quota by thread priority (spec §4.5). It
	// is recorded only, like MinQuota.
	QuotaIncrement time.Duration

	// ReadCacheTimeout is the age past which a clean block-cache entry is
	// evictable (spec §4.9).
	ReadCacheTimeout time.Duration
	// WriteCacheTimeout is the age past which a dirty block-cache entry must
	// be flushed by housekeeping (spec §4.9).
	WriteCacheTimeout time.Duration

	// BlockSize is the block-device transfer granularity.
	BlockSize int
	// CacheEntries is the number of entries in the block-device cache.
	CacheEntries int

	// RootFS is the path at which the in-memory root filesystem is
	// mounted at boot.
	RootFS string
}

// Option mutates a Config during construction.
type Option func(*Config)

// Default returns the default kernel configuration.
func Default() Config {
	return Config{
		CPUCount:          1,
		PoolSize:          16 << 20, // 16 MiB
		PageSize:          4096,
		MinQuota:          2 * time.Millisecond,
		QuotaIncrement:    500 * time.Microsecond,
		ReadCacheTimeout:  5 * time.Second,
		WriteCacheTimeout: 1 * time.Second,
		BlockSize:         512,
		CacheEntries:      32,
		RootFS:            "/",
	}
}

// New builds a Config from Default with the given options applied.
func New(opts ...Option) Config {
	cfg := Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithCPUCount overrides the simulated CPU count.
func WithCPUCount(n int) Option {
	return func(c *Config) { c.CPUCount = n }
}

// WithPool overrides the pool size and page size.
func WithPool(size, pageSize uintptr) Option {
	return func(c *Config) {
		c.PoolSize = size
		c.PageSize = pageSize
	}
}

// WithQuota overrides the MinQuota and QuotaIncrement fields. The
// scheduler's quota formula does not read them.
func WithQuota(min, increment time.Duration) Option {
	return func(c *Config) {
		c.MinQuota = min
		c.QuotaIncrement = increment
	}
}

// WithBlockCache overrides the block-device cache shape.
func WithBlockCache(blockSize, entries int, readTimeout, writeTimeout time.Duration) Option {
	return func(c *Config) {
		c.BlockSize = blockSize
		c.CacheEntries = entries
		c.ReadCacheTimeout = readTimeout
		c.WriteCacheTimeout = writeTimeout
	}
}
