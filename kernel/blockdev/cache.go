package blockdev

import (
	"sync"
	"time"

	"badgeros/kernel/kerrors"
)

// cacheEntry is the block-device cache entry from spec §3: {block-index,
// update-timestamp, present?, erase?, dirty?} guarding a fixed-size
// block buffer.
type cacheEntry struct {
	block   int
	updated time.Time
	present bool
	erase   bool
	dirty   bool
	buf     []byte
}

// Cache wraps a Device with the write-back/read-through policy and
// eviction policy from spec §4.9.
type Cache struct {
	dev              Device
	entries          []cacheEntry
	mu               sync.Mutex
	readCacheTimeout time.Duration
	writeCacheTimeout time.Duration
	readCacheEnabled bool
}

// NewCache wraps dev with a fixed-size array of nEntries cache slots.
func NewCache(dev Device, nEntries int, readTimeout, writeTimeout time.Duration) *Cache {
	entries := make([]cacheEntry, nEntries)
	for i := range entries {
		entries[i].buf = make([]byte, dev.BlockSize())
	}
	return &Cache{
		dev:               dev,
		entries:           entries,
		readCacheTimeout:  readTimeout,
		writeCacheTimeout: writeTimeout,
		readCacheEnabled:  true,
	}
}

func (c *Cache) findLocked(block int) int {
	for i := range c.entries {
		if c.entries[i].present && c.entries[i].block == block {
			return i
		}
	}
	return -1
}

// allocLocked picks a cache slot for block, preferring a vacant entry,
// then the oldest clean entry past readCacheTimeout, else -1 (spec
// §4.9's "allocation returns -1 and the caller falls back to uncached
// I/O").
func (c *Cache) allocLocked(block int, now time.Time) int {
	for i := range c.entries {
		if !c.entries[i].present {
			return i
		}
	}
	oldest := -1
	for i := range c.entries {
		e := &c.entries[i]
		if e.dirty {
			continue
		}
		if now.Sub(e.updated) <= c.readCacheTimeout {
			continue
		}
		if oldest == -1 || e.updated.Before(c.entries[oldest].updated) {
			oldest = i
		}
	}
	return oldest
}

// Write implements spec §4.9's write-back policy: update the entry, mark
// it dirty+present, stamp the time, and return without touching the
// device.
func (c *Cache) Write(block int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.findLocked(block)
	if idx == -1 {
		idx = c.allocLocked(block, time.Now())
		if idx == -1 {
			return ReadModifyWrite(c.dev, block, 0, data)
		}
	}
	e := &c.entries[idx]
	e.block = block
	copy(e.buf, data)
	e.present = true
	e.dirty = true
	e.erase = false
	e.updated = time.Now()
	return nil
}

// Read implements spec §4.9's read-through policy: a present entry
// bypasses the device; an erase-marked entry returns the erase pattern;
// a miss reads straight through, caching the result if read-caching is
// enabled and a slot is available.
func (c *Cache) Read(block int, out []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx := c.findLocked(block); idx != -1 {
		e := &c.entries[idx]
		if e.erase {
			for i := range out {
				out[i] = ErasePattern
			}
		} else {
			copy(out, e.buf)
		}
		return nil
	}

	if err := c.dev.Read(block, out); err != nil {
		return err
	}
	if !c.readCacheEnabled {
		return nil
	}
	idx := c.allocLocked(block, time.Now())
	if idx == -1 {
		return nil
	}
	e := &c.entries[idx]
	e.block = block
	copy(e.buf, out)
	e.present = true
	e.dirty = false
	e.erase = false
	e.updated = time.Now()
	return nil
}

// Erase erases block on the device and marks it erased in the cache
// (erase implies present, per spec §3's invariant).
func (c *Cache) Erase(block int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.dev.Erase(block); err != nil {
		return err
	}
	idx := c.findLocked(block)
	if idx == -1 {
		idx = c.allocLocked(block, time.Now())
		if idx == -1 {
			return nil
		}
	}
	e := &c.entries[idx]
	e.block = block
	for i := range e.buf {
		e.buf[i] = ErasePattern
	}
	e.present = true
	e.erase = true
	e.dirty = false
	e.updated = time.Now()
	return nil
}

func (c *Cache) flushLocked(idx int) error {
	e := &c.entries[idx]
	if !e.dirty {
		return nil
	}
	if err := c.dev.Write(e.block, e.buf); err != nil {
		return err
	}
	e.dirty = false
	return nil
}

// Housekeeping flushes dirty entries whose age exceeds the write-cache
// timeout, per spec §4.9's periodic housekeeping call.
func (c *Cache) Housekeeping(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.entries {
		e := &c.entries[i]
		if e.present && e.dirty && now.Sub(e.updated) > c.writeCacheTimeout {
			if err := c.flushLocked(i); err != nil {
				return err
			}
		}
	}
	return nil
}

// FlushAll force-flushes every dirty entry regardless of age.
func (c *Cache) FlushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		if err := c.flushLocked(i); err != nil {
			return err
		}
	}
	return nil
}

// ErrCacheFull is returned by callers that want an explicit error rather
// than a silent straight-through fallback when allocation fails.
var ErrCacheFull = kerrors.ErrCacheMiss
