// Package slaballoc implements the sub-page fixed-size cell allocator
// described in spec §4.3: four size classes, each tracked by five
// fill-level buckets, backed by pages pulled from kernel/pagealloc and
// tagged TagSlab.
//
// The bucket/threshold shape mirrors the kind of page-granular allocator
// found in gopher-os's kernel/mem/vmm and biscuit's vm/as.go (neither of
// which is the teacher here, but both are the closest examples in the
// retrieval pack to a sub-page cell allocator, since the teacher repo has
// no allocator of its own — it delegates all memory management to the host
// kernel).
package slaballoc

import (
	"container/list"
	"math/bits"

	"badgeros/kernel/atomics"
	"badgeros/kernel/kerrors"
	"badgeros/kernel/pagealloc"
)

// sizeClasses are the four fixed cell sizes the allocator serves.
var sizeClasses = [4]uintptr{32, 64, 128, 256}

// bucket is the fill-level classification of a slab page within its class.
type bucket int

const (
	bucketEmpty bucket = iota
	bucketAlmostEmpty
	bucketHalfFull
	bucketNearFull
	bucketFull
	numBuckets
)

// slabPage is the in-memory header for one buddy page subdivided into equal
// cells.
type slabPage struct {
	class    int
	capacity int
	useCount int
	bitmap   []uint64 // 1 = free
	bucket   bucket
	elem     *list.Element
	pageBase uintptr
	cellSize uintptr
}

func bucketFor(useCount, capacity int) bucket {
	switch {
	case useCount == 0:
		return bucketEmpty
	case useCount == capacity:
		return bucketFull
	case useCount <= capacity/4:
		return bucketAlmostEmpty
	case useCount <= capacity/2:
		return bucketHalfFull
	default:
		return bucketNearFull
	}
}

func newSlabPage(class int, pageBase uintptr, pageSize uintptr) *slabPage {
	cellSize := sizeClasses[class]
	capacity := int(pageSize / cellSize)
	words := (capacity + 63) / 64
	bitmap := make([]uint64, words)
	// All cells start free: set every bit, then mask off any bits beyond
	// capacity in the last word.
	for i := range bitmap {
		bitmap[i] = ^uint64(0)
	}
	if rem := capacity % 64; rem != 0 {
		bitmap[words-1] = (uint64(1) << uint(rem)) - 1
	}
	return &slabPage{
		class:    class,
		capacity: capacity,
		useCount: 0,
		bitmap:   bitmap,
		bucket:   bucketEmpty,
		pageBase: pageBase,
		cellSize: cellSize,
	}
}

// firstFreeCell returns the index of the first free cell, or -1 if full.
func (s *slabPage) firstFreeCell() int {
	for w, word := range s.bitmap {
		if word == 0 {
			continue
		}
		return w*64 + bits.TrailingZeros64(word)
	}
	return -1
}

func (s *slabPage) takeCell(idx int) {
	s.bitmap[idx/64] &^= uint64(1) << uint(idx%64)
	s.useCount++
}

// releaseCell returns false if the cell was already free (double free).
func (s *slabPage) releaseCell(idx int) bool {
	word := idx / 64
	mask := uint64(1) << uint(idx%64)
	if s.bitmap[word]&mask != 0 {
		return false
	}
	s.bitmap[word] |= mask
	s.useCount--
	return true
}

type class struct {
	buckets [numBuckets]*list.List
}

func newClass() *class {
	c := &class{}
	for i := range c.buckets {
		c.buckets[i] = list.New()
	}
	return c
}

// Allocator is a slab allocator backed by one pagealloc.Pool.
type Allocator struct {
	pool     *pagealloc.Pool
	classes  [4]*class
	byPage   map[uintptr]*slabPage
	mu       *atomics.Mutex
	pageSize uintptr
}

// NewAllocator creates a slab allocator drawing pages from pool.
func NewAllocator(pool *pagealloc.Pool) *Allocator {
	a := &Allocator{
		pool:     pool,
		byPage:   make(map[uintptr]*slabPage),
		mu:       atomics.NewMutex(false),
		pageSize: pool.PageSize(),
	}
	for i := range a.classes {
		a.classes[i] = newClass()
	}
	return a
}

func classIndexFor(size uintptr) (int, bool) {
	for i, c := range sizeClasses {
		if size <= c {
			return i, true
		}
	}
	return 0, false
}

const lockTimeout = 2_000_000_000 // 2s, matches pagealloc's spinlock budget

// Alloc returns a cell of at least size bytes, or 0 if size exceeds the
// largest size class (such requests must go straight to pagealloc, per
// spec §4.3) or the backing pool is exhausted.
func (a *Allocator) Alloc(size uintptr) uintptr {
	ci, ok := classIndexFor(size)
	if !ok {
		return 0
	}

	if err := a.mu.Acquire(lockTimeout); err != nil {
		return 0
	}
	defer a.mu.Release()

	c := a.classes[ci]
	var s *slabPage
	// Prefer the fullest non-full bucket: near-full -> half -> almost-empty
	// -> empty.
	for _, b := range []bucket{bucketNearFull, bucketHalfFull, bucketAlmostEmpty, bucketEmpty} {
		if elem := c.buckets[b].Front(); elem != nil {
			s = elem.Value.(*slabPage)
			break
		}
	}

	if s == nil {
		ptr := a.pool.Alloc(a.pageSize, pagealloc.TagSlab, pagealloc.AllocDefault)
		if ptr == 0 {
			return 0
		}
		s = newSlabPage(ci, ptr, a.pageSize)
		s.elem = c.buckets[bucketEmpty].PushBack(s)
		a.byPage[ptr] = s
	}

	idx := s.firstFreeCell()
	if idx < 0 {
		// Should not happen: a tracked non-full slab always has a free cell.
		return 0
	}
	s.takeCell(idx)
	a.moveBucket(c, s)

	return s.pageBase + uintptr(idx)*s.cellSize
}

func (a *Allocator) moveBucket(c *class, s *slabPage) {
	want := bucketFor(s.useCount, s.capacity)
	if want == s.bucket {
		return
	}
	c.buckets[s.bucket].Remove(s.elem)
	s.bucket = want
	s.elem = c.buckets[want].PushBack(s)
}

// Free releases the cell at ptr. A double-free (the cell's bitmap bit was
// already set) is reported and otherwise ignored.
func (a *Allocator) Free(ptr uintptr) error {
	pageBase := ptr &^ (a.pageSize - 1)

	if err := a.mu.Acquire(lockTimeout); err != nil {
		return err
	}
	defer a.mu.Release()

	s, ok := a.byPage[pageBase]
	if !ok {
		return kerrors.WithDetail(kerrors.MEM, kerrors.ILLEGAL, "free", "pointer not in any slab")
	}
	idx := int((ptr - s.pageBase) / s.cellSize)
	if idx < 0 || idx >= s.capacity {
		return kerrors.WithDetail(kerrors.MEM, kerrors.RANGE, "free", "cell index out of range")
	}
	if !s.releaseCell(idx) {
		return kerrors.ErrDoubleFree
	}

	c := a.classes[s.class]
	a.moveBucket(c, s)

	if s.useCount == 0 {
		// Return to the buddy allocator only if another empty slab of this
		// class already exists.
		for elem := c.buckets[bucketEmpty].Front(); elem != nil; elem = elem.Next() {
			if other := elem.Value.(*slabPage); other != s {
				c.buckets[bucketEmpty].Remove(s.elem)
				delete(a.byPage, s.pageBase)
				a.pool.Free(s.pageBase)
				return nil
			}
		}
	}
	return nil
}
