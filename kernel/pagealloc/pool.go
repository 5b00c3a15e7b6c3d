// Package pagealloc implements the buddy physical page allocator described
// in spec §4.2: one or more pools, each a contiguous arena split into
// power-of-two blocks with per-block type tags, allocated and coalesced by
// order.
//
// On Linux, a pool's backing arena is a real anonymous mmap region
// (golang.org/x/sys/unix), so that the "contiguous region" language of the
// boot contract (spec §6, step c) corresponds to an actual host memory
// region rather than a Go slice pretending to be one; other platforms fall
// back to a plain byte slice.
package pagealloc

import (
	"unsafe"

	"badgeros/kernel/atomics"
	"badgeros/kernel/kerrors"
)

// Tag classifies a physical page block at allocation time.
type Tag int

const (
	// TagKernel marks a block used directly by kernel data structures.
	TagKernel Tag = iota
	// TagUser marks a block backing a process's memory map; such blocks are
	// returned zero-filled.
	TagUser
	// TagSlab marks a block subdivided by kernel/slaballoc.
	TagSlab
)

// PoolFlags configures a pool at registration time.
type PoolFlags int

const (
	// FlagNone requests no special behavior.
	FlagNone PoolFlags = 0
	// FlagZeroOnFree zero-fills every block as it's freed back to the pool,
	// in addition to the tag-driven zero-on-alloc-for-user-pages rule.
	FlagZeroOnFree PoolFlags = 1 << iota
)

// AllocFlags modifies a single allocation request.
type AllocFlags int

const (
	// AllocDefault requests the pool's normal allocation behavior.
	AllocDefault AllocFlags = 0
)

type blockMeta struct {
	order     uint8
	tag       Tag
	allocated bool
}

// Pool is one contiguous physical memory region managed by the buddy
// allocator, independent of every other pool (spec §5: "allocations from
// distinct pools are independent").
type Pool struct {
	arena    []byte
	pageSize uintptr
	numPages uintptr
	maxOrder uint8
	free     [][]uintptr // free[order] is a stack of page indices
	meta     []blockMeta
	mu       *atomics.Mutex
	flags    PoolFlags
	unmap    func()
}

// InitPool registers a pool covering [0, size) at pageSize granularity.
// size is rounded down to a whole number of pages.
func InitPool(size, pageSize uintptr, flags PoolFlags) (*Pool, error) {
	if pageSize == 0 || size < pageSize {
		return nil, kerrors.WithDetail(kerrors.MEM, kerrors.PARAM, "init_pool", "size smaller than one page")
	}
	numPages := size / pageSize
	arena, unmap, err := newArena(numPages * pageSize)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.MEM, kerrors.NOMEM, "init_pool")
	}

	maxOrder := uint8(0)
	for (uintptr(1) << (maxOrder + 1)) <= numPages {
		maxOrder++
	}

	p := &Pool{
		arena:    arena,
		pageSize: pageSize,
		numPages: numPages,
		maxOrder: maxOrder,
		free:     make([][]uintptr, maxOrder+1),
		meta:     make([]blockMeta, numPages),
		mu:       atomics.NewMutex(false),
		flags:    flags,
		unmap:    unmap,
	}

	// Split the whole arena into the largest blocks that fit and free them,
	// the way a freshly-registered pool starts out fully available.
	var index uintptr
	for index < numPages {
		order := maxOrder
		for order > 0 && (uintptr(1)<<order) > numPages-index {
			order--
		}
		p.meta[index] = blockMeta{order: order, tag: TagKernel, allocated: false}
		p.free[order] = append(p.free[order], index)
		index += uintptr(1) << order
	}

	return p, nil
}

// Close releases the pool's backing arena.
func (p *Pool) Close() {
	if p.unmap != nil {
		p.unmap()
	}
}

// PageSize returns the pool's allocation granularity.
func (p *Pool) PageSize() uintptr { return p.pageSize }

// Capacity returns the total number of bytes the pool manages.
func (p *Pool) Capacity() uintptr { return p.numPages * p.pageSize }

// orderFor returns the smallest order whose block size is >= size.
func (p *Pool) orderFor(size uintptr) uint8 {
	order := uint8(0)
	for (uintptr(1)<<order)*p.pageSize < size {
		order++
	}
	return order
}

func (p *Pool) ptrFor(index uintptr) uintptr {
	return uintptr(unsafe.Pointer(&p.arena[index*p.pageSize]))
}

func (p *Pool) indexFor(ptr uintptr) (uintptr, bool) {
	base := uintptr(unsafe.Pointer(&p.arena[0]))
	if ptr < base {
		return 0, false
	}
	off := ptr - base
	if off%p.pageSize != 0 {
		return 0, false
	}
	index := off / p.pageSize
	if index >= p.numPages {
		return 0, false
	}
	return index, true
}

// Alloc allocates the smallest power-of-two block that fits byteSize, tagged
// tag. Returns 0 on failure (analogous to a null pointer).
func (p *Pool) Alloc(byteSize uintptr, tag Tag, _ AllocFlags) uintptr {
	if byteSize == 0 {
		return 0
	}
	order := p.orderFor(byteSize)
	if order > p.maxOrder {
		return 0
	}

	if err := p.mu.Acquire(lockTimeout); err != nil {
		return 0
	}
	defer p.mu.Release()

	index, ok := p.takeBlock(order)
	if !ok {
		return 0
	}
	p.meta[index] = blockMeta{order: order, tag: tag, allocated: true}

	ptr := p.ptrFor(index)
	if tag == TagUser {
		start := index * p.pageSize
		clear(p.arena[start : start+(uintptr(1)<<order)*p.pageSize])
	}
	return ptr
}

// takeBlock pops a free block of exactly order, splitting a larger block if
// necessary. Caller must hold p.mu.
func (p *Pool) takeBlock(order uint8) (uintptr, bool) {
	src := order
	for src <= p.maxOrder && len(p.free[src]) == 0 {
		src++
	}
	if src > p.maxOrder {
		return 0, false
	}

	n := len(p.free[src])
	index := p.free[src][n-1]
	p.free[src] = p.free[src][:n-1]

	// Split down to the requested order, pushing each buddy half onto its
	// own free list.
	for src > order {
		src--
		buddy := index + (uintptr(1) << src)
		p.meta[buddy] = blockMeta{order: src, tag: TagKernel, allocated: false}
		p.free[src] = append(p.free[src], buddy)
	}
	return index, true
}

// Free releases a previously allocated block back to the pool.
func (p *Pool) Free(ptr uintptr) {
	index, ok := p.indexFor(ptr)
	if !ok {
		return
	}

	if err := p.mu.Acquire(lockTimeout); err != nil {
		return
	}
	defer p.mu.Release()

	meta := p.meta[index]
	if !meta.allocated {
		return
	}
	if p.flags&FlagZeroOnFree != 0 {
		start := index * p.pageSize
		clear(p.arena[start : start+(uintptr(1)<<meta.order)*p.pageSize])
	}
	p.releaseBlock(index, meta.order)
}

// releaseBlock marks a block free and coalesces with its buddy while
// possible. Caller must hold p.mu.
func (p *Pool) releaseBlock(index uintptr, order uint8) {
	for order < p.maxOrder {
		buddy := index ^ (uintptr(1) << order)
		if buddy >= p.numPages {
			break
		}
		bm := p.meta[buddy]
		if bm.allocated || bm.order != order {
			break
		}
		// Remove buddy from its free list.
		list := p.free[order]
		found := -1
		for i, v := range list {
			if v == buddy {
				found = i
				break
			}
		}
		if found < 0 {
			break
		}
		p.free[order] = append(list[:found], list[found+1:]...)
		if buddy < index {
			index = buddy
		}
		order++
	}
	p.meta[index] = blockMeta{order: order, tag: TagKernel, allocated: false}
	p.free[order] = append(p.free[order], index)
}

// Size returns the usable byte size of the block backing ptr.
func (p *Pool) Size(ptr uintptr) uintptr {
	index, ok := p.indexFor(ptr)
	if !ok {
		return 0
	}
	return (uintptr(1) << p.meta[index].order) * p.pageSize
}

// GetType returns the tag of the block backing ptr.
func (p *Pool) GetType(ptr uintptr) Tag {
	index, ok := p.indexFor(ptr)
	if !ok {
		return TagKernel
	}
	return p.meta[index].tag
}

// Reallocate resizes a block in place when possible, or allocates a new
// block and copies the contents. Not valid for TagSlab blocks: a slab cell
// is a subdivision of a page with no independent size to grow or shrink,
// so reallocating one returns kerrors.ErrNotBuddyBlock and leaves the
// block untouched. Returns 0 with a nil error on allocation failure,
// leaving the original block untouched.
func (p *Pool) Reallocate(ptr uintptr, newSize uintptr) (uintptr, error) {
	index, ok := p.indexFor(ptr)
	if !ok {
		return 0, nil
	}
	meta := p.meta[index]
	if !meta.allocated {
		return 0, nil
	}
	if meta.tag == TagSlab {
		return 0, kerrors.ErrNotBuddyBlock
	}
	newOrder := p.orderFor(newSize)
	if newOrder == meta.order {
		return ptr, nil
	}

	newPtr := p.Alloc(newSize, meta.tag, AllocDefault)
	if newPtr == 0 {
		return 0, nil
	}
	oldSize := (uintptr(1) << meta.order) * p.pageSize
	copySize := oldSize
	if newSize < copySize {
		copySize = newSize
	}
	oldIndex, _ := p.indexFor(ptr)
	newIndex, _ := p.indexFor(newPtr)
	copy(p.arena[newIndex*p.pageSize:newIndex*p.pageSize+copySize], p.arena[oldIndex*p.pageSize:oldIndex*p.pageSize+copySize])
	p.Free(ptr)
	return newPtr, nil
}

// LargestFreeBlock returns the size in bytes of the largest contiguous free
// block currently available, used by the fill/drain testable property in
// spec §8.
func (p *Pool) LargestFreeBlock() uintptr {
	if err := p.mu.Acquire(lockTimeout); err != nil {
		return 0
	}
	defer p.mu.Release()
	for order := int(p.maxOrder); order >= 0; order-- {
		if len(p.free[order]) > 0 {
			return (uintptr(1) << uint(order)) * p.pageSize
		}
	}
	return 0
}

// FreePages returns the total number of free pages across all orders.
func (p *Pool) FreePages() uintptr {
	if err := p.mu.Acquire(lockTimeout); err != nil {
		return 0
	}
	defer p.mu.Release()
	var total uintptr
	for order, list := range p.free {
		total += uintptr(len(list)) * (uintptr(1) << uint(order))
	}
	return total
}

// Bytes exposes the pool's backing arena for callers (e.g. the
// process.Manager CopyToUser/CopyFromUser helpers) that need to read/write raw bytes at a pool-allocated address.
func (p *Pool) Bytes(ptr uintptr, size uintptr) []byte {
	index, ok := p.indexFor(ptr)
	if !ok {
		return nil
	}
	start := index * p.pageSize
	if start+size > uintptr(len(p.arena)) {
		return nil
	}
	return p.arena[start : start+size]
}
