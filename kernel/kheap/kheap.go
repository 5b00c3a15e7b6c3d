// Package kheap is the generic kernel heap API from spec §4.2/§4.3: a single
// Alloc/Free surface that routes requests of 256 bytes or less to
// kernel/slaballoc and everything else straight to kernel/pagealloc, and
// whose Free inspects the backing page's tag to route slab-tagged pointers
// back to the slab allocator transparently (spec §4.2, "tag invariants").
package kheap

import (
	"badgeros/kernel/pagealloc"
	"badgeros/kernel/slaballoc"
)

// slabCeiling is the largest request size the slab allocator serves;
// anything bigger goes straight to the buddy allocator (spec §4.3).
const slabCeiling = 256

// Heap combines one pagealloc.Pool with its slaballoc.Allocator.
type Heap struct {
	pool *pagealloc.Pool
	slab *slaballoc.Allocator
}

// New builds a Heap over pool, creating its slab allocator.
func New(pool *pagealloc.Pool) *Heap {
	return &Heap{pool: pool, slab: slaballoc.NewAllocator(pool)}
}

// Alloc allocates size bytes tagged tag. Requests of slabCeiling bytes or
// less with tag == pagealloc.TagKernel are served by the slab allocator;
// everything else goes directly to the buddy allocator.
func (h *Heap) Alloc(size uintptr, tag pagealloc.Tag, flags pagealloc.AllocFlags) uintptr {
	if size <= slabCeiling && tag == pagealloc.TagKernel {
		if ptr := h.slab.Alloc(size); ptr != 0 {
			return ptr
		}
		return 0
	}
	return h.pool.Alloc(size, tag, flags)
}

// Size returns the usable size of the buddy block backing ptr. It does not
// apply to slab cells, which are sized by their size class rather than the
// backing page; callers that allocated through the slab path track their
// own size class instead of calling Size.
func (h *Heap) Size(ptr uintptr) uintptr {
	return h.pool.Size(ptr)
}

// GetType returns the tag of the page backing ptr.
func (h *Heap) GetType(ptr uintptr) pagealloc.Tag {
	pageBase := ptr &^ (h.pool.PageSize() - 1)
	return h.pool.GetType(pageBase)
}

// Reallocate resizes a buddy-tagged block. It is not valid for slab cells
// and returns kerrors.ErrNotBuddyBlock if ptr is one.
func (h *Heap) Reallocate(ptr uintptr, newSize uintptr) (uintptr, error) {
	return h.pool.Reallocate(ptr, newSize)
}

// Free releases ptr, inspecting the backing page's tag to route slab
// pointers to the slab allocator and everything else to the buddy
// allocator directly.
func (h *Heap) Free(ptr uintptr) error {
	pageBase := ptr &^ (h.pool.PageSize() - 1)
	if h.pool.GetType(pageBase) == pagealloc.TagSlab {
		return h.slab.Free(ptr)
	}
	h.pool.Free(ptr)
	return nil
}

// Pool returns the underlying buddy pool, for components (e.g.
// kernel/memprotect) that need to allocate user-tagged pages directly.
func (h *Heap) Pool() *pagealloc.Pool { return h.pool }
