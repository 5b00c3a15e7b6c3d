package pagealloc

import (
	"testing"

	"badgeros/kernel/kerrors"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	p, err := InitPool(1<<20, 4096, FlagNone)
	if err != nil {
		t.Fatalf("InitPool: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func TestPool_AllocSizeAtLeastRequested(t *testing.T) {
	p := newTestPool(t)
	sizes := []uintptr{1, 100, 4096, 5000, 16384}
	for _, s := range sizes {
		ptr := p.Alloc(s, TagKernel, AllocDefault)
		if ptr == 0 {
			t.Fatalf("alloc(%d) failed", s)
		}
		if got := p.Size(ptr); got < s {
			t.Fatalf("alloc(%d): Size() = %d, want >= %d", s, got, s)
		}
		p.Free(ptr)
	}
}

func TestPool_AllocFreeLeavesCapacityUnchanged(t *testing.T) {
	p := newTestPool(t)
	before := p.FreePages()
	ptr := p.Alloc(65536, TagKernel, AllocDefault)
	if ptr == 0 {
		t.Fatal("alloc failed")
	}
	p.Free(ptr)
	after := p.FreePages()
	if before != after {
		t.Fatalf("free pages changed: before=%d after=%d", before, after)
	}
}

func TestPool_DrainRestoresLargestFreeBlock(t *testing.T) {
	p := newTestPool(t)
	initial := p.LargestFreeBlock()

	var ptrs []uintptr
	for {
		ptr := p.Alloc(4096, TagKernel, AllocDefault)
		if ptr == 0 {
			break
		}
		ptrs = append(ptrs, ptr)
	}
	if len(ptrs) == 0 {
		t.Fatal("expected at least one allocation before NOMEM")
	}
	for _, ptr := range ptrs {
		p.Free(ptr)
	}
	if got := p.LargestFreeBlock(); got != initial {
		t.Fatalf("largest free block after drain = %d, want %d", got, initial)
	}
}

func TestPool_UserPagesAreZeroed(t *testing.T) {
	p := newTestPool(t)
	ptr := p.Alloc(4096, TagKernel, AllocDefault)
	if ptr == 0 {
		t.Fatal("alloc failed")
	}
	buf := p.Bytes(ptr, 4096)
	for i := range buf {
		buf[i] = 0xAA
	}
	p.Free(ptr)

	ptr2 := p.Alloc(4096, TagUser, AllocDefault)
	if ptr2 == 0 {
		t.Fatal("alloc failed")
	}
	buf2 := p.Bytes(ptr2, 4096)
	for i, b := range buf2 {
		if b != 0 {
			t.Fatalf("user page not zeroed at offset %d: %#x", i, b)
		}
	}
}

func TestPool_ReallocationAtSameAddressReportsNewTag(t *testing.T) {
	p := newTestPool(t)
	ptr := p.Alloc(4096, TagSlab, AllocDefault)
	if ptr == 0 {
		t.Fatal("alloc failed")
	}
	if got := p.GetType(ptr); got != TagSlab {
		t.Fatalf("GetType = %v, want TagSlab", got)
	}
	p.Free(ptr)

	ptr2 := p.Alloc(4096, TagKernel, AllocDefault)
	if ptr2 == 0 {
		t.Fatal("alloc failed")
	}
	if got := p.GetType(ptr2); got != TagKernel {
		t.Fatalf("GetType after realloc at same class = %v, want TagKernel", got)
	}
}

func TestPool_ReallocateGrowsKernelBlock(t *testing.T) {
	p := newTestPool(t)
	ptr := p.Alloc(4096, TagKernel, AllocDefault)
	if ptr == 0 {
		t.Fatal("alloc failed")
	}
	buf := p.Bytes(ptr, 4096)
	for i := range buf {
		buf[i] = 0xCD
	}

	newPtr, err := p.Reallocate(ptr, 16384)
	if err != nil {
		t.Fatalf("reallocate: %v", err)
	}
	if newPtr == 0 {
		t.Fatal("reallocate returned 0")
	}
	if got := p.Size(newPtr); got < 16384 {
		t.Fatalf("Size() after reallocate = %d, want >= 16384", got)
	}
	out := p.Bytes(newPtr, 4096)
	for i, b := range out {
		if b != 0xCD {
			t.Fatalf("reallocate did not preserve contents at offset %d: %#x", i, b)
		}
	}
}

func TestPool_ReallocateRefusesSlabBlock(t *testing.T) {
	p := newTestPool(t)
	ptr := p.Alloc(4096, TagSlab, AllocDefault)
	if ptr == 0 {
		t.Fatal("alloc failed")
	}

	newPtr, err := p.Reallocate(ptr, 8192)
	if !kerrors.Is(err, kerrors.ILLEGAL) {
		t.Fatalf("reallocate of a slab block should report ILLEGAL, got %v", err)
	}
	if newPtr != 0 {
		t.Fatalf("reallocate of a slab block should return 0, got %#x", newPtr)
	}
	if got := p.GetType(ptr); got != TagSlab {
		t.Fatalf("refused reallocate changed block tag: got %v, want TagSlab", got)
	}
}

func TestPool_OutOfMemoryReturnsZero(t *testing.T) {
	p := newTestPool(t)
	var ptrs []uintptr
	for {
		ptr := p.Alloc(1<<20, TagKernel, AllocDefault)
		if ptr == 0 {
			break
		}
		ptrs = append(ptrs, ptr)
	}
	for _, ptr := range ptrs {
		p.Free(ptr)
	}
}
