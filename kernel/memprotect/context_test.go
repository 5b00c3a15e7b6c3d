package memprotect

import (
	"testing"

	"badgeros/kernel/kerrors"
)

func TestFlatContext_ContainsRequiresFullCoverage(t *testing.T) {
	c := NewFlatContext()
	if err := c.Insert(Region{Base: 0x1000, Size: PageSize, Write: true}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := c.Contains(0x1000, PageSize); got&AccessFound == 0 {
		t.Fatalf("Contains = %v, want AccessFound set", got)
	}
	if got := c.Contains(0x1000, 2*PageSize); got&AccessFound != 0 {
		t.Fatalf("Contains over a gap should not report AccessFound, got %v", got)
	}
}

func TestFlatContext_ContainsIntersectsPermissions(t *testing.T) {
	c := NewFlatContext()
	if err := c.Insert(Region{Base: 0, Size: PageSize, Write: true, Exec: false}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := c.Insert(Region{Base: PageSize, Size: PageSize, Write: false, Exec: true}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got := c.Contains(0, 2*PageSize)
	if got&AccessFound == 0 {
		t.Fatal("expected AccessFound")
	}
	if got&AccessWrite != 0 {
		t.Fatalf("second region is not writable, AND should clear AccessWrite, got %v", got)
	}
	if got&AccessExec != 0 {
		t.Fatalf("first region is not executable, AND should clear AccessExec, got %v", got)
	}
	if got&AccessRead == 0 {
		t.Fatalf("both regions are readable, AccessRead should survive, got %v", got)
	}
}

func TestFlatContext_OverlappingInsertRejected(t *testing.T) {
	c := NewFlatContext()
	if err := c.Insert(Region{Base: 0, Size: PageSize}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := c.Insert(Region{Base: 0, Size: PageSize})
	if !kerrors.Is(err, kerrors.RANGE) {
		t.Fatalf("overlapping insert should report RANGE, got %v", err)
	}
}

func TestFlatContext_UnalignedInsertRejected(t *testing.T) {
	c := NewFlatContext()
	err := c.Insert(Region{Base: 100, Size: PageSize})
	if !kerrors.Is(err, kerrors.PARAM) {
		t.Fatalf("unaligned base should report PARAM, got %v", err)
	}
}

func TestFlatContext_RemoveUnmappedReportsNotFound(t *testing.T) {
	c := NewFlatContext()
	err := c.Remove(0x2000)
	if !kerrors.Is(err, kerrors.NOTFOUND) {
		t.Fatalf("remove on unmapped region should report NOTFOUND, got %v", err)
	}
}

func TestFlatContext_RemoveThenQueryFails(t *testing.T) {
	c := NewFlatContext()
	if err := c.Insert(Region{Base: 0, Size: PageSize}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := c.Remove(0); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := c.Contains(0, PageSize); got&AccessFound != 0 {
		t.Fatalf("Contains after remove should not report AccessFound, got %v", got)
	}
}

func TestFlatContext_InstallUninstallTracksActive(t *testing.T) {
	c := NewFlatContext()
	if c.Active() {
		t.Fatal("new context should not be active")
	}
	c.Install()
	if !c.Active() {
		t.Fatal("Install should mark active")
	}
	c.Uninstall()
	if c.Active() {
		t.Fatal("Uninstall should clear active")
	}
}

func TestFlatContext_RegionsSortedByBase(t *testing.T) {
	c := NewFlatContext()
	bases := []uintptr{3 * PageSize, 0, PageSize}
	for _, b := range bases {
		if err := c.Insert(Region{Base: b, Size: PageSize}); err != nil {
			t.Fatalf("insert %#x: %v", b, err)
		}
	}
	regions := c.Regions()
	for i := 1; i < len(regions); i++ {
		if regions[i].Base <= regions[i-1].Base {
			t.Fatalf("regions not sorted: %+v", regions)
		}
	}
}
