package process

import (
	"testing"

	"badgeros/kernel/pagealloc"
	"badgeros/kernel/scheduler"
	"badgeros/kernel/signal"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	pool, err := pagealloc.InitPool(1<<20, 4096, pagealloc.FlagNone)
	if err != nil {
		t.Fatalf("InitPool: %v", err)
	}
	t.Cleanup(pool.Close)
	cpu := scheduler.NewCPU(0)
	return NewManager(pool, cpu)
}

func TestManager_CreateStartTransitionsToRunning(t *testing.T) {
	m := newTestManager(t)
	pid, err := m.Create(InitPID, "/sbin/init", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Start(pid, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	flags, err := m.GetFlags(pid)
	if err != nil {
		t.Fatalf("get flags: %v", err)
	}
	if flags&FlagRunning == 0 {
		t.Fatal("process should be RUNNING after start")
	}
	if flags&FlagPrestart != 0 {
		t.Fatal("PRESTART should be cleared after start")
	}
}

func TestManager_StartTwiceRejected(t *testing.T) {
	m := newTestManager(t)
	pid, _ := m.Create(InitPID, "/sbin/init", nil)
	if err := m.Start(pid, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Start(pid, 0); err == nil {
		t.Fatal("second start should be rejected")
	}
}

func TestManager_ExitSelfThenDeleteReparentsChildren(t *testing.T) {
	m := newTestManager(t)
	initPID, _ := m.Create(0, "/sbin/init", nil)
	if initPID != InitPID {
		t.Fatalf("first created pid = %d, want %d", initPID, InitPID)
	}
	m.Start(initPID, 0)

	parentPID, _ := m.Create(initPID, "/sbin/parent", nil)
	m.Start(parentPID, 0)
	childPID, _ := m.Create(parentPID, "/sbin/child", nil)
	m.Start(childPID, 0)

	if err := m.ExitSelf(parentPID, 0); err != nil {
		t.Fatalf("exit self: %v", err)
	}
	// Simulate scheduler having stopped all of parent's threads.
	parent, _ := m.Lookup(parentPID)
	for _, th := range parent.Threads() {
		th.ClearFlag(scheduler.FlagRunning)
	}

	if err := m.Delete(parentPID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !m.IsParent(initPID, childPID) {
		t.Fatal("child should be re-parented to init after parent deletion")
	}
}

func TestManager_DeleteBeforeExitingIsRejected(t *testing.T) {
	m := newTestManager(t)
	pid, _ := m.Create(InitPID, "/sbin/a", nil)
	m.Start(pid, 0)
	if err := m.Delete(pid); err == nil {
		t.Fatal("delete on a non-exiting process should be rejected")
	}
}

func TestManager_MapUnmapRoundTrip(t *testing.T) {
	m := newTestManager(t)
	pid, _ := m.Create(InitPID, "/sbin/a", nil)
	m.Start(pid, 0)

	base, err := m.Map(pid, 4096, true, false)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	bits, err := m.MapContains(pid, base, 4096)
	if err != nil {
		t.Fatalf("map_contains: %v", err)
	}
	if bits == 0 {
		t.Fatal("map_contains should report found+readable for a mapped region")
	}
	if err := m.Unmap(pid, base); err != nil {
		t.Fatalf("unmap: %v", err)
	}
	bits, _ = m.MapContains(pid, base, 4096)
	if bits != 0 {
		t.Fatal("map_contains after unmap should report nothing")
	}
}

func TestManager_RaiseSignalSetsSigPendAndQueues(t *testing.T) {
	m := newTestManager(t)
	pid, _ := m.Create(InitPID, "/sbin/a", nil)
	m.Start(pid, 0)

	if err := m.RaiseSignal(pid, signal.SIGUSR1); err != nil {
		t.Fatalf("raise signal: %v", err)
	}
	p, _ := m.Lookup(pid)
	if !p.HasFlag(FlagSigPend) {
		t.Fatal("SIGPEND should be set after raising a signal")
	}
	if p.Signals.Pending() != 1 {
		t.Fatalf("pending count = %d, want 1", p.Signals.Pending())
	}
}

func TestManager_CopyToAndFromUserRespectsPermissions(t *testing.T) {
	m := newTestManager(t)
	pid, _ := m.Create(InitPID, "/sbin/a", nil)
	m.Start(pid, 0)

	base, err := m.Map(pid, 4096, true, false)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	payload := []byte("hello kernel")
	if !m.CopyToUser(pid, base, payload) {
		t.Fatal("copy to a writable mapped region should succeed")
	}
	out := make([]byte, len(payload))
	if !m.CopyFromUser(pid, out, base) {
		t.Fatal("copy from a readable mapped region should succeed")
	}
	if string(out) != string(payload) {
		t.Fatalf("round-tripped bytes = %q, want %q", out, payload)
	}

	if m.CopyFromUser(pid, out, base+1<<20) {
		t.Fatal("copy from an unmapped address should fail")
	}
}

func TestManager_IsParentFalseForUnrelatedPIDs(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Create(0, "/sbin/init", nil); err != nil {
		t.Fatalf("create init: %v", err)
	}
	a, _ := m.Create(InitPID, "/sbin/a", nil)
	b, _ := m.Create(InitPID, "/sbin/b", nil)
	if m.IsParent(a, b) {
		t.Fatal("unrelated processes should not report IsParent")
	}
}
