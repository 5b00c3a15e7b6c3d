// Package process implements the process manager from spec §4.6: a
// monotonically-PID-keyed process table, two-phase termination, region
// bookkeeping delegated to kernel/memprotect and kernel/kheap, and the
// re-parenting-to-PID-1 rule.
//
// Modeled on the teacher's container.Container lifecycle
// (New/Load/Create/Start/Wait/Delete/Signal/SignalAll/State),
// generalized from "one OCI container keyed by string ID" to "one
// process keyed by monotonically increasing PID in a sorted table".
package process

import (
	"sort"
	"sync"
	"sync/atomic"

	"badgeros/kernel/kerrors"
	"badgeros/kernel/kheap"
	"badgeros/kernel/klog"
	"badgeros/kernel/memprotect"
	"badgeros/kernel/pagealloc"
	"badgeros/kernel/scheduler"
	"badgeros/kernel/signal"
)

// PID is a process identifier. InitPID is the reserved PID of the init
// process; surviving children are re-parented to it on parent death.
type PID uint64

const InitPID PID = 1

// Flags is the atomic process state bitset from spec §3.
type Flags uint32

const (
	FlagPrestart Flags = 1 << iota
	FlagRunning
	FlagExiting
	FlagExited
	FlagSigPend
	FlagStateChg
)

// Process is one process record: threads sharing an address space,
// described by spec §3/§4.6.
type Process struct {
	PID      PID
	Parent   PID
	Binary   string
	Argv     []string
	ExitCode int

	mu       sync.Mutex
	flags    atomic.Uint32
	children []PID
	threads  []*scheduler.Thread

	Memory *memprotect.FlatContext
	Signals *signal.Table

	heap *kheap.Heap
}

func newProcess(pid, parent PID, binary string, argv []string, heap *kheap.Heap) *Process {
	p := &Process{
		PID:     pid,
		Parent:  parent,
		Binary:  binary,
		Argv:    argv,
		Memory:  memprotect.NewFlatContext(),
		Signals: signal.NewTable(),
		heap:    heap,
	}
	p.flags.Store(uint32(FlagPrestart))
	return p
}

// Flag helpers satisfy scheduler.ProcessRef / signal.ProcessRef.

func (p *Process) setFlag(f Flags) {
	for {
		old := p.flags.Load()
		if p.flags.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

func (p *Process) clearFlag(f Flags) {
	for {
		old := p.flags.Load()
		if p.flags.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}

func (p *Process) HasFlag(f Flags) bool { return Flags(p.flags.Load())&f != 0 }

// GetFlags returns the full flag word (spec §4.6's get_flags).
func (p *Process) GetFlags() Flags { return Flags(p.flags.Load()) }

// Exiting implements scheduler.ProcessRef.
func (p *Process) Exiting() bool { return p.HasFlag(FlagExiting) }

// ExitSelf implements signal.ProcessRef: phase 1 of termination, sets
// PROC_EXITING and records the exit code. Callable from any thread.
func (p *Process) ExitSelf(status int) {
	p.mu.Lock()
	if p.HasFlag(FlagExiting) {
		p.mu.Unlock()
		return
	}
	p.ExitCode = status
	p.mu.Unlock()
	p.setFlag(FlagExiting)

	if p.PID == InitPID {
		klog.Error("process: PID 1 exited before shutdown")
	}
}

// LogFault implements signal.ProcessRef.
func (p *Process) LogFault(signum signal.Number) {
	klog.Warn("process: fault delivered signal", "pid", p.PID, "signal", signum)
}

// addThread registers th as belonging to p.
func (p *Process) addThread(th *scheduler.Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.threads = append(p.threads, th)
}

// Threads returns a snapshot of this process's thread list.
func (p *Process) Threads() []*scheduler.Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*scheduler.Thread, len(p.threads))
	copy(out, p.threads)
	return out
}

func (p *Process) allThreadsStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, th := range p.threads {
		if th.HasFlag(scheduler.FlagRunning) {
			return false
		}
	}
	return true
}

// Manager is the global process table: a sorted-by-PID slice under one
// shared mutex, matching spec §4.6's "global shared mutex... each
// process carries its own mutex for intra-process mutations".
type Manager struct {
	mu      sync.RWMutex
	table   []*Process
	nextPID atomic.Uint64

	pool *pagealloc.Pool
	heap *kheap.Heap
	cpu  *scheduler.CPU
}

// NewManager creates an empty process table drawing physical pages from
// pool and scheduling initial threads onto cpu.
func NewManager(pool *pagealloc.Pool, cpu *scheduler.CPU) *Manager {
	m := &Manager{pool: pool, heap: kheap.New(pool), cpu: cpu}
	m.nextPID.Store(uint64(InitPID) - 1)
	return m
}

func (m *Manager) find(pid PID) (*Process, int) {
	idx := sort.Search(len(m.table), func(i int) bool { return m.table[i].PID >= pid })
	if idx < len(m.table) && m.table[idx].PID == pid {
		return m.table[idx], idx
	}
	return nil, -1
}

// Lookup returns the process record for pid.
func (m *Manager) Lookup(pid PID) (*Process, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, _ := m.find(pid)
	if p == nil {
		return nil, kerrors.ErrProcessNotFound
	}
	return p, nil
}

// Create allocates a new PID in PRESTART state, spec §4.6's create().
func (m *Manager) Create(parent PID, binary string, argv []string) (PID, error) {
	pid := PID(m.nextPID.Add(1))
	p := newProcess(pid, parent, binary, argv, m.heap)

	m.mu.Lock()
	idx := sort.Search(len(m.table), func(i int) bool { return m.table[i].PID >= pid })
	m.table = append(m.table, nil)
	copy(m.table[idx+1:], m.table[idx:])
	m.table[idx] = p
	if parentProc, _ := m.find(parent); parentProc != nil {
		parentProc.mu.Lock()
		parentProc.children = append(parentProc.children, pid)
		parentProc.mu.Unlock()
	}
	m.mu.Unlock()

	return pid, nil
}

// Start transitions pid from PRESTART to RUNNING and creates its main
// thread (spec §4.6's start(); ELF loading is out of scope here, so the
// "load an executable" step is a caller-supplied priority only).
func (m *Manager) Start(pid PID, priority int) error {
	p, err := m.Lookup(pid)
	if err != nil {
		return err
	}
	if !p.HasFlag(FlagPrestart) {
		return kerrors.ErrProcessNotPrestart
	}
	p.clearFlag(FlagPrestart)
	p.setFlag(FlagRunning)

	th := scheduler.NewThread(uint64(pid)<<32|1, p, priority)
	th.Name = p.Binary
	p.addThread(th)
	m.cpu.Enqueue(th)
	return nil
}

// ExitSelf terminates pid with the given exit code (phase 1 of
// termination).
func (m *Manager) ExitSelf(pid PID, code int) error {
	p, err := m.Lookup(pid)
	if err != nil {
		return err
	}
	p.ExitSelf(signal.WExited(code))
	return nil
}

// Delete runs phase 2 of termination for an already-exiting process:
// reclaims its regions, re-parents surviving children to PID 1, marks it
// EXITED, and either deletes the record immediately (parent's SIGCHLD is
// SIG_IGN) or signals the parent.
func (m *Manager) Delete(pid PID) error {
	p, err := m.Lookup(pid)
	if err != nil {
		return err
	}
	if !p.HasFlag(FlagExiting) {
		return kerrors.WithDetail(kerrors.PROCESS, kerrors.STATE, "delete", "process is not exiting")
	}
	if !p.allThreadsStopped() {
		return kerrors.WithDetail(kerrors.PROCESS, kerrors.STATE, "delete", "threads still running")
	}

	for _, r := range p.Memory.Regions() {
		m.heap.Pool().Free(r.Base)
	}

	m.reparentChildren(pid)
	p.setFlag(FlagExited)

	parent, _ := m.Lookup(p.Parent)
	if parent != nil {
		d := parent.Signals.Disposition(signal.SIGCHLD)
		if d.Kind == signal.Ignore {
			m.removeRecord(pid)
			return nil
		}
		parent.Signals.Raise(signal.SIGCHLD)
		parent.setFlag(FlagSigPend)
	}
	return nil
}

func (m *Manager) reparentChildren(pid PID) {
	p, _ := m.Lookup(pid)
	if p == nil {
		return
	}
	p.mu.Lock()
	children := p.children
	p.children = nil
	p.mu.Unlock()

	initProc, _ := m.Lookup(InitPID)
	for _, childPID := range children {
		if child, _ := m.Lookup(childPID); child != nil {
			child.mu.Lock()
			child.Parent = InitPID
			child.mu.Unlock()
			if initProc != nil {
				initProc.mu.Lock()
				initProc.children = append(initProc.children, childPID)
				initProc.mu.Unlock()
			}
		}
	}
}

func (m *Manager) removeRecord(pid PID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, idx := m.find(pid)
	if idx < 0 {
		return
	}
	m.table = append(m.table[:idx], m.table[idx+1:]...)
}

// RaiseSignal appends signum to pid's pending queue (spec §4.6's
// raise_signal).
func (m *Manager) RaiseSignal(pid PID, signum signal.Number) error {
	p, err := m.Lookup(pid)
	if err != nil {
		return err
	}
	p.Signals.Raise(signum)
	p.setFlag(FlagSigPend)
	return nil
}

// GetFlags returns pid's flag word.
func (m *Manager) GetFlags(pid PID) (Flags, error) {
	p, err := m.Lookup(pid)
	if err != nil {
		return 0, err
	}
	return p.GetFlags(), nil
}

// IsParent reports whether parent is an ancestor-by-one-hop of child
// (spec §4.6's is_parent).
func (m *Manager) IsParent(parent, child PID) bool {
	c, err := m.Lookup(child)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Parent == parent
}

// Map implements spec §4.6's map(): the buddy allocator chooses the
// physical backing, sized to at least size bytes, and the region is
// installed into pid's memory-protection context and sorted region list.
func (m *Manager) Map(pid PID, size uintptr, write, exec bool) (uintptr, error) {
	p, err := m.Lookup(pid)
	if err != nil {
		return 0, err
	}
	base := m.heap.Pool().Alloc(size, pagealloc.TagUser, pagealloc.AllocDefault)
	if base == 0 {
		return 0, kerrors.ErrOutOfMemory
	}
	region := memprotect.Region{Base: base, Size: roundUpPage(size), Write: write, Exec: exec}
	if err := p.Memory.Insert(region); err != nil {
		m.heap.Pool().Free(base)
		return 0, err
	}
	return base, nil
}

// Unmap implements spec §4.6's unmap(): the inverse of Map.
func (m *Manager) Unmap(pid PID, base uintptr) error {
	p, err := m.Lookup(pid)
	if err != nil {
		return err
	}
	if err := p.Memory.Remove(base); err != nil {
		return err
	}
	m.heap.Pool().Free(base)
	return nil
}

// MapContains implements spec §4.6's map_contains().
func (m *Manager) MapContains(pid PID, base, size uintptr) (memprotect.AccessBits, error) {
	p, err := m.Lookup(pid)
	if err != nil {
		return 0, err
	}
	return p.Memory.Contains(base, size), nil
}

// CopyFromUser validates [src, src+len) against pid's memory map and
// copies it into dst if the range is fully mapped and readable;
// otherwise it returns false and copies nothing, matching spec §4.6's
// "on permission failure, the copy is not performed".
func (m *Manager) CopyFromUser(pid PID, dst []byte, src uintptr) bool {
	p, err := m.Lookup(pid)
	if err != nil {
		return false
	}
	bits := p.Memory.Contains(src, uintptr(len(dst)))
	if bits&memprotect.AccessFound == 0 || bits&memprotect.AccessRead == 0 {
		return false
	}
	copy(dst, m.heap.Pool().Bytes(src, uintptr(len(dst))))
	return true
}

// CopyToUser is the write counterpart of CopyFromUser.
func (m *Manager) CopyToUser(pid PID, dst uintptr, src []byte) bool {
	p, err := m.Lookup(pid)
	if err != nil {
		return false
	}
	bits := p.Memory.Contains(dst, uintptr(len(src)))
	if bits&memprotect.AccessFound == 0 || bits&memprotect.AccessWrite == 0 {
		return false
	}
	copy(m.heap.Pool().Bytes(dst, uintptr(len(src))), src)
	return true
}

func roundUpPage(size uintptr) uintptr {
	const pageSize = memprotect.PageSize
	return (size + pageSize - 1) &^ (pageSize - 1)
}
