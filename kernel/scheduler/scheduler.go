// Package scheduler implements the preemptive, per-CPU thread scheduler
// from spec §4.5: strict round-robin within a CPU with priority-scaled
// quanta, thread handoff between CPUs, and a housekeeping thread that
// reaps exited threads.
package scheduler

import (
	"container/list"
	"sync"
	"time"

	"badgeros/kernel/isr"
	"badgeros/kernel/kerrors"
)

// Flag is the thread state bitset from spec §3.
type Flag uint32

const (
	FlagRunning Flag = 1 << iota
	FlagExiting
	FlagDetached
	FlagKernel
	FlagPrivileged
	FlagSigHandler
	FlagStartNow
	FlagSuspending
	FlagExited
)

// Quota constants: a thread of priority p receives MinQuota +
// p*QuotaIncrement.
const (
	MinQuota       = 2 * time.Millisecond
	QuotaIncrement = 500 * time.Microsecond
)

// QuotaFor returns the time slice a thread of the given priority
// receives.
func QuotaFor(priority int) time.Duration {
	if priority < 0 {
		priority = 0
	}
	return MinQuota + time.Duration(priority)*QuotaIncrement
}

// ProcessRef is the subset of process.Process the scheduler needs,
// injected as an interface to avoid an import cycle (process imports
// scheduler to enqueue threads, not the other way around).
type ProcessRef interface {
	// Exiting reports whether the owning process has entered its
	// termination sequence.
	Exiting() bool
}

// Thread is one schedulable unit of execution (spec §3's Thread,
// generalized to a goroutine-free, poll-driven model: the scheduler only
// tracks which thread the CPU should next install, not the thread's own
// execution, since there is no real register file to swap here).
type Thread struct {
	ID       uint64
	Priority int
	Process  ProcessRef
	Name     string
	ExitCode int

	mu        sync.Mutex
	flags     Flag
	elem      *list.Element
	lastFault isr.FaultKind
}

// NewThread creates a thread owned by proc with the given priority.
func NewThread(id uint64, proc ProcessRef, priority int) *Thread {
	return &Thread{ID: id, Process: proc, Priority: priority}
}

func (t *Thread) SetFlag(f Flag) {
	t.mu.Lock()
	t.flags |= f
	t.mu.Unlock()
}

func (t *Thread) ClearFlag(f Flag) {
	t.mu.Lock()
	t.flags &^= f
	t.mu.Unlock()
}

func (t *Thread) HasFlag(f Flag) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flags&f != 0
}

func (t *Thread) Flags() Flag {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flags
}

// Quota is this thread's time slice, derived from its priority.
func (t *Thread) Quota() time.Duration { return QuotaFor(t.Priority) }

// cpuState is the per-CPU run/exit flag word from spec §4.5.
type cpuState uint32

const (
	cpuRunning cpuState = 1 << iota
	cpuExiting
)

// CPU is one per-CPU scheduler instance: a runqueue, an incoming list
// guarded by its own mutex, and an idle thread.
type CPU struct {
	ID int

	mu       sync.Mutex
	runqueue *list.List
	state    cpuState
	current  *Thread
	load     int

	incomingMu sync.Mutex
	incoming   []*Thread

	Idle *Thread
}

// NewCPU creates a per-CPU scheduler in the RUNNING state with an empty
// runqueue and its own idle thread.
func NewCPU(id int) *CPU {
	idle := NewThread(0, nil, 0)
	idle.Name = "idle"
	idle.SetFlag(FlagKernel)
	return &CPU{
		ID:       id,
		runqueue: list.New(),
		state:    cpuRunning,
		Idle:     idle,
	}
}

// Enqueue adds th directly to this CPU's runqueue tail, for initial
// placement (e.g. a freshly created process's main thread).
func (c *CPU) Enqueue(th *Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()
	th.SetFlag(FlagRunning)
	th.elem = c.runqueue.PushBack(th)
}

// Current returns the thread this CPU most recently installed, or nil
// before the first Switch.
func (c *CPU) Current() *Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Load is this CPU's runqueue length, a crude load estimate.
func (c *CPU) Load() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runqueue.Len()
}

// SetExiting marks this CPU for shutdown: the next Switch call empties
// its runqueue and returns nil instead of picking a thread. The queued
// threads are not handed off to any other CPU.
func (c *CPU) SetExiting() {
	c.mu.Lock()
	c.state |= cpuExiting
	c.mu.Unlock()
}

func (c *CPU) running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state&cpuRunning != 0
}

// Handoff moves th onto target's incoming list. Refused (returns false)
// unless target is RUNNING, unless force is set.
func Handoff(target *CPU, th *Thread, force bool) bool {
	if !force && !target.running() {
		return false
	}
	target.incomingMu.Lock()
	target.incoming = append(target.incoming, th)
	target.incomingMu.Unlock()
	return true
}

// Switch implements spec §4.5's four-step switch algorithm and returns
// the thread this CPU should now run (c.Idle if nothing is runnable).
// It takes the CPU's own mutex; callers need not hold any other guard.
func (c *CPU) Switch() *Thread {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Step 1: if exiting, power down. The runqueue is discarded without
	// handing its threads to any other CPU, and their RUNNING flags are
	// left as they were.
	if c.state&cpuExiting != 0 {
		c.runqueue.Init()
		c.current = nil
		return nil
	}

	// Step 2.
	c.drainIncoming()

	// Step 3.
	for {
		elem := c.runqueue.Front()
		if elem == nil {
			break
		}
		c.runqueue.Remove(elem)
		th := elem.Value.(*Thread)
		th.elem = nil

		if th.Process != nil && th.Process.Exiting() && !th.HasFlag(FlagKernel) {
			th.ClearFlag(FlagRunning)
			continue
		}
		if th.HasFlag(FlagExiting) {
			th.ClearFlag(FlagRunning)
			th.SetFlag(FlagExited)
			continue
		}
		if th.HasFlag(FlagSuspending) && !th.HasFlag(FlagPrivileged) {
			th.ClearFlag(FlagRunning)
			th.ClearFlag(FlagSuspending)
			continue
		}

		th.elem = c.runqueue.PushBack(th)
		c.current = th
		return th
	}

	// Step 4.
	c.current = c.Idle
	return c.Idle
}

// drainIncoming empties c's incoming list onto the runqueue: STARTNOW
// threads go to the head, everything else to the tail, per spec §4.5
// step 2. Called with c.mu already held.
func (c *CPU) drainIncoming() {
	c.incomingMu.Lock()
	pending := c.incoming
	c.incoming = nil
	c.incomingMu.Unlock()

	for _, th := range pending {
		if th.HasFlag(FlagStartNow) {
			th.elem = c.runqueue.PushFront(th)
		} else {
			th.elem = c.runqueue.PushBack(th)
		}
	}
}

// ErrNoSuchThread reports a thread lookup failure by ID, for callers
// that track threads by ID rather than by pointer.
var ErrNoSuchThread = kerrors.ErrThreadNotFound
