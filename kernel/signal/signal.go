// Package signal implements the POSIX-like signal delivery model from
// spec §4.7: a per-process handler table, a pending FIFO, and the
// dispatcher that turns a pending signal into a kill, a no-op, or a jump
// into user-mode handler code.
package signal

import (
	"container/list"
	"sync"

	"badgeros/kernel/isr"
	"badgeros/kernel/kerrors"
)

// Number is a POSIX-style signal number, 1 (SIGHUP) through 31 (SIGSYS).
type Number int

// Standard signal numbers, following the POSIX assignment named in §6.
const (
	SIGHUP  Number = 1
	SIGINT  Number = 2
	SIGQUIT Number = 3
	SIGILL  Number = 4
	SIGTRAP Number = 5
	SIGABRT Number = 6
	SIGBUS  Number = 7
	SIGFPE  Number = 8
	SIGKILL Number = 9
	SIGUSR1 Number = 10
	SIGSEGV Number = 11
	SIGUSR2 Number = 12
	SIGPIPE Number = 13
	SIGALRM Number = 14
	SIGTERM Number = 15
	SIGCHLD Number = 17
	SIGCONT Number = 18
	SIGSTOP Number = 19
	SIGTSTP Number = 20
	SIGSYS  Number = 31
)

// defaultKill is the set of signals whose SIG_DFL disposition terminates
// the process (as opposed to being silently discarded).
var defaultKill = map[Number]bool{
	SIGHUP: true, SIGINT: true, SIGQUIT: true, SIGILL: true, SIGTRAP: true,
	SIGABRT: true, SIGBUS: true, SIGFPE: true, SIGKILL: true, SIGUSR1: true,
	SIGSEGV: true, SIGUSR2: true, SIGPIPE: true, SIGALRM: true, SIGTERM: true,
	SIGSYS: true,
}

// DefaultKills reports whether signum's SIG_DFL disposition terminates
// the process.
func DefaultKills(signum Number) bool { return defaultKill[signum] }

// Disposition is a process's configured response to a signal number: the
// two sentinels SIG_DFL/SIG_IGN, or a user-mode handler function.
type Disposition struct {
	Kind    DispositionKind
	Handler func(signum Number)
}

type DispositionKind int

const (
	Default DispositionKind = iota
	Ignore
	Handler
)

// waitStatus helpers (spec §6): W_EXITED/W_SIGNALLED pack an exit
// code/signal number into the wait-status word; WIFEXITED and friends
// unpack it.
func WExited(code int) int       { return (code & 0xff) << 8 }
func WSignalled(sig Number) int  { return int(sig) | 0x40 }
func WIfExited(status int) bool  { return status&0xff == 0 }
func WIfSignaled(status int) bool { return status&0x40 != 0 }
func WExitStatus(status int) int { return (status >> 8) & 0xff }
func WTermSig(status int) int    { return WExitStatus(status) }

// FromFault maps a hardware fault kind to the synchronous signal it
// raises (spec §4.7).
func FromFault(f isr.FaultKind) Number {
	switch f {
	case isr.FaultLoadAccess, isr.FaultStoreAccess, isr.FaultInstructionAccess:
		return SIGSEGV
	case isr.FaultIllegalInstruction:
		return SIGILL
	case isr.FaultMisaligned:
		return SIGBUS
	default:
		return SIGSEGV
	}
}

// ProcessRef is the subset of process.Process the dispatcher needs, kept
// as an interface to avoid an import cycle with kernel/process.
type ProcessRef interface {
	// ExitSelf terminates the process with the given wait-status word.
	ExitSelf(status int)
	// LogFault records a diagnostic for a default-kill signal
	// termination (spec §4.7: "log a diagnostic").
	LogFault(signum Number)
}

// ThreadRef is the subset of scheduler.Thread the dispatcher needs: just
// enough to detect/set the "currently inside a handler" state for the
// nested-signal rule.
type ThreadRef interface {
	InSignalHandler() bool
	SetInSignalHandler(bool)
}

// Table is one process's signal state: the handler table and pending
// FIFO from spec §3/§4.7.
type Table struct {
	mu       sync.Mutex
	handlers [32]Disposition
	pending  *list.List
}

// NewTable creates a signal table with every disposition defaulted to
// SIG_DFL and an empty pending queue.
func NewTable() *Table {
	return &Table{pending: list.New()}
}

// SetDisposition configures how signum is handled.
func (t *Table) SetDisposition(signum Number, d Disposition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[signum] = d
}

// Disposition returns signum's configured disposition.
func (t *Table) Disposition(signum Number) Disposition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handlers[signum]
}

// Raise appends signum to the pending FIFO. A SIG_IGN disposition still
// enqueues the node per spec (the no-op is only observable via
// auto-reaping, e.g. SIGCHLD); Dispatch is what actually discards it.
func (t *Table) Raise(signum Number) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending.PushBack(signum)
}

// Pending reports how many signals are queued.
func (t *Table) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending.Len()
}

func (t *Table) pop() (Number, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	elem := t.pending.Front()
	if elem == nil {
		return 0, false
	}
	t.pending.Remove(elem)
	return elem.Value.(Number), true
}

// Dispatch pops one pending signal (if any) and applies its disposition
// against proc/th, per spec §4.7's three-way rule. Nested-signal
// detection: if th is already inside a handler, the process is
// terminated with the new signal number instead of recursing.
func Dispatch(t *Table, proc ProcessRef, th ThreadRef) error {
	signum, ok := t.pop()
	if !ok {
		return nil
	}

	if th.InSignalHandler() {
		proc.LogFault(signum)
		proc.ExitSelf(WSignalled(signum))
		return nil
	}

	d := t.Disposition(signum)
	switch d.Kind {
	case Ignore:
		return nil
	case Default:
		if DefaultKills(signum) {
			proc.LogFault(signum)
			proc.ExitSelf(WSignalled(signum))
		}
		return nil
	case Handler:
		if d.Handler == nil {
			return kerrors.WithDetail(kerrors.PROCESS, kerrors.STATE, "dispatch", "handler disposition with nil function")
		}
		th.SetInSignalHandler(true)
		d.Handler(signum)
		th.SetInSignalHandler(false)
		return nil
	default:
		return kerrors.WithDetail(kerrors.PROCESS, kerrors.PARAM, "dispatch", "unknown disposition kind")
	}
}
