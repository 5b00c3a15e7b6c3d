// Package isr implements the trap/interrupt pipeline described in spec
// §4.4: a vectored entry point that classifies an incoming event, saves
// enough state to resume or switch contexts, and a trap-exit step that
// installs whatever the handler decided on next. A goroutine simulating
// one CPU's trap loop calls Dispatch for every event headed its way (a
// simulated external interrupt, a syscall ecall, or a fault) and TrapExit
// once the handler is done.
package isr

import (
	"sync"

	"badgeros/kernel/kerrors"
	"badgeros/kernel/klog"
	"badgeros/kernel/memprotect"
)

// EventKind classifies what triggered a call into Dispatch.
type EventKind int

const (
	External EventKind = iota
	Ecall
	Fault
)

// FaultKind further classifies a Fault event.
type FaultKind int

const (
	FaultNone FaultKind = iota
	FaultIllegalInstruction
	FaultLoadAccess
	FaultStoreAccess
	FaultInstructionAccess
	FaultMisaligned
)

// Event is one thing dispatched to a CPU's trap handler: a simulated
// hardware interrupt, a syscall, or a fault raised while running a
// thread.
type Event struct {
	Kind  EventKind
	Fault FaultKind
	// Source identifies the external interrupt line, when Kind ==
	// External.
	Source int

	// Ecall-only fields, populated by the caller when Kind == Ecall.
	// PID and Args carry the syscall's register arguments; Thread is
	// opaque here (any) rather than typed, since the concrete thread
	// type lives in kernel/scheduler, which would create an import
	// cycle (scheduler -> isr). The registered EcallHandler knows how
	// to interpret it.
	PID    uint64
	Num    uint32
	Args   [7]uint64
	Thread any
}

// ThreadRef is the subset of scheduler.Thread that isr needs, injected as
// an interface to avoid an import cycle (scheduler imports isr for
// FaultKind, not the other way around).
type ThreadRef interface {
	// Kernel reports whether the thread was running in kernel mode when
	// the event arrived.
	Kernel() bool
	// MarkFaulted records that a fault interrupted this thread, for the
	// signal-delivery path to translate into a raised signal.
	MarkFaulted(FaultKind)
}

// Context is the saved register-file snapshot plus the next-context
// pointer from spec §4.4: whatever TrapExit installs next, or nil to
// resume the interrupted thread unchanged.
type Context struct {
	Registers [32]uint64
	PC        uint64
	Next      *Context
	Thread    ThreadRef
	Kernel    bool
	Protect   memprotect.Context
}

// ActionKind tells the trap-loop goroutine what Dispatch decided.
type ActionKind int

const (
	// ActionResume means TrapExit should simply resume the interrupted
	// context.
	ActionResume ActionKind = iota
	// ActionSwitch means a new context (ctx.Next) was installed and
	// TrapExit should switch to it.
	ActionSwitch
	// ActionSignal means the event must be translated into a signal
	// raised against ctx.Thread before resuming.
	ActionSignal
	// ActionHalt means a double fault escalated past the retry budget;
	// the caller must stop the CPU.
	ActionHalt
)

// Action is Dispatch's verdict.
type Action struct {
	Kind  ActionKind
	Fault FaultKind
	// Result carries an Ecall event's syscall return value (the a0
	// register): non-negative on success, a negative errno on failure.
	// Meaningless for every other Kind.
	Result int64
}

// EcallHandler performs the actual syscall dispatch for an Ecall event.
// kernel/isr has no import path to kernel/syscallabi without a cycle
// (syscallabi -> scheduler/process -> isr), so the handler is injected
// by whatever assembles a bootable kernel (internal/testkernel,
// cmd/badgeros) instead of being called directly by this package.
type EcallHandler func(pid uint64, thread any, num uint32, args [7]uint64) (int64, error)

// HaltError is returned up through Dispatch/TrapExit when a CPU must
// stop. Library code never calls os.Exit; cmd/badgeros performs the
// actual halt in response to this error.
type HaltError struct {
	CPU    int
	Reason string
}

func (e *HaltError) Error() string {
	return "cpu " + itoa(e.CPU) + " halted: " + e.Reason
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// maxDoubleFaults is the consecutive kernel-mode fault count at which a
// CPU escalates to a halt: the third such fault halts (spec §4.4:
// "triple fault").
const maxDoubleFaults = 3

// CPULocal is the per-CPU trap state: which context is current, the
// double-fault counter, and the guard that serializes dispatch against
// trap-exit so no second event is handled mid-switch.
type CPULocal struct {
	ID      int
	mu      sync.Mutex
	Current *Context

	doubleFaultCount int
	ecall            EcallHandler
}

// NewCPULocal creates per-CPU trap state for the given CPU index.
func NewCPULocal(id int) *CPULocal {
	return &CPULocal{ID: id}
}

// SetEcallHandler registers the function Dispatch calls into for Ecall
// events. Boot assembly calls this once, after the syscall environment
// it closes over is ready; Dispatch treats an unregistered handler as a
// no-op resume, matching a CPU that hasn't finished boot yet.
func (cpu *CPULocal) SetEcallHandler(h EcallHandler) {
	cpu.mu.Lock()
	defer cpu.mu.Unlock()
	cpu.ecall = h
}

// Dispatch is the vectored entry point: it classifies ev and decides
// what the calling trap-loop goroutine should do next. It runs under
// cpu's guard so a concurrent TrapExit cannot race it, matching the
// ordering guarantee of real interrupt-disable semantics.
func (cpu *CPULocal) Dispatch(ev Event) (Action, error) {
	cpu.mu.Lock()
	defer cpu.mu.Unlock()

	switch ev.Kind {
	case External:
		return Action{Kind: ActionResume}, nil

	case Ecall:
		if cpu.ecall == nil {
			return Action{Kind: ActionResume}, nil
		}
		result, err := cpu.ecall(ev.PID, ev.Thread, ev.Num, ev.Args)
		return Action{Kind: ActionResume, Result: result}, err

	case Fault:
		if cpu.Current != nil && cpu.Current.Kernel {
			cpu.doubleFaultCount++
			if cpu.doubleFaultCount >= maxDoubleFaults {
				klog.Error("isr: triple fault, halting CPU", "cpu", cpu.ID, "fault", ev.Fault)
				return Action{Kind: ActionHalt, Fault: ev.Fault}, &HaltError{CPU: cpu.ID, Reason: "triple fault in kernel mode"}
			}
		} else {
			cpu.doubleFaultCount = 0
		}
		if cpu.Current != nil && cpu.Current.Thread != nil {
			cpu.Current.Thread.MarkFaulted(ev.Fault)
		}
		return Action{Kind: ActionSignal, Fault: ev.Fault}, nil

	default:
		return Action{}, kerrors.WithDetail(kerrors.ISR, kerrors.PARAM, "dispatch", "unknown event kind")
	}
}

// TrapExit implements the trap-exit rule: install cpu.Current.Next if
// the handler set one, otherwise resume at the context already current.
// Runs under the same guard as Dispatch.
func (cpu *CPULocal) TrapExit() *Context {
	cpu.mu.Lock()
	defer cpu.mu.Unlock()

	if cpu.Current == nil {
		return nil
	}
	if cpu.Current.Next != nil {
		if cpu.Current.Protect != nil {
			cpu.Current.Protect.Uninstall()
		}
		next := cpu.Current.Next
		if next.Protect != nil {
			next.Protect.Install()
		}
		cpu.Current = next
		cpu.doubleFaultCount = 0
		return next
	}
	return cpu.Current
}

// SetCurrent installs ctx as the running context without going through
// a dispatch/trap-exit pair, for initial boot of a CPU.
func (cpu *CPULocal) SetCurrent(ctx *Context) {
	cpu.mu.Lock()
	defer cpu.mu.Unlock()
	if ctx != nil && ctx.Protect != nil {
		ctx.Protect.Install()
	}
	cpu.Current = ctx
	cpu.doubleFaultCount = 0
}

// DoubleFaultCount reports the current consecutive kernel-mode fault
// count, for tests and diagnostics.
func (cpu *CPULocal) DoubleFaultCount() int {
	cpu.mu.Lock()
	defer cpu.mu.Unlock()
	return cpu.doubleFaultCount
}
