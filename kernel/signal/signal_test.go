package signal

import (
	"testing"

	"badgeros/kernel/isr"
)

type fakeProcess struct {
	exited    bool
	status    int
	lastFault Number
}

func (p *fakeProcess) ExitSelf(status int) { p.exited = true; p.status = status }
func (p *fakeProcess) LogFault(signum Number) { p.lastFault = signum }

type fakeThread struct{ inHandler bool }

func (t *fakeThread) InSignalHandler() bool     { return t.inHandler }
func (t *fakeThread) SetInSignalHandler(v bool) { t.inHandler = v }

func TestWaitStatusHelpers(t *testing.T) {
	exited := WExited(42)
	if !WIfExited(exited) {
		t.Fatal("WExited(42) should satisfy WIfExited")
	}
	if WExitStatus(exited) != 42 {
		t.Fatalf("WExitStatus = %d, want 42", WExitStatus(exited))
	}

	signalled := WSignalled(SIGSYS)
	if !WIfSignaled(signalled) {
		t.Fatal("WSignalled should satisfy WIfSignaled")
	}
	if WTermSig(signalled) != int(SIGSYS) {
		t.Fatalf("WTermSig = %d, want %d", WTermSig(signalled), SIGSYS)
	}
}

func TestDispatch_DefaultKillTerminatesProcess(t *testing.T) {
	table := NewTable()
	table.Raise(SIGSEGV)
	proc := &fakeProcess{}
	th := &fakeThread{}

	if err := Dispatch(table, proc, th); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !proc.exited {
		t.Fatal("default-kill signal should terminate the process")
	}
	if !WIfSignaled(proc.status) || WTermSig(proc.status) != int(SIGSEGV) {
		t.Fatalf("status = %#x, want WSignalled(SIGSEGV)", proc.status)
	}
}

func TestDispatch_IgnoredSignalIsNoOp(t *testing.T) {
	table := NewTable()
	table.SetDisposition(SIGUSR1, Disposition{Kind: Ignore})
	table.Raise(SIGUSR1)
	proc := &fakeProcess{}
	th := &fakeThread{}

	if err := Dispatch(table, proc, th); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if proc.exited {
		t.Fatal("ignored signal should not terminate the process")
	}
}

func TestDispatch_HandlerRunsAndClearsInSignalHandlerFlag(t *testing.T) {
	table := NewTable()
	var ran bool
	table.SetDisposition(SIGUSR1, Disposition{Kind: Handler, Handler: func(Number) { ran = true }})
	table.Raise(SIGUSR1)
	proc := &fakeProcess{}
	th := &fakeThread{}

	if err := Dispatch(table, proc, th); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !ran {
		t.Fatal("handler should have run")
	}
	if th.InSignalHandler() {
		t.Fatal("InSignalHandler should be cleared after the handler returns")
	}
}

func TestDispatch_NestedSignalTerminatesInsteadOfRecursing(t *testing.T) {
	table := NewTable()
	table.SetDisposition(SIGUSR1, Disposition{Kind: Handler, Handler: func(Number) {}})
	table.Raise(SIGUSR1)
	proc := &fakeProcess{}
	th := &fakeThread{inHandler: true}

	if err := Dispatch(table, proc, th); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !proc.exited {
		t.Fatal("signal arriving while already in a handler should terminate the process")
	}
	if WTermSig(proc.status) != int(SIGUSR1) {
		t.Fatalf("termination signal = %d, want SIGUSR1", WTermSig(proc.status))
	}
}

func TestDispatch_EmptyQueueIsNoOp(t *testing.T) {
	table := NewTable()
	proc := &fakeProcess{}
	th := &fakeThread{}
	if err := Dispatch(table, proc, th); err != nil {
		t.Fatalf("dispatch on empty queue: %v", err)
	}
	if proc.exited {
		t.Fatal("empty queue should not exit the process")
	}
}

func TestFromFault_MapsAccessFaultsToSIGSEGV(t *testing.T) {
	cases := []isr.FaultKind{isr.FaultLoadAccess, isr.FaultStoreAccess, isr.FaultInstructionAccess}
	for _, f := range cases {
		if got := FromFault(f); got != SIGSEGV {
			t.Fatalf("FromFault(%v) = %v, want SIGSEGV", f, got)
		}
	}
	if got := FromFault(isr.FaultIllegalInstruction); got != SIGILL {
		t.Fatalf("FromFault(illegal) = %v, want SIGILL", got)
	}
}
