package scheduler

import "badgeros/kernel/isr"

// Kernel reports whether t was running in kernel mode, satisfying
// isr.ThreadRef so the trap pipeline can dispatch faults against a real
// scheduler.Thread instead of a test double.
func (t *Thread) Kernel() bool {
	return t.HasFlag(FlagKernel)
}

// MarkFaulted records the most recent fault kind that interrupted t, for
// the signal path to translate into a raised signal against t's process.
func (t *Thread) MarkFaulted(fk isr.FaultKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastFault = fk
}

// LastFault returns the fault kind MarkFaulted most recently recorded.
func (t *Thread) LastFault() isr.FaultKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastFault
}

// InSignalHandler reports whether t is currently running a signal
// handler, satisfying signal.ThreadRef's nested-signal check.
func (t *Thread) InSignalHandler() bool {
	return t.HasFlag(FlagSigHandler)
}

// SetInSignalHandler records whether t is running a signal handler.
func (t *Thread) SetInSignalHandler(v bool) {
	if v {
		t.SetFlag(FlagSigHandler)
	} else {
		t.ClearFlag(FlagSigHandler)
	}
}
