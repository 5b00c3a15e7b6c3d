package scheduler

import "badgeros/kernel/atomics"

// ThreadYielder implements atomics.Yielder for a specific CPU: a
// thread-context mutex wait yields by running that CPU's Switch routine
// instead of just calling runtime.Gosched, so contended mutex waits make
// scheduling progress the same way a real cooperative yield would.
type ThreadYielder struct {
	CPU *CPU
}

var _ atomics.Yielder = ThreadYielder{}

// Yield runs one scheduling round on the associated CPU.
func (y ThreadYielder) Yield() {
	if y.CPU != nil {
		y.CPU.Switch()
	}
}
