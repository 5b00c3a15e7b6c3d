package testkernel

import (
	"badgeros/kernel/isr"
	"badgeros/kernel/process"
	"badgeros/kernel/scheduler"
)

// Syscall drives one syscall through k's trap pipeline on behalf of th:
// it raises an Ecall event at k.Trap, which routes to the EcallHandler
// Boot registered (kernel/syscallabi.Dispatch), the way a real ecall trap
// would after the ISR decoded the trapped instruction's a7/a0..a6
// registers. Packing variadic args into the fixed a0..a6 array is this
// function's job rather than every caller's.
func (k *Kernel) Syscall(pid process.PID, th *scheduler.Thread, num uint32, args ...uint64) (int64, error) {
	var a [7]uint64
	copy(a[:], args)
	action, err := k.Trap.Dispatch(isr.Event{Kind: isr.Ecall, PID: uint64(pid), Thread: th, Num: num, Args: a})
	return action.Result, err
}
