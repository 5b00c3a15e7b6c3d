// Package testkernel assembles every kernel/ package into one bootable
// instance, the way cmd/badgeros does at real boot but without a real
// RISC-V core underneath: threads are driven by replaying syscall
// programs instead of executing machine code. It exists so the boot
// contract from spec §6 and the end-to-end scenarios from spec §8 have
// somewhere to run as ordinary Go tests, and so cmd/badgeros's own boot
// path has a single well-tested assembly function to call.
package testkernel

import (
	"context"
	"time"

	"badgeros/kernel/blockdev"
	"badgeros/kernel/isr"
	"badgeros/kernel/kconfig"
	"badgeros/kernel/kerrors"
	"badgeros/kernel/kheap"
	"badgeros/kernel/klog"
	"badgeros/kernel/pagealloc"
	"badgeros/kernel/process"
	"badgeros/kernel/scheduler"
	"badgeros/kernel/signal"
	"badgeros/kernel/syscallabi"
	"badgeros/kernel/timer"
	"badgeros/kernel/vfs"
	"badgeros/kernel/vfs/memfs"
)

// Kernel is one fully wired instance: the physical pool, a single CPU's
// scheduler and trap state, the process manager, the timer/signal/VFS
// subsystems, and the syscall dispatch environment that ties them
// together. Config's CPUCount is recorded but only CPU 0 is actually
// scheduled; kernel/process.Manager binds to one *scheduler.CPU today,
// so multi-CPU topologies are future work (see DESIGN.md).
type Kernel struct {
	Config kconfig.Config

	Pool *pagealloc.Pool
	Heap *kheap.Heap

	CPU  *scheduler.CPU
	Trap *isr.CPULocal
	HK   *scheduler.Housekeeping

	Processes *process.Manager

	Timer *timer.Queue
	Alarm *timer.CPUAlarm

	Root *memfs.Backend
	VFS  *vfs.VFS

	Files *syscallabi.FileTable
	Env   *syscallabi.Env

	cancelHK context.CancelFunc
}

// Boot implements spec §6's boot sequence. It initializes the physical
// allocator first, then the scheduler and trap state, the process
// manager, the timer queue and alarm, a running housekeeping thread, and
// finally the root filesystem mount. It
// does not create PID 1; call BootInit for that, separately, so tests
// can inspect a kernel between the two steps.
func Boot(cfg kconfig.Config) (*Kernel, error) {
	pool, err := pagealloc.InitPool(cfg.PoolSize, cfg.PageSize, pagealloc.FlagNone)
	if err != nil {
		return nil, err
	}

	cpu := scheduler.NewCPU(0)
	trap := isr.NewCPULocal(0)
	procs := process.NewManager(pool, cpu)

	k := &Kernel{
		Config:    cfg,
		Pool:      pool,
		Heap:      kheap.New(pool),
		CPU:       cpu,
		Trap:      trap,
		Processes: procs,
		Timer:     timer.NewQueue(),
		Alarm:     &timer.CPUAlarm{},
		Root:      memfs.New(),
		VFS:       vfs.New(),
		Files:     syscallabi.NewFileTable(),
	}

	hkCtx, cancel := context.WithCancel(context.Background())
	k.cancelHK = cancel
	k.HK = scheduler.NewHousekeeping(func(th *scheduler.Thread) {
		klog.Debug("testkernel: housekeeping reaped thread", "thread", th.ID)
	})
	go k.HK.Run(hkCtx)

	if err := k.VFS.Mount(cfg.RootFS, k.Root); err != nil {
		k.Shutdown()
		return nil, err
	}

	k.Env = &syscallabi.Env{Processes: k.Processes, VFS: k.VFS, Files: k.Files}

	k.Trap.SetEcallHandler(func(pid uint64, thread any, num uint32, args [7]uint64) (int64, error) {
		th, ok := thread.(syscallabi.ThreadCtl)
		if !ok {
			return 0, kerrors.WithDetail(kerrors.ISR, kerrors.PARAM, "ecall", "thread does not implement ThreadCtl")
		}
		return syscallabi.Dispatch(k.Env, process.PID(pid), th, num, args)
	})

	return k, nil
}

// BootInit implements spec §6 step (f): create PID 1 from binary and
// start it at priority 0. Call after Boot and after seeding Root with
// whatever files binary needs.
func (k *Kernel) BootInit(binary string, argv []string) (process.PID, error) {
	pid, err := k.Processes.Create(0, binary, argv)
	if err != nil {
		return 0, err
	}
	if err := k.Processes.Start(pid, 0); err != nil {
		return 0, err
	}
	return pid, nil
}

// Shutdown stops the housekeeping thread and releases the physical pool.
// Safe to call once; tests should defer it right after Boot succeeds.
func (k *Kernel) Shutdown() {
	k.cancelHK()
	k.Pool.Close()
}

// NewBlockCache attaches a RAM-backed block device through a write-back
// cache, sized per cfg, for tests and cmd/badgeros code exercising
// kernel/blockdev on top of a booted Kernel.
func (k *Kernel) NewBlockCache(blocks int) (*blockdev.RAMDevice, *blockdev.Cache, error) {
	dev, err := blockdev.NewRAMDevice(k.Config.BlockSize, blocks)
	if err != nil {
		return nil, nil, err
	}
	if err := dev.Open(); err != nil {
		return nil, nil, err
	}
	cache := blockdev.NewCache(dev, k.Config.CacheEntries, k.Config.ReadCacheTimeout, k.Config.WriteCacheTimeout)
	return dev, cache, nil
}

// Tick runs one iteration of the scheduler's entry-exit cycle for the
// single CPU: it dispatches a preemption event through the trap
// pipeline, switches to whatever thread Step 3 of spec §4.5 selects, and
// claims any timer tasks whose deadline has passed. It is the
// goroutine-callable analogue of "enter the scheduler" from spec §6 step
// (g); cmd/badgeros's run loop calls this in a tight loop, and tests call
// it directly to advance simulated time deterministically.
func (k *Kernel) Tick(now time.Time) (*scheduler.Thread, error) {
	k.Timer.ClaimDue(now)

	action, err := k.Trap.Dispatch(isr.Event{Kind: isr.External})
	if err != nil {
		return nil, err
	}
	if action.Kind == isr.ActionHalt {
		return nil, err
	}

	next := k.CPU.Switch()
	if next != nil {
		k.Alarm.Reprogram(now.Add(next.Quota()), k.Timer)
	}
	return next, nil
}

// RaiseFault drives a hardware fault (illegal instruction, bad memory
// access, misalignment) for th through k's trap pipeline, the
// goroutine-callable analogue of a real CPU trapping into isr.Dispatch
// with Kind == Fault. An ActionSignal verdict is translated into the
// corresponding signal (spec §4.7's FromFault mapping) raised against
// th's owning process; an ActionHalt verdict (triple fault in kernel
// mode) is returned as-is for the caller to halt the CPU.
func (k *Kernel) RaiseFault(pid process.PID, th *scheduler.Thread, fk isr.FaultKind) error {
	k.Trap.SetCurrent(&isr.Context{Thread: th, Kernel: th.Kernel()})

	action, err := k.Trap.Dispatch(isr.Event{Kind: isr.Fault, Fault: fk})
	if err != nil {
		return err
	}
	if action.Kind == isr.ActionSignal {
		return k.Processes.RaiseSignal(pid, signal.FromFault(action.Fault))
	}
	return nil
}

// DeliverSignals runs signal.Dispatch once for process p, delivering at
// most one of its pending signals against th, the housekeeping-adjacent
// step that in
// real hardware happens on the kernel-mode return path of every trap.
// th is the thread standing in for "the process's thread currently being
// scheduled", since this simulator does not give every process its own
// goroutine.
func DeliverSignals(p *process.Process, th *scheduler.Thread) error {
	return signal.Dispatch(p.Signals, p, th)
}
