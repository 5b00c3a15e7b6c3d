package testkernel

import (
	"bytes"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"badgeros/kernel/atomics"
	"badgeros/kernel/blockdev"
	"badgeros/kernel/isr"
	"badgeros/kernel/kconfig"
	"badgeros/kernel/klog"
	"badgeros/kernel/pagealloc"
	"badgeros/kernel/process"
	"badgeros/kernel/signal"
	"badgeros/kernel/slaballoc"
	"badgeros/kernel/syscallabi"
)

func bootTestKernel(t *testing.T) *Kernel {
	t.Helper()
	cfg := kconfig.New(kconfig.WithPool(1<<20, 4096))
	k, err := Boot(cfg)
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	t.Cleanup(k.Shutdown)
	return k
}

func mainThreadOf(t *testing.T, k *Kernel, pid process.PID) *process.Process {
	t.Helper()
	p, err := k.Processes.Lookup(pid)
	if err != nil {
		t.Fatalf("lookup %d: %v", pid, err)
	}
	return p
}

// Scenario 1: Hello init.
func TestE2E_HelloInit(t *testing.T) {
	var buf bytes.Buffer
	klog.SetDefault(klog.New(klog.Config{Level: slog.LevelDebug, Output: &buf}))

	k := bootTestKernel(t)
	k.Root.WriteFile("/etc/motd", []byte("welcome to badgeros"), 0o644)

	pid, err := k.BootInit("/sbin/init", []string{"init"})
	if err != nil {
		t.Fatalf("boot init: %v", err)
	}
	proc := mainThreadOf(t, k, pid)
	th := proc.Threads()[0]

	handle := syscallabi.RegisterPath("/etc/motd")
	fd, err := k.Syscall(pid, th, syscallabi.FSOpen, handle, 0, syscallabi.OReadOnly)
	if err != nil || fd < 0 {
		t.Fatalf("open motd: fd=%d err=%v", fd, err)
	}

	base, err := k.Processes.Map(pid, 4096, true, false)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	n, err := k.Syscall(pid, th, syscallabi.FSRead, uint64(fd), uint64(base), 128)
	if err != nil || n <= 0 {
		t.Fatalf("read motd: n=%d err=%v", n, err)
	}

	if _, err := k.Syscall(pid, th, syscallabi.TempWrite, uint64(base), uint64(n)); err != nil {
		t.Fatalf("temp_write: %v", err)
	}
	if _, err := k.Syscall(pid, th, syscallabi.SysShutdown, 0); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if got := process.ShutdownMode.Load(); got != process.ShutdownPowerOff {
		t.Fatalf("shutdown_mode = %d, want %d", got, process.ShutdownPowerOff)
	}
	if !strings.Contains(buf.String(), "welcome to badgeros") {
		t.Fatalf("log does not contain motd contents: %q", buf.String())
	}
}

// Scenario 2: child exit propagation via SIGCHLD.
func TestE2E_ChildExitPropagation(t *testing.T) {
	k := bootTestKernel(t)

	parentPID, err := k.BootInit("/sbin/parent", []string{"parent"})
	if err != nil {
		t.Fatalf("boot parent: %v", err)
	}
	parent := mainThreadOf(t, k, parentPID)

	var handlerRan atomic.Bool
	parent.Signals.SetDisposition(signal.SIGCHLD, signal.Disposition{
		Kind: signal.Handler,
		Handler: func(signal.Number) {
			handlerRan.Store(true)
		},
	})

	childPID, err := k.Processes.Create(parentPID, "/sbin/test", nil)
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	if err := k.Processes.Start(childPID, 0); err != nil {
		t.Fatalf("start child: %v", err)
	}
	child := mainThreadOf(t, k, childPID)
	childThread := child.Threads()[0]

	if _, err := k.Syscall(childPID, childThread, syscallabi.SelfExit, 42); err != nil {
		t.Fatalf("self_exit: %v", err)
	}

	// Drain the runqueue so the scheduler observes the child's thread as
	// no longer running (spec §4.5 step 3's exiting-process drop).
	k.CPU.Switch()
	k.CPU.Switch()

	if err := k.Processes.Delete(childPID); err != nil {
		t.Fatalf("delete child: %v", err)
	}
	if err := DeliverSignals(parent, parent.Threads()[0]); err != nil {
		t.Fatalf("deliver signals: %v", err)
	}
	if !handlerRan.Load() {
		t.Fatal("parent's SIGCHLD handler did not run")
	}

	status := child.ExitCode
	if !signal.WIfExited(status) || signal.WExitStatus(status) != 42 {
		t.Fatalf("child exit status = %#x, want WIFEXITED && WEXITSTATUS == 42", status)
	}
}

// Scenario 3: illegal syscall delivers SIGSYS with default disposition.
func TestE2E_IllegalSyscallDeliversSIGSYS(t *testing.T) {
	k := bootTestKernel(t)
	pid, err := k.BootInit("/sbin/init", []string{"init"})
	if err != nil {
		t.Fatalf("boot init: %v", err)
	}
	proc := mainThreadOf(t, k, pid)
	th := proc.Threads()[0]

	n, err := k.Syscall(pid, th, 0x9999)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if n >= 0 {
		t.Fatalf("illegal syscall should return a negative errno, got %d", n)
	}

	if err := DeliverSignals(proc, th); err != nil {
		t.Fatalf("deliver signals: %v", err)
	}
	if !proc.Exiting() {
		t.Fatal("default SIGSYS disposition should terminate the process")
	}
	if !signal.WIfSignaled(proc.ExitCode) || signal.Number(signal.WTermSig(proc.ExitCode)) != signal.SIGSYS {
		t.Fatalf("exit status = %#x, want W_SIGNALLED(SIGSYS)", proc.ExitCode)
	}
}

// Hardware fault delivery: a bad memory access trapped by the ISR
// pipeline (kind Fault, not Ecall) is translated into SIGSEGV against
// the faulting thread's process, per spec §4.4/§4.7's fault-to-signal
// propagation policy.
func TestE2E_HardwareFaultDeliversSIGSEGV(t *testing.T) {
	k := bootTestKernel(t)
	pid, err := k.BootInit("/sbin/init", []string{"init"})
	if err != nil {
		t.Fatalf("boot init: %v", err)
	}
	proc := mainThreadOf(t, k, pid)
	th := proc.Threads()[0]

	if err := k.RaiseFault(pid, th, isr.FaultLoadAccess); err != nil {
		t.Fatalf("raise fault: %v", err)
	}
	if th.LastFault() != isr.FaultLoadAccess {
		t.Fatalf("thread.LastFault() = %v, want FaultLoadAccess", th.LastFault())
	}

	if err := DeliverSignals(proc, th); err != nil {
		t.Fatalf("deliver signals: %v", err)
	}
	if !proc.Exiting() {
		t.Fatal("default SIGSEGV disposition should terminate the process")
	}
	if !signal.WIfSignaled(proc.ExitCode) || signal.Number(signal.WTermSig(proc.ExitCode)) != signal.SIGSEGV {
		t.Fatalf("exit status = %#x, want W_SIGNALLED(SIGSEGV)", proc.ExitCode)
	}
}

// Scenario 4: buddy/slab fill-drain.
func TestE2E_BuddySlabFillDrain(t *testing.T) {
	pool, err := pagealloc.InitPool(1<<20, 4096, pagealloc.FlagNone)
	if err != nil {
		t.Fatalf("init pool: %v", err)
	}
	defer pool.Close()

	largest := pool.LargestFreeBlock()

	var fattened []uintptr
	for {
		ptr := pool.Alloc(largest, pagealloc.TagUser, pagealloc.AllocDefault)
		if ptr == 0 {
			break
		}
		fattened = append(fattened, ptr)
	}
	n := len(fattened)
	for _, p := range fattened {
		pool.Free(p)
	}

	slab := slaballoc.NewAllocator(pool)
	var cells []uintptr
	for {
		ptr := slab.Alloc(64)
		if ptr == 0 {
			break
		}
		cells = append(cells, ptr)
	}
	m := len(cells)
	for _, c := range cells {
		slab.Free(c)
	}

	if uintptr(m) < uintptr(n)*pool.PageSize()/128 {
		t.Fatalf("slab fill count %d too small relative to buddy fill count %d", m, n)
	}
	if pool.LargestFreeBlock() != pool.Capacity() {
		t.Fatalf("pool not fully drained: largest free block = %d, capacity = %d", pool.LargestFreeBlock(), pool.Capacity())
	}
}

// Scenario 5: mutex starvation avoidance under contention.
func TestE2E_MutexStarvationAvoidance(t *testing.T) {
	mu := atomics.NewMutex(false)
	const threads = 8
	const rounds = 1000

	counts := make([]int, threads)
	done := make(chan int, threads)
	for i := 0; i < threads; i++ {
		go func(id int) {
			for r := 0; r < rounds; r++ {
				if err := mu.Acquire(5 * time.Second); err != nil {
					t.Errorf("thread %d round %d: acquire timed out", id, r)
					done <- id
					return
				}
				counts[id]++
				mu.Release()
			}
			done <- id
		}(i)
	}
	for i := 0; i < threads; i++ {
		<-done
	}
	for id, c := range counts {
		if c != rounds {
			t.Fatalf("thread %d completed %d/%d rounds", id, c, rounds)
		}
	}
}

// Scenario 6: block cache write-back through a booted kernel's block
// device, rather than kernel/blockdev's own unit test of the same
// property.
func TestE2E_BlockCacheWriteBack(t *testing.T) {
	k := bootTestKernel(t)
	dev, cache, err := k.NewBlockCache(16)
	if err != nil {
		t.Fatalf("new block cache: %v", err)
	}

	a := bytes.Repeat([]byte{0xAA}, k.Config.BlockSize)
	b := bytes.Repeat([]byte{0xBB}, k.Config.BlockSize)

	if err := cache.Write(7, a); err != nil {
		t.Fatalf("write A: %v", err)
	}
	if err := cache.Write(7, b); err != nil {
		t.Fatalf("write B: %v", err)
	}
	if dev.WriteCount != 0 {
		t.Fatalf("raw device write count = %d before the cache timeout, want 0", dev.WriteCount)
	}

	out := make([]byte, k.Config.BlockSize)
	if err := cache.Read(7, out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(out, b) {
		t.Fatal("read did not return the most recent write")
	}

	time.Sleep(k.Config.WriteCacheTimeout + 10*time.Millisecond)
	if err := cache.Housekeeping(time.Now()); err != nil {
		t.Fatalf("housekeeping: %v", err)
	}
	if dev.WriteCount != 1 {
		t.Fatalf("raw device write count after housekeeping = %d, want 1", dev.WriteCount)
	}

	raw := make([]byte, k.Config.BlockSize)
	if err := dev.Read(7, raw); err != nil {
		t.Fatalf("raw read: %v", err)
	}
	if !bytes.Equal(raw, b) {
		t.Fatal("raw device does not reflect the flushed write")
	}
	var _ blockdev.Device = dev
}
