package testkernel

import (
	"badgeros/kernel/kerrors"
	"badgeros/kernel/process"
	"badgeros/kernel/syscallabi"
)

// RunInitProgram drives the "Hello init" userland program against an
// already-booted kernel: create and start /sbin/init, open motdPath,
// read up to 128 bytes, echo them to the kernel log via TEMP_WRITE, and
// request a power-off shutdown. It stands in for the concrete init
// binary a real boot would load from the root filesystem; this
// simulator has no ELF loader, so the "binary" is this Go closure
// registered against the same syscall ABI a real one would use.
func RunInitProgram(k *Kernel, motdPath string) (process.PID, error) {
	pid, err := k.BootInit("/sbin/init", []string{"init"})
	if err != nil {
		return 0, err
	}
	proc, err := k.Processes.Lookup(pid)
	if err != nil {
		return 0, err
	}
	th := proc.Threads()[0]

	handle := syscallabi.RegisterPath(motdPath)
	fd, err := k.Syscall(pid, th, syscallabi.FSOpen, handle, 0, syscallabi.OReadOnly)
	if err != nil {
		return pid, err
	}
	if fd < 0 {
		return pid, kerrors.WithDetail(kerrors.FS, kerrors.NOTFOUND, "init", "could not open motd")
	}

	base, err := k.Processes.Map(pid, 4096, true, false)
	if err != nil {
		return pid, err
	}
	n, err := k.Syscall(pid, th, syscallabi.FSRead, uint64(fd), uint64(base), 128)
	if err != nil {
		return pid, err
	}
	if n < 0 {
		return pid, kerrors.WithDetail(kerrors.FS, kerrors.IO, "init", "could not read motd")
	}

	if _, err := k.Syscall(pid, th, syscallabi.TempWrite, uint64(base), uint64(n)); err != nil {
		return pid, err
	}
	if _, err := k.Syscall(pid, th, syscallabi.FSClose, uint64(fd)); err != nil {
		return pid, err
	}
	if _, err := k.Syscall(pid, th, syscallabi.SysShutdown, 0); err != nil {
		return pid, err
	}
	return pid, nil
}
