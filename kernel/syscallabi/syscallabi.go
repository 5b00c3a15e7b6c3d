// Package syscallabi implements the wire-level syscall ABI from spec §6:
// stable syscall numbers, oflags, dirent wire layout, and the
// kerrors.Cause-to-negative-return-code mapping. Dispatch is the single
// entry point kernel/isr's ecall path calls into.
package syscallabi

import (
	"encoding/binary"

	"badgeros/kernel/kerrors"
	"badgeros/kernel/klog"
	"badgeros/kernel/process"
	"badgeros/kernel/scheduler"
	"badgeros/kernel/signal"
	"badgeros/kernel/vfs"
)

// Syscall numbers, stable per spec §6.
const (
	ThreadYield = 0x0100
	ThreadExit  = 0x0106
	SelfExit    = 0x0200
	SysShutdown = 0x0201
	FSOpen      = 0x0300
	FSClose     = 0x0301
	FSRead      = 0x0302
	FSWrite     = 0x0303
	FSGetdents  = 0x0304
	TempWrite   = 0xff00
)

// oflags bitset, spec §6.
const (
	OReadOnly  = 1
	OWriteOnly = 2
	OReadWrite = 3
	OAppend    = 4
	OTruncate  = 8
	OCreate    = 0x10
	OExclusive = 0x20
	OCloExec   = 0x40
	ODirectory = 0x80
)

// causeToErrno maps a kerrors.Cause to the negative return code a
// syscall reports on failure. Magnitudes are arbitrary but stable within
// this kernel; only their sign and distinctness matter to callers.
var causeToErrno = map[kerrors.Cause]int64{
	kerrors.PARAM:       -1,
	kerrors.RANGE:       -2,
	kerrors.NOMEM:       -3,
	kerrors.NOTFOUND:    -4,
	kerrors.TIMEOUT:     -5,
	kerrors.ILLEGAL:     -6,
	kerrors.STATE:       -7,
	kerrors.READONLY:    -8,
	kerrors.UNSUPPORTED: -9,
	kerrors.IO:          -10,
	kerrors.FORMAT:      -11,
	kerrors.NOTCONFIG:   -12,
}

// errnoFor converts err into a syscall return code, per spec §6's "kerrors.Cause
// → negative return code mapping".
func errnoFor(err error) int64 {
	if err == nil {
		return 0
	}
	if cause, ok := kerrors.CauseOf(err); ok {
		if code, ok := causeToErrno[cause]; ok {
			return code
		}
	}
	return -6 // ILLEGAL, as a catch-all for unclassified failures.
}

// EncodeDirent packs one directory entry into the tightly-packed
// FS_GETDENTS wire layout from spec §6: {inode u64, is_dir u8,
// is_symlink u8, perms u16, name_len u32, name u8[name_len]},
// little-endian.
func EncodeDirent(e vfs.DirEntry) []byte {
	name := []byte(e.Name)
	buf := make([]byte, 8+1+1+2+4+len(name))
	binary.LittleEndian.PutUint64(buf[0:8], e.Inode)
	if e.IsDir {
		buf[8] = 1
	}
	if e.IsSymlink {
		buf[9] = 1
	}
	binary.LittleEndian.PutUint16(buf[10:12], e.Perms)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(name)))
	copy(buf[16:], name)
	return buf
}

// DecodeDirent unpacks one FS_GETDENTS wire entry starting at the front
// of buf, returning the entry and the number of bytes consumed.
func DecodeDirent(buf []byte) (vfs.DirEntry, int, error) {
	if len(buf) < 16 {
		return vfs.DirEntry{}, 0, kerrors.WithDetail(kerrors.FS, kerrors.FORMAT, "decode_dirent", "buffer too short for header")
	}
	inode := binary.LittleEndian.Uint64(buf[0:8])
	isDir := buf[8] != 0
	isSymlink := buf[9] != 0
	perms := binary.LittleEndian.Uint16(buf[10:12])
	nameLen := int(binary.LittleEndian.Uint32(buf[12:16]))
	if len(buf) < 16+nameLen {
		return vfs.DirEntry{}, 0, kerrors.WithDetail(kerrors.FS, kerrors.FORMAT, "decode_dirent", "buffer too short for name")
	}
	name := string(buf[16 : 16+nameLen])
	return vfs.DirEntry{Inode: inode, IsDir: isDir, IsSymlink: isSymlink, Perms: perms, Name: name}, 16 + nameLen, nil
}

// Env bundles the kernel-side objects a Dispatch call needs: the process
// table, the VFS, and a per-process open-file table keyed by virtual fd.
type Env struct {
	Processes *process.Manager
	VFS       *vfs.VFS
	Files     *FileTable
}

// FileTable is the process-indexed virtual-fd table from spec §3's
// "file-descriptor table (array of {virtual-fd, real-handle})".
type FileTable struct {
	byProcess map[process.PID]map[int]*vfs.Handle
	nextFD    map[process.PID]int
}

// NewFileTable creates an empty virtual-fd table.
func NewFileTable() *FileTable {
	return &FileTable{
		byProcess: make(map[process.PID]map[int]*vfs.Handle),
		nextFD:    make(map[process.PID]int),
	}
}

func (ft *FileTable) register(pid process.PID, h *vfs.Handle) int {
	if ft.byProcess[pid] == nil {
		ft.byProcess[pid] = make(map[int]*vfs.Handle)
	}
	fd := ft.nextFD[pid]
	ft.nextFD[pid] = fd + 1
	ft.byProcess[pid][fd] = h
	return fd
}

func (ft *FileTable) lookup(pid process.PID, fd int) (*vfs.Handle, bool) {
	h, ok := ft.byProcess[pid][fd]
	return h, ok
}

func (ft *FileTable) release(pid process.PID, fd int) {
	delete(ft.byProcess[pid], fd)
}

// ThreadCtl is the subset of scheduler.Thread Dispatch needs to act on
// for THREAD_YIELD/THREAD_EXIT.
type ThreadCtl interface {
	SetFlag(scheduler.Flag)
}

// Dispatch is the single entry point kernel/isr's ecall path calls into:
// it decodes num/args, performs the syscall, and returns the raw a0
// value (positive/zero on success, a negative errno on failure).
func Dispatch(env *Env, pid process.PID, th ThreadCtl, num uint32, args [7]uint64) (int64, error) {
	switch num {
	case ThreadYield:
		// The actual yield happens when the caller's trap-exit runs the
		// CPU's Switch; Dispatch only needs to acknowledge the request.
		return 0, nil

	case ThreadExit:
		th.SetFlag(scheduler.FlagExiting)
		return 0, nil

	case SelfExit:
		code := int(int64(args[0]))
		if err := env.Processes.ExitSelf(pid, code); err != nil {
			return errnoFor(err), nil
		}
		return 0, nil

	case SysShutdown:
		process.RequestShutdown(args[0] != 0)
		return 0, nil

	case FSOpen:
		// args[0] is a path handle from RegisterPath rather than a
		// user-space pointer; pathArg resolves it to the path string.
		p := pathArg(args[0])
		write := args[2]&OWriteOnly != 0
		h, err := env.VFS.Open(p, write)
		if err != nil {
			return errnoFor(err), nil
		}
		return int64(env.Files.register(pid, h)), nil

	case FSClose:
		fd := int(args[0])
		h, ok := env.Files.lookup(pid, fd)
		if !ok {
			return errnoFor(kerrors.ErrNotOpen), nil
		}
		if err := env.VFS.Close(h); err != nil {
			return errnoFor(err), nil
		}
		env.Files.release(pid, fd)
		return 1, nil

	case FSRead:
		fd := int(args[0])
		h, ok := env.Files.lookup(pid, fd)
		if !ok {
			return errnoFor(kerrors.ErrNotOpen), nil
		}
		length := int(args[2])
		buf := make([]byte, length)
		n, err := env.VFS.Read(h, buf)
		if err != nil {
			if kerrors.Is(err, kerrors.NOTFOUND) {
				return -1, nil
			}
			return errnoFor(err), nil
		}
		env.Processes.CopyToUser(pid, uintptr(args[1]), buf[:n])
		return int64(n), nil

	case FSWrite:
		fd := int(args[0])
		h, ok := env.Files.lookup(pid, fd)
		if !ok {
			return errnoFor(kerrors.ErrNotOpen), nil
		}
		length := int(args[2])
		buf := make([]byte, length)
		env.Processes.CopyFromUser(pid, buf, uintptr(args[1]))
		n, err := env.VFS.Write(h, buf)
		if err != nil {
			return errnoFor(err), nil
		}
		return int64(n), nil

	case FSGetdents:
		fd := int(args[0])
		h, ok := env.Files.lookup(pid, fd)
		if !ok {
			return errnoFor(kerrors.ErrNotOpen), nil
		}
		entries, err := env.VFS.Getdents(h)
		if err != nil {
			return errnoFor(err), nil
		}
		var wire []byte
		for _, e := range entries {
			wire = append(wire, EncodeDirent(e)...)
		}
		if len(wire) > int(args[2]) {
			wire = wire[:args[2]]
		}
		env.Processes.CopyToUser(pid, uintptr(args[1]), wire)
		return int64(len(wire)), nil

	case TempWrite:
		length := int(args[1])
		buf := make([]byte, length)
		env.Processes.CopyFromUser(pid, buf, uintptr(args[0]))
		klog.Info("temp_write", "pid", pid, "data", string(buf))
		return 0, nil

	default:
		// Spec §7's propagation policy: an illegal syscall number is
		// delivered to the offending process as SIGSYS rather than
		// merely returning an error, so its default disposition can
		// terminate the process exactly like a hardware fault would.
		env.Processes.RaiseSignal(pid, signal.SIGSYS)
		return errnoFor(kerrors.WithDetail(kerrors.PROCESS, kerrors.ILLEGAL, "dispatch", "unknown syscall number")), nil
	}
}

// pathArg is a placeholder decoding hook: in this simulator, user-space
// path pointers are represented directly rather than through a real
// user/kernel address split, so the argument is a handle handed out by
// RegisterPath and looked up in this package's path registry. Kept as
// its own function so that seam is visible and easy to replace with a
// real copy_from_user-based path read.
func pathArg(raw uint64) string {
	return pathRegistry.lookup(raw)
}
