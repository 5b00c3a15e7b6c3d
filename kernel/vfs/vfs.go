// Package vfs implements the VFS core from spec §3/§4.10/§4.11: a mount
// table, path walk, and the shared-object/handle split for files and
// directories, backed by any Backend a concrete filesystem registers.
package vfs

import (
	"path"
	"strings"
	"sync"

	"badgeros/kernel/kerrors"
)

// DirEntry is one directory listing entry a Backend returns.
type DirEntry struct {
	Inode     uint64
	IsDir     bool
	IsSymlink bool
	Perms     uint16
	Name      string
}

// Stat describes a shared object's metadata.
type Stat struct {
	Inode uint64
	Size  int64
	IsDir bool
	Perms uint16
}

// Backend is the contract a concrete filesystem (FAT, RAMFS, memfs)
// presents to the core, per spec §4.11 ("the out-of-scope FAT/RAMFS
// implementations").
type Backend interface {
	// Lookup resolves a path relative to this backend's root, returning
	// a backend-specific payload identifying the resolved object.
	Lookup(relPath string) (payload any, stat Stat, err error)
	Open(payload any) (cursor any, err error)
	Close(payload any, cursor any) error
	Read(payload any, cursor any, offset int64, buf []byte) (int, error)
	Write(payload any, cursor any, offset int64, buf []byte) (int, error)
	Getdents(payload any, cursor any) ([]DirEntry, error)
}

// shared is the inode-keyed, refcounted object from spec §3's "VFS
// handle pair": first open creates it, each additional open increments
// its refcount, last close destroys it.
type shared struct {
	backend Backend
	payload any
	stat    Stat
	refs    int
}

// Handle is the per-opener cursor from spec §3: offset, flags, and a
// pointer to the shared object.
type Handle struct {
	ID      uint64
	shared  *shared
	cursor  any
	offset  int64
	writeOK bool
	readOK  bool
}

type mount struct {
	path    string
	backend Backend
}

// VFS is the mount table plus the two global mutexes named in spec §5:
// mountMu (exclusive on mount/unmount, shared on use) and handleMu
// (exclusive on open/close, shared on I/O).
type VFS struct {
	mountMu sync.RWMutex
	mounts  []mount

	handleMu sync.RWMutex
	shared   map[uint64]*shared // keyed by inode
	handles  map[uint64]*Handle
	nextID   uint64
}

// New creates an empty VFS with no mounts.
func New() *VFS {
	return &VFS{
		shared:  make(map[uint64]*shared),
		handles: make(map[uint64]*Handle),
	}
}

// Mount attaches backend at mountPoint (an absolute path prefix).
func (v *VFS) Mount(mountPoint string, backend Backend) error {
	mountPoint = path.Clean(mountPoint)
	v.mountMu.Lock()
	defer v.mountMu.Unlock()
	for _, m := range v.mounts {
		if m.path == mountPoint {
			return kerrors.WithDetail(kerrors.FS, kerrors.ILLEGAL, "mount", "mount point already in use")
		}
	}
	v.mounts = append(v.mounts, mount{path: mountPoint, backend: backend})
	return nil
}

// Unmount detaches the backend mounted at mountPoint.
func (v *VFS) Unmount(mountPoint string) error {
	mountPoint = path.Clean(mountPoint)
	v.mountMu.Lock()
	defer v.mountMu.Unlock()
	for i, m := range v.mounts {
		if m.path == mountPoint {
			v.mounts = append(v.mounts[:i], v.mounts[i+1:]...)
			return nil
		}
	}
	return kerrors.ErrNoMount
}

// resolve walks p to find the most specific mounted backend and the
// path remaining relative to that mount point.
func (v *VFS) resolve(p string) (Backend, string, error) {
	p = path.Clean("/" + p)
	v.mountMu.RLock()
	defer v.mountMu.RUnlock()

	var best *mount
	for i := range v.mounts {
		m := &v.mounts[i]
		if m.path == "/" || p == m.path || strings.HasPrefix(p, m.path+"/") {
			if best == nil || len(m.path) > len(best.path) {
				best = m
			}
		}
	}
	if best == nil {
		return nil, "", kerrors.ErrNoMount
	}
	rel := strings.TrimPrefix(p, best.path)
	rel = strings.TrimPrefix(rel, "/")
	return best.backend, rel, nil
}

// Open resolves p, creating the shared object on first open and
// incrementing its refcount on every subsequent one, then creates a
// fresh per-opener Handle (spec §4.11).
func (v *VFS) Open(p string, write bool) (*Handle, error) {
	backend, rel, err := v.resolve(p)
	if err != nil {
		return nil, err
	}
	payload, stat, err := backend.Lookup(rel)
	if err != nil {
		return nil, err
	}

	v.handleMu.Lock()
	defer v.handleMu.Unlock()

	sh, ok := v.shared[stat.Inode]
	if !ok {
		sh = &shared{backend: backend, payload: payload, stat: stat}
		v.shared[stat.Inode] = sh
	}
	sh.refs++

	cursor, err := backend.Open(payload)
	if err != nil {
		sh.refs--
		if sh.refs == 0 {
			delete(v.shared, stat.Inode)
		}
		return nil, err
	}

	v.nextID++
	h := &Handle{ID: v.nextID, shared: sh, cursor: cursor, readOK: true, writeOK: write}
	v.handles[h.ID] = h
	return h, nil
}

// Close releases h, destroying its shared object when the refcount
// reaches zero.
func (v *VFS) Close(h *Handle) error {
	v.handleMu.Lock()
	defer v.handleMu.Unlock()

	if _, ok := v.handles[h.ID]; !ok {
		return kerrors.ErrNotOpen
	}
	delete(v.handles, h.ID)

	err := h.shared.backend.Close(h.shared.payload, h.cursor)
	h.shared.refs--
	if h.shared.refs == 0 {
		delete(v.shared, h.shared.stat.Inode)
	}
	return err
}

// Read reads from h at its current offset, advancing it by the number
// of bytes read.
func (v *VFS) Read(h *Handle, buf []byte) (int, error) {
	if !h.readOK {
		return 0, kerrors.WithDetail(kerrors.FS, kerrors.ILLEGAL, "read", "handle not opened for reading")
	}
	v.handleMu.RLock()
	defer v.handleMu.RUnlock()
	n, err := h.shared.backend.Read(h.shared.payload, h.cursor, h.offset, buf)
	if err != nil {
		return n, err
	}
	h.offset += int64(n)
	return n, nil
}

// Write writes to h at its current offset, advancing it by the number
// of bytes written.
func (v *VFS) Write(h *Handle, buf []byte) (int, error) {
	if !h.writeOK {
		return 0, kerrors.WithDetail(kerrors.FS, kerrors.ILLEGAL, "write", "handle not opened for writing")
	}
	v.handleMu.RLock()
	defer v.handleMu.RUnlock()
	n, err := h.shared.backend.Write(h.shared.payload, h.cursor, h.offset, buf)
	if err != nil {
		return n, err
	}
	h.offset += int64(n)
	return n, nil
}

// Getdents lists h's directory entries (spec §6's FS_GETDENTS).
func (v *VFS) Getdents(h *Handle) ([]DirEntry, error) {
	v.handleMu.RLock()
	defer v.handleMu.RUnlock()
	return h.shared.backend.Getdents(h.shared.payload, h.cursor)
}

// Stat returns h's shared-object metadata.
func (v *VFS) Stat(h *Handle) Stat {
	v.handleMu.RLock()
	defer v.handleMu.RUnlock()
	return h.shared.stat
}
