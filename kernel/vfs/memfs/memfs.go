// Package memfs is an in-memory vfs.Backend, the one reference
// filesystem implementation sufficient to run the /etc/motd, /sbin/init,
// /sbin/test scenarios from spec §8 end to end. Concrete FAT/RAMFS
// backends are out of scope per spec §1; this is the stand-in that
// presents the same Backend contract.
package memfs

import (
	"path"
	"sort"
	"strings"
	"sync"

	"badgeros/kernel/kerrors"
	"badgeros/kernel/vfs"
)

type node struct {
	inode    uint64
	name     string
	isDir    bool
	perms    uint16
	data     []byte
	children map[string]*node
}

// Backend is an in-memory filesystem tree.
type Backend struct {
	mu      sync.RWMutex
	root    *node
	nextIno uint64
}

// New creates an empty memfs rooted at "/".
func New() *Backend {
	b := &Backend{}
	b.root = b.newNode("/", true, 0o755)
	return b
}

func (b *Backend) newNode(name string, isDir bool, perms uint16) *node {
	b.nextIno++
	n := &node{inode: b.nextIno, name: name, isDir: isDir, perms: perms}
	if isDir {
		n.children = make(map[string]*node)
	}
	return n
}

// WriteFile creates (or overwrites) a file at p with the given content,
// creating any missing parent directories, for test/boot-time seeding.
func (b *Backend) WriteFile(p string, data []byte, perms uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dir, name, err := b.walkParent(p, true)
	if err != nil {
		return err
	}
	n, ok := dir.children[name]
	if !ok {
		n = b.newNode(name, false, perms)
		dir.children[name] = n
	}
	n.data = append([]byte(nil), data...)
	return nil
}

// Mkdir creates a directory at p, creating any missing parents.
func (b *Backend) Mkdir(p string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.mkdirAll(p)
	return err
}

func (b *Backend) mkdirAll(p string) (*node, error) {
	p = path.Clean("/" + p)
	if p == "/" {
		return b.root, nil
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	cur := b.root
	for _, part := range parts {
		child, ok := cur.children[part]
		if !ok {
			child = b.newNode(part, true, 0o755)
			cur.children[part] = child
		} else if !child.isDir {
			return nil, kerrors.WithDetail(kerrors.FS, kerrors.ILLEGAL, "mkdir", "path component is not a directory")
		}
		cur = child
	}
	return cur, nil
}

func (b *Backend) walkParent(p string, create bool) (*node, string, error) {
	p = path.Clean("/" + p)
	dir, name := path.Split(p)
	var parent *node
	var err error
	if create {
		parent, err = b.mkdirAll(dir)
	} else {
		parent, err = b.lookupDir(dir)
	}
	if err != nil {
		return nil, "", err
	}
	return parent, name, nil
}

func (b *Backend) lookupDir(p string) (*node, error) {
	p = path.Clean("/" + p)
	if p == "/" {
		return b.root, nil
	}
	cur := b.root
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		child, ok := cur.children[part]
		if !ok || !child.isDir {
			return nil, kerrors.New(kerrors.FS, kerrors.NOTFOUND, "lookup")
		}
		cur = child
	}
	return cur, nil
}

// Lookup implements vfs.Backend.
func (b *Backend) Lookup(relPath string) (any, vfs.Stat, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n, err := b.find(relPath)
	if err != nil {
		return nil, vfs.Stat{}, err
	}
	return n, vfs.Stat{Inode: n.inode, Size: int64(len(n.data)), IsDir: n.isDir, Perms: n.perms}, nil
}

func (b *Backend) find(relPath string) (*node, error) {
	relPath = strings.Trim(relPath, "/")
	if relPath == "" {
		return b.root, nil
	}
	cur := b.root
	for _, part := range strings.Split(relPath, "/") {
		child, ok := cur.children[part]
		if !ok {
			return nil, kerrors.New(kerrors.FS, kerrors.NOTFOUND, "lookup")
		}
		cur = child
	}
	return cur, nil
}

// Open implements vfs.Backend; memfs needs no per-open cursor state
// beyond the node itself.
func (b *Backend) Open(payload any) (any, error) { return nil, nil }

// Close implements vfs.Backend.
func (b *Backend) Close(payload any, cursor any) error { return nil }

// Read implements vfs.Backend.
func (b *Backend) Read(payload any, cursor any, offset int64, buf []byte) (int, error) {
	n := payload.(*node)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n.isDir {
		return 0, kerrors.WithDetail(kerrors.FS, kerrors.ILLEGAL, "read", "is a directory")
	}
	if offset >= int64(len(n.data)) {
		return 0, kerrors.ErrEOF
	}
	return copy(buf, n.data[offset:]), nil
}

// Write implements vfs.Backend.
func (b *Backend) Write(payload any, cursor any, offset int64, buf []byte) (int, error) {
	n := payload.(*node)
	b.mu.Lock()
	defer b.mu.Unlock()
	if n.isDir {
		return 0, kerrors.WithDetail(kerrors.FS, kerrors.ILLEGAL, "write", "is a directory")
	}
	end := offset + int64(len(buf))
	if end > int64(len(n.data)) {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
	}
	return copy(n.data[offset:], buf), nil
}

// Getdents implements vfs.Backend.
func (b *Backend) Getdents(payload any, cursor any) ([]vfs.DirEntry, error) {
	n := payload.(*node)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !n.isDir {
		return nil, kerrors.WithDetail(kerrors.FS, kerrors.ILLEGAL, "getdents", "not a directory")
	}
	entries := make([]vfs.DirEntry, 0, len(n.children))
	for _, child := range n.children {
		entries = append(entries, vfs.DirEntry{
			Inode: child.inode,
			IsDir: child.isDir,
			Perms: child.perms,
			Name:  child.name,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
