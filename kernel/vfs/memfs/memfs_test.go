package memfs

import (
	"testing"

	"badgeros/kernel/vfs"
)

func TestBackend_WriteThenReadRoundTrip(t *testing.T) {
	b := New()
	if err := b.WriteFile("/etc/motd", []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	v := vfs.New()
	if err := v.Mount("/", b); err != nil {
		t.Fatalf("mount: %v", err)
	}
	h, err := v.Open("/etc/motd", false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer v.Close(h)

	buf := make([]byte, 5)
	n, err := v.Read(h, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("read = %q, want hello", buf[:n])
	}
}

func TestBackend_GetdentsListsChildrenSorted(t *testing.T) {
	b := New()
	b.WriteFile("/sbin/init", []byte("x"), 0o755)
	b.WriteFile("/sbin/test", []byte("y"), 0o755)

	v := vfs.New()
	v.Mount("/", b)
	h, err := v.Open("/sbin", false)
	if err != nil {
		t.Fatalf("open dir: %v", err)
	}
	defer v.Close(h)

	entries, err := v.Getdents(h)
	if err != nil {
		t.Fatalf("getdents: %v", err)
	}
	if len(entries) != 2 || entries[0].Name != "init" || entries[1].Name != "test" {
		t.Fatalf("entries = %+v, want sorted [init test]", entries)
	}
}

func TestBackend_ReadPastEndReportsEOF(t *testing.T) {
	b := New()
	b.WriteFile("/f", []byte("ab"), 0o644)
	v := vfs.New()
	v.Mount("/", b)
	h, _ := v.Open("/f", false)
	defer v.Close(h)

	buf := make([]byte, 1)
	v.Read(h, buf)
	v.Read(h, buf)
	if _, err := v.Read(h, buf); err == nil {
		t.Fatal("read past end of file should report an error")
	}
}
