package simplefs_test

import (
	"testing"

	"kernel/internal/cache"
	"kernel/internal/defs"
	"kernel/internal/simplefs"
	"kernel/internal/storage"
	"kernel/internal/vfs"
)

func newVolume(t *testing.T) *simplefs.Superblock {
	t.Helper()
	dev := storage.NewMemDevice(4096)
	c := cache.New(dev, simplefs.BlockSize, 32)
	sb, err := simplefs.Format(c, 4096*storage.SectorSize/simplefs.BlockSize, 128)
	if err != 0 {
		t.Fatalf("Format: %v", err)
	}
	return sb
}

func TestRootDescriptorIsDirectory(t *testing.T) {
	sb := newVolume(t)
	root, err := sb.RootDescriptor()
	if err != 0 {
		t.Fatalf("RootDescriptor: %v", err)
	}
	if root.Kind != vfs.KindDir {
		t.Fatalf("root Kind = %v, want KindDir", root.Kind)
	}
}

func TestTouchWriteReadRoundTrip(t *testing.T) {
	sb := newVolume(t)
	root, _ := sb.RootDescriptor()

	desc, err := sb.Touch(root, "hello.txt")
	if err != 0 {
		t.Fatalf("Touch: %v", err)
	}
	h, err := sb.Open(desc)
	if err != 0 {
		t.Fatalf("Open: %v", err)
	}
	want := []byte("hello, simplefs")
	if _, err := sb.Write(h, want); err != 0 {
		t.Fatalf("Write: %v", err)
	}
	if _, err := sb.Seek(h, 0, vfs.SeekSet); err != 0 {
		t.Fatalf("Seek: %v", err)
	}
	got := make([]byte, len(want))
	n, err := sb.Read(h, got)
	if err != 0 {
		t.Fatalf("Read: %v", err)
	}
	if n != len(want) || string(got) != string(want) {
		t.Fatalf("Read = %q, want %q", got[:n], want)
	}
}

func TestMkdirLookupAndRmdir(t *testing.T) {
	sb := newVolume(t)
	root, _ := sb.RootDescriptor()

	sub, err := sb.Mkdir(root, "sub")
	if err != 0 {
		t.Fatalf("Mkdir: %v", err)
	}
	found, err := sb.Lookup(root, "sub")
	if err != 0 || found.Kind != vfs.KindDir {
		t.Fatalf("Lookup(sub) = (%v, %v), want a directory", found, err)
	}

	if _, err := sb.Touch(sub, "f"); err != 0 {
		t.Fatalf("Touch in sub: %v", err)
	}
	if err := sb.Rmdir(root, "sub"); err != defs.EDirNotEmpty {
		t.Fatalf("Rmdir non-empty dir = %v, want EDirNotEmpty", err)
	}
	if err := sb.Unlink(sub, "f"); err != 0 {
		t.Fatalf("Unlink: %v", err)
	}
	if err := sb.Rmdir(root, "sub"); err != 0 {
		t.Fatalf("Rmdir empty dir: %v", err)
	}
	if _, err := sb.Lookup(root, "sub"); err != defs.ENotFound {
		t.Fatalf("Lookup(sub) after Rmdir = %v, want ENotFound", err)
	}
}

func TestReaddirListsEntries(t *testing.T) {
	sb := newVolume(t)
	root, _ := sb.RootDescriptor()
	names := []string{"a", "b", "c"}
	for _, n := range names {
		if _, err := sb.Touch(root, n); err != 0 {
			t.Fatalf("Touch(%s): %v", n, err)
		}
	}

	h, err := sb.Opendir(root)
	if err != 0 {
		t.Fatalf("Opendir: %v", err)
	}
	seen := map[string]bool{}
	for {
		d, err := sb.Readdir(h)
		if err == defs.ENoMoreContent {
			break
		}
		if err != 0 {
			t.Fatalf("Readdir: %v", err)
		}
		seen[d.Name] = true
	}
	for _, n := range names {
		if !seen[n] {
			t.Fatalf("Readdir never returned %q", n)
		}
	}
}

func TestWriteSpanningMultipleBlocksSurvivesFlush(t *testing.T) {
	sb := newVolume(t)
	root, _ := sb.RootDescriptor()
	desc, err := sb.Touch(root, "big")
	if err != 0 {
		t.Fatalf("Touch: %v", err)
	}
	h, err := sb.Open(desc)
	if err != 0 {
		t.Fatalf("Open: %v", err)
	}
	buf := make([]byte, simplefs.BlockSize*3+17)
	for i := range buf {
		buf[i] = byte(i)
	}
	if _, err := sb.Write(h, buf); err != 0 {
		t.Fatalf("Write: %v", err)
	}
	if err := sb.Flush(); err != 0 {
		t.Fatalf("Flush: %v", err)
	}

	if _, err := sb.Seek(h, 0, vfs.SeekSet); err != 0 {
		t.Fatalf("Seek: %v", err)
	}
	got := make([]byte, len(buf))
	n, err := sb.Read(h, got)
	if err != 0 {
		t.Fatalf("Read: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("Read returned %d bytes, want %d", n, len(buf))
	}
	for i := range buf {
		if got[i] != buf[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], buf[i])
		}
	}
}
