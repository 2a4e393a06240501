package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMemDeviceRoundTrip(t *testing.T) {
	d := NewMemDevice(16)
	want := make([]byte, 2*SectorSize)
	for i := range want {
		want[i] = byte(i)
	}
	if err := d.WriteSectors(3, 2, want); err != 0 {
		t.Fatalf("WriteSectors: %v", err)
	}
	got := make([]byte, 2*SectorSize)
	if err := d.ReadSectors(3, 2, got); err != 0 {
		t.Fatalf("ReadSectors: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMemDeviceOutOfBounds(t *testing.T) {
	d := NewMemDevice(4)
	buf := make([]byte, SectorSize)
	if err := d.ReadSectors(10, 1, buf); err == 0 {
		t.Fatal("expected out-of-bounds error")
	}
}

func TestRegistryAssignsMonotonicDevNo(t *testing.T) {
	var r Registry
	a := r.Register(NewMemDevice(1))
	b := r.Register(NewMemDevice(1))
	if a != 0 || b != 1 {
		t.Fatalf("dev numbers = %d,%d, want 0,1", a, b)
	}
	if r.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", r.Count())
	}
}

func TestFileDeviceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	if err := os.WriteFile(path, make([]byte, 8*SectorSize), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	d, err := OpenFileDevice(path)
	if err != 0 {
		t.Fatalf("OpenFileDevice: %v", err)
	}
	defer d.Close()

	want := []byte("hello, disk")
	buf := make([]byte, SectorSize)
	copy(buf, want)
	if err := d.WriteSectors(2, 1, buf); err != 0 {
		t.Fatalf("WriteSectors: %v", err)
	}
	got := make([]byte, SectorSize)
	if err := d.ReadSectors(2, 1, got); err != 0 {
		t.Fatalf("ReadSectors: %v", err)
	}
	if string(got[:len(want)]) != string(want) {
		t.Fatalf("got %q, want %q", got[:len(want)], want)
	}
}

func TestCreateFileDeviceSizesTheImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.img")
	d, err := CreateFileDevice(path, 16)
	if err != 0 {
		t.Fatalf("CreateFileDevice: %v", err)
	}
	defer d.Close()

	if d.NumSectors() != 16 {
		t.Fatalf("NumSectors() = %d, want 16", d.NumSectors())
	}
	info, statErr := os.Stat(path)
	if statErr != nil {
		t.Fatalf("Stat: %v", statErr)
	}
	if info.Size() != 16*SectorSize {
		t.Fatalf("file size = %d, want %d", info.Size(), 16*SectorSize)
	}

	buf := make([]byte, SectorSize)
	copy(buf, "seeded")
	if err := d.WriteSectors(5, 1, buf); err != 0 {
		t.Fatalf("WriteSectors: %v", err)
	}
	got := make([]byte, SectorSize)
	if err := d.ReadSectors(5, 1, got); err != 0 {
		t.Fatalf("ReadSectors: %v", err)
	}
	if string(got[:6]) != "seeded" {
		t.Fatalf("got %q, want %q", got[:6], "seeded")
	}
}

func TestCreateFileDeviceTruncatesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "existing.img")
	if err := os.WriteFile(path, make([]byte, 64*SectorSize), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	d, err := CreateFileDevice(path, 4)
	if err != 0 {
		t.Fatalf("CreateFileDevice: %v", err)
	}
	defer d.Close()
	if d.NumSectors() != 4 {
		t.Fatalf("NumSectors() = %d, want 4 after truncation", d.NumSectors())
	}
}
