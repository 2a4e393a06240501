// Package storage implements the uniform storage device abstraction of
// spec.md §4.7: sector-addressed read/write behind one interface, with a
// registry handing out monotonic device numbers at probe time so nothing
// above this layer knows whether a device is ATA, AHCI, or memory-backed.
// Grounded on original_source's src/kernel/core/drivers/ata.c and sata.c
// for the sector_device shape, and on the teacher's ahci_disk_t
// (storage/driver_teacher.go) for the file-backed device used in tests —
// Seek-then-read/write under a per-device lock so a command is atomic.
package storage

import (
	"os"
	"sync"

	"kernel/internal/defs"
)

// SectorSize is the fixed sector size every device speaks, matching the
// 512-byte sectors spec.md's partition layer assumes (MBR/GPT LBAs).
const SectorSize = 512

// Device is the uniform interface spec.md §4.7 describes: sector_size,
// read(sector, count, buf), write(sector, count, buf).
type Device interface {
	SectorSize() int
	NumSectors() uint64
	ReadSectors(lba uint64, count int, buf []byte) defs.Err_t
	WriteSectors(lba uint64, count int, buf []byte) defs.Err_t
	Flush() defs.Err_t
}

// Registry is the global device list spec.md §4.7 describes: devices
// register at probe time and receive a monotonic dev_no.
type Registry struct {
	mu      sync.Mutex
	devices []Device
}

// Register adds d to the registry and returns its assigned dev_no.
func (r *Registry) Register(d Device) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = append(r.devices, d)
	return len(r.devices) - 1
}

// Get returns the device registered at devNo.
func (r *Registry) Get(devNo int) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if devNo < 0 || devNo >= len(r.devices) {
		return nil, false
	}
	return r.devices[devNo], true
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// MemDevice is a memory-backed device, the hosted stand-in for a disk
// when no file backing is needed (unit tests, ramdisk-style seed data).
type MemDevice struct {
	mu   sync.Mutex
	data []byte
}

// NewMemDevice allocates a zeroed memory device of the given sector
// count.
func NewMemDevice(sectors uint64) *MemDevice {
	return &MemDevice{data: make([]byte, sectors*SectorSize)}
}

func (m *MemDevice) SectorSize() int    { return SectorSize }
func (m *MemDevice) NumSectors() uint64 { return uint64(len(m.data)) / SectorSize }

func (m *MemDevice) ReadSectors(lba uint64, count int, buf []byte) defs.Err_t {
	m.mu.Lock()
	defer m.mu.Unlock()
	off := lba * SectorSize
	n := uint64(count) * SectorSize
	if off+n > uint64(len(m.data)) || uint64(len(buf)) < n {
		return defs.EOutOfBounds
	}
	copy(buf[:n], m.data[off:off+n])
	return 0
}

func (m *MemDevice) WriteSectors(lba uint64, count int, buf []byte) defs.Err_t {
	m.mu.Lock()
	defer m.mu.Unlock()
	off := lba * SectorSize
	n := uint64(count) * SectorSize
	if off+n > uint64(len(m.data)) || uint64(len(buf)) < n {
		return defs.EOutOfBounds
	}
	copy(m.data[off:off+n], buf[:n])
	return 0
}

func (m *MemDevice) Flush() defs.Err_t { return 0 }

// FileDevice is a disk image backed by an *os.File, grounded directly on
// the teacher's ahci_disk_t: a per-device lock makes each Seek-then-
// Read/Write pair atomic, the way a real controller serializes commands
// to one device.
type FileDevice struct {
	mu      sync.Mutex
	f       *os.File
	sectors uint64
}

// OpenFileDevice opens path (which must already exist and be sized to a
// whole number of sectors) as a FileDevice.
func OpenFileDevice(path string) (*FileDevice, defs.Err_t) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, defs.ENoMedia
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, defs.ENoMedia
	}
	return &FileDevice{f: f, sectors: uint64(fi.Size()) / SectorSize}, 0
}

// CreateFileDevice creates (or truncates) path to hold sectors sectors
// and returns it as a FileDevice, for cmd/mkfs building a fresh image.
func CreateFileDevice(path string, sectors uint64) (*FileDevice, defs.Err_t) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, defs.ENoMedia
	}
	if err := f.Truncate(int64(sectors * SectorSize)); err != nil {
		f.Close()
		return nil, defs.ENoMedia
	}
	return &FileDevice{f: f, sectors: sectors}, 0
}

func (fd *FileDevice) SectorSize() int    { return SectorSize }
func (fd *FileDevice) NumSectors() uint64 { return fd.sectors }

func (fd *FileDevice) ReadSectors(lba uint64, count int, buf []byte) defs.Err_t {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	n := count * SectorSize
	if len(buf) < n {
		return defs.EOutOfBounds
	}
	if _, err := fd.f.Seek(int64(lba*SectorSize), 0); err != nil {
		return defs.EReadError
	}
	if _, err := readFull(fd.f, buf[:n]); err != nil {
		return defs.EReadError
	}
	return 0
}

func (fd *FileDevice) WriteSectors(lba uint64, count int, buf []byte) defs.Err_t {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	n := count * SectorSize
	if len(buf) < n {
		return defs.EOutOfBounds
	}
	if _, err := fd.f.Seek(int64(lba*SectorSize), 0); err != nil {
		return defs.EWriteError
	}
	if _, err := fd.f.Write(buf[:n]); err != nil {
		return defs.EWriteError
	}
	return 0
}

func (fd *FileDevice) Flush() defs.Err_t {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if err := fd.f.Sync(); err != nil {
		return defs.EWriteError
	}
	return 0
}

// Close releases the underlying file.
func (fd *FileDevice) Close() error {
	return fd.f.Close()
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
