// Package vfs implements the path-resolution and mount layer that sits
// above concrete filesystem back-ends (internal/simplefs and whatever
// else registers against it), grounded on the teacher's fd/stat
// value-type shapes (vfs/fd_teacher.go, vfs/stat_teacher.go) generalized
// from biscuit's single hard-coded filesystem to a driver-registry model
// the way original_source's vfs.h separates file_ops from
// filesys_driver.
package vfs

import "kernel/internal/defs"

// Kind distinguishes a descriptor's target.
type Kind int

const (
	KindFile Kind = iota
	KindDir
)

// Descriptor is the path-resolution form of an open file: a
// value-type record identifying a location within one mounted
// superblock. Descriptors are cloneable and comparable by value; they
// never own file data. The Parent chain terminates at a root
// descriptor whose Parent is nil.
type Descriptor struct {
	SB       SuperblockOps
	Name     string
	Location uint64 // filesystem-private: inode number, cluster, etc.
	Size     uint64
	Kind     Kind
	Ctime    int64
	Mtime    int64
	Parent   *Descriptor
}

// IsMountPoint reports whether d names a directory another filesystem
// is mounted on, as recorded in the owning MountTable.
func (d *Descriptor) IsMountPoint(mt *MountTable) (*Mount, bool) {
	return mt.lookupAt(d)
}

// Handle is an opened file: the cursor and back-end-private buffered
// state needed to read/seek/write, layered over a Descriptor.
type Handle struct {
	SB            SuperblockOps
	Desc          *Descriptor
	Offset        int64
	DriverPrivate interface{}
}

// SuperblockOps is the vtable every filesystem back-end must implement,
// one instance per mounted volume.
type SuperblockOps interface {
	RootDescriptor() (*Descriptor, defs.Err_t)
	Lookup(dir *Descriptor, name string) (*Descriptor, defs.Err_t)
	Open(desc *Descriptor) (*Handle, defs.Err_t)
	Seek(h *Handle, offset int64, whence int) (int64, defs.Err_t)
	Read(h *Handle, buf []byte) (int, defs.Err_t)
	Write(h *Handle, buf []byte) (int, defs.Err_t)
	Flush() defs.Err_t
	Close(h *Handle) defs.Err_t
	Opendir(desc *Descriptor) (*Handle, defs.Err_t)
	Rewinddir(h *Handle) defs.Err_t
	Readdir(h *Handle) (*Descriptor, defs.Err_t)
	Closedir(h *Handle) defs.Err_t
	Touch(dir *Descriptor, name string) (*Descriptor, defs.Err_t)
	Unlink(dir *Descriptor, name string) defs.Err_t
	Mkdir(dir *Descriptor, name string) (*Descriptor, defs.Err_t)
	Rmdir(dir *Descriptor, name string) defs.Err_t
}

// Seek whence values, mirroring the standard SEEK_SET/CUR/END trio the
// teacher's defs package defines for Lseek.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)
