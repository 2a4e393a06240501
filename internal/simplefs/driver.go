// driver.go wires Superblock into the VFS contracts of spec.md §4.9
// (internal/vfs.SuperblockOps), generalized from the teacher's
// ufs.Ufs_t vtable-in-struct pattern (ufs/driver_teacher.go, since
// adapted away) into a plain Go interface implementation, per §9's
// "vtable-in-struct becomes an interface" design note. Descriptors carry
// the inode number in their Location field; Handle.DriverPrivate holds
// the decoded on-disk inode plus (for directories) the cursor used by
// Readdir/Rewinddir.
package simplefs

import (
	"kernel/internal/cache"
	"kernel/internal/defs"
	"kernel/internal/partition"
	"kernel/internal/storage"
	"kernel/internal/vfs"
)

// DriverName is the name this back-end registers under.
const DriverName = "simplefs"

// CacheCapacity is the number of blocks the mount-lifetime cache built
// by NewDriver's OpenSuperblock holds.
const CacheCapacity = 64

type openFile struct {
	ino uint32
	di  *onDiskInode

	// dirCursor is the next directory-entry index Readdir will return,
	// valid only when di.Type == typeDir.
	dirCursor uint32
}

// NewDriver builds a vfs.Driver that mounts a simplefs volume found on
// any (device, partition) pair: Probe opens a throwaway cache just long
// enough to check the magic at block 0, OpenSuperblock builds the real
// mount-lifetime cache over a partition.View (so on-disk addresses are
// already partition-relative), and CloseSuperblock flushes it.
func NewDriver() *vfs.Driver {
	return &vfs.Driver{
		Name: DriverName,
		Probe: func(dev storage.Device, part partition.Partition) bool {
			view := partition.NewView(dev, part)
			c := cache.New(view, BlockSize, 1)
			sb, err := LoadSuperblock(c)
			return err == 0 && sb.Magic == Magic
		},
		OpenSuperblock: func(dev storage.Device, part partition.Partition) (vfs.SuperblockOps, defs.Err_t) {
			view := partition.NewView(dev, part)
			c := cache.New(view, BlockSize, CacheCapacity)
			sb, err := LoadSuperblock(c)
			if err != 0 {
				return nil, err
			}
			return sb, 0
		},
		CloseSuperblock: func(ops vfs.SuperblockOps) defs.Err_t {
			return ops.(*Superblock).Flush()
		},
	}
}

// RootDescriptor returns the descriptor for the volume's root directory.
func (sb *Superblock) RootDescriptor() (*vfs.Descriptor, defs.Err_t) {
	return sb.descriptorFor(sb.RootInode, nil)
}

// descriptorFor reads ino's inode record and builds the vfs.Descriptor
// value Resolve/Lookup pass around.
func (sb *Superblock) descriptorFor(ino uint32, parent *vfs.Descriptor) (*vfs.Descriptor, defs.Err_t) {
	di, err := sb.readInode(ino)
	if err != 0 {
		return nil, err
	}
	kind := vfs.KindFile
	if di.Type == typeDir {
		kind = vfs.KindDir
	}
	return &vfs.Descriptor{
		SB:       sb,
		Location: uint64(ino),
		Size:     di.Size,
		Kind:     kind,
		Parent:   parent,
	}, 0
}

// Lookup resolves name within the directory dir, per spec.md §4.9 step 4.
func (sb *Superblock) Lookup(dir *vfs.Descriptor, name string) (*vfs.Descriptor, defs.Err_t) {
	if dir.Kind != vfs.KindDir {
		return nil, defs.ENotADirectory
	}
	di, err := sb.readInode(uint32(dir.Location))
	if err != 0 {
		return nil, err
	}
	ino, err := sb.lookupDirent(di, name)
	if err != 0 {
		return nil, err
	}
	return sb.descriptorFor(ino, dir)
}

// Open returns a read/write handle over desc, which must name a file.
func (sb *Superblock) Open(desc *vfs.Descriptor) (*vfs.Handle, defs.Err_t) {
	if desc.Kind != vfs.KindFile {
		return nil, defs.ENotAFile
	}
	di, err := sb.readInode(uint32(desc.Location))
	if err != 0 {
		return nil, err
	}
	return &vfs.Handle{SB: sb, Desc: desc, DriverPrivate: &openFile{ino: uint32(desc.Location), di: di}}, 0
}

// Seek repositions h's cursor per the standard SEEK_SET/CUR/END trio.
func (sb *Superblock) Seek(h *vfs.Handle, offset int64, whence int) (int64, defs.Err_t) {
	of := h.DriverPrivate.(*openFile)
	var base int64
	switch whence {
	case vfs.SeekSet:
		base = 0
	case vfs.SeekCur:
		base = h.Offset
	case vfs.SeekEnd:
		base = int64(of.di.Size)
	default:
		return 0, defs.EBadArgument
	}
	n := base + offset
	if n < 0 {
		return 0, defs.EBadArgument
	}
	h.Offset = n
	return n, 0
}

// Read copies up to len(buf) bytes starting at h's cursor, reading
// across block boundaries one block at a time.
func (sb *Superblock) Read(h *vfs.Handle, buf []byte) (int, defs.Err_t) {
	of := h.DriverPrivate.(*openFile)
	if uint64(h.Offset) >= of.di.Size {
		return 0, 0
	}
	remain := of.di.Size - uint64(h.Offset)
	want := len(buf)
	if uint64(want) > remain {
		want = int(remain)
	}
	got := 0
	for got < want {
		blkIdx := uint32((uint64(h.Offset) + uint64(got)) / BlockSize)
		off := int((uint64(h.Offset) + uint64(got)) % BlockSize)
		n := BlockSize - off
		if n > want-got {
			n = want - got
		}
		blk, err := sb.blockFor(of.di, blkIdx, false)
		if err != 0 {
			return got, err
		}
		if blk == 0 {
			for i := 0; i < n; i++ {
				buf[got+i] = 0
			}
		} else if err := sb.c.Read(uint64(blk), off, buf[got:got+n]); err != 0 {
			return got, err
		}
		got += n
	}
	h.Offset += int64(got)
	return got, 0
}

// Write copies buf into the file starting at h's cursor, growing the
// file (allocating blocks as needed) when the cursor plus len(buf)
// exceeds the current size.
func (sb *Superblock) Write(h *vfs.Handle, buf []byte) (int, defs.Err_t) {
	of := h.DriverPrivate.(*openFile)
	if len(buf) == 0 {
		return 0, 0
	}
	written := 0
	for written < len(buf) {
		blkIdx := uint32((uint64(h.Offset) + uint64(written)) / BlockSize)
		off := int((uint64(h.Offset) + uint64(written)) % BlockSize)
		n := BlockSize - off
		if n > len(buf)-written {
			n = len(buf) - written
		}
		blk, err := sb.blockFor(of.di, blkIdx, true)
		if err != 0 {
			return written, err
		}
		if err := sb.c.Write(uint64(blk), off, buf[written:written+n]); err != 0 {
			return written, err
		}
		written += n
	}
	h.Offset += int64(written)
	if uint64(h.Offset) > of.di.Size {
		of.di.Size = uint64(h.Offset)
	}
	h.Desc.Size = of.di.Size
	if err := sb.writeInode(of.ino, of.di); err != 0 {
		return written, err
	}
	return written, 0
}

// Flush writes back every dirty cache entry this superblock owns.
func (sb *Superblock) Flush() defs.Err_t { return sb.c.Flush() }

// Close releases h; there is no buffered driver-private state beyond
// the decoded inode to tear down.
func (sb *Superblock) Close(h *vfs.Handle) defs.Err_t { return 0 }

// Opendir returns a directory-enumeration handle over desc.
func (sb *Superblock) Opendir(desc *vfs.Descriptor) (*vfs.Handle, defs.Err_t) {
	if desc.Kind != vfs.KindDir {
		return nil, defs.ENotADirectory
	}
	di, err := sb.readInode(uint32(desc.Location))
	if err != 0 {
		return nil, err
	}
	return &vfs.Handle{SB: sb, Desc: desc, DriverPrivate: &openFile{ino: uint32(desc.Location), di: di}}, 0
}

// Rewinddir resets h's directory cursor to the first entry.
func (sb *Superblock) Rewinddir(h *vfs.Handle) defs.Err_t {
	h.DriverPrivate.(*openFile).dirCursor = 0
	return 0
}

// Readdir returns the next directory entry as a descriptor, or
// defs.ENoMoreContent once every entry has been returned.
func (sb *Superblock) Readdir(h *vfs.Handle) (*vfs.Descriptor, defs.Err_t) {
	of := h.DriverPrivate.(*openFile)
	n := uint32((of.di.Size + direntSize - 1) / direntSize)
	for of.dirCursor < n {
		idx := of.dirCursor
		of.dirCursor++
		blkIdx := idx / direntsPerBlk
		off := int(idx%direntsPerBlk) * direntSize
		blk, err := sb.blockFor(of.di, blkIdx, false)
		if err != 0 {
			return nil, err
		}
		if blk == 0 {
			continue
		}
		buf := make([]byte, direntSize)
		if err := sb.c.Read(uint64(blk), off, buf); err != 0 {
			return nil, err
		}
		d := decodeDirent(buf)
		if d.Name == "" {
			continue
		}
		desc, err := sb.descriptorFor(d.Ino, h.Desc)
		if err != 0 {
			return nil, err
		}
		desc.Name = d.Name
		return desc, 0
	}
	return nil, defs.ENoMoreContent
}

// Closedir releases h.
func (sb *Superblock) Closedir(h *vfs.Handle) defs.Err_t { return 0 }

// Touch creates an empty file named name in dir.
func (sb *Superblock) Touch(dir *vfs.Descriptor, name string) (*vfs.Descriptor, defs.Err_t) {
	if dir.Kind != vfs.KindDir {
		return nil, defs.ENotADirectory
	}
	dirDi, err := sb.readInode(uint32(dir.Location))
	if err != 0 {
		return nil, err
	}
	if _, err := sb.lookupDirent(dirDi, name); err == 0 {
		return nil, defs.EBadArgument
	}

	ino, err := sb.allocInode()
	if err != 0 {
		return nil, err
	}
	fi := &onDiskInode{Type: typeFile, NLink: 1}
	if err := sb.writeInode(ino, fi); err != 0 {
		sb.freeInode(ino)
		return nil, err
	}
	if _, err := sb.appendDirent(uint32(dir.Location), dirDi, name, ino); err != 0 {
		sb.freeInode(ino)
		return nil, err
	}
	return sb.descriptorFor(ino, dir)
}

// Unlink removes the directory entry name from dir and frees the
// backing inode once its link count reaches zero.
func (sb *Superblock) Unlink(dir *vfs.Descriptor, name string) defs.Err_t {
	if dir.Kind != vfs.KindDir {
		return defs.ENotADirectory
	}
	dirDi, err := sb.readInode(uint32(dir.Location))
	if err != 0 {
		return err
	}
	ino, err := sb.lookupDirent(dirDi, name)
	if err != 0 {
		return err
	}
	target, err := sb.readInode(ino)
	if err != 0 {
		return err
	}
	if target.Type == typeDir {
		return defs.ENotAFile
	}
	if err := sb.removeDirent(uint32(dir.Location), dirDi, name); err != 0 {
		return err
	}
	target.NLink--
	if target.NLink == 0 {
		if err := sb.freeData(target); err != 0 {
			return err
		}
		return sb.freeInode(ino)
	}
	return sb.writeInode(ino, target)
}

// Mkdir creates a new, empty subdirectory named name in dir.
func (sb *Superblock) Mkdir(dir *vfs.Descriptor, name string) (*vfs.Descriptor, defs.Err_t) {
	if dir.Kind != vfs.KindDir {
		return nil, defs.ENotADirectory
	}
	dirDi, err := sb.readInode(uint32(dir.Location))
	if err != 0 {
		return nil, err
	}
	if _, err := sb.lookupDirent(dirDi, name); err == 0 {
		return nil, defs.EBadArgument
	}

	ino, err := sb.allocInode()
	if err != 0 {
		return nil, err
	}
	newDi := &onDiskInode{Type: typeDir, NLink: 2}
	if err := sb.writeInode(ino, newDi); err != 0 {
		sb.freeInode(ino)
		return nil, err
	}
	if _, err := sb.appendDirent(ino, newDi, ".", ino); err != 0 {
		sb.freeInode(ino)
		return nil, err
	}
	if _, err := sb.appendDirent(ino, newDi, "..", uint32(dir.Location)); err != 0 {
		sb.freeInode(ino)
		return nil, err
	}
	if _, err := sb.appendDirent(uint32(dir.Location), dirDi, name, ino); err != 0 {
		sb.freeInode(ino)
		return nil, err
	}
	dirDi.NLink++
	if err := sb.writeInode(uint32(dir.Location), dirDi); err != 0 {
		return nil, err
	}
	return sb.descriptorFor(ino, dir)
}

// Rmdir removes the empty subdirectory named name from dir, per
// spec.md §4.9's "refuses if any entry other than . and .. exists."
func (sb *Superblock) Rmdir(dir *vfs.Descriptor, name string) defs.Err_t {
	if dir.Kind != vfs.KindDir {
		return defs.ENotADirectory
	}
	dirDi, err := sb.readInode(uint32(dir.Location))
	if err != 0 {
		return err
	}
	ino, err := sb.lookupDirent(dirDi, name)
	if err != 0 {
		return err
	}
	target, err := sb.readInode(ino)
	if err != 0 {
		return err
	}
	if target.Type != typeDir {
		return defs.ENotADirectory
	}
	empty, err := sb.dirEmpty(target)
	if err != 0 {
		return err
	}
	if !empty {
		return defs.EDirNotEmpty
	}
	if err := sb.removeDirent(uint32(dir.Location), dirDi, name); err != 0 {
		return err
	}
	if err := sb.freeData(target); err != 0 {
		return err
	}
	if err := sb.freeInode(ino); err != 0 {
		return err
	}
	dirDi.NLink--
	return sb.writeInode(uint32(dir.Location), dirDi)
}
