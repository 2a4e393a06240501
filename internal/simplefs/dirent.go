package simplefs

import (
	"encoding/binary"

	"kernel/internal/defs"
)

// Fixed-size directory entries, the way the teacher's Dirdata_t packs a
// name and inode number at a constant stride so NDIRENTS entries fit
// exactly in one block — here sized for simplefs's own block/name limits
// rather than copied from the teacher's constants.
const (
	directNameMax = 28
	direntSize    = directNameMax + 4 // name + inode number
	direntsPerBlk = BlockSize / direntSize
)

type dirent struct {
	Name string
	Ino  uint32
}

func decodeDirent(buf []byte) dirent {
	nameEnd := 0
	for nameEnd < directNameMax && buf[nameEnd] != 0 {
		nameEnd++
	}
	return dirent{
		Name: string(buf[:nameEnd]),
		Ino:  binary.LittleEndian.Uint32(buf[directNameMax:]),
	}
}

func encodeDirent(d dirent, buf []byte) defs.Err_t {
	if len(d.Name) > directNameMax {
		return defs.EBadArgument
	}
	for i := range buf[:direntSize] {
		buf[i] = 0
	}
	copy(buf, d.Name)
	binary.LittleEndian.PutUint32(buf[directNameMax:], d.Ino)
	return 0
}

// forEachDirent walks every occupied directory entry of di, calling f
// until it returns false or the directory is exhausted.
func (sb *Superblock) forEachDirent(di *onDiskInode, f func(idx uint32, d dirent) bool) defs.Err_t {
	n := uint32((di.Size + direntSize - 1) / direntSize)
	buf := make([]byte, direntSize)
	for i := uint32(0); i < n; i++ {
		blkIdx := i / direntsPerBlk
		off := int(i%direntsPerBlk) * direntSize
		blk, err := sb.blockFor(di, blkIdx, false)
		if err != 0 {
			return err
		}
		if blk == 0 {
			continue
		}
		if err := sb.c.Read(uint64(blk), off, buf); err != 0 {
			return err
		}
		d := decodeDirent(buf)
		if d.Name == "" {
			continue
		}
		if !f(i, d) {
			break
		}
	}
	return 0
}

// lookupDirent finds name within the directory described by di.
func (sb *Superblock) lookupDirent(di *onDiskInode, name string) (uint32, defs.Err_t) {
	var found uint32
	var ok bool
	err := sb.forEachDirent(di, func(_ uint32, d dirent) bool {
		if d.Name == name {
			found = d.Ino
			ok = true
			return false
		}
		return true
	})
	if err != 0 {
		return 0, err
	}
	if !ok {
		return 0, defs.ENotFound
	}
	return found, 0
}

// appendDirent adds a (name -> ino) entry to the directory inode dirIno
// (whose decoded form is di), reusing the first empty slot if one
// exists and growing the directory otherwise.
func (sb *Superblock) appendDirent(dirIno uint32, di *onDiskInode, name string, ino uint32) (uint32, defs.Err_t) {
	n := uint32((di.Size + direntSize - 1) / direntSize)
	buf := make([]byte, direntSize)

	for i := uint32(0); i < n; i++ {
		blkIdx := i / direntsPerBlk
		off := int(i%direntsPerBlk) * direntSize
		blk, err := sb.blockFor(di, blkIdx, false)
		if err != 0 {
			return 0, err
		}
		if blk == 0 {
			continue
		}
		if err := sb.c.Read(uint64(blk), off, buf); err != 0 {
			return 0, err
		}
		if decodeDirent(buf).Name == "" {
			d := dirent{Name: name, Ino: ino}
			if err := encodeDirent(d, buf); err != 0 {
				return 0, err
			}
			if err := sb.c.Write(uint64(blk), off, buf); err != 0 {
				return 0, err
			}
			return i, sb.writeInode(dirIno, di)
		}
	}

	blkIdx := n / direntsPerBlk
	off := int(n%direntsPerBlk) * direntSize
	blk, err := sb.blockFor(di, blkIdx, true)
	if err != 0 {
		return 0, err
	}
	d := dirent{Name: name, Ino: ino}
	if err := encodeDirent(d, buf); err != 0 {
		return 0, err
	}
	if err := sb.c.Write(uint64(blk), off, buf); err != 0 {
		return 0, err
	}
	di.Size = uint64(n+1) * direntSize
	if err := sb.writeInode(dirIno, di); err != 0 {
		return 0, err
	}
	return n, 0
}

// removeDirent clears the entry named name from the directory, leaving
// a hole for appendDirent to reuse later (no compaction, matching a
// bitmap-allocator's don't-shuffle-on-free discipline).
func (sb *Superblock) removeDirent(dirIno uint32, di *onDiskInode, name string) defs.Err_t {
	var target uint32
	var ok bool
	err := sb.forEachDirent(di, func(idx uint32, d dirent) bool {
		if d.Name == name {
			target = idx
			ok = true
			return false
		}
		return true
	})
	if err != 0 {
		return err
	}
	if !ok {
		return defs.ENotFound
	}

	blkIdx := target / direntsPerBlk
	off := int(target%direntsPerBlk) * direntSize
	blk, err := sb.blockFor(di, blkIdx, false)
	if err != 0 {
		return err
	}
	zero := make([]byte, direntSize)
	return sb.c.Write(uint64(blk), off, zero)
}

// dirEmpty reports whether di's directory has any entry besides "." and
// "..", the precondition rmdir must check before removing a directory.
func (sb *Superblock) dirEmpty(di *onDiskInode) (bool, defs.Err_t) {
	empty := true
	err := sb.forEachDirent(di, func(_ uint32, d dirent) bool {
		if d.Name != "." && d.Name != ".." {
			empty = false
			return false
		}
		return true
	})
	return empty, err
}
