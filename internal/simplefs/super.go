// Package simplefs is a concrete filesystem back-end driver (spec.md's
// FAT/ext2-style back-end layered under the VFS), grounded on the
// teacher's on-disk superblock field layout (simplefs/super_teacher.go's
// Superblock_t: a sequence of int fields read/written at fixed block
// offsets) and on bitmap-indexed inode/data allocation the way
// original_source's physmem.c allocates physical frames. It is a fixed-
// layout, non-journaled filesystem: no log, no orphan inode list — this
// teaching kernel has no crash-recovery requirement in spec.md, so those
// superblock fields from the teacher (Loglen, Iorphanblock, Iorphanlen)
// are dropped rather than carried as dead weight (see DESIGN.md).
package simplefs

import (
	"encoding/binary"
	"sync"

	"kernel/internal/cache"
	"kernel/internal/defs"
)

// BlockSize is the filesystem's block size in bytes; the block cache
// above a device must be configured to match.
const BlockSize = 4096

// Magic identifies a formatted simplefs volume.
const Magic = 0x53504653 // "SPFS"

// Superblock is the block-0 metadata: inode/data bitmap extents, the
// inode table extent, and the root inode number. It is cached like any
// other block — reads/writes go through the same LRU cache every other
// filesystem block does.
type Superblock struct {
	mu sync.Mutex

	c *cache.Cache

	Magic           uint32
	TotalBlocks     uint32
	InodeBitmapBlk  uint32
	InodeBitmapLen  uint32
	DataBitmapBlk   uint32
	DataBitmapLen   uint32
	InodeTableBlk   uint32
	InodeTableLen   uint32
	NumInodes       uint32
	DataStartBlk    uint32
	RootInode       uint32
}

const (
	sbMagicOff          = 0
	sbTotalBlocksOff    = 4
	sbInodeBitmapBlkOff = 8
	sbInodeBitmapLenOff = 12
	sbDataBitmapBlkOff  = 16
	sbDataBitmapLenOff  = 20
	sbInodeTableBlkOff  = 24
	sbInodeTableLenOff  = 28
	sbNumInodesOff      = 32
	sbDataStartBlkOff   = 36
	sbRootInodeOff      = 40
)

// LoadSuperblock reads and validates block 0 of c.
func LoadSuperblock(c *cache.Cache) (*Superblock, defs.Err_t) {
	buf := make([]byte, 44)
	if err := c.Read(0, 0, buf); err != 0 {
		return nil, err
	}
	sb := &Superblock{
		c:              c,
		Magic:          binary.LittleEndian.Uint32(buf[sbMagicOff:]),
		TotalBlocks:    binary.LittleEndian.Uint32(buf[sbTotalBlocksOff:]),
		InodeBitmapBlk: binary.LittleEndian.Uint32(buf[sbInodeBitmapBlkOff:]),
		InodeBitmapLen: binary.LittleEndian.Uint32(buf[sbInodeBitmapLenOff:]),
		DataBitmapBlk:  binary.LittleEndian.Uint32(buf[sbDataBitmapBlkOff:]),
		DataBitmapLen:  binary.LittleEndian.Uint32(buf[sbDataBitmapLenOff:]),
		InodeTableBlk:  binary.LittleEndian.Uint32(buf[sbInodeTableBlkOff:]),
		InodeTableLen:  binary.LittleEndian.Uint32(buf[sbInodeTableLenOff:]),
		NumInodes:      binary.LittleEndian.Uint32(buf[sbNumInodesOff:]),
		DataStartBlk:   binary.LittleEndian.Uint32(buf[sbDataStartBlkOff:]),
		RootInode:      binary.LittleEndian.Uint32(buf[sbRootInodeOff:]),
	}
	if sb.Magic != Magic {
		return nil, defs.ENoFsMounted
	}
	return sb, 0
}

func (sb *Superblock) writeBack() defs.Err_t {
	buf := make([]byte, 44)
	binary.LittleEndian.PutUint32(buf[sbMagicOff:], sb.Magic)
	binary.LittleEndian.PutUint32(buf[sbTotalBlocksOff:], sb.TotalBlocks)
	binary.LittleEndian.PutUint32(buf[sbInodeBitmapBlkOff:], sb.InodeBitmapBlk)
	binary.LittleEndian.PutUint32(buf[sbInodeBitmapLenOff:], sb.InodeBitmapLen)
	binary.LittleEndian.PutUint32(buf[sbDataBitmapBlkOff:], sb.DataBitmapBlk)
	binary.LittleEndian.PutUint32(buf[sbDataBitmapLenOff:], sb.DataBitmapLen)
	binary.LittleEndian.PutUint32(buf[sbInodeTableBlkOff:], sb.InodeTableBlk)
	binary.LittleEndian.PutUint32(buf[sbInodeTableLenOff:], sb.InodeTableLen)
	binary.LittleEndian.PutUint32(buf[sbNumInodesOff:], sb.NumInodes)
	binary.LittleEndian.PutUint32(buf[sbDataStartBlkOff:], sb.DataStartBlk)
	binary.LittleEndian.PutUint32(buf[sbRootInodeOff:], sb.RootInode)
	return sb.c.Write(0, 0, buf)
}

// Format lays out a fresh simplefs volume over totalBlocks blocks of c,
// with numInodes inodes, and creates the root directory. Grounded on the
// teacher's superblock field set, trimmed to the extents this driver
// actually uses.
func Format(c *cache.Cache, totalBlocks, numInodes uint32) (*Superblock, defs.Err_t) {
	inodeBitmapLen := ceilDiv(numInodes, 8*BlockSize)
	inodeTableLen := ceilDiv(numInodes*inodeOnDiskSize, BlockSize)

	inodeBitmapBlk := uint32(1)
	inodeTableBlk := inodeBitmapBlk + inodeBitmapLen
	// data bitmap sized against the blocks remaining after the fixed
	// metadata region; an approximation good enough for a teaching fs.
	metaSoFar := 1 + inodeBitmapLen + inodeTableLen
	dataBitmapLen := ceilDiv(totalBlocks-metaSoFar, 8*BlockSize)
	if dataBitmapLen == 0 {
		dataBitmapLen = 1
	}
	dataBitmapBlk := inodeTableBlk + inodeTableLen
	dataStartBlk := dataBitmapBlk + dataBitmapLen

	sb := &Superblock{
		c:              c,
		Magic:          Magic,
		TotalBlocks:    totalBlocks,
		InodeBitmapBlk: inodeBitmapBlk,
		InodeBitmapLen: inodeBitmapLen,
		DataBitmapBlk:  dataBitmapBlk,
		DataBitmapLen:  dataBitmapLen,
		InodeTableBlk:  inodeTableBlk,
		InodeTableLen:  inodeTableLen,
		NumInodes:      numInodes,
		DataStartBlk:   dataStartBlk,
		RootInode:      1,
	}

	for b := uint32(0); b < totalBlocks && b < dataStartBlk; b++ {
		c.Wipe(uint64(b))
	}
	if err := sb.writeBack(); err != 0 {
		return nil, err
	}

	// Reserve inode 0 (never used) and inode 1 (root).
	if err := sb.markInode(0, true); err != 0 {
		return nil, err
	}
	if err := sb.markInode(1, true); err != 0 {
		return nil, err
	}

	root := &onDiskInode{Type: typeDir, Size: 0, NLink: 2}
	if err := sb.writeInode(1, root); err != 0 {
		return nil, err
	}
	if _, err := sb.appendDirent(1, root, ".", 1); err != 0 {
		return nil, err
	}
	if _, err := sb.appendDirent(1, root, "..", 1); err != 0 {
		return nil, err
	}
	return sb, 0
}

func ceilDiv(n, d uint32) uint32 {
	if n == 0 {
		return 0
	}
	return (n + d - 1) / d
}

// bitmap helpers operate directly on cache-backed blocks: one bit per
// inode/data block, matching the mem.Allocator's flat-bitmap approach.

func (sb *Superblock) testBit(bitmapBlk uint32, idx uint32) (bool, defs.Err_t) {
	blk := bitmapBlk + idx/(8*BlockSize)
	byteOff := int((idx / 8) % BlockSize)
	var b [1]byte
	if err := sb.c.Read(uint64(blk), byteOff, b[:]); err != 0 {
		return false, err
	}
	return b[0]&(1<<(idx%8)) != 0, 0
}

func (sb *Superblock) setBit(bitmapBlk uint32, idx uint32, v bool) defs.Err_t {
	blk := bitmapBlk + idx/(8*BlockSize)
	byteOff := int((idx / 8) % BlockSize)
	var b [1]byte
	if err := sb.c.Read(uint64(blk), byteOff, b[:]); err != 0 {
		return err
	}
	if v {
		b[0] |= 1 << (idx % 8)
	} else {
		b[0] &^= 1 << (idx % 8)
	}
	return sb.c.Write(uint64(blk), byteOff, b[:])
}

func (sb *Superblock) markInode(ino uint32, used bool) defs.Err_t {
	return sb.setBit(sb.InodeBitmapBlk, ino, used)
}

func (sb *Superblock) markData(idx uint32, used bool) defs.Err_t {
	return sb.setBit(sb.DataBitmapBlk, idx, used)
}

// allocInode finds a free inode number and marks it used.
func (sb *Superblock) allocInode() (uint32, defs.Err_t) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	for i := uint32(0); i < sb.NumInodes; i++ {
		used, err := sb.testBit(sb.InodeBitmapBlk, i)
		if err != 0 {
			return 0, err
		}
		if !used {
			if err := sb.markInode(i, true); err != 0 {
				return 0, err
			}
			return i, 0
		}
	}
	return 0, defs.EResourcesExhausted
}

func (sb *Superblock) freeInode(ino uint32) defs.Err_t {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.markInode(ino, false)
}

// allocBlock finds a free data block and returns its absolute block
// number (DataStartBlk plus its index in the data bitmap).
func (sb *Superblock) allocBlock() (uint32, defs.Err_t) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	maxData := sb.TotalBlocks - sb.DataStartBlk
	for i := uint32(0); i < maxData; i++ {
		used, err := sb.testBit(sb.DataBitmapBlk, i)
		if err != 0 {
			return 0, err
		}
		if !used {
			if err := sb.markData(i, true); err != 0 {
				return 0, err
			}
			if err := sb.c.Wipe(uint64(sb.DataStartBlk + i)); err != 0 {
				return 0, err
			}
			return sb.DataStartBlk + i, 0
		}
	}
	return 0, defs.EResourcesExhausted
}

func (sb *Superblock) freeBlock(blk uint32) defs.Err_t {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.markData(blk-sb.DataStartBlk, false)
}

// Flush writes back every dirty cache entry belonging to this volume.
func (sb *Superblock) Flush() defs.Err_t {
	return sb.c.Flush()
}
