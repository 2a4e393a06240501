package simplefs

import (
	"encoding/binary"

	"kernel/internal/defs"
)

// File kinds, matching the File|Dir distinction in the descriptor's
// flags field.
const (
	typeFree = 0
	typeFile = 1
	typeDir  = 2
)

const (
	numDirect   = 12
	ptrsPerBlk  = BlockSize / 4
	maxFileSize = (numDirect + ptrsPerBlk) * BlockSize
)

// inodeOnDiskSize is the fixed per-inode record size in the inode table;
// 128 bytes leaves room for the direct/indirect pointer array without
// packing bits, the way the teacher's fs package gives every on-disk
// record a fixed stride so inode number arithmetic is a plain multiply.
const inodeOnDiskSize = 128

const (
	inoTypeOff     = 0
	inoNLinkOff    = 4
	inoSizeOff     = 8
	inoDirectOff   = 16
	inoIndirectOff = inoDirectOff + numDirect*4
)

// onDiskInode is an in-memory decode of one inode table record: file
// type, link count, byte size, and the direct/single-indirect block
// pointers that locate its data.
type onDiskInode struct {
	Type    uint8
	NLink   uint16
	Size    uint64
	Direct  [numDirect]uint32
	Indirect uint32
}

func decodeInode(buf []byte) *onDiskInode {
	ino := &onDiskInode{
		Type:     buf[inoTypeOff],
		NLink:    binary.LittleEndian.Uint16(buf[inoNLinkOff:]),
		Size:     binary.LittleEndian.Uint64(buf[inoSizeOff:]),
		Indirect: binary.LittleEndian.Uint32(buf[inoIndirectOff:]),
	}
	for i := 0; i < numDirect; i++ {
		ino.Direct[i] = binary.LittleEndian.Uint32(buf[inoDirectOff+i*4:])
	}
	return ino
}

func encodeInode(ino *onDiskInode, buf []byte) {
	buf[inoTypeOff] = ino.Type
	binary.LittleEndian.PutUint16(buf[inoNLinkOff:], ino.NLink)
	binary.LittleEndian.PutUint64(buf[inoSizeOff:], ino.Size)
	binary.LittleEndian.PutUint32(buf[inoIndirectOff:], ino.Indirect)
	for i := 0; i < numDirect; i++ {
		binary.LittleEndian.PutUint32(buf[inoDirectOff+i*4:], ino.Direct[i])
	}
}

// inodeLocation returns the block and in-block byte offset holding ino.
func (sb *Superblock) inodeLocation(ino uint32) (blk uint32, off int) {
	perBlock := uint32(BlockSize / inodeOnDiskSize)
	blk = sb.InodeTableBlk + ino/perBlock
	off = int(ino%perBlock) * inodeOnDiskSize
	return
}

func (sb *Superblock) readInode(ino uint32) (*onDiskInode, defs.Err_t) {
	blk, off := sb.inodeLocation(ino)
	buf := make([]byte, inodeOnDiskSize)
	if err := sb.c.Read(uint64(blk), off, buf); err != 0 {
		return nil, err
	}
	di := decodeInode(buf)
	if di.Type == typeFree {
		return nil, defs.ENotFound
	}
	return di, 0
}

func (sb *Superblock) writeInode(ino uint32, di *onDiskInode) defs.Err_t {
	blk, off := sb.inodeLocation(ino)
	buf := make([]byte, inodeOnDiskSize)
	encodeInode(di, buf)
	return sb.c.Write(uint64(blk), off, buf)
}

// blockFor returns the absolute block number holding the blkIdx'th block
// of an inode's data, allocating it (and, if needed, the indirect block)
// when alloc is true and the slot is empty.
func (sb *Superblock) blockFor(di *onDiskInode, blkIdx uint32, alloc bool) (uint32, defs.Err_t) {
	if blkIdx < numDirect {
		if di.Direct[blkIdx] == 0 && alloc {
			nb, err := sb.allocBlock()
			if err != 0 {
				return 0, err
			}
			di.Direct[blkIdx] = nb
		}
		return di.Direct[blkIdx], 0
	}

	idx := blkIdx - numDirect
	if idx >= ptrsPerBlk {
		return 0, defs.EBadArgument
	}
	if di.Indirect == 0 {
		if !alloc {
			return 0, 0
		}
		nb, err := sb.allocBlock()
		if err != 0 {
			return 0, err
		}
		di.Indirect = nb
	}
	var ptr [4]byte
	if err := sb.c.Read(uint64(di.Indirect), int(idx*4), ptr[:]); err != 0 {
		return 0, err
	}
	blk := binary.LittleEndian.Uint32(ptr[:])
	if blk == 0 && alloc {
		nb, err := sb.allocBlock()
		if err != 0 {
			return 0, err
		}
		binary.LittleEndian.PutUint32(ptr[:], nb)
		if err := sb.c.Write(uint64(di.Indirect), int(idx*4), ptr[:]); err != 0 {
			return 0, err
		}
		blk = nb
	}
	return blk, 0
}

// freeData releases every data block (direct and indirect) owned by di.
func (sb *Superblock) freeData(di *onDiskInode) defs.Err_t {
	for i := 0; i < numDirect; i++ {
		if di.Direct[i] != 0 {
			if err := sb.freeBlock(di.Direct[i]); err != 0 {
				return err
			}
			di.Direct[i] = 0
		}
	}
	if di.Indirect != 0 {
		n := (di.Size + BlockSize - 1) / BlockSize
		if n > numDirect {
			count := n - numDirect
			for i := uint64(0); i < count && i < ptrsPerBlk; i++ {
				var ptr [4]byte
				if err := sb.c.Read(uint64(di.Indirect), int(i*4), ptr[:]); err != 0 {
					return err
				}
				blk := binary.LittleEndian.Uint32(ptr[:])
				if blk != 0 {
					if err := sb.freeBlock(blk); err != 0 {
						return err
					}
				}
			}
		}
		if err := sb.freeBlock(di.Indirect); err != 0 {
			return err
		}
		di.Indirect = 0
	}
	di.Size = 0
	return 0
}
