// Package kheap implements the kernel's variable-size heap allocator: a
// best-fit, split/coalesce allocator over one contiguous pinned frame
// range, grounded on original_source's src/kernel/core/memory/kheap.c for
// the sentinel-node shape (magic-guarded doubly-linked blocks, tail
// permanently used) and generalized from first-fit to the best-fit
// selection spec.md §4.3 calls for.
package kheap

import (
	"encoding/binary"
	"unsafe"

	"kernel/internal/defs"
	"kernel/internal/mem"
)

// magic guards every block header against underflow/overflow corruption.
const magic = 0x6AFEC0DE

// headerSize is the encoded size of a block header: used(4) size(4)
// magic(4) prev(4) next(4), offsets stored as int32 relative to the arena
// base, -1 meaning "none".
const headerSize = 20

const none = -1

// Heap is a single contiguous pinned byte arena carved into a doubly
// linked chain of used/free blocks.
type Heap struct {
	arena []byte
	base  mem.Frame
}

// New carves a heap out of frames freshly allocated from alloc, sized to
// at least minBytes (rounded up to whole frames). Frames returned by
// AllocateContiguous are adjacent frame numbers, so their PhysMem bytes
// are adjacent too; the heap's arena is built by concatenating each
// frame's direct-mapped slice into one contiguous buffer.
func New(alloc *mem.Allocator, phys *mem.PhysMem, minBytes int) (*Heap, defs.Err_t) {
	frames := (minBytes + mem.PGSIZE - 1) / mem.PGSIZE
	base, err := alloc.AllocateContiguous(frames*mem.PGSIZE, 0)
	if err != 0 {
		return nil, err
	}

	arena := make([]byte, frames*mem.PGSIZE)
	for i := 0; i < frames; i++ {
		copy(arena[i*mem.PGSIZE:], phys.Dmap(mem.Frame(uint32(base)+uint32(i))))
	}

	h := &Heap{arena: arena, base: base}
	h.initBlocks()
	return h, 0
}

func (h *Heap) initBlocks() {
	headSize := len(h.arena) - 2*headerSize
	h.writeHeader(0, false, headSize, none, headerSize+headSize)
	h.writeHeader(headerSize+headSize, true, 0, 0, none)
}

func (h *Heap) writeHeader(off int, used bool, size int, prev, next int) {
	u := uint32(0)
	if used {
		u = 1
	}
	binary.LittleEndian.PutUint32(h.arena[off:], u)
	binary.LittleEndian.PutUint32(h.arena[off+4:], uint32(size))
	binary.LittleEndian.PutUint32(h.arena[off+8:], magic)
	binary.LittleEndian.PutUint32(h.arena[off+12:], uint32(int32(prev)))
	binary.LittleEndian.PutUint32(h.arena[off+16:], uint32(int32(next)))
}

func (h *Heap) used(off int) bool { return binary.LittleEndian.Uint32(h.arena[off:]) != 0 }
func (h *Heap) setUsed(off int, v bool) {
	u := uint32(0)
	if v {
		u = 1
	}
	binary.LittleEndian.PutUint32(h.arena[off:], u)
}
func (h *Heap) size(off int) int { return int(binary.LittleEndian.Uint32(h.arena[off+4:])) }
func (h *Heap) setSize(off, v int) {
	binary.LittleEndian.PutUint32(h.arena[off+4:], uint32(v))
}
func (h *Heap) blockMagic(off int) uint32 { return binary.LittleEndian.Uint32(h.arena[off+8:]) }
func (h *Heap) prev(off int) int {
	return int(int32(binary.LittleEndian.Uint32(h.arena[off+12:])))
}
func (h *Heap) setPrev(off, v int) {
	binary.LittleEndian.PutUint32(h.arena[off+12:], uint32(int32(v)))
}
func (h *Heap) next(off int) int {
	return int(int32(binary.LittleEndian.Uint32(h.arena[off+16:])))
}
func (h *Heap) setNext(off, v int) {
	binary.LittleEndian.PutUint32(h.arena[off+16:], uint32(int32(v)))
}

// Malloc returns a slice of size bytes, best-fit: the smallest free block
// large enough to hold the request is chosen, splitting off the remainder
// as a new free block when the leftover exceeds one header.
func (h *Heap) Malloc(size int) ([]byte, defs.Err_t) {
	if size <= 0 {
		return nil, defs.EBadArgument
	}
	best := none
	bestSize := -1
	for off := 0; off != none; off = h.next(off) {
		if h.blockMagic(off) != magic {
			panic("kheap: corrupt block magic")
		}
		if !h.used(off) && h.size(off) >= size && (best == none || h.size(off) < bestSize) {
			best = off
			bestSize = h.size(off)
		}
	}
	if best == none {
		return nil, defs.EOutOfMemory
	}

	if bestSize >= size+headerSize+1 {
		newFree := best + headerSize + size
		oldNext := h.next(best)
		h.writeHeader(newFree, false, bestSize-size-headerSize, best, oldNext)
		if oldNext != none {
			h.setPrev(oldNext, newFree)
		}
		h.setSize(best, size)
		h.setNext(best, newFree)
	}
	h.setUsed(best, true)
	payload := best + headerSize
	return h.arena[payload : payload+size : payload+size], 0
}

// Free returns a previously allocated slice to the heap, coalescing with
// adjacent free neighbors. Freeing an already-free block is a no-op, per
// the original source's convention.
func (h *Heap) Free(ptr []byte) {
	off := h.offsetFor(ptr) - headerSize
	if h.blockMagic(off) != magic {
		panic("kheap: free of corrupt or foreign pointer")
	}
	if nxt := h.next(off); nxt != none && h.blockMagic(nxt) != magic {
		panic("kheap: overflow detected in successor block")
	}
	if !h.used(off) {
		return
	}
	h.setUsed(off, false)

	if nxt := h.next(off); nxt != none && !h.used(nxt) {
		nn := h.next(nxt)
		h.setNext(off, nn)
		if nn != none {
			h.setPrev(nn, off)
		}
		h.setSize(off, h.size(off)+headerSize+h.size(nxt))
	}
	if p := h.prev(off); p != none && !h.used(p) {
		n := h.next(off)
		h.setNext(p, n)
		if n != none {
			h.setPrev(n, p)
		}
		h.setSize(p, h.size(p)+headerSize+h.size(off))
	}
}

// offsetFor computes ptr's byte offset within the arena via pointer
// arithmetic, the way the source does with raw C pointers.
func (h *Heap) offsetFor(ptr []byte) int {
	if len(ptr) == 0 {
		panic("kheap: empty pointer")
	}
	base := uintptr(unsafe.Pointer(&h.arena[0]))
	got := uintptr(unsafe.Pointer(&ptr[0]))
	if got < base || got >= base+uintptr(len(h.arena)) {
		panic("kheap: pointer not from this heap")
	}
	return int(got - base)
}

// FreeBytes returns the total bytes currently in free blocks.
func (h *Heap) FreeBytes() int {
	total := 0
	for off := 0; off != none; off = h.next(off) {
		if !h.used(off) {
			total += h.size(off)
		}
	}
	return total
}

// Walk verifies the integrity invariants of spec.md property 5: the chain
// from head reaches tail, prev/next are consistent, magics are intact, and
// no two adjacent blocks are both free.
func (h *Heap) Walk() defs.Err_t {
	prevOff := none
	sawTail := false
	for off := 0; off != none; off = h.next(off) {
		if h.blockMagic(off) != magic {
			return defs.EInvalidAddress
		}
		if h.prev(off) != prevOff {
			return defs.EInvalidAddress
		}
		if prevOff != none && !h.used(prevOff) && !h.used(off) {
			return defs.EInvalidAddress
		}
		prevOff = off
		if h.next(off) == none {
			sawTail = h.used(off)
		}
	}
	if !sawTail {
		return defs.EInvalidAddress
	}
	return 0
}
