// Package vm implements two-level 32-bit x86 paging: per-process page
// directories that identity-map the low kernel range by sharing the
// kernel's own page tables, grounded on the teacher's Vm_t address-space
// shape (biscuit/src/vm/as.go) and gopher-os's kernel/mem/vmm/pdt.go for
// the directory/table entry flag layout.
package vm

import (
	"encoding/binary"
	"sync"

	"kernel/internal/defs"
	"kernel/internal/mem"
)

// Flags are the bits common to both directory and table entries, per
// spec.md §6.
type Flags uint32

const (
	Present      Flags = 1 << 0
	Writable     Flags = 1 << 1
	User         Flags = 1 << 2
	WriteThrough Flags = 1 << 3
	CacheDisable Flags = 1 << 4
	Accessed     Flags = 1 << 5
	Dirty        Flags = 1 << 6
	PageSize     Flags = 1 << 7
	Global       Flags = 1 << 8
)

const (
	addrMask   = 0xFFFFF000
	entriesLen = 1024
)

func readEntry(pg []byte, idx int) uint32 {
	return binary.LittleEndian.Uint32(pg[idx*4:])
}

func writeEntry(pg []byte, idx int, v uint32) {
	binary.LittleEndian.PutUint32(pg[idx*4:], v)
}

func pdeIndex(virt uintptr) int { return int((virt >> 22) & (entriesLen - 1)) }
func pteIndex(virt uintptr) int { return int((virt >> 12) & (entriesLen - 1)) }

// Space owns the allocator and physical memory backing every address space
// it creates, and the single kernel directory every other directory shares
// its low range with.
type Space struct {
	Alloc *mem.Allocator
	Phys  *mem.PhysMem

	mu        sync.Mutex
	kernelDir *Directory
	kernelHi  uintptr
}

// NewSpace wires an address-space manager to the given physical memory and
// frame allocator, and builds the kernel's own directory identity-mapping
// [0, kernelHi).
func NewSpace(alloc *mem.Allocator, phys *mem.PhysMem, kernelHi uintptr) (*Space, defs.Err_t) {
	s := &Space{Alloc: alloc, Phys: phys, kernelHi: kernelHi}
	kd, err := s.newDirectory()
	if err != 0 {
		return nil, err
	}
	s.kernelDir = kd
	if err := s.IdentityMapRange(0, kernelHi, kd, Present|Writable|Global); err != 0 {
		return nil, err
	}
	return s, 0
}

// Directory is a per-process page directory: 1024 PDEs living in one
// physical frame, each optionally pointing at a page table frame.
type Directory struct {
	Frame mem.Frame
	space *Space
	mu    sync.Mutex
}

func (s *Space) newDirectory() (*Directory, defs.Err_t) {
	f, err := s.Alloc.AllocateFrame(0)
	if err != 0 {
		return nil, err
	}
	s.Phys.Zero(f)
	return &Directory{Frame: f, space: s}, 0
}

// CreateDirectory allocates a zeroed directory; when shareKernel is true,
// the kernel directory's low entries are mirrored in by value so the new
// directory's kernel-range page tables are the very same frames the kernel
// directory uses — updates to kernel mappings are visible everywhere
// without explicit synchronization.
func (s *Space) CreateDirectory(shareKernel bool) (*Directory, defs.Err_t) {
	d, err := s.newDirectory()
	if err != 0 {
		return nil, err
	}
	if shareKernel {
		s.mu.Lock()
		kpg := s.Phys.Dmap(s.kernelDir.Frame)
		dpg := s.Phys.Dmap(d.Frame)
		hiIdx := pdeIndex(s.kernelHi)
		if s.kernelHi%(1<<22) != 0 {
			hiIdx++
		}
		for i := 0; i < hiIdx; i++ {
			writeEntry(dpg, i, readEntry(kpg, i))
		}
		s.mu.Unlock()
	}
	return d, 0
}

// KernelDirectory returns the shared kernel address space.
func (s *Space) KernelDirectory() *Directory { return s.kernelDir }

// ensureTable returns the frame backing the page table for virt's PDE
// slot, allocating and zeroing one if the PDE is not yet present.
func (s *Space) ensureTable(d *Directory, virt uintptr, flags Flags) (mem.Frame, defs.Err_t) {
	dpg := s.Phys.Dmap(d.Frame)
	idx := pdeIndex(virt)
	pde := readEntry(dpg, idx)
	if Flags(pde)&Present != 0 {
		return mem.Frame(pde >> mem.PGSHIFT), 0
	}
	tf, err := s.Alloc.AllocateFrame(0)
	if err != 0 {
		return 0, err
	}
	s.Phys.Zero(tf)
	pdeFlags := Present | Writable
	if flags&User != 0 {
		pdeFlags |= User
	}
	writeEntry(dpg, idx, uint32(tf.Addr())|uint32(pdeFlags))
	return tf, 0
}

// Map ensures a page table exists at dir[virt>>22], then writes the PTE
// mapping virt to phys with the given flags.
func (s *Space) Map(virt uintptr, phys mem.Frame, d *Directory, flags Flags) defs.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	tf, err := s.ensureTable(d, virt, flags)
	if err != 0 {
		return err
	}
	tpg := s.Phys.Dmap(tf)
	writeEntry(tpg, pteIndex(virt), uint32(phys.Addr())|uint32(flags|Present))
	return 0
}

// Unmap clears the PTE for virt; if the owning page table becomes all-zero
// it is freed and the PDE cleared.
func (s *Space) Unmap(virt uintptr, d *Directory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dpg := s.Phys.Dmap(d.Frame)
	idx := pdeIndex(virt)
	pde := readEntry(dpg, idx)
	if Flags(pde)&Present == 0 {
		return
	}
	tf := mem.Frame(pde >> mem.PGSHIFT)
	tpg := s.Phys.Dmap(tf)
	writeEntry(tpg, pteIndex(virt), 0)

	empty := true
	for i := 0; i < entriesLen; i++ {
		if readEntry(tpg, i) != 0 {
			empty = false
			break
		}
	}
	if empty {
		writeEntry(dpg, idx, 0)
		s.Alloc.FreeFrame(tf)
	}
}

// Resolve walks the two levels without mutating any state, returning the
// mapped physical frame or ok=false if virt is unmapped.
func (s *Space) Resolve(virt uintptr, d *Directory) (mem.Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dpg := s.Phys.Dmap(d.Frame)
	pde := readEntry(dpg, pdeIndex(virt))
	if Flags(pde)&Present == 0 {
		return 0, false
	}
	tf := mem.Frame(pde >> mem.PGSHIFT)
	tpg := s.Phys.Dmap(tf)
	pte := readEntry(tpg, pteIndex(virt))
	if Flags(pte)&Present == 0 {
		return 0, false
	}
	return mem.Frame(pte >> mem.PGSHIFT), true
}

// IdentityMapRange maps every page in [lo, hi) to itself — a convenience
// for establishing the kernel range.
func (s *Space) IdentityMapRange(lo, hi uintptr, d *Directory, flags Flags) defs.Err_t {
	lo = lo &^ (mem.PGSIZE - 1)
	for v := lo; v < hi; v += mem.PGSIZE {
		if err := s.Map(v, mem.FrameOf(v), d, flags); err != 0 {
			return err
		}
	}
	return 0
}

// active records the directory currently loaded into the (simulated)
// directory-base register, standing in for CR3.
var (
	activeMu sync.Mutex
	active   *Directory
	pagingOn bool
)

// Activate loads the directory register; the first call also flips the
// paging-enable bit.
func (s *Space) Activate(d *Directory) {
	activeMu.Lock()
	defer activeMu.Unlock()
	active = d
	pagingOn = true
}

// Active returns the directory most recently activated, or nil.
func Active() *Directory {
	activeMu.Lock()
	defer activeMu.Unlock()
	return active
}
