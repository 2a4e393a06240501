// Package elf implements the loader / exec layer of spec.md §4.10 and
// §6: parse an ELF32 executable, build a fresh address space, map its
// PT_LOAD segments, and push argv/envp onto a new stack, grounded on
// the teacher's biscuit/src/kernel/chentry.go for ELF32 header and
// program-header field access idiom (the only surviving ELF code in the
// retrieval pack, there used for entry-point patching rather than full
// loading) and on original_source's src/kernel/multitask/exec.c for the
// stack/heap placement policy (stack below the load range, heap above
// it) and the create-directory/map-segments/push-argv order of
// operations. Unlike chentry, which reached for the standard library's
// debug/elf against a 64-bit x86_64 binary, this package hand-decodes
// the ELF32 header per spec.md §6's exact field layout, since debug/elf
// has no notion of this kernel's "only PT_LOAD segments, i386 only"
// validation contract and spec.md §4.10 step 1 wants the identification
// bytes checked directly.
package elf

import (
	"encoding/binary"
	"sync"

	"golang.org/x/xerrors"

	"kernel/internal/defs"
	"kernel/internal/mem"
	"kernel/internal/proc"
	"kernel/internal/vfs"
	"kernel/internal/vm"
)

// ELF32 identification and header field offsets/sizes, per spec.md §6.
const (
	identSize = 16

	identMag0    = 0
	identClass   = 4
	identData    = 5
	identVersion = 6

	classELF32    = 1
	dataLSB       = 1
	evCurrent     = 1

	etExec  = 2
	emI386  = 3

	ehTypeOff    = identSize
	ehMachineOff = identSize + 2
	ehVersionOff = identSize + 4
	ehEntryOff   = identSize + 8
	ehPhoffOff   = identSize + 12
	ehPhentsizeOff = identSize + 26
	ehPhnumOff     = identSize + 28

	ehdrSize = 52
)

// Program header types/offsets.
const (
	ptLoad = 1

	phTypeOff   = 0
	phOffsetOff = 4
	phVaddrOff  = 8
	phFileszOff = 16
	phMemszOff  = 20
	phFlagsOff  = 24

	phdrSize = 32
)

// Header is a decoded ELF32 file header, exposed for callers (and tests)
// that want to inspect identification fields directly.
type Header struct {
	Entry   uint32
	Phoff   uint32
	Phnum   int
	Phentsz int
}

// Segment is one decoded PT_LOAD program header.
type Segment struct {
	Vaddr  uint32
	Offset uint32
	Filesz uint32
	Memsz  uint32
}

// ParseHeader validates the identification bytes (0x7F 'E' 'L' 'F',
// 32-bit, little-endian, version 1, type EXEC, machine i386) and
// decodes the program-header location, per spec.md §4.10 step 1 and
// §6.
func ParseHeader(raw []byte) (Header, defs.Err_t) {
	if len(raw) < ehdrSize {
		return Header{}, defs.ENotSupported
	}
	if raw[identMag0] != 0x7F || raw[identMag0+1] != 'E' || raw[identMag0+2] != 'L' || raw[identMag0+3] != 'F' {
		return Header{}, defs.ENotSupported
	}
	if raw[identClass] != classELF32 {
		return Header{}, defs.ENotSupported
	}
	if raw[identData] != dataLSB {
		return Header{}, defs.ENotSupported
	}
	if raw[identVersion] != evCurrent {
		return Header{}, defs.ENotSupported
	}
	if binary.LittleEndian.Uint16(raw[ehTypeOff:]) != etExec {
		return Header{}, defs.ENotSupported
	}
	if binary.LittleEndian.Uint16(raw[ehMachineOff:]) != emI386 {
		return Header{}, defs.ENotSupported
	}

	return Header{
		Entry:   binary.LittleEndian.Uint32(raw[ehEntryOff:]),
		Phoff:   binary.LittleEndian.Uint32(raw[ehPhoffOff:]),
		Phnum:   int(binary.LittleEndian.Uint16(raw[ehPhnumOff:])),
		Phentsz: int(binary.LittleEndian.Uint16(raw[ehPhentsizeOff:])),
	}, 0
}

// ParseProgramHeaders decodes every PT_LOAD entry from the program
// header table embedded in raw (the whole file, since this hosted model
// reads the file into memory rather than issuing per-segment VFS reads
// the way a freestanding kernel would).
func ParseProgramHeaders(raw []byte, h Header) ([]Segment, defs.Err_t) {
	var segs []Segment
	for i := 0; i < h.Phnum; i++ {
		off := int(h.Phoff) + i*h.Phentsz
		if off+phdrSize > len(raw) {
			return nil, defs.ENotSupported
		}
		ph := raw[off : off+phdrSize]
		if binary.LittleEndian.Uint32(ph[phTypeOff:]) != ptLoad {
			continue
		}
		segs = append(segs, Segment{
			Vaddr:  binary.LittleEndian.Uint32(ph[phVaddrOff:]),
			Offset: binary.LittleEndian.Uint32(ph[phOffsetOff:]),
			Filesz: binary.LittleEndian.Uint32(ph[phFileszOff:]),
			Memsz:  binary.LittleEndian.Uint32(ph[phMemszOff:]),
		})
	}
	return segs, 0
}

// LoadRange returns [virt_lo, virt_hi) spanning every LOAD segment, per
// spec.md §4.10 step 2b.
func LoadRange(segs []Segment) (lo, hi uint32) {
	if len(segs) == 0 {
		return 0, 0
	}
	lo = ^uint32(0)
	for _, s := range segs {
		if s.Vaddr < lo {
			lo = s.Vaddr
		}
		if end := s.Vaddr + s.Memsz; end > hi {
			hi = end
		}
	}
	return lo, hi
}

// StackSize and the page-alignment mask used to place the stack and
// heap regions around the load range, per original_source's exec.c
// policy (stack below virt_lo, heap above virt_hi, both page-aligned).
const (
	StackSize = 256 * 1024
	pageMask  = uint32(mem.PGSIZE - 1)
)

func alignDown(v uint32) uint32 { return v &^ pageMask }
func alignUp(v uint32) uint32   { return (v + pageMask) &^ pageMask }

// UserSpace is the per-process address-space bookkeeping spec.md §3's
// Process.user_space field names: heap/stack extents, the executable
// path, and the argv/envp this process was started with. It is owned
// by this package's Table, not by internal/proc.Proc, per §9's
// cyclic-ownership design note — the process table holds only the pid,
// this table holds everything else keyed by that same pid.
type UserSpace struct {
	Dir        *vm.Directory
	Entry      uint32
	HeapBase   uint32
	HeapSize   uint32
	StackBase  uint32
	StackSize  uint32
	StackTop   uint32
	Path       string
	Argv       []string
	Envp       []string
}

// Table owns every running process's UserSpace, keyed by pid — the
// registry pattern §9 calls for in place of the teacher's direct
// pointer from Proc to its address space.
type Table struct {
	mu     sync.Mutex
	spaces map[defs.Pid_t]*UserSpace
}

// NewTable returns an empty address-space table.
func NewTable() *Table { return &Table{spaces: make(map[defs.Pid_t]*UserSpace)} }

func (t *Table) put(pid defs.Pid_t, us *UserSpace) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spaces[pid] = us
}

// Get returns the address space owned by pid, if any.
func (t *Table) Get(pid defs.Pid_t) (*UserSpace, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	us, ok := t.spaces[pid]
	return us, ok
}

// Remove drops pid's address space bookkeeping (its frames were already
// released by the caller tearing down the directory).
func (t *Table) Remove(pid defs.Pid_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.spaces, pid)
}

// Loader ties together the subsystems Exec needs: the VFS mount table
// to open the executable, the address-space manager to build the new
// directory, and the frame allocator backing it.
type Loader struct {
	VFS   *vfs.MountTable
	Space *vm.Space
	Procs *proc.Sched
	Table *Table
}

// NewLoader wires a Loader to its collaborating subsystems.
func NewLoader(mt *vfs.MountTable, space *vm.Space, sched *proc.Sched, table *Table) *Loader {
	return &Loader{VFS: mt, Space: space, Procs: sched, Table: table}
}

// readWholeFile opens path via the VFS and reads it fully into memory —
// the hosted-model stand-in for spec.md §4.10 step 3a's "re-open the
// file and read the program headers," simplified because there is no
// freestanding-kernel reason here to stream the file piecemeal.
func (l *Loader) readWholeFile(path string, cwd *vfs.Descriptor) ([]byte, defs.Err_t) {
	desc, err := vfs.Resolve(l.VFS, []byte(path), cwd, false)
	if err != 0 {
		return nil, err
	}
	if desc.Kind != vfs.KindFile {
		return nil, defs.ENotAFile
	}
	h, err := desc.SB.Open(desc)
	if err != 0 {
		return nil, err
	}
	defer desc.SB.Close(h)

	buf := make([]byte, desc.Size)
	got := 0
	for got < len(buf) {
		n, err := desc.SB.Read(h, buf[got:])
		if err != 0 {
			return nil, err
		}
		if n == 0 {
			break
		}
		got += n
	}
	return buf[:got], 0
}

// Execve implements spec.md §4.10: validate the executable, create a
// child process, build its address space, map every LOAD segment, and
// push argv/envp onto its new stack. It returns the new pid; the
// caller dispatches it like any other Ready process — there is no
// trampoline goroutine in this hosted model, since "the child never
// returns through this trampoline" is naturally true of a process-table
// row instead of a live stack.
func (l *Loader) Execve(path string, argv, envp []string, cwd *vfs.Descriptor, parent defs.Pid_t, priority int) (defs.Pid_t, defs.Err_t) {
	raw, err := l.readWholeFile(path, cwd)
	if err != 0 {
		return 0, err
	}
	hdr, err := ParseHeader(raw)
	if err != 0 {
		return 0, err
	}
	segs, err := ParseProgramHeaders(raw, hdr)
	if err != 0 {
		return 0, err
	}
	if len(segs) == 0 {
		return 0, defs.ENotSupported
	}

	lo, hi := LoadRange(segs)
	stackBase := alignDown(lo-StackSize-mem.PGSIZE)
	heapBase := alignUp(hi)

	dir, err := l.Space.CreateDirectory(true)
	if err != 0 {
		return 0, err
	}

	for v := stackBase; v < stackBase+StackSize; v += mem.PGSIZE {
		f, ferr := l.Space.Alloc.AllocateFrame(0)
		if ferr != 0 {
			return 0, ferr
		}
		l.Space.Phys.Zero(f)
		if merr := l.Space.Map(uintptr(v), f, dir, vm.Present|vm.Writable|vm.User); merr != 0 {
			return 0, merr
		}
	}

	for _, seg := range segs {
		segLo := alignDown(seg.Vaddr)
		segHi := alignUp(seg.Vaddr + seg.Memsz)
		for v := segLo; v < segHi; v += mem.PGSIZE {
			f, ferr := l.Space.Alloc.AllocateFrame(0)
			if ferr != 0 {
				return 0, ferr
			}
			l.Space.Phys.Zero(f)
			if merr := l.Space.Map(uintptr(v), f, dir, vm.Present|vm.Writable|vm.User); merr != 0 {
				return 0, merr
			}
		}
		// Zero [vaddr, vaddr+memsz) then copy in filesz bytes from
		// offset, per spec.md §4.10 step 3f. Both regions live in
		// freshly zeroed frames mapped above, so only the copy is
		// needed; bytes beyond filesz are already zero (this is the
		// BSS tail of the segment).
		if err := l.copyIntoSegment(dir, seg, raw); err != 0 {
			return 0, err
		}
	}

	pid, perr := l.Procs.Create(path, parent, priority)
	if perr != 0 {
		return 0, perr
	}

	stackTop := l.pushArgvEnvp(dir, stackBase+StackSize, argv, envp)

	l.Table.put(pid, &UserSpace{
		Dir:       dir,
		Entry:     hdr.Entry,
		HeapBase:  heapBase,
		StackBase: stackBase,
		StackSize: StackSize,
		StackTop:  stackTop,
		Path:      path,
		Argv:      argv,
		Envp:      envp,
	})
	return pid, 0
}

// ExecveErr wraps Execve with a path-bearing frame for callers outside
// this package (cmd/kernel's boot sequence) that report a failed exec
// to an operator rather than feed it back into another Err_t-checking
// chain.
func (l *Loader) ExecveErr(path string, argv, envp []string, cwd *vfs.Descriptor, parent defs.Pid_t, priority int) (defs.Pid_t, error) {
	pid, err := l.Execve(path, argv, envp, cwd, parent, priority)
	if err != 0 {
		return 0, xerrors.Errorf("exec %q: %w", path, err)
	}
	return pid, nil
}

// copyIntoSegment writes raw[seg.Offset:seg.Offset+seg.Filesz] into the
// frames already mapped at seg.Vaddr in dir.
func (l *Loader) copyIntoSegment(dir *vm.Directory, seg Segment, raw []byte) defs.Err_t {
	if uint64(seg.Offset)+uint64(seg.Filesz) > uint64(len(raw)) {
		return defs.ENotSupported
	}
	remaining := raw[seg.Offset : seg.Offset+seg.Filesz]
	v := seg.Vaddr
	for len(remaining) > 0 {
		f, ok := l.Space.Resolve(uintptr(v), dir)
		if !ok {
			return defs.EInvalidAddress
		}
		page := l.Space.Phys.Dmap(f)
		pageOff := int(v) % mem.PGSIZE
		n := mem.PGSIZE - pageOff
		if n > len(remaining) {
			n = len(remaining)
		}
		copy(page[pageOff:pageOff+n], remaining[:n])
		remaining = remaining[n:]
		v += uint32(n)
	}
	return 0
}

// pushArgvEnvp writes argv/envp strings plus their NUL-terminated
// pointer arrays below stackHi, and argc, per spec.md §4.10 step 3g.
// Returns the new stack pointer.
func (l *Loader) pushArgvEnvp(dir *vm.Directory, stackHi uint32, argv, envp []string) uint32 {
	sp := stackHi

	pushStr := func(s string) uint32 {
		b := append([]byte(s), 0)
		sp -= uint32(len(b))
		l.writeBytes(dir, sp, b)
		return sp
	}
	pushPtr := func(p uint32) uint32 {
		sp -= 4
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], p)
		l.writeBytes(dir, sp, b[:])
		return sp
	}

	envPtrs := make([]uint32, len(envp))
	for i := len(envp) - 1; i >= 0; i-- {
		envPtrs[i] = pushStr(envp[i])
	}
	argPtrs := make([]uint32, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		argPtrs[i] = pushStr(argv[i])
	}

	sp = alignDown(sp)

	pushPtr(0)
	for i := len(envPtrs) - 1; i >= 0; i-- {
		pushPtr(envPtrs[i])
	}
	pushPtr(0)
	for i := len(argPtrs) - 1; i >= 0; i-- {
		pushPtr(argPtrs[i])
	}
	pushPtr(uint32(len(argv)))

	return sp
}

// writeBytes copies b into dir's address space starting at virt,
// crossing page boundaries one page at a time.
func (l *Loader) writeBytes(dir *vm.Directory, virt uint32, b []byte) {
	for len(b) > 0 {
		f, ok := l.Space.Resolve(uintptr(virt), dir)
		if !ok {
			return
		}
		page := l.Space.Phys.Dmap(f)
		pageOff := int(virt) % mem.PGSIZE
		n := mem.PGSIZE - pageOff
		if n > len(b) {
			n = len(b)
		}
		copy(page[pageOff:pageOff+n], b[:n])
		b = b[n:]
		virt += uint32(n)
	}
}
