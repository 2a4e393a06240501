package elf

import (
	"encoding/binary"
	"testing"

	"kernel/internal/cache"
	"kernel/internal/defs"
	"kernel/internal/mem"
	"kernel/internal/partition"
	"kernel/internal/proc"
	"kernel/internal/simplefs"
	"kernel/internal/storage"
	"kernel/internal/vfs"
	"kernel/internal/vm"
)

// buildELF assembles a minimal one-segment ELF32 executable: a header,
// one PT_LOAD program header, and filesz bytes of payload at the given
// file offset, per S5's seed scenario (spec.md §8).
func buildELF(vaddr, fileOff, filesz, memsz, entry uint32, payload []byte) []byte {
	const phOff = ehdrSize
	fileLen := int(fileOff) + len(payload)
	buf := make([]byte, fileLen)

	buf[0], buf[1], buf[2], buf[3] = 0x7F, 'E', 'L', 'F'
	buf[identClass] = classELF32
	buf[identData] = dataLSB
	buf[identVersion] = evCurrent
	binary.LittleEndian.PutUint16(buf[ehTypeOff:], etExec)
	binary.LittleEndian.PutUint16(buf[ehMachineOff:], emI386)
	binary.LittleEndian.PutUint32(buf[ehEntryOff:], entry)
	binary.LittleEndian.PutUint32(buf[ehPhoffOff:], uint32(phOff))
	binary.LittleEndian.PutUint16(buf[ehPhentsizeOff:], phdrSize)
	binary.LittleEndian.PutUint16(buf[ehPhnumOff:], 1)

	ph := buf[phOff : phOff+phdrSize]
	binary.LittleEndian.PutUint32(ph[phTypeOff:], ptLoad)
	binary.LittleEndian.PutUint32(ph[phOffsetOff:], fileOff)
	binary.LittleEndian.PutUint32(ph[phVaddrOff:], vaddr)
	binary.LittleEndian.PutUint32(ph[phFileszOff:], filesz)
	binary.LittleEndian.PutUint32(ph[phMemszOff:], memsz)

	copy(buf[fileOff:], payload)
	return buf
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, ehdrSize)
	if _, err := ParseHeader(buf); err == 0 {
		t.Fatalf("expected rejection of all-zero header")
	}
}

func TestLoadRangeSpansEverySegment(t *testing.T) {
	segs := []Segment{
		{Vaddr: 0x1000, Memsz: 0x100},
		{Vaddr: 0x2000, Memsz: 0x200},
	}
	lo, hi := LoadRange(segs)
	if lo != 0x1000 || hi != 0x2200 {
		t.Fatalf("LoadRange = [0x%x,0x%x), want [0x1000,0x2200)", lo, hi)
	}
}

// newTestLoader assembles a full mounted-filesystem + address-space
// harness so Execve can be exercised end to end: a whole-device
// simplefs volume (partition discovery is internal/partition's
// concern, not this package's), a kernel address space identity-
// mapping its first megabyte, and a scheduler with one seed process
// to parent new execs.
func newTestLoader(t *testing.T) (*Loader, *vfs.Descriptor) {
	t.Helper()
	const totalSectors = 8192
	dev := storage.NewMemDevice(totalSectors)

	totalBlocks := uint32(totalSectors * storage.SectorSize / simplefs.BlockSize)
	c := cache.New(dev, simplefs.BlockSize, 64)
	sb, ferr := simplefs.Format(c, totalBlocks, 256)
	if ferr != 0 {
		t.Fatalf("Format: %v", ferr)
	}

	reg := vfs.NewRegistry()
	drv := &vfs.Driver{
		Name:  "simplefs-test",
		Probe: func(storage.Device, partition.Partition) bool { return true },
		OpenSuperblock: func(storage.Device, partition.Partition) (vfs.SuperblockOps, defs.Err_t) {
			return sb, 0
		},
		CloseSuperblock: func(vfs.SuperblockOps) defs.Err_t { return sb.Flush() },
	}
	reg.Register(drv)

	mt := vfs.NewMountTable()
	if _, merr := mt.Mount("/", dev, partition.Partition{}, drv); merr != 0 {
		t.Fatalf("Mount: %v", merr)
	}
	rootMount, ok := mt.Root()
	if !ok {
		t.Fatalf("no root mount")
	}

	regions := []mem.Region{{Base: 0, Length: 16 * 1024 * 1024, Type: mem.Available}}
	alloc := mem.NewAllocator(regions, 0, 0)
	phys := mem.NewPhysMem(uint32(16 * 1024 * 1024 / mem.PGSIZE))
	space, serr := vm.NewSpace(alloc, phys, 0x100000)
	if serr != 0 {
		t.Fatalf("NewSpace: %v", serr)
	}

	sched := proc.New(nil)
	sched.Create("init", 0, 1)

	table := NewTable()
	loader := NewLoader(mt, space, sched, table)
	return loader, rootMount.Root
}

func TestExecveLoadsSegmentAndZeroesBSS(t *testing.T) {
	loader, root := newTestLoader(t)

	payload := make([]byte, 0x200)
	for i := range payload {
		payload[i] = byte(i)
	}
	raw := buildELF(0x08048000, 0x1000, 0x200, 0x400, 0x08048000, payload)

	desc, err := root.SB.Touch(root, "prog")
	if err != 0 {
		t.Fatalf("Touch: %v", err)
	}
	h, err := root.SB.Open(desc)
	if err != 0 {
		t.Fatalf("Open: %v", err)
	}
	if _, err := root.SB.Write(h, raw); err != 0 {
		t.Fatalf("Write: %v", err)
	}
	root.SB.Close(h)

	pid, err := loader.Execve("/prog", []string{"/prog"}, nil, root, 1, 1)
	if err != 0 {
		t.Fatalf("Execve: %v", err)
	}

	us, ok := loader.Table.Get(pid)
	if !ok {
		t.Fatalf("no address space recorded for pid %d", pid)
	}
	if us.Entry != 0x08048000 {
		t.Fatalf("Entry = 0x%x, want 0x08048000", us.Entry)
	}

	for i := 0; i < 0x200; i++ {
		f, ok := loader.Space.Resolve(uintptr(0x08048000+i), us.Dir)
		if !ok {
			t.Fatalf("byte %d of loaded segment unmapped", i)
		}
		page := loader.Space.Phys.Dmap(f)
		if page[i%mem.PGSIZE] != byte(i) {
			t.Fatalf("byte %d = %#x, want %#x", i, page[i%mem.PGSIZE], byte(i))
		}
	}
	for i := 0x200; i < 0x400; i++ {
		f, ok := loader.Space.Resolve(uintptr(0x08048000+i), us.Dir)
		if !ok {
			t.Fatalf("bss byte %d unmapped", i)
		}
		page := loader.Space.Phys.Dmap(f)
		if page[i%mem.PGSIZE] != 0 {
			t.Fatalf("bss byte %d = %#x, want 0", i, page[i%mem.PGSIZE])
		}
	}
}

func TestExecveErrWrapsMissingPath(t *testing.T) {
	loader, root := newTestLoader(t)
	_, err := loader.ExecveErr("/nosuchprogram", []string{"/nosuchprogram"}, nil, root, 1, 1)
	if err == nil {
		t.Fatalf("ExecveErr(/nosuchprogram) = nil, want an error")
	}
	if got := err.Error(); !contains(got, "/nosuchprogram") {
		t.Fatalf("ExecveErr error = %q, want it to name the failing path", got)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
