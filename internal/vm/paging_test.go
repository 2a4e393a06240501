package vm

import (
	"testing"

	"kernel/internal/mem"
)

func newTestSpace(t *testing.T) *Space {
	t.Helper()
	regions := []mem.Region{{Base: 0, Length: 64 * 1024 * 1024, Type: mem.Available}}
	alloc := mem.NewAllocator(regions, 0, 1024*1024)
	phys := mem.NewPhysMem(16384)
	s, err := NewSpace(alloc, phys, 4*1024*1024)
	if err != 0 {
		t.Fatalf("NewSpace: %v", err)
	}
	return s
}

func TestPagingRoundTrip(t *testing.T) {
	s := newTestSpace(t)
	d, err := s.CreateDirectory(true)
	if err != 0 {
		t.Fatalf("CreateDirectory: %v", err)
	}

	virt := uintptr(0x08048000)
	phys, err := s.Alloc.AllocateFrame(0)
	if err != 0 {
		t.Fatalf("AllocateFrame: %v", err)
	}

	if err := s.Map(virt, phys, d, Present|Writable|User); err != 0 {
		t.Fatalf("Map: %v", err)
	}
	got, ok := s.Resolve(virt, d)
	if !ok || got != phys {
		t.Fatalf("Resolve after Map = (%v,%v), want (%v,true)", got, ok, phys)
	}

	s.Unmap(virt, d)
	if _, ok := s.Resolve(virt, d); ok {
		t.Fatal("Resolve after Unmap should fail")
	}
}

func TestKernelRangeSharedByReference(t *testing.T) {
	s := newTestSpace(t)
	d1, _ := s.CreateDirectory(true)
	d2, _ := s.CreateDirectory(true)

	kv := uintptr(0x1000)
	f1, ok := s.Resolve(kv, d1)
	if !ok {
		t.Fatal("kernel range should be identity-mapped in d1")
	}
	f2, ok := s.Resolve(kv, d2)
	if !ok {
		t.Fatal("kernel range should be identity-mapped in d2")
	}
	if f1 != f2 || f1 != mem.FrameOf(kv) {
		t.Fatalf("kernel identity map mismatch: d1=%v d2=%v want=%v", f1, f2, mem.FrameOf(kv))
	}
}

func TestUnmapFreesEmptyTable(t *testing.T) {
	s := newTestSpace(t)
	d, _ := s.CreateDirectory(false)

	virt := uintptr(0x40000000)
	phys, _ := s.Alloc.AllocateFrame(0)
	freeBefore, _, _ := s.Alloc.Stats()

	s.Map(virt, phys, d, Present|Writable)
	s.Unmap(virt, d)

	freeAfter, _, _ := s.Alloc.Stats()
	if freeAfter != freeBefore {
		t.Fatalf("expected page table reclaimed: free before=%d after=%d", freeBefore, freeAfter)
	}
}

func TestResolveUnmappedIsNone(t *testing.T) {
	s := newTestSpace(t)
	d, _ := s.CreateDirectory(true)
	if _, ok := s.Resolve(0xDEADB000, d); ok {
		t.Fatal("expected unmapped address to resolve to None")
	}
}
