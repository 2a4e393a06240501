package mem

import (
	"testing"

	"kernel/internal/defs"
)

func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()
	regions := []Region{
		{Base: 0, Length: 16 * 1024 * 1024, Type: Available},
	}
	// Kernel occupies the first MiB, as a conservative stand-in for the
	// image range.
	return NewAllocator(regions, 0, 1024*1024)
}

func TestFrameConservation(t *testing.T) {
	a := newTestAllocator(t)
	free0, used0, total := a.Stats()
	if free0+used0 != total {
		t.Fatalf("free+used != total at init: %d+%d != %d", free0, used0, total)
	}

	var allocated []Frame
	for i := 0; i < 100; i++ {
		f, err := a.AllocateFrame(0)
		if err != 0 {
			t.Fatalf("allocate %d: %v", i, err)
		}
		allocated = append(allocated, f)
	}
	free1, used1, _ := a.Stats()
	if free1+used1 != total {
		t.Fatalf("free+used != total after alloc: %d+%d != %d", free1, used1, total)
	}
	if used1 != used0+100 {
		t.Fatalf("expected 100 more used frames, got %d -> %d", used0, used1)
	}

	for _, f := range allocated {
		a.FreeFrame(f)
	}
	free2, used2, _ := a.Stats()
	if free2 != free0 || used2 != used0 {
		t.Fatalf("stats did not return to baseline: (%d,%d) != (%d,%d)", free2, used2, free0, used0)
	}
}

func TestFrameUniqueness(t *testing.T) {
	a := newTestAllocator(t)
	seen := map[Frame]bool{}
	for i := 0; i < 500; i++ {
		f, err := a.AllocateFrame(0)
		if err != 0 {
			t.Fatalf("allocate %d: %v", i, err)
		}
		if seen[f] {
			t.Fatalf("frame %d returned twice without an intervening free", f)
		}
		seen[f] = true
	}
}

func TestAllocateContiguous(t *testing.T) {
	a := newTestAllocator(t)
	base, err := a.AllocateContiguous(4*PGSIZE, 0)
	if err != 0 {
		t.Fatalf("allocate contiguous: %v", err)
	}
	for i := uint32(0); i < 4; i++ {
		f := Frame(uint32(base) + i)
		if a.isFree(f) {
			t.Fatalf("frame %d in run still free", f)
		}
	}
	a.FreeContiguous(base, 4*PGSIZE)
	for i := uint32(0); i < 4; i++ {
		f := Frame(uint32(base) + i)
		if !a.isFree(f) {
			t.Fatalf("frame %d not freed", f)
		}
	}
}

func TestFrameZeroNeverFree(t *testing.T) {
	a := newTestAllocator(t)
	if a.isFree(0) {
		t.Fatal("frame 0 must be Used at init")
	}
}

func TestDoubleFreePanics(t *testing.T) {
	a := newTestAllocator(t)
	f, err := a.AllocateFrame(0)
	if err != 0 {
		t.Fatalf("allocate: %v", err)
	}
	a.FreeFrame(f)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double free")
		}
	}()
	a.FreeFrame(f)
}

func TestOutOfFrames(t *testing.T) {
	regions := []Region{{Base: 0, Length: 8 * PGSIZE, Type: Available}}
	a := NewAllocator(regions, 0, 0)
	free, _, _ := a.Stats()
	for i := 0; i < free; i++ {
		if _, err := a.AllocateFrame(0); err != 0 {
			t.Fatalf("unexpected failure allocating frame %d of %d free", i, free)
		}
	}
	if _, err := a.AllocateFrame(0); err != defs.EOutOfFrames {
		t.Fatalf("expected EOutOfFrames, got %v", err)
	}
	select {
	case <-a.OOM:
	default:
		t.Fatal("expected OOM notice")
	}
}
