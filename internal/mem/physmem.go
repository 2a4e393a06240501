package mem

// PhysMem is the byte-addressable backing store for physical RAM in this
// hosted model: real hardware lets the kernel address physical frames
// directly (direct-mapped or identity-mapped); here a single contiguous
// []byte arena plays that role, and Dmap stands in for the direct-map
// trick biscuit's mem.Physmem_t.Dmap performs on real hardware.
type PhysMem struct {
	bytes []byte
}

// NewPhysMem allocates a backing arena large enough for numFrames frames.
func NewPhysMem(numFrames uint32) *PhysMem {
	return &PhysMem{bytes: make([]byte, uint64(numFrames)*uint64(PGSIZE))}
}

// Dmap returns a PGSIZE-length slice directly mapping frame f's bytes.
func (p *PhysMem) Dmap(f Frame) []byte {
	off := uint64(f) * uint64(PGSIZE)
	return p.bytes[off : off+uint64(PGSIZE)]
}

// Zero clears frame f to all zero bytes.
func (p *PhysMem) Zero(f Frame) {
	buf := p.Dmap(f)
	for i := range buf {
		buf[i] = 0
	}
}

// NumFrames returns the frame capacity backing this arena.
func (p *PhysMem) NumFrames() uint32 { return uint32(len(p.bytes) / PGSIZE) }
