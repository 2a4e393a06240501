package multiboot

import (
	"encoding/binary"
	"testing"

	"kernel/internal/mem"
)

// buildTag assembles one multiboot2 tag (header + payload), padded to
// an 8-byte boundary the way Iterate expects.
func buildTag(typ uint32, payload []byte) []byte {
	size := 8 + len(payload)
	buf := make([]byte, (size+7)&^7)
	binary.LittleEndian.PutUint32(buf[0:], typ)
	binary.LittleEndian.PutUint32(buf[4:], uint32(size))
	copy(buf[8:], payload)
	return buf
}

func mmapPayload(entries [][3]uint64) []byte {
	const entrySize = 24
	payload := make([]byte, 8+entrySize*len(entries))
	binary.LittleEndian.PutUint32(payload[0:], entrySize)
	for i, e := range entries {
		off := 8 + i*entrySize
		binary.LittleEndian.PutUint64(payload[off:], e[0])
		binary.LittleEndian.PutUint64(payload[off+8:], e[1])
		binary.LittleEndian.PutUint32(payload[off+16:], uint32(e[2]))
	}
	return payload
}

func TestParseMemoryMapMarksNonAvailableAsReserved(t *testing.T) {
	payload := mmapPayload([][3]uint64{
		{0, 0x100000, 1},
		{0x100000, 0x1000, 2},
	})
	regions, err := ParseMemoryMap(payload)
	if err != 0 {
		t.Fatalf("ParseMemoryMap: %v", err)
	}
	if len(regions) != 2 {
		t.Fatalf("len(regions) = %d, want 2", len(regions))
	}
	if regions[0].Type != mem.Available {
		t.Fatalf("regions[0].Type = %v, want Available", regions[0].Type)
	}
	if regions[1].Type != mem.Reserved {
		t.Fatalf("regions[1].Type = %v, want Reserved", regions[1].Type)
	}
}

func TestParseMemoryMapRejectsShortPayload(t *testing.T) {
	if _, err := ParseMemoryMap([]byte{1, 2, 3}); err == 0 {
		t.Fatalf("expected rejection of a too-short payload")
	}
}

func TestIterateStopsAtTerminatingTag(t *testing.T) {
	mmap := buildTag(MemoryMapTagType, mmapPayload([][3]uint64{{0, 0x1000, 1}}))
	other := buildTag(99, []byte{1, 2, 3, 4})
	info := append(append(append([]byte{}, mmap...), other...), make([]byte, 8)...)

	var seen []uint32
	Iterate(info, func(tag Tag) bool {
		seen = append(seen, tag.Type)
		return true
	})
	if len(seen) != 2 || seen[0] != MemoryMapTagType || seen[1] != 99 {
		t.Fatalf("seen tags = %v, want [%d 99]", seen, MemoryMapTagType)
	}
}

func TestIterateHonorsCallbackStop(t *testing.T) {
	mmap := buildTag(MemoryMapTagType, mmapPayload([][3]uint64{{0, 0x1000, 1}}))
	other := buildTag(99, []byte{1, 2, 3, 4})
	info := append(append(append([]byte{}, mmap...), other...), make([]byte, 8)...)

	count := 0
	Iterate(info, func(tag Tag) bool {
		count++
		return false
	})
	if count != 1 {
		t.Fatalf("Iterate called f %d times after a false return, want 1", count)
	}
}

func TestIterateDecodesMemoryMapTagEndToEnd(t *testing.T) {
	mmap := buildTag(MemoryMapTagType, mmapPayload([][3]uint64{{0, 64 << 20, 1}}))
	info := append(append([]byte{}, mmap...), make([]byte, 8)...)

	var regions []mem.Region
	Iterate(info, func(tag Tag) bool {
		if tag.Type != MemoryMapTagType {
			return true
		}
		rs, err := ParseMemoryMap(tag.Payload)
		if err != 0 {
			t.Fatalf("ParseMemoryMap: %v", err)
		}
		regions = rs
		return false
	})
	if len(regions) != 1 || regions[0].Length != 64<<20 {
		t.Fatalf("regions = %+v, want one 64 MB Available region", regions)
	}
}
