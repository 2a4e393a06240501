// Package multiboot parses the bootloader-provided memory map spec.md
// §6 requires: a sequence of (base, length, type) triples seeding
// internal/mem's frame allocator. Grounded on gopher-os's
// kernel/hal/multiboot/multiboot.go, which is the only repo in the
// retrieval pack that actually decodes a multiboot info structure; this
// package keeps that decoder's triple-at-a-time tag-walking shape but
// trims it to the one tag this kernel's boot contract needs (the memory
// map), since there is no graphics/module/ELF-section consumer in
// SPEC_FULL's scope beyond what internal/bootcfg and internal/elf
// already read from the command line and the target file directly.
package multiboot

import (
	"encoding/binary"

	"kernel/internal/defs"
	"kernel/internal/mem"
)

// Magic is the value the bootloader leaves in a register to identify
// itself as multiboot-compliant. cmd/kernel builds its own synthetic
// info buffer and does not check it.
const Magic = 0x2BADB002

// info tag types this package recognizes.
const (
	mmapTagType = 6
)

// entrySize is the fixed size of one multiboot2 mmap entry: base(8)
// length(8) type(4) reserved(4).
const entrySize = 24

// ParseMemoryMap decodes a raw multiboot2 "basic memory map" tag payload
// (the tag header already stripped by the caller) into mem.Region
// values. Each entry's type 1 means Available; everything else is
// Reserved, per spec.md §4.1's "mark every other region as Used."
func ParseMemoryMap(payload []byte) ([]mem.Region, defs.Err_t) {
	if len(payload) < 8 {
		return nil, defs.EBadArgument
	}
	// entrySize and entryVersion fields precede the entry array proper.
	declaredEntrySize := binary.LittleEndian.Uint32(payload[0:])
	if declaredEntrySize == 0 {
		declaredEntrySize = entrySize
	}
	entries := payload[8:]

	var regions []mem.Region
	for off := 0; off+int(declaredEntrySize) <= len(entries); off += int(declaredEntrySize) {
		base := binary.LittleEndian.Uint64(entries[off:])
		length := binary.LittleEndian.Uint64(entries[off+8:])
		typ := binary.LittleEndian.Uint32(entries[off+16:])

		rt := mem.Reserved
		if typ == 1 {
			rt = mem.Available
		}
		regions = append(regions, mem.Region{
			Base:   uintptr(base),
			Length: uintptr(length),
			Type:   rt,
		})
	}
	return regions, 0
}

// Tag is one multiboot2 info tag: a type, and its payload (header
// stripped). Iterate walks the tag stream starting right after the
// 8-byte multiboot2 fixed header (total_size, reserved).
type Tag struct {
	Type    uint32
	Payload []byte
}

// Iterate walks every tag in a multiboot2 info buffer (info, not
// including the leading total_size/reserved words), calling f with each
// one until f returns false or the terminating type-0 tag is reached.
func Iterate(info []byte, f func(Tag) bool) {
	off := 0
	for off+8 <= len(info) {
		typ := binary.LittleEndian.Uint32(info[off:])
		size := binary.LittleEndian.Uint32(info[off+4:])
		if typ == 0 {
			return
		}
		if size < 8 || off+int(size) > len(info) {
			return
		}
		if !f(Tag{Type: typ, Payload: info[off+8 : off+int(size)]}) {
			return
		}
		// tags are 8-byte aligned
		advance := (int(size) + 7) &^ 7
		off += advance
	}
}

// MemoryMapTagType exposes mmapTagType so callers can filter Iterate's
// callback without reaching into this package's internals.
const MemoryMapTagType = mmapTagType
