// Package partition discovers MBR and GPT partitions on a storage
// device, per spec.md §4.8. Grounded directly on
// original_source's src/kernel/core/filesys/partition.c: GPT is tried
// first by reading LBA 1 for the "EFI PART" signature; if absent, the
// legacy four-entry table at LBA 0 offset 0x1BE is parsed, recursively
// chasing 0x05/0x0F extended entries and numbering logical partitions
// from 5 upward. One deliberate correction from the original: GPT's
// ending LBA is inclusive, so sector count is computed as
// ending-starting+1, not the original's ending-starting (an off-by-one
// in the reference C, caught while porting — see DESIGN.md).
package partition

import (
	"encoding/binary"

	"golang.org/x/xerrors"

	"kernel/internal/defs"
	"kernel/internal/storage"
)

// Partition describes one discovered partition, keyed by (dev_no, part_no)
// in the global table a caller (internal/vfs) builds from Discover's
// results.
type Partition struct {
	DevNo       int
	PartNo      int
	Name        string
	FirstSector uint64
	NumSectors  uint64
	Bootable    bool
	LegacyType  byte    // 0 for a GPT-sourced partition
	TypeGUID    [16]byte // zero for a legacy-sourced partition
}

const (
	gptSignatureOff  = 0
	gptEntriesLBAOff = 0x48
	gptNumEntOff     = 0x50
	gptEntSizeOff    = 0x54

	gptEntryTypeGUIDOff = 0x00
	gptEntryStartOff    = 0x20
	gptEntryEndOff      = 0x28
	gptEntryAttrOff     = 0x30
	gptBootableAttrBit  = 1 << 1

	mbrTableOff    = 0x1BE
	mbrEntrySize   = 16
	mbrBootableOff = 0x0
	mbrSysIDOff    = 0x4
	mbrLBAOff      = 0x8
	mbrCountOff    = 0xC

	sysIDExtendedCHS  = 0x05
	sysIDExtendedLBA  = 0x0F
	firstLogicalPart  = 5
)

// Discover reads dev's partition tables and returns every partition
// found, preferring GPT over the legacy MBR scheme.
func Discover(devNo int, dev storage.Device) ([]Partition, defs.Err_t) {
	parts, found, err := discoverGPT(devNo, dev)
	if err != 0 {
		return nil, err
	}
	if found {
		return parts, 0
	}
	parts, _, err = discoverLegacy(devNo, dev, 0, firstLogicalPart)
	if err != 0 {
		return nil, err
	}
	return parts, 0
}

// DiscoverErr wraps Discover with a device-bearing frame for callers
// outside this package (cmd/kernel's boot sequence)
// reporting a failure to the operator rather than to another internal
// layer that already knows which device it asked about.
func DiscoverErr(devNo int, dev storage.Device) ([]Partition, error) {
	parts, err := Discover(devNo, dev)
	if err != 0 {
		return nil, xerrors.Errorf("discover partitions on dev %d: %w", devNo, err)
	}
	return parts, nil
}

func discoverGPT(devNo int, dev storage.Device) ([]Partition, bool, defs.Err_t) {
	sectorSize := dev.SectorSize()
	header := make([]byte, sectorSize)
	if err := dev.ReadSectors(1, 1, header); err != 0 {
		return nil, false, 0
	}
	if string(header[gptSignatureOff:gptSignatureOff+8]) != "EFI PART" {
		return nil, false, 0
	}

	entriesLBA := binary.LittleEndian.Uint64(header[gptEntriesLBAOff:])
	if entriesLBA == 0 {
		entriesLBA = 2
	}
	numEntries := binary.LittleEndian.Uint32(header[gptNumEntOff:])
	entrySize := binary.LittleEndian.Uint32(header[gptEntSizeOff:])
	if entrySize == 0 {
		entrySize = 128
	}

	var parts []Partition
	buf := make([]byte, sectorSize)
	remaining := 0
	off := 0
	partNo := 0
	for i := uint32(0); i < numEntries; i++ {
		if remaining == 0 {
			if err := dev.ReadSectors(entriesLBA, 1, buf); err != 0 {
				return nil, true, err
			}
			entriesLBA++
			remaining = sectorSize
			off = 0
		}

		entry := buf[off : off+int(entrySize)]
		var typeGUID [16]byte
		copy(typeGUID[:], entry[gptEntryTypeGUIDOff:gptEntryTypeGUIDOff+16])
		if allZero(typeGUID[:]) {
			off += int(entrySize)
			remaining -= int(entrySize)
			continue
		}

		startLBA := binary.LittleEndian.Uint64(entry[gptEntryStartOff:])
		endLBA := binary.LittleEndian.Uint64(entry[gptEntryEndOff:])
		attrs := binary.LittleEndian.Uint64(entry[gptEntryAttrOff:])

		partNo++
		parts = append(parts, Partition{
			DevNo:       devNo,
			PartNo:      partNo,
			Name:        "GPT partition",
			FirstSector: startLBA,
			NumSectors:  endLBA - startLBA + 1,
			Bootable:    attrs&gptBootableAttrBit != 0,
			TypeGUID:    typeGUID,
		})

		off += int(entrySize)
		remaining -= int(entrySize)
	}
	return parts, true, 0
}

// discoverLegacy parses the four-entry table at startingSector,
// recursively chasing extended partitions. nextLogical is the partition
// number the next logical partition discovered in an extended chain
// should receive.
func discoverLegacy(devNo int, dev storage.Device, startingSector uint64, nextLogical int) ([]Partition, bool, defs.Err_t) {
	sectorSize := dev.SectorSize()
	buf := make([]byte, sectorSize)
	if err := dev.ReadSectors(startingSector, 1, buf); err != 0 {
		return nil, false, 0
	}

	var extendedOffset uint64
	var parts []Partition
	found := false

	for i := 0; i < 4; i++ {
		off := mbrTableOff + i*mbrEntrySize
		entry := buf[off : off+mbrEntrySize]
		bootIndicator := entry[mbrBootableOff]
		sysID := entry[mbrSysIDOff]
		sectorOffset := uint64(binary.LittleEndian.Uint32(entry[mbrLBAOff:]))
		numSectors := uint64(binary.LittleEndian.Uint32(entry[mbrCountOff:]))

		if sysID == 0x00 {
			continue
		}
		if sysID == sysIDExtendedCHS || sysID == sysIDExtendedLBA {
			extendedOffset = sectorOffset
			continue
		}

		var partNo int
		var name string
		if startingSector == 0 {
			partNo = i + 1
			name = "Primary partition"
		} else {
			partNo = nextLogical
			nextLogical++
			name = "Logical partition"
		}

		parts = append(parts, Partition{
			DevNo:       devNo,
			PartNo:      partNo,
			Name:        name,
			FirstSector: startingSector + sectorOffset,
			NumSectors:  numSectors,
			Bootable:    bootIndicator&0x80 != 0,
			LegacyType:  sysID,
		})
		found = true
	}

	if extendedOffset != 0 {
		more, ok, err := discoverLegacy(devNo, dev, startingSector+extendedOffset, nextLogical)
		if err != 0 {
			return nil, false, err
		}
		if ok {
			parts = append(parts, more...)
			found = true
		}
	}

	return parts, found, 0
}

// MBREntry describes one primary partition table entry to write, the
// inverse of discoverLegacy's parsing.
type MBREntry struct {
	Bootable    bool
	SysID       byte
	FirstSector uint32
	NumSectors  uint32
}

// WriteMBR writes a legacy partition table (up to four primary entries)
// to sector 0 of dev, for cmd/mkfs building a fresh image. Unused entry
// slots are left zeroed, matching sysID==0x00 meaning "no partition" in
// discoverLegacy.
func WriteMBR(dev storage.Device, entries []MBREntry) defs.Err_t {
	if len(entries) > 4 {
		return defs.EBadArgument
	}
	sectorSize := dev.SectorSize()
	buf := make([]byte, sectorSize)
	for i, e := range entries {
		off := mbrTableOff + i*mbrEntrySize
		entry := buf[off : off+mbrEntrySize]
		if e.Bootable {
			entry[mbrBootableOff] = 0x80
		}
		entry[mbrSysIDOff] = e.SysID
		binary.LittleEndian.PutUint32(entry[mbrLBAOff:], e.FirstSector)
		binary.LittleEndian.PutUint32(entry[mbrCountOff:], e.NumSectors)
	}
	buf[sectorSize-2] = 0x55
	buf[sectorSize-1] = 0xAA
	return dev.WriteSectors(0, 1, buf)
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// View presents one discovered partition as a storage.Device in its own
// right, translating every sector address by adding FirstSector, per
// spec.md §4.2's data model note: "addresses within a partition are
// translated to absolute sectors by adding first_sector." Layers above
// (internal/cache, internal/simplefs) never see the owning device or
// the partition table again once they hold a View.
type View struct {
	dev  storage.Device
	part Partition
}

// NewView wraps dev to expose only part's sector range.
func NewView(dev storage.Device, part Partition) *View {
	return &View{dev: dev, part: part}
}

func (v *View) SectorSize() int    { return v.dev.SectorSize() }
func (v *View) NumSectors() uint64 { return v.part.NumSectors }

func (v *View) checkBounds(lba uint64, count int) defs.Err_t {
	if uint64(count) > v.part.NumSectors || lba > v.part.NumSectors-uint64(count) {
		return defs.EOutOfBounds
	}
	return 0
}

func (v *View) ReadSectors(lba uint64, count int, buf []byte) defs.Err_t {
	if err := v.checkBounds(lba, count); err != 0 {
		return err
	}
	return v.dev.ReadSectors(v.part.FirstSector+lba, count, buf)
}

func (v *View) WriteSectors(lba uint64, count int, buf []byte) defs.Err_t {
	if err := v.checkBounds(lba, count); err != 0 {
		return err
	}
	return v.dev.WriteSectors(v.part.FirstSector+lba, count, buf)
}

func (v *View) Flush() defs.Err_t { return v.dev.Flush() }
