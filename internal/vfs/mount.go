package vfs

import (
	"sync"

	"kernel/internal/defs"
	"kernel/internal/partition"
	"kernel/internal/storage"
	"kernel/internal/ustr"
)

// Mount binds one (device, partition) pair, opened by some driver, to a
// point in the global path namespace. The mount table is a linked
// list, matching the teacher's preference for small, hand-walked
// structures over a full tree: lookups are by linear scan of mount
// points, which is acceptable since mounts are rare compared to path
// lookups within them.
type Mount struct {
	Device         storage.Device
	Partition      partition.Partition
	Driver         *Driver
	Superblock     SuperblockOps
	MountPoint     string // canonical path this filesystem is mounted at
	Root           *Descriptor
	HostDirectory  *Descriptor // the directory in the parent fs this shadows, nil for "/"
	next           *Mount
}

// MountTable is the process-wide table of active mounts. The root
// mount ("/") must be established before any other; it is kept apart
// from the linked chain so the always-correct fast path to root does
// not depend on list order.
type MountTable struct {
	mu   sync.RWMutex
	root *Mount
	head *Mount
}

// NewMountTable returns an empty mount table.
func NewMountTable() *MountTable {
	return &MountTable{}
}

// Mount registers a new mount at point. The very first call must use
// point "/"; every later call resolves point against the namespace
// established so far to find the directory this mount shadows, so
// Resolve can later detect the crossing (spec.md §4.9 step 5, §8's S4).
func (mt *MountTable) Mount(point string, dev storage.Device, part partition.Partition, drv *Driver) (*Mount, defs.Err_t) {
	sb, err := drv.OpenSuperblock(dev, part)
	if err != 0 {
		return nil, err
	}
	root, err := sb.RootDescriptor()
	if err != 0 {
		return nil, err
	}

	m := &Mount{
		Device:     dev,
		Partition:  part,
		Driver:     drv,
		Superblock: sb,
		MountPoint: point,
		Root:       root,
	}

	if point == "/" {
		mt.mu.Lock()
		defer mt.mu.Unlock()
		if mt.root != nil {
			return nil, defs.EBadArgument
		}
		mt.root = m
		return m, 0
	}

	rootMount, ok := mt.Root()
	if !ok {
		return nil, defs.ENoFsMounted
	}
	hostDir, rerr := Resolve(mt, ustr.Ustr(point), rootMount.Root, false)
	if rerr != 0 {
		return nil, rerr
	}
	if hostDir.Kind != KindDir {
		return nil, defs.ENotADirectory
	}
	m.HostDirectory = hostDir

	mt.mu.Lock()
	defer mt.mu.Unlock()
	m.next = mt.head
	mt.head = m
	return m, 0
}

// Root returns the root mount, or (nil, false) if none has been
// established yet.
func (mt *MountTable) Root() (*Mount, bool) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.root, mt.root != nil
}

// lookupAt returns the mount whose HostDirectory matches d, i.e. d is a
// mount point. Descriptors are value types freshly built by each
// back-end's Lookup call (spec.md §3: "cloneable, comparable"), so the
// match is by (superblock, location) identity, not pointer identity.
func (mt *MountTable) lookupAt(d *Descriptor) (*Mount, bool) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	for m := mt.head; m != nil; m = m.next {
		if m.HostDirectory != nil && m.HostDirectory.SB == d.SB && m.HostDirectory.Location == d.Location {
			return m, true
		}
	}
	return nil, false
}

// Unmount closes the superblock for the mount at point and removes its
// entry. The root mount cannot be unmounted.
func (mt *MountTable) Unmount(point string) defs.Err_t {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	if mt.root != nil && mt.root.MountPoint == point {
		return defs.EBadArgument
	}

	var prev *Mount
	for m := mt.head; m != nil; m = m.next {
		if m.MountPoint == point {
			if err := m.Driver.CloseSuperblock(m.Superblock); err != 0 {
				return err
			}
			if prev == nil {
				mt.head = m.next
			} else {
				prev.next = m.next
			}
			return 0
		}
		prev = m
	}
	return defs.ENotFound
}
