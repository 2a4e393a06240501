package vfs

import (
	"sync"

	"kernel/internal/defs"
	"kernel/internal/partition"
	"kernel/internal/storage"
)

// Driver is a filesystem back-end registered with the VFS: it probes a
// partition to see whether it recognizes the on-disk layout, and opens
// or closes a superblock over a claimed partition.
type Driver struct {
	Name           string
	Probe          func(dev storage.Device, part partition.Partition) bool
	OpenSuperblock func(dev storage.Device, part partition.Partition) (SuperblockOps, defs.Err_t)
	CloseSuperblock func(sb SuperblockOps) defs.Err_t
}

// Registry holds every registered back-end driver. Probe tries drivers
// in registration order and returns the first that claims the
// partition.
type Registry struct {
	mu      sync.Mutex
	drivers []*Driver
}

// NewRegistry returns an empty driver registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a back-end driver.
func (r *Registry) Register(d *Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers = append(r.drivers, d)
}

// Probe returns the first registered driver that claims dev/part, or
// nil if none does.
func (r *Registry) Probe(dev storage.Device, part partition.Partition) *Driver {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.drivers {
		if d.Probe(dev, part) {
			return d
		}
	}
	return nil
}
