// Package cache implements the LRU block cache of spec.md §4.6, layered
// above internal/storage and below filesystem drivers. Grounded on
// original_source's nursery/simple_filesystem/src/block_cache.inc.c for
// the overall shape (a fixed slot array, a block_no→entry hash table, an
// LRU doubly linked list promoting on every access, write-back-before-
// evict), translated from that file's raw pointers
// (lru_older/lru_newer/hash_next) into arena-allocated slots referenced
// by index, per spec.md §9's explicit allowance for intrusive patterns
// via arena+index in performance-sensitive layers. The hashtable's
// chained-bucket shape is grounded on the teacher's Hashtable_t
// (cache/hashtable_teacher.go), generalized from interface{} keys down to
// the one key type this cache needs (block_no).
package cache

import (
	"kernel/internal/defs"
	"kernel/internal/storage"
)

const noIdx = int32(-1)

// entry is one cached block: a slot array cell plus intrusive links for
// both its hash bucket chain and its LRU position.
type entry struct {
	blockNo  uint64
	inUse    bool
	dirty    bool
	data     []byte
	hashNext int32
	lruPrev  int32
	lruNext  int32
}

// Cache is a fixed-size block cache in front of one storage.Device.
type Cache struct {
	dev       storage.Device
	blockSize int

	entries []entry
	buckets []int32
	free    []int32

	lruOldest int32
	lruNewest int32
}

// New allocates a cache of the given slot capacity, caching blockSize-byte
// blocks (a whole multiple of dev's sector size) read from dev.
func New(dev storage.Device, blockSize, capacity int) *Cache {
	if blockSize%dev.SectorSize() != 0 {
		panic("cache: block size not a multiple of sector size")
	}
	c := &Cache{
		dev:       dev,
		blockSize: blockSize,
		entries:   make([]entry, capacity),
		buckets:   make([]int32, capacity),
		free:      make([]int32, capacity),
		lruOldest: noIdx,
		lruNewest: noIdx,
	}
	for i := range c.buckets {
		c.buckets[i] = noIdx
	}
	for i := 0; i < capacity; i++ {
		c.entries[i].data = make([]byte, blockSize)
		c.entries[i].hashNext = noIdx
		c.entries[i].lruPrev = noIdx
		c.entries[i].lruNext = noIdx
		c.free[i] = int32(capacity - 1 - i)
	}
	return c
}

func (c *Cache) bucketOf(blockNo uint64) int {
	return int(blockNo % uint64(len(c.buckets)))
}

// find returns the slot index caching blockNo, or noIdx.
func (c *Cache) find(blockNo uint64) int32 {
	b := c.bucketOf(blockNo)
	for idx := c.buckets[b]; idx != noIdx; idx = c.entries[idx].hashNext {
		if c.entries[idx].blockNo == blockNo {
			return idx
		}
	}
	return noIdx
}

func (c *Cache) hashInsert(idx int32) {
	b := c.bucketOf(c.entries[idx].blockNo)
	c.entries[idx].hashNext = c.buckets[b]
	c.buckets[b] = idx
}

func (c *Cache) hashRemove(idx int32) {
	b := c.bucketOf(c.entries[idx].blockNo)
	if c.buckets[b] == idx {
		c.buckets[b] = c.entries[idx].hashNext
		return
	}
	for p := c.buckets[b]; p != noIdx; p = c.entries[p].hashNext {
		if c.entries[p].hashNext == idx {
			c.entries[p].hashNext = c.entries[idx].hashNext
			return
		}
	}
}

func (c *Cache) lruUnlink(idx int32) {
	e := &c.entries[idx]
	if e.lruPrev != noIdx {
		c.entries[e.lruPrev].lruNext = e.lruNext
	} else {
		c.lruOldest = e.lruNext
	}
	if e.lruNext != noIdx {
		c.entries[e.lruNext].lruPrev = e.lruPrev
	} else {
		c.lruNewest = e.lruPrev
	}
	e.lruPrev, e.lruNext = noIdx, noIdx
}

// promote moves idx to the newest end of the LRU list.
func (c *Cache) promote(idx int32) {
	if c.lruNewest == idx {
		return
	}
	if c.entries[idx].lruPrev != noIdx || c.entries[idx].lruNext != noIdx || c.lruOldest == idx {
		c.lruUnlink(idx)
	}
	e := &c.entries[idx]
	e.lruPrev = c.lruNewest
	e.lruNext = noIdx
	if c.lruNewest != noIdx {
		c.entries[c.lruNewest].lruNext = idx
	}
	c.lruNewest = idx
	if c.lruOldest == noIdx {
		c.lruOldest = idx
	}
}

func (c *Cache) sectorsPerBlock() int {
	return c.blockSize / c.dev.SectorSize()
}

func (c *Cache) loadFromDisk(idx int32) defs.Err_t {
	e := &c.entries[idx]
	lba := e.blockNo * uint64(c.sectorsPerBlock())
	return c.dev.ReadSectors(lba, c.sectorsPerBlock(), e.data)
}

func (c *Cache) writeBack(idx int32) defs.Err_t {
	e := &c.entries[idx]
	lba := e.blockNo * uint64(c.sectorsPerBlock())
	if err := c.dev.WriteSectors(lba, c.sectorsPerBlock(), e.data); err != 0 {
		return err
	}
	e.dirty = false
	return 0
}

// evictOne writes back the LRU-oldest entry if dirty (aborting on I/O
// failure, per spec.md §4.6's failure semantics — the victim stays dirty
// and in the LRU list so the caller can retry) and frees its slot.
func (c *Cache) evictOne() (int32, defs.Err_t) {
	if c.lruOldest == noIdx {
		panic("cache: evict with no entries")
	}
	idx := c.lruOldest
	e := &c.entries[idx]
	if e.dirty {
		if err := c.writeBack(idx); err != 0 {
			return noIdx, err
		}
	}
	c.lruUnlink(idx)
	c.hashRemove(idx)
	e.inUse = false
	return idx, 0
}

// getOrLoad returns the slot index backing blockNo, loading it from disk
// on a miss (claiming a free slot, or evicting the LRU-oldest entry when
// the cache is full).
func (c *Cache) getOrLoad(blockNo uint64) (int32, defs.Err_t) {
	if idx := c.find(blockNo); idx != noIdx {
		c.promote(idx)
		return idx, 0
	}

	var idx int32
	if n := len(c.free); n > 0 {
		idx = c.free[n-1]
		c.free = c.free[:n-1]
	} else {
		var err defs.Err_t
		idx, err = c.evictOne()
		if err != 0 {
			return noIdx, err
		}
	}

	e := &c.entries[idx]
	e.blockNo = blockNo
	e.inUse = true
	e.dirty = false
	if err := c.loadFromDisk(idx); err != 0 {
		e.inUse = false
		c.free = append(c.free, idx)
		return noIdx, err
	}
	c.hashInsert(idx)
	c.promote(idx)
	return idx, 0
}

// Read copies len(buf) bytes from blockNo's cached contents starting at
// offset, loading the block from disk first on a miss.
func (c *Cache) Read(blockNo uint64, offset int, buf []byte) defs.Err_t {
	idx, err := c.getOrLoad(blockNo)
	if err != 0 {
		return err
	}
	e := &c.entries[idx]
	if offset < 0 || offset+len(buf) > len(e.data) {
		return defs.EOutOfBounds
	}
	copy(buf, e.data[offset:offset+len(buf)])
	return 0
}

// Write mutates blockNo's cached contents starting at offset and marks
// the entry dirty.
func (c *Cache) Write(blockNo uint64, offset int, buf []byte) defs.Err_t {
	idx, err := c.getOrLoad(blockNo)
	if err != 0 {
		return err
	}
	e := &c.entries[idx]
	if offset < 0 || offset+len(buf) > len(e.data) {
		return defs.EOutOfBounds
	}
	copy(e.data[offset:offset+len(buf)], buf)
	e.dirty = true
	return 0
}

// Wipe zeros a whole cached block, for file truncation/allocation.
func (c *Cache) Wipe(blockNo uint64) defs.Err_t {
	idx, err := c.getOrLoad(blockNo)
	if err != 0 {
		return err
	}
	e := &c.entries[idx]
	for i := range e.data {
		e.data[i] = 0
	}
	e.dirty = true
	return 0
}

// Flush writes back every dirty entry and clears their dirty flags.
func (c *Cache) Flush() defs.Err_t {
	for idx := range c.entries {
		e := &c.entries[idx]
		if e.inUse && e.dirty {
			if err := c.writeBack(int32(idx)); err != 0 {
				return err
			}
		}
	}
	return 0
}
