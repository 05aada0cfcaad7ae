// Copyright 2024 The moss-kernel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package slab implements typed object caches over pmm's buddy allocator:
// a per-CPU magazine with no locking on the hot path, backed by a shared
// partial-slab list protected by a leaf spinlock (spec.md §4.3).
package slab

import (
	"fmt"

	"github.com/hexagonal-sun/moss-kernel/kernel/syserr"
	"github.com/hexagonal-sun/moss-kernel/ksync"
	"github.com/hexagonal-sun/moss-kernel/pmm"
)

// MagazineDepth is the per-CPU free-stack depth, matching spec.md §4.3's
// "small, e.g. 16".
const MagazineDepth = 16

// FrameOrder is the buddy order a cache carves objects out of; one frame
// per slab keeps the accounting in this implementation simple, at the cost
// of some internal fragmentation for very large object sizes (not expected
// on this spec's object catalogue: tasks, VMAs, fd-table entries).
const FrameOrder = 0

type slabInfo struct {
	frame    pmm.Frame
	mem      []byte
	freeList []int // indices of free objects within mem
	live     int   // count of objects currently allocated from this slab
	capacity int
}

// Handle names one allocated object: which slab it came from and its
// index within that slab. Cache hands out Handles rather than raw []byte
// so that Free can locate the owning slab in O(1) instead of scanning
// every slab's backing array for a pointer match.
type Handle struct {
	slab *slabInfo
	idx  int
	size uint64
}

// Bytes returns the Size-byte window backing this object.
func (h Handle) Bytes() []byte {
	return h.slab.mem[h.idx*int(h.size) : (h.idx+1)*int(h.size)]
}

// Cache is a named, fixed-object-size allocator.
type Cache struct {
	Name  string
	Size  uint64 // object size in bytes
	buddy *pmm.Buddy

	mu      ksync.Spinlock
	partial []*slabInfo // slabs with at least one free object
	full    []*slabInfo // slabs fully allocated (kept to release when freed)

	magazines *ksync.PerCPU[[]Handle]
}

// NewCache creates a cache of objects of the given size, backed by buddy
// for fresh slabs, with one magazine per CPU.
func NewCache(name string, size uint64, buddy *pmm.Buddy, numCPU int) *Cache {
	return &Cache{
		Name:      name,
		Size:      size,
		buddy:     buddy,
		magazines: ksync.NewPerCPU[[]Handle](numCPU),
	}
}

func (c *Cache) objectsPerSlab() int {
	frameBytes := uint64(1) << (12 + FrameOrder)
	n := int(frameBytes / c.Size)
	if n < 1 {
		n = 1
	}
	return n
}

// Alloc returns a handle to a Size-byte object for the given CPU. Order:
// magazine pop, then transfer from a partial slab, then a fresh frame from
// buddy; no lock is taken on the magazine-pop fast path.
func (c *Cache) Alloc(cpu int) (Handle, error) {
	mag := c.magazines.Get(cpu)
	if len(*mag) > 0 {
		h := (*mag)[len(*mag)-1]
		*mag = (*mag)[:len(*mag)-1]
		return h, nil
	}

	if err := c.refill(cpu); err != nil {
		return Handle{}, err
	}
	mag = c.magazines.Get(cpu)
	if len(*mag) == 0 {
		return Handle{}, syserr.New(syserr.KindNoMemory, fmt.Sprintf("slab: cache %q exhausted", c.Name))
	}
	h := (*mag)[len(*mag)-1]
	*mag = (*mag)[:len(*mag)-1]
	return h, nil
}

// refill transfers up to MagazineDepth objects from a partial slab into the
// magazine for cpu, obtaining a fresh frame from buddy if no partial slab
// has free objects.
func (c *Cache) refill(cpu int) error {
	g := c.mu.Lock()
	defer g.Release()

	if len(c.partial) == 0 {
		s, err := c.newSlabLocked()
		if err != nil {
			return err
		}
		c.partial = append(c.partial, s)
	}

	s := c.partial[len(c.partial)-1]
	mag := c.magazines.Get(cpu)
	for len(*mag) < MagazineDepth && len(s.freeList) > 0 {
		idx := s.freeList[len(s.freeList)-1]
		s.freeList = s.freeList[:len(s.freeList)-1]
		s.live++
		*mag = append(*mag, Handle{slab: s, idx: idx, size: c.Size})
	}
	if len(s.freeList) == 0 {
		c.partial = c.partial[:len(c.partial)-1]
		c.full = append(c.full, s)
	}
	return nil
}

func (c *Cache) newSlabLocked() (*slabInfo, error) {
	f, err := c.buddy.Alloc(FrameOrder)
	if err != nil {
		return nil, err
	}
	n := c.objectsPerSlab()
	s := &slabInfo{
		frame:    f,
		mem:      make([]byte, uint64(n)*c.Size),
		capacity: n,
	}
	for i := 0; i < n; i++ {
		s.freeList = append(s.freeList, i)
	}
	return s, nil
}

// Free returns h to cpu's magazine. If the magazine grows past
// 2*MagazineDepth, half its contents are flushed to the shared partial list;
// if a slab becomes fully free after a flush, its frame is released back
// to buddy.
func (c *Cache) Free(cpu int, h Handle) {
	mag := c.magazines.Get(cpu)
	*mag = append(*mag, h)
	if len(*mag) <= 2*MagazineDepth {
		return
	}
	half := len(*mag) / 2
	toFlush := (*mag)[:half]
	*mag = append([]Handle{}, (*mag)[half:]...)

	g := c.mu.Lock()
	defer g.Release()
	for _, fh := range toFlush {
		c.releaseLocked(fh)
	}
}

func (c *Cache) releaseLocked(h Handle) {
	s := h.slab
	wasFull := len(s.freeList) == 0
	s.freeList = append(s.freeList, h.idx)
	s.live--
	if wasFull {
		c.full = removeSlab(c.full, s)
		c.partial = append(c.partial, s)
	}
	if s.live == 0 {
		c.partial = removeSlab(c.partial, s)
		c.buddy.Free(s.frame)
	}
}

// Occupancy reports the total live-object count and object capacity across
// every slab this cache owns (partial and full), for kernel/kmetric's
// slab-occupancy gauge. Objects currently sitting in a per-CPU magazine are
// counted as live, matching spec.md §4.3's invariant that "every
// outstanding object belongs to exactly one slab whose refcount equals the
// count of live objects" regardless of which free list currently holds it.
func (c *Cache) Occupancy() (live, capacity int) {
	g := c.mu.Lock()
	defer g.Release()
	for _, s := range c.partial {
		live += s.live
		capacity += s.capacity
	}
	for _, s := range c.full {
		live += s.live
		capacity += s.capacity
	}
	return live, capacity
}

func removeSlab(l []*slabInfo, s *slabInfo) []*slabInfo {
	for i, x := range l {
		if x == s {
			l[i] = l[len(l)-1]
			return l[:len(l)-1]
		}
	}
	return l
}
