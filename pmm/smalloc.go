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

package pmm

import (
	"fmt"

	"github.com/google/btree"
	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
	"github.com/hexagonal-sun/moss-kernel/kernel/syserr"
	"github.com/hexagonal-sun/moss-kernel/ksync"
)

// reservation is a boot-reserved physical range tracked by Smalloc's btree
// index, ordered by Start so Smalloc can answer "does this frame belong to
// a region already handed to Smalloc" in O(log n) instead of a linear scan
// across every reserved region (there are typically only a handful, but
// the index is what a growing boot path would want).
type reservation struct {
	kaddr.PhysRange
}

func (r reservation) Less(than btree.Item) bool {
	return r.Start < than.(reservation).Start
}

// Smalloc is the early bump allocator for allocations needed before the
// buddy allocator is initialized. Freed memory is never reclaimed by
// Smalloc; the region it bump-allocates from is handed whole to a Buddy
// once boot completes (spec.md §4.2).
type Smalloc struct {
	mu     ksync.Spinlock
	regions *btree.BTree
	cursor kaddr.Physical // next free byte within the region cursor currently points into
	curEnd kaddr.Physical
}

// NewSmalloc creates a Smalloc bump allocator over the given boot-reserved
// regions. Regions are consumed in ascending address order as the cursor
// exhausts each one.
func NewSmalloc(regions []kaddr.PhysRange) *Smalloc {
	s := &Smalloc{regions: btree.New(4)}
	for _, r := range regions {
		s.regions.ReplaceOrInsert(reservation{r})
	}
	s.advanceRegion()
	return s
}

// advanceRegion points the cursor at the lowest-addressed region with
// remaining space, if any.
func (s *Smalloc) advanceRegion() {
	s.regions.Ascend(func(it btree.Item) bool {
		r := it.(reservation)
		if r.Start >= s.cursor && r.End > s.cursor {
			s.cursor = r.Start
			s.curEnd = r.End
			return false
		}
		return true
	})
}

// Alloc bump-allocates n bytes aligned to align (which must be a power of
// two), returning the physical address of the allocation.
func (s *Smalloc) Alloc(n uint64, align uint64) (kaddr.Physical, error) {
	if align == 0 || align&(align-1) != 0 {
		return 0, syserr.New(syserr.KindInvalid, fmt.Sprintf("smalloc: bad alignment %d", align))
	}
	g := s.mu.Lock()
	defer g.Release()

	start := (uint64(s.cursor) + align - 1) &^ (align - 1)
	if start+n > uint64(s.curEnd) {
		// Try the next region that still has room.
		s.cursor = kaddr.Physical(start)
		s.advanceRegion()
		start = (uint64(s.cursor) + align - 1) &^ (align - 1)
		if s.curEnd == 0 || start+n > uint64(s.curEnd) {
			return 0, syserr.New(syserr.KindNoMemory, "smalloc: boot regions exhausted")
		}
	}
	s.cursor = kaddr.Physical(start + n)
	return kaddr.Physical(start), nil
}

// Remaining reports how many bytes are left in the region the cursor
// currently occupies, for diagnostics.
func (s *Smalloc) Remaining() uint64 {
	g := s.mu.Lock()
	defer g.Release()
	if s.curEnd < s.cursor {
		return 0
	}
	return uint64(s.curEnd - s.cursor)
}
