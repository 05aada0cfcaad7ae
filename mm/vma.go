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

// Package mm is the virtual-memory manager: VMA lists, the page-fault
// handler, and safe user-memory access primitives (spec.md §4.4). It
// represents an address space's VMAs as a btree.BTree of disjoint,
// ordered ranges, standing in for gvisor's generated segment-set type.
package mm

import (
	"github.com/google/btree"
	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
)

// Prot is a bitmask of access permissions, {R,W,X,U} from spec.md §3.
type Prot uint8

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
	ProtUser
)

// SupersetOf reports whether p grants every permission in other.
func (p Prot) SupersetOf(other Prot) bool { return p&other == other }

// Backing names what a VMA's pages come from.
type Backing int

const (
	BackingAnonymous Backing = iota
	BackingFile
	BackingDevice
)

// Sharing is a VMA's sharing mode.
type Sharing int

const (
	SharingPrivate Sharing = iota
	SharingShared
)

// VMA is a virtual-memory area: a half-open user-virtual range with
// uniform attributes (spec.md §3).
type VMA struct {
	Range   kaddr.Range
	Prot    Prot
	Backing Backing
	Sharing Sharing
	CoW     bool
	// FileOffset is meaningful only when Backing == BackingFile.
	FileOffset uint64
}

// item adapts VMA to btree.Item, ordered by range start. VMAs never
// overlap within one VMASet (an invariant this package maintains, not one
// btree enforces), so ordering by Start alone totally orders the set.
type item struct{ VMA }

func (a item) Less(than btree.Item) bool {
	return a.Range.Start < than.(item).Range.Start
}

// VMASet is the ordered, disjoint collection of VMAs belonging to one
// address space (spec.md §3 "VMAs are disjoint and ordered by start
// address; adjacent VMAs with identical attributes may be merged").
type VMASet struct {
	t *btree.BTree
}

// NewVMASet returns an empty VMA set.
func NewVMASet() *VMASet { return &VMASet{t: btree.New(8)} }

// Find returns the VMA containing addr, if any.
func (s *VMASet) Find(addr kaddr.UserVirtual) (VMA, bool) {
	var found VMA
	ok := false
	s.t.DescendLessOrEqual(item{VMA{Range: kaddr.Range{Start: addr, End: addr + 1}}}, func(it btree.Item) bool {
		v := it.(item).VMA
		if v.Range.Contains(addr) {
			found, ok = v, true
		}
		return false
	})
	return found, ok
}

// Overlapping calls fn for every VMA overlapping r, in ascending order of
// start address, until fn returns false.
func (s *VMASet) Overlapping(r kaddr.Range, fn func(VMA) bool) {
	s.t.Ascend(func(it btree.Item) bool {
		v := it.(item).VMA
		if v.Range.Start >= r.End {
			return false
		}
		if v.Range.Overlaps(r) {
			if !fn(v) {
				return false
			}
		}
		return true
	})
}

// AnyOverlap reports whether any VMA in the set overlaps r.
func (s *VMASet) AnyOverlap(r kaddr.Range) bool {
	found := false
	s.Overlapping(r, func(VMA) bool { found = true; return false })
	return found
}

// Insert adds v to the set. Preconditions: v.Range does not overlap any
// existing VMA (callers must Munmap or split first). If v is adjacent to
// and attribute-identical with its immediate neighbor(s), Insert merges
// them, preserving the "adjacent identical VMAs may be merged" invariant.
func (s *VMASet) Insert(v VMA) {
	s.t.ReplaceOrInsert(item{v})
	s.mergeAround(v.Range.Start)
}

// mergeAround attempts to merge the VMA starting at addr with its
// immediate predecessor and successor if they are contiguous and
// attribute-identical.
func (s *VMASet) mergeAround(addr kaddr.UserVirtual) {
	cur, ok := s.vmaStartingAt(addr)
	if !ok {
		return
	}
	if prev, ok := s.vmaEndingAt(cur.Range.Start); ok && mergeable(prev, cur) {
		s.t.Delete(item{prev})
		s.t.Delete(item{cur})
		cur.Range.Start = prev.Range.Start
		s.t.ReplaceOrInsert(item{cur})
	}
	if next, ok := s.vmaStartingAt(cur.Range.End); ok && mergeable(cur, next) {
		s.t.Delete(item{cur})
		s.t.Delete(item{next})
		cur.Range.End = next.Range.End
		s.t.ReplaceOrInsert(item{cur})
	}
}

func mergeable(a, b VMA) bool {
	return a.Range.End == b.Range.Start &&
		a.Prot == b.Prot && a.Backing == b.Backing && a.Sharing == b.Sharing &&
		a.CoW == b.CoW && a.Backing != BackingFile
}

func (s *VMASet) vmaStartingAt(addr kaddr.UserVirtual) (VMA, bool) {
	var found VMA
	ok := false
	s.t.AscendGreaterOrEqual(item{VMA{Range: kaddr.Range{Start: addr}}}, func(it btree.Item) bool {
		v := it.(item).VMA
		if v.Range.Start == addr {
			found, ok = v, true
		}
		return false
	})
	return found, ok
}

func (s *VMASet) vmaEndingAt(addr kaddr.UserVirtual) (VMA, bool) {
	v, ok := s.Find(addr - 1)
	if ok && v.Range.End == addr {
		return v, true
	}
	return VMA{}, false
}

// Remove deletes every VMA overlapping r, splitting the boundary VMAs so
// that only the portion within r is removed (spec.md §4.4 munmap).
func (s *VMASet) Remove(r kaddr.Range) {
	var toRemove []VMA
	var toInsert []VMA
	s.Overlapping(r, func(v VMA) bool {
		toRemove = append(toRemove, v)
		if v.Range.Start < r.Start {
			left := v
			left.Range.End = r.Start
			toInsert = append(toInsert, left)
		}
		if v.Range.End > r.End {
			right := v
			right.Range.Start = r.End
			toInsert = append(toInsert, right)
		}
		return true
	})
	for _, v := range toRemove {
		s.t.Delete(item{v})
	}
	for _, v := range toInsert {
		s.t.ReplaceOrInsert(item{v})
	}
}

// SetProt rewrites the protection of every VMA overlapping r to prot,
// splitting boundary VMAs as necessary (spec.md §4.4 mprotect).
func (s *VMASet) SetProt(r kaddr.Range, prot Prot) {
	var affected []VMA
	s.Overlapping(r, func(v VMA) bool { affected = append(affected, v); return true })
	for _, v := range affected {
		s.t.Delete(item{v})
		lo := v.Range.Start
		hi := v.Range.End
		if lo < r.Start {
			left := v
			left.Range.End = r.Start
			s.t.ReplaceOrInsert(item{left})
			lo = r.Start
		}
		if hi > r.End {
			right := v
			right.Range.Start = r.End
			s.t.ReplaceOrInsert(item{right})
			hi = r.End
		}
		mid := v
		mid.Range.Start, mid.Range.End = lo, hi
		mid.Prot = prot
		s.t.ReplaceOrInsert(item{mid})
	}
	// Re-merge in case the new protection now matches a neighbor. mergeAround
	// mutates the tree (Delete/ReplaceOrInsert), which google/btree does not
	// allow from inside an Ascend callback, so the candidate starts are
	// collected during the read-only traversal and merged only afterward,
	// the same collect-then-mutate split Remove's own split pass above uses.
	var starts []kaddr.UserVirtual
	s.Overlapping(kaddr.Range{Start: r.Start, End: r.End}, func(v VMA) bool {
		starts = append(starts, v.Range.Start)
		return true
	})
	for _, start := range starts {
		s.mergeAround(start)
	}
}

// All calls fn for every VMA in ascending order, used by fork_copy and the
// "mapped set is exactly the union of VMA ranges" property test.
func (s *VMASet) All(fn func(VMA) bool) {
	s.t.Ascend(func(it btree.Item) bool { return fn(it.(item).VMA) })
}

// Len returns the number of VMAs currently in the set.
func (s *VMASet) Len() int { return s.t.Len() }

// FindHole scans upward from base for a gap of at least length bytes not
// overlapping any VMA, matching spec.md §4.4's "unspecified range" mmap
// path: "scans for a hole of sufficient size low-to-high above a
// configurable base".
func (s *VMASet) FindHole(base kaddr.UserVirtual, length uint64, limit kaddr.UserVirtual) (kaddr.UserVirtual, bool) {
	candidate := base
	found := false
	result := kaddr.UserVirtual(0)
	s.t.AscendGreaterOrEqual(item{VMA{Range: kaddr.Range{Start: base}}}, func(it btree.Item) bool {
		v := it.(item).VMA
		if v.Range.Start-candidate >= kaddr.UserVirtual(length) {
			found, result = true, candidate
			return false
		}
		if v.Range.End > candidate {
			candidate = v.Range.End
		}
		return true
	})
	if !found && candidate <= limit && limit-candidate >= kaddr.UserVirtual(length) {
		found, result = true, candidate
	}
	return result, found
}
