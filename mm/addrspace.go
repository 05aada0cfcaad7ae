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

package mm

import (
	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
	"github.com/hexagonal-sun/moss-kernel/kernel/syserr"
	"github.com/hexagonal-sun/moss-kernel/ksync"
	"github.com/hexagonal-sun/moss-kernel/pmm"
)

// MmapBase is the default low bound Mmap scans upward from when the caller
// does not specify a range, matching common Linux ELF loader placement.
const MmapBase = kaddr.UserVirtual(0x0000_5555_0000_0000)

// MmapLimit is the default high bound of the mmap search area, well below
// the canonical-address boundary on both supported ISAs.
const MmapLimit = kaddr.UserVirtual(0x0000_7fff_0000_0000)

// PageTable is the minimal contract mm needs from the arch HAL's
// page-table walker/builder (spec.md §4.1): map, unmap, and rewrite
// permissions for one page, plus TLB invalidation for a range. Concrete
// implementations live in package arch; mm depends only on this interface
// to stay ISA-agnostic.
type PageTable interface {
	Map(addr kaddr.UserVirtual, frame pmm.Frame, prot Prot) error
	Unmap(addr kaddr.UserVirtual) error
	SetProt(addr kaddr.UserVirtual, prot Prot) error
	Translate(addr kaddr.UserVirtual) (pmm.Frame, Prot, bool)
	FlushRange(r kaddr.Range)
	Clone() PageTable // used by fork_copy to build the child's page tree
}

// FrameRef tracks the CoW refcount for one anonymous frame, shared between
// every address space mapping it privately. Frames backing shared
// mappings, or frames not yet touched, are not tracked here.
type FrameRef struct {
	mu       ksync.Spinlock
	refcount int
}

func newFrameRef() *FrameRef { r := &FrameRef{}; r.refcount = 1; return r }

// Inc increments the refcount, used when fork_copy shares a private
// writable page between parent and child.
func (r *FrameRef) Inc() {
	g := r.mu.Lock()
	defer g.Release()
	r.refcount++
}

// Dec decrements the refcount and reports the value after decrementing.
func (r *FrameRef) Dec() int {
	g := r.mu.Lock()
	defer g.Release()
	r.refcount--
	return r.refcount
}

// Count reports the current refcount.
func (r *FrameRef) Count() int {
	g := r.mu.Lock()
	defer g.Release()
	return r.refcount
}

// AddressSpace is the root of one process's page-table tree, VMA list, and
// ASID (spec.md §3). Threads of the same process share one AddressSpace by
// holding additional references to it; the last reference dropped frees
// the page tree and any backing frames not still refcounted elsewhere.
type AddressSpace struct {
	mu     ksync.Spinlock // guards VMAs and PT below (lock level 5, spec.md §5)
	VMAs   *VMASet
	PT     PageTable
	Buddy  *pmm.Buddy
	Memory *pmm.Memory
	ASID   uint64

	// frameRefs maps a frame to its CoW refcount tracker. Only frames that
	// have ever been shared (i.e. survived a fork_copy) have an entry;
	// singly-owned frames are implicitly refcount 1.
	frameRefs map[pmm.Frame]*FrameRef

	refs int // address-space handle refcount, dropped by process exit

	brk kaddr.Range // current heap VMA, managed by BrkSetup/Brk
}

// NewAddressSpace creates an empty address space over pt and buddy, backed
// by mem for frame content access (fault handling, user copies).
func NewAddressSpace(pt PageTable, buddy *pmm.Buddy, mem *pmm.Memory, asid uint64) *AddressSpace {
	return &AddressSpace{
		VMAs:      NewVMASet(),
		PT:        pt,
		Buddy:     buddy,
		Memory:    mem,
		ASID:      asid,
		frameRefs: make(map[pmm.Frame]*FrameRef),
		refs:      1,
	}
}

// Ref increments the address-space handle refcount (a new thread joining
// the thread group).
func (as *AddressSpace) Ref() { as.refs++ }

// Unref decrements the refcount, tearing down the page tree and any
// frames this address space uniquely owned once it reaches zero.
func (as *AddressSpace) Unref() {
	as.refs--
	if as.refs > 0 {
		return
	}
	as.VMAs.All(func(v VMA) bool {
		as.unmapRangeLocked(v.Range)
		return true
	})
}

// Mmap allocates a VMA of the requested length. If want is non-nil, that
// exact range is used (existing overlapping mappings must have been
// removed by the caller, matching MAP_FIXED semantics); otherwise a hole
// is found starting at MmapBase (spec.md §4.4).
func (as *AddressSpace) Mmap(want *kaddr.Range, length uint64, prot Prot, backing Backing, sharing Sharing) (kaddr.Range, error) {
	length = uint64(kaddr.UserVirtual(length).RoundUp())
	g := as.mu.Lock()
	defer g.Release()

	var r kaddr.Range
	if want != nil {
		if as.VMAs.AnyOverlap(*want) {
			return kaddr.Range{}, syserr.New(syserr.KindExists, "mm: fixed range already mapped")
		}
		r = *want
	} else {
		start, ok := as.VMAs.FindHole(MmapBase, length, MmapLimit)
		if !ok {
			return kaddr.Range{}, syserr.New(syserr.KindNoMemory, "mm: no virtual address hole large enough")
		}
		r = kaddr.Range{Start: start, End: start + kaddr.UserVirtual(length)}
	}
	as.VMAs.Insert(VMA{Range: r, Prot: prot, Backing: backing, Sharing: sharing})
	return r, nil
}

// Munmap removes every mapping overlapping r, tearing down PTEs and
// dropping frame references (spec.md §4.4).
func (as *AddressSpace) Munmap(r kaddr.Range) {
	g := as.mu.Lock()
	defer g.Release()
	as.unmapRangeLocked(r)
	as.VMAs.Remove(r)
}

func (as *AddressSpace) unmapRangeLocked(r kaddr.Range) {
	for addr := r.Start.RoundDown(); addr < r.End; addr += kaddr.PageSize {
		frame, _, ok := as.PT.Translate(addr)
		if !ok {
			continue
		}
		as.PT.Unmap(addr)
		as.dropFrameLocked(frame)
	}
	as.PT.FlushRange(r)
}

func (as *AddressSpace) dropFrameLocked(f pmm.Frame) {
	ref, tracked := as.frameRefs[f]
	if !tracked {
		as.Buddy.Free(f)
		return
	}
	if ref.Dec() == 0 {
		delete(as.frameRefs, f)
		as.Buddy.Free(f)
	}
}

// Mprotect rewrites the protection of every page in r (spec.md §4.4).
func (as *AddressSpace) Mprotect(r kaddr.Range, prot Prot) error {
	g := as.mu.Lock()
	defer g.Release()
	if !as.vmaRangeFullyCoveredLocked(r) {
		return syserr.New(syserr.KindInvalid, "mm: mprotect over unmapped hole")
	}
	as.VMAs.SetProt(r, prot)
	for addr := r.Start.RoundDown(); addr < r.End; addr += kaddr.PageSize {
		if _, _, ok := as.PT.Translate(addr); ok {
			as.PT.SetProt(addr, prot)
		}
	}
	as.PT.FlushRange(r)
	return nil
}

func (as *AddressSpace) vmaRangeFullyCoveredLocked(r kaddr.Range) bool {
	covered := r.Start
	ok := true
	as.VMAs.Overlapping(r, func(v VMA) bool {
		if v.Range.Start > covered {
			ok = false
			return false
		}
		if v.Range.End > covered {
			covered = v.Range.End
		}
		return true
	})
	return ok && covered >= r.End
}

// ForkCopy produces a new address space whose VMAs mirror as: private
// writable mappings become CoW on both sides, sharing incremented frame
// refcounts; shared mappings keep write access on both sides and share the
// frame outright (spec.md §4.4).
func (as *AddressSpace) ForkCopy(newPT PageTable, asid uint64) (*AddressSpace, error) {
	g := as.mu.Lock()
	defer g.Release()

	child := NewAddressSpace(newPT, as.Buddy, as.Memory, asid)
	var walkErr error
	// VMAs needing the CoW bit set on the parent's own side are collected
	// here and applied after the traversal returns, not during it: Insert
	// and Remove mutate as.VMAs's underlying btree, which google/btree does
	// not allow from inside the Ascend callback All uses.
	var parentCoW []VMA
	as.VMAs.All(func(v VMA) bool {
		childVMA := v
		if v.Sharing == SharingPrivate && v.Prot&ProtWrite != 0 {
			childVMA.CoW = true
			parentCoW = append(parentCoW, v)
		}
		child.VMAs.Insert(childVMA)

		for addr := v.Range.Start.RoundDown(); addr < v.Range.End; addr += kaddr.PageSize {
			frame, prot, ok := as.PT.Translate(addr)
			if !ok {
				continue
			}
			mapProt := prot
			if childVMA.CoW {
				mapProt &^= ProtWrite
				if err := as.PT.SetProt(addr, mapProt); err != nil {
					walkErr = err
					return false
				}
				ref := as.frameRefFor(frame)
				ref.Inc()
				// Both address spaces must observe the same shared counter,
				// not independent copies, or a Dec() in one would be
				// invisible to the other and the frame would leak or be
				// freed while still mapped.
				child.frameRefs[frame] = ref
			}
			if err := newPT.Map(addr, frame, mapProt); err != nil {
				walkErr = err
				return false
			}
		}
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}

	// The parent's own VMAs must carry the same CoW bit the PTE downgrade
	// above already applied to its page table, or a write fault in the
	// parent skips fault.go's CoW branch and resyncs the PTE back to
	// writable on the still-shared frame instead of copying it (spec.md
	// §4.4, §8's CoW-correctness property).
	for _, v := range parentCoW {
		v.CoW = true
		as.VMAs.Remove(v.Range)
		as.VMAs.Insert(v)
	}

	as.PT.FlushRange(kaddr.Range{Start: 0, End: ^kaddr.UserVirtual(0)})
	return child, nil
}

func (as *AddressSpace) frameRefFor(f pmm.Frame) *FrameRef {
	if r, ok := as.frameRefs[f]; ok {
		return r
	}
	r := newFrameRef()
	as.frameRefs[f] = r
	return r
}

// Brk-style single break VMA management lives in brk.go: the brk field
// above holds the current break range, and BrkSetup/Brk grow and shrink it
// through Mmap/Munmap.

func (as *AddressSpace) copyFrameLocked(dst, src pmm.Frame) error {
	as.Memory.Copy(dst, src)
	return nil
}

func (as *AddressSpace) zeroFrameLocked(f pmm.Frame) error {
	as.Memory.Zero(f)
	return nil
}
