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

package amd64

import (
	"sync"
	"unsafe"

	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
	"github.com/hexagonal-sun/moss-kernel/mm"
	"github.com/hexagonal-sun/moss-kernel/pmm"
)

// Level shifts and masks for the standard x86-64 four-level tree
// (PML4 -> PDPT -> PD -> PT -> 4KiB page), matching
// pkg/ring0/pagetables/pagetables_amd64.go's pteShift/pmdShift/pudShift/
// pgdShift constants.
const (
	pteShift = 12
	pmdShift = 21
	pudShift = 30
	pgdShift = 39

	entriesPerTable = 512
	indexMask       = entriesPerTable - 1
)

// entry bits, matching the Linux/Intel SDM PTE format.
type entry uint64

const (
	flagPresent entry = 1 << 0
	flagWrite   entry = 1 << 1
	flagUser    entry = 1 << 2
	flagNoExec  entry = 1 << 63

	addrMask entry = 0x000f_ffff_ffff_f000
)

func index(addr uint64, shift uint) int {
	return int((addr >> shift) & indexMask)
}

// table is one level of the tree: 512 entries occupying exactly one 4KiB
// frame of hosted physical memory, reinterpreted via unsafe the way
// gvisor's own *_unsafe.go files reinterpret raw byte buffers as typed ABI
// structures (arch_abi_autogen_unsafe.go, stack_unsafe.go).
func asTable(b []byte) *[entriesPerTable]entry {
	return (*[entriesPerTable]entry)(unsafe.Pointer(&b[0]))
}

// PageTable is a from-scratch x86-64 four-level page table implementing
// mm.PageTable, backed by hosted physical memory (spec.md §4.4). Each level
// occupies one buddy-allocated frame; unlike a bare-metal kernel this never
// loads CR3 itself (arch.HAL.ContextSwitch does that via Root()), so it is
// equally usable under arch/hostplat for local development.
type PageTable struct {
	mu    sync.Mutex
	buddy *pmm.Buddy
	mem   *pmm.Memory
	root  pmm.Frame
}

// New allocates an empty page table (a zeroed PML4).
func New(buddy *pmm.Buddy, mem *pmm.Memory) (*PageTable, error) {
	root, err := buddy.Alloc(0)
	if err != nil {
		return nil, err
	}
	mem.Zero(root)
	return &PageTable{buddy: buddy, mem: mem, root: root}, nil
}

// Root returns the PML4 frame number, satisfying arch.PageTableRoot.
func (p *PageTable) Root() uint64 { return uint64(p.root) }

func (p *PageTable) walk(addr uint64, alloc bool) (*[entriesPerTable]entry, int, error) {
	frame := p.root
	for _, shift := range []uint{pgdShift, pudShift, pmdShift} {
		tbl := asTable(p.mem.Frame(frame))
		i := index(addr, shift)
		if tbl[i]&flagPresent == 0 {
			if !alloc {
				return nil, 0, nil
			}
			child, err := p.buddy.Alloc(0)
			if err != nil {
				return nil, 0, err
			}
			p.mem.Zero(child)
			tbl[i] = entry(child.Addr())&addrMask | flagPresent | flagWrite | flagUser
		}
		frame = pmm.FrameOf(kaddr.Physical(tbl[i] & addrMask))
	}
	return asTable(p.mem.Frame(frame)), index(addr, pteShift), nil
}

func protToEntry(prot mm.Prot) entry {
	e := flagPresent
	if prot&mm.ProtWrite != 0 {
		e |= flagWrite
	}
	if prot&mm.ProtUser != 0 {
		e |= flagUser
	}
	if prot&mm.ProtExec == 0 {
		e |= flagNoExec
	}
	return e
}

func entryToProt(e entry) mm.Prot {
	prot := mm.ProtRead
	if e&flagWrite != 0 {
		prot |= mm.ProtWrite
	}
	if e&flagUser != 0 {
		prot |= mm.ProtUser
	}
	if e&flagNoExec == 0 {
		prot |= mm.ProtExec
	}
	return prot
}

// Map installs a translation for addr to frame with the given permissions,
// allocating any missing intermediate table levels.
func (p *PageTable) Map(addr kaddr.UserVirtual, frame pmm.Frame, prot mm.Prot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pt, i, err := p.walk(uint64(addr), true)
	if err != nil {
		return err
	}
	pt[i] = entry(frame.Addr())&addrMask | protToEntry(prot)
	return nil
}

// Unmap clears addr's translation, if any.
func (p *PageTable) Unmap(addr kaddr.UserVirtual) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pt, i, err := p.walk(uint64(addr), false)
	if err != nil {
		return err
	}
	if pt != nil {
		pt[i] = 0
	}
	return nil
}

// SetProt rewrites the permission bits of an existing mapping without
// changing its physical frame.
func (p *PageTable) SetProt(addr kaddr.UserVirtual, prot mm.Prot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pt, i, err := p.walk(uint64(addr), false)
	if err != nil {
		return err
	}
	if pt == nil || pt[i]&flagPresent == 0 {
		return nil
	}
	pt[i] = (pt[i] & addrMask) | protToEntry(prot)
	return nil
}

// Translate reports the frame and permissions addr currently maps to.
func (p *PageTable) Translate(addr kaddr.UserVirtual) (pmm.Frame, mm.Prot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pt, i, err := p.walk(uint64(addr), false)
	if err != nil || pt == nil || pt[i]&flagPresent == 0 {
		return 0, 0, false
	}
	return pmm.FrameOf(kaddr.Physical(pt[i] & addrMask)), entryToProt(pt[i]), true
}

// FlushRange is a no-op in the software walker: every Translate call reads
// the tree directly, so there is no cached TLB state to invalidate. A real
// ISA backend's arch.HAL.FlushTLB (not this method) issues the actual
// hardware shoot-down.
func (p *PageTable) FlushRange(kaddr.Range) {}

// Clone deep-copies every present leaf mapping into a fresh page table,
// used by fork_copy to build the child's page tree (spec.md §4.4). Leaf
// permissions are copied as-is; CoW-downgrading a private writable mapping
// is mm.AddressSpace.ForkCopy's responsibility, not this layer's.
func (p *PageTable) Clone() mm.PageTable {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp, err := New(p.buddy, p.mem)
	if err != nil {
		panic(err) // ForkCopy pre-validates that frames are available
	}

	p.walkAllLocked(func(addr uint64, e entry) {
		cp.mu.Lock()
		pt, i, err := cp.walk(addr, true)
		cp.mu.Unlock()
		if err != nil {
			panic(err)
		}
		pt[i] = e
	})
	return cp
}

// walkAllLocked visits every present leaf translation. Callers hold p.mu.
func (p *PageTable) walkAllLocked(fn func(addr uint64, e entry)) {
	pml4 := asTable(p.mem.Frame(p.root))
	for i4, e4 := range pml4 {
		if e4&flagPresent == 0 {
			continue
		}
		pdpt := asTable(p.mem.Frame(pmm.FrameOf(kaddr.Physical(e4 & addrMask))))
		for i3, e3 := range pdpt {
			if e3&flagPresent == 0 {
				continue
			}
			pd := asTable(p.mem.Frame(pmm.FrameOf(kaddr.Physical(e3 & addrMask))))
			for i2, e2 := range pd {
				if e2&flagPresent == 0 {
					continue
				}
				pt := asTable(p.mem.Frame(pmm.FrameOf(kaddr.Physical(e2 & addrMask))))
				for i1, e1 := range pt {
					if e1&flagPresent == 0 {
						continue
					}
					addr := uint64(i4)<<pgdShift | uint64(i3)<<pudShift | uint64(i2)<<pmdShift | uint64(i1)<<pteShift
					fn(addr, e1)
				}
			}
		}
	}
}

var _ mm.PageTable = (*PageTable)(nil)
