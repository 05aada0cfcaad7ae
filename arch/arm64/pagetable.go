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

package arm64

import (
	"sync"
	"unsafe"

	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
	"github.com/hexagonal-sun/moss-kernel/mm"
	"github.com/hexagonal-sun/moss-kernel/pmm"
)

// Level shifts for the three-level TTBR0_EL1 tree spec.md §4.1 names
// explicitly for ARM ("TTBR0/TTBR1 with 3 levels, 4 KiB pages"): a level-1
// table of 1GiB block descriptors, level-2 of 2MiB blocks, level-3 of 4KiB
// pages. This implementation always descends to level 3, matching
// arch/amd64's uniform 4KiB-leaf policy.
const (
	l3Shift = 12
	l2Shift = 21
	l1Shift = 30

	entriesPerTable = 512
	indexMask       = entriesPerTable - 1
)

// Descriptor bits, matching the ARMv8 VMSAv8-64 stage-1 translation table
// format for a 4KiB granule.
type entry uint64

const (
	descValid entry = 1 << 0
	descTable entry = 1 << 1 // page/table descriptor vs block
	descAF    entry = 1 << 10 // access flag, must be set or every access faults
	descAP2RO entry = 1 << 7  // AP[2]: 1 = read-only
	descAP1EL0 entry = 1 << 6 // AP[1]: 1 = accessible from EL0 (user)
	descUXN   entry = 1 << 54 // unprivileged execute-never
	descPXN   entry = 1 << 53 // privileged execute-never

	addrMask entry = 0x0000_ffff_ffff_f000
)

func index(addr uint64, shift uint) int {
	return int((addr >> shift) & indexMask)
}

func asTable(b []byte) *[entriesPerTable]entry {
	return (*[entriesPerTable]entry)(unsafe.Pointer(&b[0]))
}

// PageTable is a from-scratch AArch64 three-level page table implementing
// mm.PageTable, backed by hosted physical memory (spec.md §4.4).
type PageTable struct {
	mu    sync.Mutex
	buddy *pmm.Buddy
	mem   *pmm.Memory
	root  pmm.Frame
}

// New allocates an empty page table (a zeroed level-1 table).
func New(buddy *pmm.Buddy, mem *pmm.Memory) (*PageTable, error) {
	root, err := buddy.Alloc(0)
	if err != nil {
		return nil, err
	}
	mem.Zero(root)
	return &PageTable{buddy: buddy, mem: mem, root: root}, nil
}

// Root returns the level-1 table frame number, satisfying
// arch.PageTableRoot for loading into TTBR0_EL1.
func (p *PageTable) Root() uint64 { return uint64(p.root) }

func (p *PageTable) walk(addr uint64, alloc bool) (*[entriesPerTable]entry, int, error) {
	frame := p.root
	for _, shift := range []uint{l1Shift, l2Shift} {
		tbl := asTable(p.mem.Frame(frame))
		i := index(addr, shift)
		if tbl[i]&descValid == 0 {
			if !alloc {
				return nil, 0, nil
			}
			child, err := p.buddy.Alloc(0)
			if err != nil {
				return nil, 0, err
			}
			p.mem.Zero(child)
			tbl[i] = entry(child.Addr())&addrMask | descValid | descTable
		}
		frame = pmm.FrameOf(kaddr.Physical(tbl[i] & addrMask))
	}
	return asTable(p.mem.Frame(frame)), index(addr, l3Shift), nil
}

func protToEntry(prot mm.Prot) entry {
	e := descValid | descTable | descAF | descAP1EL0
	if prot&mm.ProtWrite == 0 {
		e |= descAP2RO
	}
	if prot&mm.ProtExec == 0 {
		e |= descUXN | descPXN
	}
	return e
}

func entryToProt(e entry) mm.Prot {
	prot := mm.ProtRead | mm.ProtUser
	if e&descAP2RO == 0 {
		prot |= mm.ProtWrite
	}
	if e&descUXN == 0 {
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
	if pt == nil || pt[i]&descValid == 0 {
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
	if err != nil || pt == nil || pt[i]&descValid == 0 {
		return 0, 0, false
	}
	return pmm.FrameOf(kaddr.Physical(pt[i] & addrMask)), entryToProt(pt[i]), true
}

// FlushRange is a no-op in the software walker; see arch/amd64.PageTable's
// identical rationale.
func (p *PageTable) FlushRange(kaddr.Range) {}

// Clone deep-copies every present leaf mapping into a fresh page table.
func (p *PageTable) Clone() mm.PageTable {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp, err := New(p.buddy, p.mem)
	if err != nil {
		panic(err)
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

func (p *PageTable) walkAllLocked(fn func(addr uint64, e entry)) {
	l1 := asTable(p.mem.Frame(p.root))
	for i1, e1 := range l1 {
		if e1&descValid == 0 {
			continue
		}
		l2 := asTable(p.mem.Frame(pmm.FrameOf(kaddr.Physical(e1 & addrMask))))
		for i2, e2 := range l2 {
			if e2&descValid == 0 {
				continue
			}
			l3 := asTable(p.mem.Frame(pmm.FrameOf(kaddr.Physical(e2 & addrMask))))
			for i3, e3 := range l3 {
				if e3&descValid == 0 {
					continue
				}
				addr := uint64(i1)<<l1Shift | uint64(i2)<<l2Shift | uint64(i3)<<l3Shift
				fn(addr, e3)
			}
		}
	}
}

var _ mm.PageTable = (*PageTable)(nil)
