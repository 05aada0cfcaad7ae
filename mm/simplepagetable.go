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
	"fmt"

	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
	"github.com/hexagonal-sun/moss-kernel/pmm"
)

// SimplePageTable is a map-backed PageTable used by the hosted development
// backend (arch/hostplat) and by this package's own tests. A real
// hardware-facing PageTable (arch/amd64, arch/arm64) walks actual
// multi-level page tables; SimplePageTable exists so mm's algorithms can
// be exercised without depending on either ISA's concrete layout.
type SimplePageTable struct {
	entries map[kaddr.UserVirtual]ptEntry
}

type ptEntry struct {
	frame pmm.Frame
	prot  Prot
}

// NewSimplePageTable returns an empty page table.
func NewSimplePageTable() *SimplePageTable {
	return &SimplePageTable{entries: make(map[kaddr.UserVirtual]ptEntry)}
}

// Map implements PageTable.
func (p *SimplePageTable) Map(addr kaddr.UserVirtual, frame pmm.Frame, prot Prot) error {
	if !addr.IsPageAligned() {
		return fmt.Errorf("mm: Map address %#x not page-aligned", uint64(addr))
	}
	p.entries[addr] = ptEntry{frame: frame, prot: prot}
	return nil
}

// Unmap implements PageTable.
func (p *SimplePageTable) Unmap(addr kaddr.UserVirtual) error {
	delete(p.entries, addr.RoundDown())
	return nil
}

// SetProt implements PageTable.
func (p *SimplePageTable) SetProt(addr kaddr.UserVirtual, prot Prot) error {
	addr = addr.RoundDown()
	e, ok := p.entries[addr]
	if !ok {
		return fmt.Errorf("mm: SetProt on unmapped address %#x", uint64(addr))
	}
	e.prot = prot
	p.entries[addr] = e
	return nil
}

// Translate implements PageTable.
func (p *SimplePageTable) Translate(addr kaddr.UserVirtual) (pmm.Frame, Prot, bool) {
	e, ok := p.entries[addr.RoundDown()]
	return e.frame, e.prot, ok
}

// FlushRange implements PageTable. SimplePageTable has no TLB to flush.
func (p *SimplePageTable) FlushRange(kaddr.Range) {}

// Clone implements PageTable, returning an independent copy of the
// mapping table (but not of the underlying frames, which fork_copy's
// caller manages via FrameRef).
func (p *SimplePageTable) Clone() PageTable {
	c := NewSimplePageTable()
	for k, v := range p.entries {
		c.entries[k] = v
	}
	return c
}
