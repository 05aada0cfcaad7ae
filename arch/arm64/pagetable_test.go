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
	"testing"

	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
	"github.com/hexagonal-sun/moss-kernel/mm"
	"github.com/hexagonal-sun/moss-kernel/pmm"
)

func newTestPT(t *testing.T, frames int) (*PageTable, *pmm.Buddy) {
	t.Helper()
	b := pmm.New([]kaddr.PhysRange{{Start: 0, End: kaddr.Physical(uint64(frames) * kaddr.PageSize)}})
	mem := pmm.NewMemory(pmm.Frame(frames))
	pt, err := New(b, mem)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return pt, b
}

func TestMapAndTranslateRoundTrip(t *testing.T) {
	pt, b := newTestPT(t, 32)
	f, _ := b.Alloc(0)
	addr := kaddr.UserVirtual(0x1000)

	if err := pt.Map(addr, f, mm.ProtRead|mm.ProtWrite); err != nil {
		t.Fatalf("Map: %v", err)
	}
	got, prot, ok := pt.Translate(addr)
	if !ok || got != f {
		t.Fatalf("Translate = (%d, %v), want (%d, true)", got, ok, f)
	}
	if prot&mm.ProtWrite == 0 {
		t.Fatalf("Translate prot = %v, missing write", prot)
	}
	if prot&mm.ProtExec != 0 {
		t.Fatalf("Translate prot = %v, expected UXN/PXN set by default", prot)
	}
}

func TestReadOnlyMappingReportsNoWrite(t *testing.T) {
	pt, b := newTestPT(t, 32)
	f, _ := b.Alloc(0)
	addr := kaddr.UserVirtual(0x2000)
	pt.Map(addr, f, mm.ProtRead)

	_, prot, ok := pt.Translate(addr)
	if !ok {
		t.Fatalf("Translate reported unmapped")
	}
	if prot&mm.ProtWrite != 0 {
		t.Fatalf("read-only mapping has write permission")
	}
}

func TestUnmapAcrossLevelBoundary(t *testing.T) {
	pt, b := newTestPT(t, 32)
	f, _ := b.Alloc(0)
	addr := kaddr.UserVirtual(1 << 30) // distinct level-1 entry
	pt.Map(addr, f, mm.ProtRead)

	pt.Unmap(addr)
	if _, _, ok := pt.Translate(addr); ok {
		t.Fatalf("Translate still reports mapped after Unmap")
	}
}

func TestCloneIsIndependentOfOriginal(t *testing.T) {
	pt, b := newTestPT(t, 32)
	f, _ := b.Alloc(0)
	addr := kaddr.UserVirtual(0x5000)
	pt.Map(addr, f, mm.ProtRead|mm.ProtExec)

	clone := pt.Clone()
	got, prot, ok := clone.Translate(addr)
	if !ok || got != f {
		t.Fatalf("clone.Translate = (%d, %v), want (%d, true)", got, ok, f)
	}
	if prot&mm.ProtExec == 0 {
		t.Fatalf("clone lost exec permission from the original")
	}

	clone.SetProt(addr, mm.ProtRead)
	if _, prot, _ := pt.Translate(addr); prot&mm.ProtExec == 0 {
		t.Fatalf("SetProt on clone leaked back into the original page table")
	}
}
