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
	"testing"

	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
	"github.com/hexagonal-sun/moss-kernel/mm"
	"github.com/hexagonal-sun/moss-kernel/pmm"
)

func newTestPT(t *testing.T, frames int) (*PageTable, *pmm.Buddy, *pmm.Memory) {
	t.Helper()
	b := pmm.New([]kaddr.PhysRange{{Start: 0, End: kaddr.Physical(uint64(frames) * kaddr.PageSize)}})
	mem := pmm.NewMemory(pmm.Frame(frames))
	pt, err := New(b, mem)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return pt, b, mem
}

func TestMapAndTranslateRoundTrip(t *testing.T) {
	pt, b, _ := newTestPT(t, 32)
	f, err := b.Alloc(0)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	addr := kaddr.UserVirtual(0x0000_1234_5000)
	if err := pt.Map(addr, f, mm.ProtRead|mm.ProtWrite|mm.ProtUser); err != nil {
		t.Fatalf("Map: %v", err)
	}

	got, prot, ok := pt.Translate(addr)
	if !ok {
		t.Fatalf("Translate reported unmapped after Map")
	}
	if got != f {
		t.Fatalf("Translate frame = %d, want %d", got, f)
	}
	if prot&mm.ProtWrite == 0 || prot&mm.ProtUser == 0 {
		t.Fatalf("Translate prot = %v, missing write/user", prot)
	}
	if prot&mm.ProtExec != 0 {
		t.Fatalf("Translate prot = %v, expected no-exec by default", prot)
	}
}

func TestUnmapClearsTranslation(t *testing.T) {
	pt, b, _ := newTestPT(t, 32)
	f, _ := b.Alloc(0)
	addr := kaddr.UserVirtual(0x2000)
	pt.Map(addr, f, mm.ProtRead)

	if err := pt.Unmap(addr); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if _, _, ok := pt.Translate(addr); ok {
		t.Fatalf("Translate still reports mapped after Unmap")
	}
}

func TestSetProtChangesPermissionsNotFrame(t *testing.T) {
	pt, b, _ := newTestPT(t, 32)
	f, _ := b.Alloc(0)
	addr := kaddr.UserVirtual(0x3000)
	pt.Map(addr, f, mm.ProtRead)

	if err := pt.SetProt(addr, mm.ProtRead|mm.ProtWrite); err != nil {
		t.Fatalf("SetProt: %v", err)
	}
	got, prot, ok := pt.Translate(addr)
	if !ok || got != f {
		t.Fatalf("Translate after SetProt = (%d, %v), want frame %d", got, ok, f)
	}
	if prot&mm.ProtWrite == 0 {
		t.Fatalf("SetProt did not add write permission")
	}
}

func TestTranslateUnmappedAddressReportsNotFound(t *testing.T) {
	pt, _, _ := newTestPT(t, 32)
	if _, _, ok := pt.Translate(kaddr.UserVirtual(0x9999_0000)); ok {
		t.Fatalf("Translate on never-mapped address should report not-ok")
	}
}

func TestCloneCopiesAllLeafMappingsIndependently(t *testing.T) {
	pt, b, _ := newTestPT(t, 32)
	f1, _ := b.Alloc(0)
	f2, _ := b.Alloc(0)
	a1 := kaddr.UserVirtual(0x1000)
	a2 := kaddr.UserVirtual(0x4000_0000) // crosses into a different PD/PDPT entry

	pt.Map(a1, f1, mm.ProtRead|mm.ProtWrite)
	pt.Map(a2, f2, mm.ProtRead)

	clone := pt.Clone()

	for _, tc := range []struct {
		addr kaddr.UserVirtual
		want pmm.Frame
	}{{a1, f1}, {a2, f2}} {
		got, _, ok := clone.Translate(tc.addr)
		if !ok || got != tc.want {
			t.Fatalf("clone.Translate(%v) = (%d, %v), want %d", tc.addr, got, ok, tc.want)
		}
	}

	// Unmapping in the clone must not affect the original.
	clone.Unmap(a1)
	if _, _, ok := pt.Translate(a1); !ok {
		t.Fatalf("Unmap on clone affected the original page table")
	}
}
