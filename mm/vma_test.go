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
	"testing"

	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
)

func r(start, end uint64) kaddr.Range {
	return kaddr.Range{Start: kaddr.UserVirtual(start), End: kaddr.UserVirtual(end)}
}

func assertDisjointAndSorted(t *testing.T, s *VMASet) {
	t.Helper()
	var prev *VMA
	s.All(func(v VMA) bool {
		if prev != nil && prev.Range.End > v.Range.Start {
			t.Fatalf("VMAs not disjoint/sorted: %v then %v", prev.Range, v.Range)
		}
		cp := v
		prev = &cp
		return true
	})
}

func TestVMASetInsertMergesAdjacentIdentical(t *testing.T) {
	s := NewVMASet()
	s.Insert(VMA{Range: r(0, 0x1000), Prot: ProtRead, Backing: BackingAnonymous})
	s.Insert(VMA{Range: r(0x1000, 0x2000), Prot: ProtRead, Backing: BackingAnonymous})
	if got := s.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1 after merging adjacent identical VMAs", got)
	}
	v, ok := s.Find(kaddr.UserVirtual(0x1500))
	if !ok || v.Range != r(0, 0x2000) {
		t.Fatalf("Find(0x1500) = %v, %v; want merged range [0, 0x2000)", v.Range, ok)
	}
	assertDisjointAndSorted(t, s)
}

func TestVMASetInsertDoesNotMergeDifferentAttributes(t *testing.T) {
	s := NewVMASet()
	s.Insert(VMA{Range: r(0, 0x1000), Prot: ProtRead, Backing: BackingAnonymous})
	s.Insert(VMA{Range: r(0x1000, 0x2000), Prot: ProtRead | ProtWrite, Backing: BackingAnonymous})
	if got := s.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2 for non-mergeable neighbors", got)
	}
	assertDisjointAndSorted(t, s)
}

func TestVMASetRemoveSplitsBoundaries(t *testing.T) {
	s := NewVMASet()
	s.Insert(VMA{Range: r(0, 0x3000), Prot: ProtRead, Backing: BackingAnonymous})
	s.Remove(r(0x1000, 0x2000))

	if s.AnyOverlap(r(0x1000, 0x2000)) {
		t.Fatal("removed range still overlaps a VMA")
	}
	left, ok := s.Find(0)
	if !ok || left.Range != r(0, 0x1000) {
		t.Fatalf("left remainder = %v, %v; want [0, 0x1000)", left.Range, ok)
	}
	right, ok := s.Find(0x2000)
	if !ok || right.Range != r(0x2000, 0x3000) {
		t.Fatalf("right remainder = %v, %v; want [0x2000, 0x3000)", right.Range, ok)
	}
	assertDisjointAndSorted(t, s)
}

func TestVMASetSetProtSplitsAndPreservesUnaffected(t *testing.T) {
	s := NewVMASet()
	s.Insert(VMA{Range: r(0, 0x3000), Prot: ProtRead, Backing: BackingAnonymous})
	s.SetProt(r(0x1000, 0x2000), ProtRead|ProtWrite)

	if got := s.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3 after mprotect splits the middle page", got)
	}
	mid, ok := s.Find(0x1500)
	if !ok || mid.Prot != ProtRead|ProtWrite {
		t.Fatalf("middle VMA prot = %v, %v; want RW", mid.Prot, ok)
	}
	left, ok := s.Find(0)
	if !ok || left.Prot != ProtRead {
		t.Fatalf("left VMA prot changed unexpectedly: %v, %v", left.Prot, ok)
	}
	assertDisjointAndSorted(t, s)
}

func TestVMASetSetProtRemergesWhenAttributesMatch(t *testing.T) {
	s := NewVMASet()
	s.Insert(VMA{Range: r(0, 0x1000), Prot: ProtRead | ProtWrite, Backing: BackingAnonymous})
	s.Insert(VMA{Range: r(0x1000, 0x2000), Prot: ProtRead, Backing: BackingAnonymous})
	s.SetProt(r(0x1000, 0x2000), ProtRead|ProtWrite)

	if got := s.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1 after mprotect made the two VMAs identical", got)
	}
	assertDisjointAndSorted(t, s)
}

// TestVMASetSetProtRemergesMultipleBoundariesInOneCall is a regression test
// for SetProt's re-merge pass mutating the underlying btree while iterating
// it: three adjacent VMAs, only the middle one initially matching the
// target protection, so a single SetProt call must merge on both the left
// and right boundary once the mprotect makes all three identical.
func TestVMASetSetProtRemergesMultipleBoundariesInOneCall(t *testing.T) {
	s := NewVMASet()
	s.Insert(VMA{Range: r(0, 0x1000), Prot: ProtRead, Backing: BackingAnonymous})
	s.Insert(VMA{Range: r(0x1000, 0x2000), Prot: ProtRead | ProtWrite, Backing: BackingAnonymous})
	s.Insert(VMA{Range: r(0x2000, 0x3000), Prot: ProtRead, Backing: BackingAnonymous})

	s.SetProt(r(0, 0x3000), ProtRead)

	if got := s.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1 after mprotect made all three VMAs identical", got)
	}
	v, ok := s.Find(0x1800)
	if !ok || v.Range != r(0, 0x3000) {
		t.Fatalf("merged VMA range = %+v, ok=%v; want the full 0-0x3000 range", v.Range, ok)
	}
	assertDisjointAndSorted(t, s)
}

func TestVMASetFindHoleSkipsExistingMappings(t *testing.T) {
	s := NewVMASet()
	base := kaddr.UserVirtual(0x1000)
	s.Insert(VMA{Range: r(0x1000, 0x2000), Prot: ProtRead, Backing: BackingAnonymous})

	hole, ok := s.FindHole(base, 0x1000, 0x10000)
	if !ok {
		t.Fatal("FindHole did not find a hole")
	}
	if hole != 0x2000 {
		t.Fatalf("FindHole = %#x, want 0x2000 (first gap after existing VMA)", uint64(hole))
	}
}

func TestVMASetFindHoleRespectsLimit(t *testing.T) {
	s := NewVMASet()
	base := kaddr.UserVirtual(0x1000)
	limit := kaddr.UserVirtual(0x2000)

	if _, ok := s.FindHole(base, 0x2000, limit); ok {
		t.Fatal("FindHole reported success for a request larger than [base, limit)")
	}
}

func TestVMASetFindHoleEmptySet(t *testing.T) {
	s := NewVMASet()
	hole, ok := s.FindHole(0x1000, 0x1000, 0x100000)
	if !ok || hole != 0x1000 {
		t.Fatalf("FindHole on empty set = %#x, %v; want base, true", uint64(hole), ok)
	}
}
