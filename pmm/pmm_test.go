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
	"testing"

	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
)

func testRegions() []kaddr.PhysRange {
	return []kaddr.PhysRange{
		{Start: 0, End: kaddr.Physical(1 << 20)}, // 1 MiB, 256 frames
	}
}

func TestBuddyAllocFreeRoundTrip(t *testing.T) {
	b := New(testRegions())
	initialFree := b.FreeFrames()

	var allocated []Frame
	for i := 0; i < 10; i++ {
		f, err := b.Alloc(0)
		if err != nil {
			t.Fatalf("Alloc(0) #%d: %v", i, err)
		}
		allocated = append(allocated, f)
	}
	if got, want := b.FreeFrames(), initialFree-10; got != want {
		t.Errorf("FreeFrames after 10 allocs = %d, want %d", got, want)
	}
	for _, f := range allocated {
		b.Free(f)
	}
	if got := b.FreeFrames(); got != initialFree {
		t.Errorf("FreeFrames after freeing all = %d, want %d (shape not restored)", got, initialFree)
	}
}

func TestBuddyOrderAlignment(t *testing.T) {
	b := New(testRegions())
	f, err := b.Alloc(3)
	if err != nil {
		t.Fatalf("Alloc(3): %v", err)
	}
	if uint64(f)%(1<<3) != 0 {
		t.Errorf("frame %d not aligned to order 3", f)
	}
}

func TestBuddyCoalescesOnFree(t *testing.T) {
	// A region of exactly two frames registers as a single order-1 free
	// block, so two Alloc(0) calls deterministically hand out both halves
	// of that block.
	b := New([]kaddr.PhysRange{{Start: 0, End: 2 * kaddr.PageSize}})
	a, err := b.Alloc(0)
	if err != nil {
		t.Fatalf("Alloc(0): %v", err)
	}
	c, err := b.Alloc(0)
	if err != nil {
		t.Fatalf("Alloc(0): %v", err)
	}
	if a^1 != c {
		t.Fatalf("frames %d and %d are not buddies", a, c)
	}
	if _, err := b.Alloc(0); err == nil {
		t.Fatal("expected out-of-memory with both frames allocated")
	}
	b.Free(a)
	b.Free(c)
	if got, want := b.FreeFrames(), 2; got != want {
		t.Errorf("FreeFrames after freeing both buddies = %d, want %d", got, want)
	}
	// Coalescing should have reformed the order-1 block.
	if _, err := b.Alloc(1); err != nil {
		t.Errorf("Alloc(1) after coalesce: %v", err)
	}
}

func TestBuddyOutOfMemory(t *testing.T) {
	b := New([]kaddr.PhysRange{{Start: 0, End: kaddr.Physical(4096)}})
	if _, err := b.Alloc(0); err != nil {
		t.Fatalf("Alloc(0): %v", err)
	}
	if _, err := b.Alloc(0); err == nil {
		t.Fatal("expected out-of-memory error")
	}
}

func TestSmallocBumpAndBoundary(t *testing.T) {
	s := NewSmalloc([]kaddr.PhysRange{{Start: 0, End: 64}})
	a, err := s.Alloc(16, 8)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if a != 0 {
		t.Errorf("first alloc at %#x, want 0", uint64(a))
	}
	b, err := s.Alloc(16, 8)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if b != 16 {
		t.Errorf("second alloc at %#x, want 16", uint64(b))
	}
	if _, err := s.Alloc(64, 8); err == nil {
		t.Fatal("expected out-of-memory once boot region exhausted")
	}
}

func TestSmallocAlignment(t *testing.T) {
	s := NewSmalloc([]kaddr.PhysRange{{Start: 3, End: 4096}})
	a, err := s.Alloc(8, 16)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if uint64(a)%16 != 0 {
		t.Errorf("allocation %#x not aligned to 16", uint64(a))
	}
}
