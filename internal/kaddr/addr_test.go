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

package kaddr

import "testing"

func TestRounding(t *testing.T) {
	for _, tc := range []struct {
		in, down, up UserVirtual
	}{
		{0, 0, 0},
		{1, 0, PageSize},
		{PageSize, PageSize, PageSize},
		{PageSize + 1, PageSize, 2 * PageSize},
	} {
		if got := tc.in.RoundDown(); got != tc.down {
			t.Errorf("RoundDown(%#x) = %#x, want %#x", uint64(tc.in), uint64(got), uint64(tc.down))
		}
		if got := tc.in.RoundUp(); got != tc.up {
			t.Errorf("RoundUp(%#x) = %#x, want %#x", uint64(tc.in), uint64(got), uint64(tc.up))
		}
	}
}

func TestRangeOverlaps(t *testing.T) {
	a := Range{Start: 0, End: 0x1000}
	b := Range{Start: 0x800, End: 0x1800}
	c := Range{Start: 0x1000, End: 0x2000}
	if !a.Overlaps(b) {
		t.Errorf("expected %v to overlap %v", a, b)
	}
	if a.Overlaps(c) {
		t.Errorf("expected %v not to overlap %v (half-open ranges)", a, c)
	}
}

func TestDirectMapRoundTrip(t *testing.T) {
	dm := DirectMap{Base: 0xffff800000000000, Limit: 1 << 32}
	v, err := dm.PhysToVirt(0x1234000)
	if err != nil {
		t.Fatalf("PhysToVirt: %v", err)
	}
	p, err := dm.VirtToPhys(v)
	if err != nil {
		t.Fatalf("VirtToPhys: %v", err)
	}
	if p != 0x1234000 {
		t.Errorf("round trip got %#x, want %#x", uint64(p), 0x1234000)
	}
	if _, err := dm.PhysToVirt(dm.Limit + 1); err == nil {
		t.Error("expected error for out-of-range physical address")
	}
}
