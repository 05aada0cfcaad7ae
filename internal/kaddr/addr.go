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

// Package kaddr defines the three address types the kernel core deals in:
// kernel-virtual, physical, and user-virtual. They are distinct Go types so
// that mixing them is a compile error; conversion between them requires an
// explicit, named call.
package kaddr

import "fmt"

// PageSize is the hardware page size assumed on both supported ISAs.
const PageSize = 4096

// PageShift is log2(PageSize).
const PageShift = 12

// Virtual is a kernel-space canonical virtual address.
type Virtual uint64

// Physical is a physical frame address.
type Physical uint64

// UserVirtual is a virtual address meaningful only relative to a particular
// address space's active page table.
type UserVirtual uint64

// RoundDown rounds v down to the nearest page boundary.
func (v Virtual) RoundDown() Virtual { return Virtual(roundDown(uint64(v))) }

// RoundUp rounds v up to the nearest page boundary.
func (v Virtual) RoundUp() Virtual { return Virtual(roundUp(uint64(v))) }

// RoundDown rounds p down to the nearest page boundary.
func (p Physical) RoundDown() Physical { return Physical(roundDown(uint64(p))) }

// RoundUp rounds p up to the nearest page boundary.
func (p Physical) RoundUp() Physical { return Physical(roundUp(uint64(p))) }

// RoundDown rounds u down to the nearest page boundary.
func (u UserVirtual) RoundDown() UserVirtual { return UserVirtual(roundDown(uint64(u))) }

// RoundUp rounds u up to the nearest page boundary.
func (u UserVirtual) RoundUp() UserVirtual { return UserVirtual(roundUp(uint64(u))) }

// IsPageAligned reports whether u falls on a page boundary.
func (u UserVirtual) IsPageAligned() bool { return uint64(u)%PageSize == 0 }

func roundDown(x uint64) uint64 { return x &^ (PageSize - 1) }
func roundUp(x uint64) uint64   { return (x + PageSize - 1) &^ (PageSize - 1) }

// Range is a half-open range [Start, End) of UserVirtual addresses.
type Range struct {
	Start, End UserVirtual
}

// Length returns the length of the range in bytes.
func (r Range) Length() uint64 { return uint64(r.End - r.Start) }

// WellFormed reports whether Start <= End.
func (r Range) WellFormed() bool { return r.Start <= r.End }

// Contains reports whether addr lies in [Start, End).
func (r Range) Contains(addr UserVirtual) bool { return addr >= r.Start && addr < r.End }

// Overlaps reports whether r and o share any address.
func (r Range) Overlaps(o Range) bool { return r.Start < o.End && o.Start < r.End }

// String implements fmt.Stringer.
func (r Range) String() string { return fmt.Sprintf("[%#x, %#x)", uint64(r.Start), uint64(r.End)) }

// PhysRange is a half-open range of physical addresses, used to describe
// bootloader-reported memory regions and frame extents.
type PhysRange struct {
	Start, End Physical
}

// Length returns the length of the range in bytes.
func (r PhysRange) Length() uint64 { return uint64(r.End - r.Start) }
