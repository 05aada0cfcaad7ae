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

import "github.com/hexagonal-sun/moss-kernel/internal/kaddr"

// BrkSetup installs addr as the initial, zero-length brk range, called once
// by execve after the new address space's VMAs are in place (mirroring
// gvisor's MemoryManager.BrkSetup, mm/syscalls.go).
func (as *AddressSpace) BrkSetup(addr kaddr.UserVirtual) {
	g := as.mu.Lock()
	defer g.Release()
	if as.brk.Length() != 0 {
		as.unmapRangeLocked(as.brk)
		as.VMAs.Remove(as.brk)
	}
	as.brk = kaddr.Range{Start: addr, End: addr}
}

// Brk implements brk(2): addr == 0 queries the current break without
// changing it; otherwise the heap VMA is grown or shrunk to end at addr,
// page-rounded. It always returns the resulting break, matching Linux's
// "brk never fails, it just refuses the request" contract, layered on top
// of Mmap/Munmap (spec.md §4.4).
func (as *AddressSpace) Brk(addr kaddr.UserVirtual) kaddr.UserVirtual {
	g := as.mu.Lock()
	cur := as.brk.End
	if addr == 0 || addr < as.brk.Start {
		g.Release()
		return cur
	}

	oldPage := as.brk.End.RoundUp()
	newPage := addr.RoundUp()
	as.brk.End = addr
	result := as.brk.End
	g.Release()

	switch {
	case oldPage < newPage:
		want := kaddr.Range{Start: oldPage, End: newPage}
		if _, err := as.Mmap(&want, want.Length(), ProtRead|ProtWrite, BackingAnonymous, SharingPrivate); err != nil {
			g := as.mu.Lock()
			as.brk.End = cur
			result = cur
			g.Release()
		}
	case newPage < oldPage:
		as.Munmap(kaddr.Range{Start: newPage, End: oldPage})
	}
	return result
}
