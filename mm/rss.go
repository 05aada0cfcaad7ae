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

// ResidentFrames counts every page across all of as's VMAs that currently
// has a page-table translation, for process.ThreadGroup.Usage's cgroup-lite
// RSS accounting (spec.md §4.11's supplemental cgroup-lite accounting).
// This walks the page table directly rather than maintaining a running
// counter, since demand paging and CoW unmapping already touch PT.Translate
// on every fault and this exercise has no per-fault RSS bookkeeping to
// disturb by adding one here.
func (as *AddressSpace) ResidentFrames() int {
	g := as.mu.Lock()
	defer g.Release()

	count := 0
	as.VMAs.All(func(v VMA) bool {
		for addr := v.Range.Start; addr < v.Range.End; addr += kaddr.PageSize {
			if _, _, mapped := as.PT.Translate(addr); mapped {
				count++
			}
		}
		return true
	})
	return count
}
