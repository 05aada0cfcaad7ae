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

import "fmt"

// permString renders p the way Linux's fs/proc/task_mmu.c:show_map_vma
// renders vm_flags: r/w/x in order, then p or s for private/shared,
// grounded on gvisor's vmaMapsEntryLocked (pkg/sentry/mm/proc_pid_maps.go).
func (v VMA) permString() string {
	r, w, x, s := '-', '-', '-', 'p'
	if v.Prot&ProtRead != 0 {
		r = 'r'
	}
	if v.Prot&ProtWrite != 0 {
		w = 'w'
	}
	if v.Prot&ProtExec != 0 {
		x = 'x'
	}
	if v.Sharing == SharingShared {
		s = 's'
	}
	return fmt.Sprintf("%c%c%c%c", r, w, x, s)
}

// ProcMaps renders every VMA in as as a /proc/[pid]/maps-style line
// ("start-end perms offset dev:ino path"), for Kernel.ProcMaps's
// introspection surface (spec.md §4.11's supplemental /proc-shaped
// introspection). This module has no backing filesystem to report a real
// device/inode or path from, so those fields are always zero and the
// backing kind stands in for a pathname (e.g. "[anon]", "[file]").
func (as *AddressSpace) ProcMaps() []string {
	g := as.mu.Lock()
	defer g.Release()

	var lines []string
	as.VMAs.All(func(v VMA) bool {
		lines = append(lines, fmt.Sprintf("%016x-%016x %s %08x 00:00 0 %s",
			uint64(v.Range.Start), uint64(v.Range.End), v.permString(), v.FileOffset, backingName(v.Backing)))
		return true
	})
	return lines
}

func backingName(b Backing) string {
	switch b {
	case BackingFile:
		return "[file]"
	case BackingDevice:
		return "[device]"
	default:
		return "[anon]"
	}
}
