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

package sched

// CPUDebug is one CPU's runqueue snapshot, the per-CPU row of
// Kernel.SchedDebug's /proc/sched_debug-shaped introspection surface
// (spec.md §4.11's supplemental feature set).
type CPUDebug struct {
	CPU      int
	Runnable int
	Current  uint64 // TID of the task holding this CPU's turn, 0 if idle
	VClock   float64
}

// Debug snapshots every CPU's runqueue occupancy and virtual clock. It is a
// best-effort read, not synchronized with the executor loop the way
// Current is (there is no turn-channel happens-before edge for an
// introspection caller), matching the tolerance /proc/sched_debug itself
// has for a live counter changing mid-read.
func (s *Scheduler) Debug() []CPUDebug {
	out := make([]CPUDebug, len(s.cpus))
	for i, cpu := range s.cpus {
		g := cpu.rq.mu.Lock()
		out[i] = CPUDebug{CPU: cpu.id, Runnable: len(cpu.rq.tasks), VClock: cpu.rq.vclock}
		g.Release()
		if t := cpu.current; t != nil {
			out[i].Current = t.TID
		}
	}
	return out
}
