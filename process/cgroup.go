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

package process

// Usage is a cgroup-lite resource-usage snapshot for one thread group
// (spec.md §4.11's supplemental cgroup-lite accounting). Real cgroups
// (runsc/cgroup.Cgroup) join a process into host cgroupfs controllers and
// read back whatever counters the host kernel maintains; this exercise has
// no host cgroupfs underneath it, so Usage instead derives the same two
// numbers directly from kernel-internal state: consumed CPU time from the
// scheduler's own per-task service accounting, and resident memory from the
// address space's page table. There is no CPU/memory limit enforcement here
// (runsc/cgroup.Cgroup.CPUQuota, MemoryLimit), only the read-side counters
// a `cgroup.stats`-style consumer would want.
type Usage struct {
	Ticks   float64 // cumulative CPU seconds summed over the group's current member threads; threads removed by Exit no longer count
	PeakRSS int     // largest ResidentFrames() observed across all Usage calls so far
}

// Usage computes tg's current resource usage, updating and returning its
// running peak-RSS high-water mark.
func (tg *ThreadGroup) Usage() Usage {
	threads := tg.Threads()

	var ticks float64
	for _, t := range threads {
		ticks += t.Service()
	}

	rss := tg.AS.ResidentFrames()

	tg.mu.Lock()
	if rss > tg.peakRSS {
		tg.peakRSS = rss
	}
	peak := tg.peakRSS
	tg.mu.Unlock()

	return Usage{Ticks: ticks, PeakRSS: peak}
}
