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

import (
	"math"
	"time"

	"github.com/hexagonal-sun/moss-kernel/ksync"
)

// BaseSlice is the EEVDF request length used to compute a task's virtual
// deadline when it becomes eligible: virtual_deadline = virtual_eligible +
// BaseSlice/weight (spec.md §4.6). The scheduler documentation this spec
// was distilled from left the exact slice length as an implementation
// tunable (spec.md's REDESIGN FLAGS); 4ms matches Linux CFS/EEVDF's default
// base slice. A var, not a const, so tests can shrink it to make deadline
// math converge over a handful of ticks instead of real milliseconds.
var BaseSlice = 4 * time.Millisecond

// runQueue is one CPU's EEVDF run queue: an unordered set of runnable tasks
// plus a virtual clock, scanned linearly on each pick. Kernels the size of
// this one keep at most a few dozen runnable tasks per CPU, so a heap
// buys asymptotic complexity this workload never needs; a slice scan keeps
// the eligibility/deadline comparison in one visible place.
type runQueue struct {
	mu     ksync.Spinlock // level 8 of the lock hierarchy, spec.md §5 (root)
	tasks  []*Task
	vclock float64
}

func newRunQueue() *runQueue { return &runQueue{} }

// enqueue adds t to the queue, computing its eligible time and deadline
// from the queue's current virtual clock and any carried lag.
func (q *runQueue) enqueue(t *Task) {
	g := q.mu.Lock()
	defer g.Release()
	q.enqueueLocked(t)
}

func (q *runQueue) enqueueLocked(t *Task) {
	t.vEligible = math.Max(t.vEligible, q.vclock-t.lag/t.weight)
	t.vDeadline = t.vEligible + BaseSlice.Seconds()/t.weight
	q.tasks = append(q.tasks, t)
}

// pickNext removes and returns the eligible task with the earliest virtual
// deadline. If no task is yet eligible, it advances the virtual clock to
// the smallest eligible time present and retries, matching EEVDF's
// "selects the task whose virtual eligible time has passed and has the
// earliest virtual deadline" rule (spec.md §4.6).
func (q *runQueue) pickNext() *Task {
	g := q.mu.Lock()
	defer g.Release()
	if len(q.tasks) == 0 {
		return nil
	}

	minEligible := math.Inf(1)
	for _, t := range q.tasks {
		if t.vEligible < minEligible {
			minEligible = t.vEligible
		}
	}
	if q.vclock < minEligible {
		q.vclock = minEligible
	}

	best := -1
	for i, t := range q.tasks {
		if t.vEligible > q.vclock {
			continue
		}
		if best < 0 || t.vDeadline < q.tasks[best].vDeadline {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	picked := q.tasks[best]
	q.tasks[best] = q.tasks[len(q.tasks)-1]
	q.tasks = q.tasks[:len(q.tasks)-1]
	return picked
}

// accrue records that t consumed d of CPU service, advancing its virtual
// eligible time by d/weight (spec.md §4.6's "virtual service = s / w").
func (q *runQueue) accrue(t *Task, d time.Duration) {
	secs := d.Seconds()
	t.service += secs
	t.vEligible += secs / t.weight
}

// setLag records the unused portion of t's request as lag when it blocks or
// yields before exhausting its slice, so that a later re-enqueue does not
// let it jump the queue ahead of tasks that stayed runnable.
func (q *runQueue) setLag(t *Task) {
	t.lag = (t.vDeadline - t.vEligible) * t.weight
	if t.lag < 0 {
		t.lag = 0
	}
}

// len reports the number of runnable tasks currently queued, used by the
// load balancer to find the most (and least) loaded CPU.
func (q *runQueue) len() int {
	g := q.mu.Lock()
	defer g.Release()
	return len(q.tasks)
}

// steal removes and returns one task from the queue for migration to
// another CPU, or nil if the queue is empty.
func (q *runQueue) steal() *Task {
	g := q.mu.Lock()
	defer g.Release()
	if len(q.tasks) == 0 {
		return nil
	}
	// Steal the last element: on a slice-backed unordered set this is O(1)
	// and, for uniform-weight workloads, statistically no different from
	// stealing the most eligible task.
	t := q.tasks[len(q.tasks)-1]
	q.tasks = q.tasks[:len(q.tasks)-1]
	return t
}
