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

import (
	"sync"

	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
	"github.com/hexagonal-sun/moss-kernel/ksync"
	"github.com/hexagonal-sun/moss-kernel/mm"
	"github.com/hexagonal-sun/moss-kernel/sched"
)

// ExitStatus is the exit code or terminating-signal record wait*() returns.
type ExitStatus struct {
	Signaled bool
	Signal   Signal
	Code     int
}

// ThreadGroup is spec.md §3's "thread group/process": the sharing unit for
// an address space, a file-descriptor table, and signal dispositions, along
// with the parent/child bookkeeping fork/wait need. It corresponds to
// gvisor's kernel.ThreadGroup (pkg/sentry/kernel/threads.go), trimmed to the
// subset this spec's process-lifecycle layer names.
type ThreadGroup struct {
	PID uint64

	mu      sync.Mutex
	threads map[uint64]*sched.Task
	leader  *sched.Task

	Creds *Credentials
	FDs   *FDTable
	AS    *mm.AddressSpace
	Sig   *SignalState

	parent   *ThreadGroup
	children map[uint64]*ThreadGroup

	zombie   bool
	exit     ExitStatus
	childSet ksync.WakerSet // woken by a child's exit, observed by wait()

	pgid uint64 // process-group id (spec.md §3); 0 only before NewInitThreadGroup/Clone set it
	sid  uint64 // session id

	futex   *FutexManager                // lazily built by Futex
	rseq    map[uint64]kaddr.UserVirtual // TID -> registered rseq CPU-id slot
	peakRSS int                          // high-water ResidentFrames(), maintained by Usage
}

// Futex returns tg's futex manager, building it on first use. Threads of
// one thread group share address space and therefore share futex identity
// (spec.md §4.11's supplemental futex support), matching gvisor's
// Task.Futex() returning one Manager per mm.MemoryManager.
func (tg *ThreadGroup) Futex() *FutexManager {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	if tg.futex == nil {
		tg.futex = NewFutexManager()
	}
	return tg.futex
}

// NewInitThreadGroup constructs the first thread group in the system, with
// no parent, used by boot orchestration to build the init process.
func NewInitThreadGroup(pid uint64, leader *sched.Task, creds *Credentials, as *mm.AddressSpace) *ThreadGroup {
	tg := &ThreadGroup{
		PID:      pid,
		threads:  map[uint64]*sched.Task{leader.TID: leader},
		leader:   leader,
		Creds:    creds,
		FDs:      NewFDTable(),
		AS:       as,
		Sig:      newSignalState(newSharedSignalState()),
		children: make(map[uint64]*ThreadGroup),
		pgid:     pid,
		sid:      pid,
	}
	leader.Owner = tg
	return tg
}

// Leader returns the thread-group leader task (the one whose TID equals the
// PID in Linux's model).
func (tg *ThreadGroup) Leader() *sched.Task {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return tg.leader
}

// AddThread registers t (already created by the clone() path) as a member
// of tg.
func (tg *ThreadGroup) AddThread(t *sched.Task) {
	tg.mu.Lock()
	tg.threads[t.TID] = t
	tg.mu.Unlock()
	t.Owner = tg
}

// Threads returns a snapshot of the thread group's member tasks.
func (tg *ThreadGroup) Threads() []*sched.Task {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	out := make([]*sched.Task, 0, len(tg.threads))
	for _, t := range tg.threads {
		out = append(out, t)
	}
	return out
}

// removeThread drops t from the group's member set, returning the number of
// members remaining.
func (tg *ThreadGroup) removeThread(tid uint64) int {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	delete(tg.threads, tid)
	return len(tg.threads)
}

func threadGroupOf(t *sched.Task) *ThreadGroup {
	tg, _ := t.Owner.(*ThreadGroup)
	return tg
}

// Of returns the thread group owning t, or nil if t's Owner has not been
// set to a *ThreadGroup (e.g. a task created outside the process layer's
// fork/clone/exec paths). Package syscall uses this to resolve a task's
// process-lifecycle state from the sched.Task the dispatcher is handed.
func Of(t *sched.Task) *ThreadGroup {
	return threadGroupOf(t)
}
