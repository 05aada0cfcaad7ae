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
	"context"

	"github.com/hexagonal-sun/moss-kernel/kernel/syserr"
	"github.com/hexagonal-sun/moss-kernel/mm"
	"github.com/hexagonal-sun/moss-kernel/sched"
)

// CloneFlags select which state clone() shares with the caller instead of
// copying, generalizing fork() (spec.md §4.7). fork() is exactly Clone with
// no flags set.
type CloneFlags uint32

const (
	CloneVM CloneFlags = 1 << iota
	CloneFiles
	CloneSighand
	CloneThread
)

// PageTableFactory builds a fresh, empty page table for a new address
// space, standing in for the concrete arch/amd64 or arch/arm64 PageTable
// constructor so package process does not need to import either directly.
type PageTableFactory func() mm.PageTable

// Fork duplicates parent, following spec.md §4.7: new address space via
// fork_copy, a cloned FD table sharing the parent's File values (no
// open-file refcount is taken; see FDTable.Fork), cloned signal state,
// a new TID/PID, and the child linked into parent's child list. The caller
// supplies newPT for the child's page table and body for the child task's
// resumable computation (in practice: "return from fork with 0"). Fork is
// exactly Clone with no flags set.
func Fork(s *sched.Scheduler, parent *ThreadGroup, childTID uint64, newPT mm.PageTable, body func(t *sched.Task)) (*ThreadGroup, error) {
	tg, _, err := Clone(s, parent, childTID, newPT, 0, body)
	return tg, err
}

// Clone generalizes Fork per spec.md §4.7's clone() semantics: flags
// selects which pieces of parent's state are shared, by reference, with
// the new thread rather than copied.
//
// CloneVM shares the address space (Ref, no fork_copy) instead of giving
// the child a private copy. CloneFiles shares the FD table pointer instead
// of Fork()-ing it. CloneSighand shares the signal-action table instead of
// duplicating it. CloneThread joins the new task into parent's own thread
// group instead of creating a new one, matching Linux's "threads of one
// process are tasks that share everything but stack and TID" model; in
// that case the returned *ThreadGroup is parent itself.
//
// newPT is ignored when CloneVM is set (the child has no page table of its
// own to build).
func Clone(s *sched.Scheduler, parent *ThreadGroup, childTID uint64, newPT mm.PageTable, flags CloneFlags, body func(t *sched.Task)) (*ThreadGroup, *sched.Task, error) {
	leader := parent.Leader()

	if flags&CloneThread != 0 {
		childTask := sched.NewTask(s, childTID, leader.Nice, body)
		parent.AddThread(childTask)
		childTask.Start()
		return parent, childTask, nil
	}

	var childAS *mm.AddressSpace
	if flags&CloneVM != 0 {
		parent.AS.Ref()
		childAS = parent.AS
	} else {
		as, err := parent.AS.ForkCopy(newPT, childTID)
		if err != nil {
			return nil, nil, err
		}
		childAS = as
	}

	childFDs := parent.FDs
	if flags&CloneFiles == 0 {
		childFDs = parent.FDs.Fork()
	}

	childSig := parent.Sig.Clone(flags&CloneSighand != 0)

	parent.mu.Lock()
	pgid, sid := parent.pgid, parent.sid
	parent.mu.Unlock()

	child := &ThreadGroup{
		PID:      childTID,
		threads:  map[uint64]*sched.Task{},
		Creds:    parent.Creds.Clone(),
		FDs:      childFDs,
		AS:       childAS,
		Sig:      childSig,
		children: make(map[uint64]*ThreadGroup),
		parent:   parent,
		pgid:     pgid,
		sid:      sid,
	}

	childTask := sched.NewTask(s, childTID, leader.Nice, body)
	child.threads[childTID] = childTask
	child.leader = childTask
	childTask.Owner = child

	parent.mu.Lock()
	parent.children[childTID] = child
	parent.mu.Unlock()

	childTask.Start()
	return child, childTask, nil
}

// Exit terminates the calling thread only (spec.md §4.7's plain exit(),
// as opposed to exit_group()). If it was the last thread remaining in tg,
// the whole group exits with status, exactly as Linux's exit(2) does when
// called by a thread group's last member.
func Exit(tg *ThreadGroup, tid uint64, status ExitStatus) {
	if tg.removeThread(tid) == 0 {
		ExitGroup(tg, status)
	}
}

// Execve replaces tg's user-visible state: the caller's address space is
// torn down only after argv/envp have been copied into a scratch buffer, so
// pointers into the old address space stay valid throughout the copy
// (spec.md §4.7). loader is the ELF loader external collaborator, which
// builds the new address space, seeds the stack with argv/envp, and reports
// the entry point.
func Execve(tg *ThreadGroup, argv, envp []string, loader func(newAS *mm.AddressSpace, argv, envp []string) (entry uintptr, err error), newAS *mm.AddressSpace) (uintptr, error) {
	scratchArgv := append([]string(nil), argv...)
	scratchEnvp := append([]string(nil), envp...)

	oldAS := tg.AS
	entry, err := loader(newAS, scratchArgv, scratchEnvp)
	if err != nil {
		return 0, err
	}

	tg.AS = newAS
	oldAS.Unref()

	tg.FDs.CloseOnExec()
	tg.Sig.ClearHandlers()

	return entry, nil
}

// ExitGroup marks every thread in tg zombie, releases its FDs and address
// space, and posts SIGCHLD to the parent, waking any wait() call blocked on
// it (spec.md §4.7).
func ExitGroup(tg *ThreadGroup, status ExitStatus) {
	tg.mu.Lock()
	if tg.zombie {
		tg.mu.Unlock()
		return
	}
	tg.zombie = true
	tg.exit = status
	parent := tg.parent
	tg.mu.Unlock()

	tg.FDs.Close()
	tg.AS.Unref()

	if parent != nil {
		parent.Sig.PostGroup(Signal(17)) // SIGCHLD
		parent.childSet.WakeAll()
	}
}

// WaitMode selects the pid-matching convention Wait applies, following the
// moss original's do_wait/find_waitable pid-selection rule
// (src/process/thread_group/wait.rs): pid == -1 selects any child, pid < -1
// selects by process-group id, pid == 0 selects the caller's own process
// group, and pid > 0 selects one exact child.
type WaitMode int

const (
	// WaitAny matches any child of parent.
	WaitAny WaitMode = iota
	// WaitPID matches exactly the child whose PID equals WaitFilter.PID.
	WaitPID
	// WaitPgid matches any child whose process-group id equals
	// WaitFilter.Pgid.
	WaitPgid
)

// WaitFilter selects which children Wait considers (spec.md §3's
// process-group and session memberships extend Wait beyond plain PID
// matching).
type WaitFilter struct {
	Mode WaitMode
	PID  uint64
	Pgid uint64
}

func (f WaitFilter) matches(pid uint64, child *ThreadGroup) bool {
	switch f.Mode {
	case WaitPID:
		return pid == f.PID
	case WaitPgid:
		return child.Pgid() == f.Pgid
	default:
		return true
	}
}

// Wait suspends t on parent's child-exit waker until a child matching
// filter is zombie, then reaps it (removes it from parent's child set) and
// returns its exit status and PID (spec.md §4.7).
//
// The waker handle is registered before parent's children are scanned for a
// zombie, not after finding none: WakerSet is edge-triggered and keeps no
// pending-wake state (ksync.WakerSet.WakeAll), so registering only after a
// failed scan leaves a window in which a concurrent ExitGroup's WakeAll
// fires between the scan and the registration and is silently dropped,
// leaving the waiter blocked forever. Registering first means any such
// WakeAll is guaranteed to either land on our handle (waking the next
// Await) or happen before we registered, in which case our own scan
// (running strictly after Register) already observes the exit.
func Wait(ctx context.Context, t *sched.Task, parent *ThreadGroup, filter WaitFilter) (uint64, ExitStatus, error) {
	for {
		h := parent.childSet.Register()

		parent.mu.Lock()
		for pid, child := range parent.children {
			if !filter.matches(pid, child) {
				continue
			}
			child.mu.Lock()
			if child.zombie {
				status := child.exit
				child.mu.Unlock()
				delete(parent.children, pid)
				parent.mu.Unlock()
				parent.childSet.Cancel(h)
				return pid, status, nil
			}
			child.mu.Unlock()
		}
		empty := len(parent.children) == 0
		parent.mu.Unlock()

		if empty {
			parent.childSet.Cancel(h)
			return 0, ExitStatus{}, syserr.ErrNotFound
		}

		err := t.Await(ctx, func(ctx context.Context) error {
			select {
			case <-h.C():
				return nil
			case <-ctx.Done():
				parent.childSet.Cancel(h)
				return ctx.Err()
			}
		})
		if err != nil {
			return 0, ExitStatus{}, syserr.ErrInterrupted
		}
	}
}
