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
	"testing"
	"time"

	"github.com/hexagonal-sun/moss-kernel/internal/kaddr"
	"github.com/hexagonal-sun/moss-kernel/mm"
	"github.com/hexagonal-sun/moss-kernel/pmm"
	"github.com/hexagonal-sun/moss-kernel/sched"
)

func newTestAS(t *testing.T, frames int) *mm.AddressSpace {
	t.Helper()
	b := pmm.New([]kaddr.PhysRange{{Start: 0, End: kaddr.Physical(uint64(frames) * kaddr.PageSize)}})
	mem := pmm.NewMemory(pmm.Frame(frames))
	return mm.NewAddressSpace(mm.NewSimplePageTable(), b, mem, 1)
}

func newTestInit(t *testing.T, s *sched.Scheduler) (*ThreadGroup, *sched.Task) {
	t.Helper()
	leader := sched.NewTask(s, 1, 0, func(t *sched.Task) {})
	tg := NewInitThreadGroup(1, leader, RootCredentials(), newTestAS(t, 16))
	return tg, leader
}

func TestForkLinksChildIntoParentAndCopiesState(t *testing.T) {
	s := sched.New(1, nil)
	parent, _ := newTestInit(t, s)
	parent.FDs.NewFD(0, dummyFile{}, FDFlags{})

	done := make(chan struct{})
	child, err := Fork(s, parent, 2, mm.NewSimplePageTable(), func(t *sched.Task) { close(done) })
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}

	if child.PID != 2 {
		t.Fatalf("child PID = %d, want 2", child.PID)
	}
	if _, _, ok := child.FDs.Get(0); !ok {
		t.Fatalf("child did not inherit parent's fd 0")
	}
	parent.mu.Lock()
	_, linked := parent.children[2]
	parent.mu.Unlock()
	if !linked {
		t.Fatalf("child not linked into parent.children")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go s.Run(ctx)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("child task body never ran")
	}
}

func TestForkChildFDTableIsIndependentAfterFork(t *testing.T) {
	s := sched.New(1, nil)
	parent, _ := newTestInit(t, s)
	parent.FDs.NewFD(0, dummyFile{}, FDFlags{})

	child, err := Fork(s, parent, 2, mm.NewSimplePageTable(), func(t *sched.Task) {})
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}

	child.FDs.NewFD(0, dummyFile{}, FDFlags{})
	if _, _, ok := parent.FDs.Get(1); ok {
		t.Fatalf("fd added to child's table leaked into parent's table")
	}
}

func TestExitGroupMarksZombieAndWakesParent(t *testing.T) {
	s := sched.New(1, nil)
	parent, _ := newTestInit(t, s)
	child, err := Fork(s, parent, 2, mm.NewSimplePageTable(), func(t *sched.Task) {})
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}

	h := parent.childSet.Register()
	ExitGroup(child, ExitStatus{Code: 7})

	select {
	case <-h.C():
	default:
		t.Fatalf("ExitGroup did not wake parent's childSet")
	}

	child.mu.Lock()
	zombie := child.zombie
	status := child.exit
	child.mu.Unlock()
	if !zombie || status.Code != 7 {
		t.Fatalf("child not marked zombie with correct status: zombie=%v status=%+v", zombie, status)
	}
}

func TestExitGroupIsIdempotent(t *testing.T) {
	s := sched.New(1, nil)
	parent, _ := newTestInit(t, s)
	child, _ := Fork(s, parent, 2, mm.NewSimplePageTable(), func(t *sched.Task) {})

	ExitGroup(child, ExitStatus{Code: 1})
	ExitGroup(child, ExitStatus{Code: 99}) // must not clobber the first exit status

	child.mu.Lock()
	status := child.exit
	child.mu.Unlock()
	if status.Code != 1 {
		t.Fatalf("second ExitGroup call overwrote exit status: got %+v", status)
	}
}

func TestWaitReapsAlreadyZombieChildImmediately(t *testing.T) {
	s := sched.New(1, nil)
	parent, leader := newTestInit(t, s)
	child, _ := Fork(s, parent, 2, mm.NewSimplePageTable(), func(t *sched.Task) {})
	ExitGroup(child, ExitStatus{Code: 5})

	pid, status, err := Wait(context.Background(), leader, parent, WaitFilter{})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if pid != 2 || status.Code != 5 {
		t.Fatalf("Wait returned pid=%d status=%+v, want pid=2 code=5", pid, status)
	}

	parent.mu.Lock()
	_, stillThere := parent.children[2]
	parent.mu.Unlock()
	if stillThere {
		t.Fatalf("Wait did not reap the zombie child")
	}
}

func TestWaitErrorsWithNoChildren(t *testing.T) {
	s := sched.New(1, nil)
	parent, leader := newTestInit(t, s)

	_, _, err := Wait(context.Background(), leader, parent, WaitFilter{})
	if err == nil {
		t.Fatalf("Wait with no children should return an error")
	}
}

func TestWaitBlocksUntilChildExitsThenWakes(t *testing.T) {
	s := sched.New(2, nil)
	parent, leader := newTestInit(t, s)
	child, _ := Fork(s, parent, 2, mm.NewSimplePageTable(), func(t *sched.Task) {})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go s.Run(ctx)
	leader.Start()

	result := make(chan uint64, 1)
	waiter := sched.NewTask(s, 3, 0, func(t *sched.Task) {
		pid, _, err := Wait(ctx, t, parent, WaitFilter{})
		if err == nil {
			result <- pid
		}
	})
	waiter.Start()

	time.Sleep(20 * time.Millisecond)
	ExitGroup(child, ExitStatus{Code: 0})

	select {
	case pid := <-result:
		if pid != 2 {
			t.Fatalf("Wait woke with pid=%d, want 2", pid)
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait never woke after child exited")
	}
}

// TestWaitDoesNotMissAConcurrentExitGroup is a regression test for a
// lost-wakeup: Wait must register on parent.childSet before rescanning for
// a zombie, not after finding none, since ksync.WakerSet is edge-triggered
// and drops a WakeAll that races a not-yet-registered waiter. Unlike
// TestWaitBlocksUntilChildExitsThenWakes, this starts the waiter and calls
// ExitGroup back-to-back with no delay between them, repeated many times to
// make the race window observable if it still exists.
func TestWaitDoesNotMissAConcurrentExitGroup(t *testing.T) {
	for i := 0; i < 200; i++ {
		s := sched.New(2, nil)
		parent, leader := newTestInit(t, s)
		child, _ := Fork(s, parent, 2, mm.NewSimplePageTable(), func(t *sched.Task) {})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		go s.Run(ctx)
		leader.Start()

		result := make(chan uint64, 1)
		waiter := sched.NewTask(s, 3, 0, func(t *sched.Task) {
			pid, _, err := Wait(ctx, t, parent, WaitFilter{})
			if err == nil {
				result <- pid
			}
		})
		waiter.Start()
		ExitGroup(child, ExitStatus{Code: 0})

		select {
		case pid := <-result:
			if pid != 2 {
				t.Fatalf("iteration %d: Wait woke with pid=%d, want 2", i, pid)
			}
		case <-time.After(time.Second):
			t.Fatalf("iteration %d: Wait never woke after a back-to-back ExitGroup", i)
		}
		cancel()
	}
}

func TestExecveInstallsNewAddressSpaceAndClearsCloseOnExecFDs(t *testing.T) {
	s := sched.New(1, nil)
	tg, _ := newTestInit(t, s)
	tg.FDs.NewFD(0, dummyFile{}, FDFlags{})
	tg.FDs.NewFD(0, dummyFile{}, FDFlags{CloseOnExec: true})

	newAS := newTestAS(t, 8)
	loader := func(as *mm.AddressSpace, argv, envp []string) (uintptr, error) {
		return 0x400000, nil
	}

	entry, err := Execve(tg, []string{"/bin/init"}, nil, loader, newAS)
	if err != nil {
		t.Fatalf("Execve: %v", err)
	}
	if entry != 0x400000 {
		t.Fatalf("entry = %#x, want 0x400000", entry)
	}
	if tg.AS != newAS {
		t.Fatalf("Execve did not install the new address space")
	}
	if _, _, ok := tg.FDs.Get(0); !ok {
		t.Fatalf("Execve closed a non-close-on-exec fd")
	}
	if _, _, ok := tg.FDs.Get(1); ok {
		t.Fatalf("Execve did not close a close-on-exec fd")
	}
}

type dummyFile struct{}

func (dummyFile) Close() error { return nil }
