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

// Package sched implements the per-CPU cooperative executor and EEVDF
// (Earliest Eligible Virtual Deadline First) run queue that drive every
// task's in-flight system call to completion (spec.md §4.6). A Task's body
// runs on its own goroutine so that Go's own stack machinery stands in for
// the resumable-computation state a systems language would need explicit
// coroutine support for; the executor grants and revokes that goroutine's
// right to run via a pair of rendezvous channels, so that only one task's
// kernel-mode code is ever active per CPU at a time, exactly as spec.md §5
// requires ("N executor instances, one per CPU, each single-threaded and
// cooperative").
package sched

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/hexagonal-sun/moss-kernel/ksync"
)

// State is a task's run state (spec.md §3).
type State int

const (
	// StateRunnable means the task is on some CPU's run queue awaiting its
	// turn.
	StateRunnable State = iota
	// StateRunning means the task currently holds its CPU's turn.
	StateRunning
	// StateBlocked means the task is off the run queue, suspended inside an
	// Await call waiting on a waker, mutex, or timer.
	StateBlocked
	// StateZombie means the task has exited but not yet been reaped.
	StateZombie
	// StateStopped means the task is suspended by a stop signal (SIGSTOP or
	// similar) rather than by a kernel wait.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunnable:
		return "runnable"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateZombie:
		return "zombie"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type yieldReason int

const (
	yieldBlocked yieldReason = iota
	yieldRunnable
	yieldExited
	yieldStopped
)

type yieldMsg struct {
	reason yieldReason
}

// niceToWeight approximates Linux CFS's sched_prio_to_weight table: each
// step of nice multiplies the weight by roughly 1/1.25, so that a
// difference of one nice level yields about 10% more or less CPU time.
func niceToWeight(nice int) float64 {
	if nice < -20 {
		nice = -20
	}
	if nice > 19 {
		nice = 19
	}
	return 1024 * math.Pow(1.25, float64(-nice))
}

// Task is the schedulable unit (spec.md §3): a TID, EEVDF bookkeeping, and a
// resumable computation running on its own goroutine.
type Task struct {
	TID  uint64
	Nice int

	// Owner is the owning thread group. It is typed any rather than a
	// concrete process.ThreadGroup pointer because package process depends
	// on package sched for Task, and Go forbids the reverse import; callers
	// in package process type-assert this back to *process.ThreadGroup.
	Owner any

	// Affinity is a CPU bitmask; a zero value means "any CPU".
	Affinity uint64

	spinDepth int32 // implements ksync.Holder

	mu    ksync.Spinlock
	state State
	cpu   int

	weight    float64
	service   float64 // total CPU seconds consumed, monotonic
	vEligible float64 // virtual eligible time
	vDeadline float64 // virtual deadline
	lag       float64 // carried virtual-time credit/debit across sleeps

	needResched atomic.Bool

	turn    chan struct{}
	yielded chan yieldMsg
	exited  chan struct{}

	intMu     ksync.Spinlock
	intCancel context.CancelFunc

	traced     atomic.Bool    // ptrace-lite attach state, see ptrace.go
	resumeGate ksync.WakerSet // wakes a task halted in SyscallStop

	sched *Scheduler
	body  func(t *Task)
}

// NewTask constructs a task that will run body on its own goroutine once
// Start is called. nice sets its EEVDF weight; s is the scheduler it will
// enqueue and requeue itself on across suspension points.
func NewTask(s *Scheduler, tid uint64, nice int, body func(t *Task)) *Task {
	return &Task{
		TID:     tid,
		Nice:    nice,
		weight:  niceToWeight(nice),
		state:   StateRunnable,
		cpu:     -1,
		turn:    make(chan struct{}),
		yielded: make(chan yieldMsg),
		exited:  make(chan struct{}),
		sched:   s,
		body:    body,
	}
}

// SpinDepth implements ksync.Holder.
func (t *Task) SpinDepth() *int32 { return &t.spinDepth }

// State reports the task's current run state.
func (t *Task) State() State {
	g := t.mu.LockFor(t)
	defer g.Release()
	return t.state
}

// Service reports the task's cumulative EEVDF service in seconds, for
// kernel/kmetric's per-task service gauge and the fairness property test of
// spec.md §8.
func (t *Task) Service() float64 {
	g := t.mu.LockFor(t)
	defer g.Release()
	return t.service
}

// CPU reports the id of the CPU this task last ran or is running on, or -1
// if it has never run.
func (t *Task) CPU() int {
	g := t.mu.LockFor(t)
	defer g.Release()
	return t.cpu
}

// NeedResched reports whether the scheduler has asked this task to
// reschedule at its next suspension point.
func (t *Task) NeedResched() bool { return t.needResched.Load() }

// Start launches the task's body goroutine and enqueues it for its first
// turn. The body goroutine blocks immediately on the first turn grant, so
// Start never runs user code synchronously.
func (t *Task) Start() {
	go t.run()
	t.sched.Enqueue(t)
}

func (t *Task) run() {
	<-t.turn
	g := t.mu.LockFor(t)
	t.state = StateRunning
	g.Release()
	t.body(t)
	g = t.mu.LockFor(t)
	t.state = StateZombie
	g.Release()
	close(t.exited)
	t.yielded <- yieldMsg{reason: yieldExited}
}

// Exited returns a channel closed once the task's body has returned.
func (t *Task) Exited() <-chan struct{} { return t.exited }

// Await is the kernel core's single suspension point (referenced by
// ksync.SpinlockHeldAcrossSuspension): every blocking kernel operation
// (mutex acquisition, condition-variable wait, waker registration, timer
// sleep) funnels through it. It panics if the calling task holds a
// Spinlock, hands its CPU turn back to the executor, runs fn (which may
// genuinely block the goroutine, since the executor has already moved on to
// another task), and, once fn returns, re-enqueues itself and waits for its
// next turn before resuming kernel-mode execution.
func (t *Task) Await(ctx context.Context, fn func(ctx context.Context) error) error {
	if d := atomic.LoadInt32(&t.spinDepth); d != 0 {
		panic(&ksync.SpinlockHeldAcrossSuspension{Held: int(d)})
	}

	g := t.mu.LockFor(t)
	t.state = StateBlocked
	g.Release()

	t.yielded <- yieldMsg{reason: yieldBlocked}

	err := fn(ctx)

	g = t.mu.LockFor(t)
	t.state = StateRunnable
	g.Release()
	t.sched.Enqueue(t)
	<-t.turn

	g = t.mu.LockFor(t)
	t.state = StateRunning
	g.Release()

	return err
}

// YieldNow implements the explicit yield_now() suspension point: the task
// gives up the remainder of its slice without performing any blocking
// operation.
func (t *Task) YieldNow() {
	g := t.mu.LockFor(t)
	t.state = StateRunnable
	g.Release()
	t.yielded <- yieldMsg{reason: yieldRunnable}
	<-t.turn
	g = t.mu.LockFor(t)
	t.state = StateRunning
	g.Release()
}

// CheckPreempt honors a pending need-resched flag at the next suspension
// point the caller reaches, per spec.md §4.6's "the flag is honored at the
// next suspension point". Kernel code that runs for a while without an
// Await (e.g. a long copy loop) should call this periodically.
func (t *Task) CheckPreempt() {
	if t.needResched.CompareAndSwap(true, false) {
		t.YieldNow()
	}
}

// armInterrupt records cancel as the function that Interrupt will invoke,
// used by Interruptable while fn is in flight.
func (t *Task) armInterrupt(cancel context.CancelFunc) {
	g := t.intMu.Lock()
	defer g.Release()
	t.intCancel = cancel
}

func (t *Task) disarmInterrupt() {
	g := t.intMu.Lock()
	defer g.Release()
	t.intCancel = nil
}

// Interrupt cancels the task's current Interruptable-wrapped await, if any,
// implementing spec.md §4.6's "a future wrapped in interruptable observes
// the owning task's signal-pending bit at every await point". Called by
// package process's signal delivery path when a signal that would interrupt
// a blocking syscall becomes pending.
func (t *Task) Interrupt() {
	g := t.intMu.Lock()
	cancel := t.intCancel
	g.Release()
	if cancel != nil {
		cancel()
	}
}
