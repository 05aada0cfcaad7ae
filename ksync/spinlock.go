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

// Package ksync provides the kernel core's synchronization primitives:
// spinlocks, sleeping mutexes, condition variables, per-CPU slots, and
// waker sets, all aware of the rule that a task holding a spinlock must
// never reach a suspension point (spec.md §4.5, §5).
package ksync

import (
	"sync"
	"sync/atomic"
)

// Spinlock is a non-sleeping lock for short critical sections. It tracks
// its own held state so that Guard.Release can detect a release of a lock
// that is not held. Nested re-acquisition on the same goroutine is not
// detected: the second Lock blocks.
type Spinlock struct {
	mu   sync.Mutex
	held atomic.Bool
	// held is set by every acquisition; Guard.Release is the only way it
	// flips back to false.
}

// Holder is implemented by the schedulable unit (sched.Task) that may hold
// spinlocks. SpinDepth returns a pointer to that unit's held-spinlock
// counter, incremented by LockFor/TryLockFor and decremented on Release, so that the
// executor can refuse to suspend a task with depth != 0 (spec.md §4.5).
// Defining the interface here rather than depending on package sched keeps
// ksync a leaf package.
type Holder interface {
	SpinDepth() *int32
}

// Guard is returned by Lock and must be released before the calling task
// reaches a suspension point. Guard is intentionally not an io.Closer and
// has no Context method, so that it cannot be threaded through an await
// boundary without the caller writing code that a reviewer (or the
// executor's own SpinDepth check) would immediately flag.
type Guard struct {
	l     *Spinlock
	depth *int32
}

// Lock acquires the spinlock without associating it with a Holder. Use only
// for critical sections that provably never run on a task goroutine (boot,
// interrupt bottom halves); anything reachable from task-context code must
// use LockFor so the suspension check has something to inspect.
func (l *Spinlock) Lock() Guard {
	l.mu.Lock()
	l.held.Store(true)
	return Guard{l: l}
}

// LockFor acquires the spinlock on behalf of h, incrementing h's held-lock
// depth for the duration of the critical section.
func (l *Spinlock) LockFor(h Holder) Guard {
	d := h.SpinDepth()
	atomic.AddInt32(d, 1)
	l.mu.Lock()
	l.held.Store(true)
	return Guard{l: l, depth: d}
}

// TryLock attempts to acquire the lock without blocking.
func (l *Spinlock) TryLock() (Guard, bool) {
	if l.mu.TryLock() {
		l.held.Store(true)
		return Guard{l: l}, true
	}
	return Guard{}, false
}

// TryLockFor is the Holder-aware variant of TryLock.
func (l *Spinlock) TryLockFor(h Holder) (Guard, bool) {
	if !l.mu.TryLock() {
		return Guard{}, false
	}
	l.held.Store(true)
	d := h.SpinDepth()
	atomic.AddInt32(d, 1)
	return Guard{l: l, depth: d}, true
}

// Held reports whether the lock is currently held by anyone. Used by
// assertions in tests, never for correctness.
func (l *Spinlock) Held() bool { return l.held.Load() }

// Release releases the spinlock. Calling Release twice, or calling it on a
// zero Guard, panics: both indicate a bug in caller lock discipline.
func (g Guard) Release() {
	if g.l == nil {
		panic("ksync: Release on zero Guard")
	}
	if !g.l.held.Swap(false) {
		panic("ksync: Release of a Spinlock that is not held")
	}
	g.l.mu.Unlock()
	if g.depth != nil {
		atomic.AddInt32(g.depth, -1)
	}
}

// SpinlockHeldAcrossSuspension is the runtime error the executor raises if
// it ever detects a task attempting to suspend (Task.Await) while a
// Spinlock.Guard obtained by that task has not been released. See
// sched.Task.Await for the enforcement site; it is declared here so callers
// in this package and its tests can reference the same sentinel type.
type SpinlockHeldAcrossSuspension struct {
	Held int
}

func (e *SpinlockHeldAcrossSuspension) Error() string {
	return "ksync: task attempted to suspend while holding a spinlock"
}
