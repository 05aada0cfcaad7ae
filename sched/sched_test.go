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
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/hexagonal-sun/moss-kernel/kernel/syserr"
	"github.com/hexagonal-sun/moss-kernel/ksync"
)

// TestEEVDFFairnessWithinOneSlice exercises spec.md §8's stated property:
// over a run of T ticks with N equal-weight tasks, each receives service
// within ±one slice of T/N.
func TestEEVDFFairnessWithinOneSlice(t *testing.T) {
	const n = 4
	const ticks = 400

	q := newRunQueue()
	tasks := make([]*Task, n)
	for i := range tasks {
		tasks[i] = NewTask(nil, uint64(i), 0, func(*Task) {})
		q.enqueue(tasks[i])
	}

	for i := 0; i < ticks; i++ {
		picked := q.pickNext()
		if picked == nil {
			t.Fatalf("pickNext returned nil at tick %d with %d equal-weight tasks queued", i, n)
		}
		q.accrue(picked, BaseSlice)
		q.setLag(picked)
		q.enqueue(picked)
	}

	expected := float64(ticks) / n * BaseSlice.Seconds()
	tolerance := BaseSlice.Seconds()
	for _, tk := range tasks {
		if math.Abs(tk.service-expected) > tolerance {
			t.Errorf("task %d service = %v, want within %v of %v", tk.TID, tk.service, tolerance, expected)
		}
	}
}

func TestRunQueuePicksEarliestDeadlineAmongEligible(t *testing.T) {
	q := newRunQueue()
	low := NewTask(nil, 1, 0, func(*Task) {})  // nice 0, higher weight
	high := NewTask(nil, 2, 10, func(*Task) {}) // nice 10, lower weight, later deadline
	q.enqueue(low)
	q.enqueue(high)

	first := q.pickNext()
	if first != low {
		t.Fatalf("expected task %d (earlier deadline) picked first, got %d", low.TID, first.TID)
	}
}

func TestAwaitPanicsWhileSpinlockHeld(t *testing.T) {
	task := NewTask(nil, 1, 0, func(*Task) {})
	var lock ksync.Spinlock
	lock.LockFor(task)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected Await to panic while a spinlock is held")
		}
	}()
	_ = task.Await(context.Background(), func(ctx context.Context) error { return nil })
}

func TestSchedulerRunsTasksToCompletion(t *testing.T) {
	s := New(1, nil)
	const n = 3

	var mu sync.Mutex
	completed := 0
	done := make(chan struct{})

	for i := 0; i < n; i++ {
		task := NewTask(s, uint64(i), 0, func(*Task) {
			mu.Lock()
			completed++
			c := completed
			mu.Unlock()
			if c == n {
				close(done)
			}
		})
		task.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not run all tasks to completion in time")
	}
}

func TestInterruptableCancelsOnInterrupt(t *testing.T) {
	task := NewTask(nil, 1, 0, func(*Task) {})
	blocked := make(chan struct{})
	resultCh := make(chan error, 1)

	go func() {
		resultCh <- Interruptable(context.Background(), task, func(ctx context.Context) error {
			close(blocked)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	<-blocked
	task.Interrupt()

	select {
	case err := <-resultCh:
		if err != syserr.ErrInterrupted {
			t.Fatalf("Interruptable returned %v, want syserr.ErrInterrupted", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Interruptable did not unblock after Interrupt")
	}
}

func TestInterruptableDoesNotMaskCallerCancellation(t *testing.T) {
	task := NewTask(nil, 1, 0, func(*Task) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Interruptable(ctx, task, func(ctx context.Context) error { return ctx.Err() })
	if err == syserr.ErrInterrupted {
		t.Fatal("Interruptable should not translate the caller's own cancellation into ErrInterrupted")
	}
}
