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
	"testing"
	"time"
)

func TestSyscallStopIsNoopWhenNotTraced(t *testing.T) {
	task := NewTask(nil, 1, 0, func(*Task) {})
	if err := task.SyscallStop(context.Background()); err != nil {
		t.Fatalf("SyscallStop on an untraced task returned %v, want nil", err)
	}
}

func TestTracedTaskHaltsUntilPtraceCont(t *testing.T) {
	s := New(1, nil)
	stopped := make(chan struct{})
	resumed := make(chan struct{})

	task := NewTask(s, 1, 0, func(tk *Task) {
		tk.Trace()
		close(stopped)
		if err := tk.SyscallStop(context.Background()); err != nil {
			t.Errorf("SyscallStop: %v", err)
		}
		close(resumed)
	})
	task.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go s.Run(ctx)

	<-stopped
	select {
	case <-resumed:
		t.Fatal("traced task resumed before PtraceCont was called")
	case <-time.After(20 * time.Millisecond):
	}

	task.PtraceCont()

	select {
	case <-resumed:
	case <-time.After(time.Second):
		t.Fatal("PtraceCont did not release the halted task")
	}
}

func TestUntraceReleasesAHaltedTask(t *testing.T) {
	s := New(1, nil)
	stopped := make(chan struct{})
	resumed := make(chan struct{})

	task := NewTask(s, 1, 0, func(t *Task) {
		t.Trace()
		close(stopped)
		_ = t.SyscallStop(context.Background())
		close(resumed)
	})
	task.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go s.Run(ctx)

	<-stopped
	task.Untrace()

	select {
	case <-resumed:
	case <-time.After(time.Second):
		t.Fatal("Untrace did not release the halted task")
	}
}
