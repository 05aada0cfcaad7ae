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

import "context"

// Task.traced and Task.resumeGate (declared on the Task struct in task.go)
// implement a syscall-exit ptrace stop (spec.md §4.11's supplemental
// --debug-stop/ptrace hooks), grounded on gvisor's PTRACE_SYSCALL stop in
// pkg/sentry/kernel/task_stop.go: a traced task halts after every syscall
// returns instead of going straight back to user mode, and stays halted
// until a controller issues PtraceCont. There is no real hardware
// single-step trap to hook (this module's tasks are Go goroutines, not
// instruction streams a debug register can halt), so "single-step" here
// means "stop again at the very next syscall boundary", which is the
// coarsest grain PTRACE_SYSCALL itself offers.

// Trace marks t as ptrace-attached: it will halt at every subsequent
// syscall-exit boundary until Untrace or a PtraceCont-style resume.
func (t *Task) Trace() { t.traced.Store(true) }

// Untrace detaches t and releases any stop currently in effect, the
// PTRACE_DETACH equivalent.
func (t *Task) Untrace() {
	t.traced.Store(false)
	t.resumeGate.WakeAll()
}

// Traced reports whether t is currently ptrace-attached.
func (t *Task) Traced() bool { return t.traced.Load() }

// SyscallStop is Dispatch's syscall-exit hook: if t is traced, it suspends t
// (via the same Await suspension point every other blocking kernel
// operation uses) until a controller calls PtraceCont or Untrace. Untraced
// tasks return immediately, so this is a no-op on the hot path for every
// task that was never attached.
func (t *Task) SyscallStop(ctx context.Context) error {
	if !t.traced.Load() {
		return nil
	}
	h := t.resumeGate.Register()
	return t.Await(ctx, func(ictx context.Context) error {
		select {
		case <-h.C():
			return nil
		case <-ictx.Done():
			t.resumeGate.Cancel(h)
			return ictx.Err()
		}
	})
}

// PtraceCont releases a task halted in SyscallStop, the PTRACE_CONT/
// PTRACE_SYSCALL resume. It does not clear Traced, so the task halts again
// at its next syscall boundary (PTRACE_SYSCALL's single-step-by-syscall
// semantics, rather than PTRACE_CONT's run-to-completion), which this
// exercise does not distinguish since both eventually funnel back through
// SyscallStop.
func (t *Task) PtraceCont() { t.resumeGate.WakeAll() }
